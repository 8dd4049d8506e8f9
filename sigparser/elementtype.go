// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package sigparser // import "go.opentelemetry.io/clr-profiler/sigparser"

import "fmt"

// ElementType is the ECMA-335 II.23.1.16 element type of a signature
type ElementType uint8

// ECMA-335 II.23.1.16 Element types used in signatures
const (
	ElementEnd         ElementType = 0x00
	ElementVoid        ElementType = 0x01
	ElementBoolean     ElementType = 0x02
	ElementChar        ElementType = 0x03
	ElementI1          ElementType = 0x04
	ElementU1          ElementType = 0x05
	ElementI2          ElementType = 0x06
	ElementU2          ElementType = 0x07
	ElementI4          ElementType = 0x08
	ElementU4          ElementType = 0x09
	ElementI8          ElementType = 0x0a
	ElementU8          ElementType = 0x0b
	ElementR4          ElementType = 0x0c
	ElementR8          ElementType = 0x0d
	ElementString      ElementType = 0x0e
	ElementPtr         ElementType = 0x0f
	ElementByRef       ElementType = 0x10
	ElementValueType   ElementType = 0x11
	ElementClass       ElementType = 0x12
	ElementVar         ElementType = 0x13
	ElementArray       ElementType = 0x14
	ElementGenericInst ElementType = 0x15
	ElementTypedByRef  ElementType = 0x16
	ElementI           ElementType = 0x18
	ElementU           ElementType = 0x19
	ElementFnPtr       ElementType = 0x1b
	ElementObject      ElementType = 0x1c
	ElementSzArray     ElementType = 0x1d
	ElementMVar        ElementType = 0x1e
	ElementCModReqd    ElementType = 0x1f
	ElementCModOpt     ElementType = 0x20
	ElementInternal    ElementType = 0x21
	ElementSentinel    ElementType = 0x41
	ElementPinned      ElementType = 0x45
)

// primitiveNames maps the element types without operands to their framework names.
var primitiveNames = map[ElementType]string{
	ElementVoid:       "System.Void",
	ElementBoolean:    "System.Boolean",
	ElementChar:       "System.Char",
	ElementI1:         "System.SByte",
	ElementU1:         "System.Byte",
	ElementI2:         "System.Int16",
	ElementU2:         "System.UInt16",
	ElementI4:         "System.Int32",
	ElementU4:         "System.UInt32",
	ElementI8:         "System.Int64",
	ElementU8:         "System.UInt64",
	ElementR4:         "System.Single",
	ElementR8:         "System.Double",
	ElementString:     "System.String",
	ElementTypedByRef: "System.TypedReference",
	ElementI:          "System.IntPtr",
	ElementU:          "System.UIntPtr",
	ElementObject:     "System.Object",
}

// IsPrimitive reports whether the element type carries no operands.
func (e ElementType) IsPrimitive() bool {
	_, ok := primitiveNames[e]
	return ok
}

// NeedsBoxing reports whether values of this element type must be boxed to be
// stored as an object. Generic parameters are always boxed since boxing a
// reference type instantiation is a no-op at runtime.
func (e ElementType) NeedsBoxing() bool {
	switch e {
	case ElementBoolean, ElementChar, ElementI1, ElementU1, ElementI2, ElementU2,
		ElementI4, ElementU4, ElementI8, ElementU8, ElementR4, ElementR8,
		ElementI, ElementU, ElementValueType, ElementVar, ElementMVar:
		return true
	}
	return false
}

func (e ElementType) String() string {
	if name, ok := primitiveNames[e]; ok {
		return name
	}
	switch e {
	case ElementPtr:
		return "PTR"
	case ElementByRef:
		return "BYREF"
	case ElementValueType:
		return "VALUETYPE"
	case ElementClass:
		return "CLASS"
	case ElementVar:
		return "VAR"
	case ElementArray:
		return "ARRAY"
	case ElementGenericInst:
		return "GENERICINST"
	case ElementFnPtr:
		return "FNPTR"
	case ElementSzArray:
		return "SZARRAY"
	case ElementMVar:
		return "MVAR"
	case ElementCModReqd:
		return "CMOD_REQD"
	case ElementCModOpt:
		return "CMOD_OPT"
	case ElementInternal:
		return "INTERNAL"
	case ElementSentinel:
		return "SENTINEL"
	case ElementPinned:
		return "PINNED"
	}
	return fmt.Sprintf("ELEMENT(%#x)", uint8(e))
}
