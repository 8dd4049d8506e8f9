// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package sigparser decodes ECMA-335 II.23.2 signature blobs into a walkable
// structure, renders them into the canonical parameter type text used for
// instrumentation matching, and encodes new blobs.
package sigparser // import "go.opentelemetry.io/clr-profiler/sigparser"

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when the blob ends in the middle of a signature.
	ErrTruncated = errors.New("truncated signature")
	// ErrMalformed is returned for structurally invalid signatures.
	ErrMalformed = errors.New("malformed signature")
	// ErrUnknownElementType is returned for an unknown element type tag.
	ErrUnknownElementType = errors.New("unknown element type")
)

// CallingConvention is the first byte of a method signature.
type CallingConvention uint8

// ECMA-335 II.23.2.1-3 calling convention flags
const (
	CallConvDefault      CallingConvention = 0x00
	CallConvC            CallingConvention = 0x01
	CallConvStdCall      CallingConvention = 0x02
	CallConvThisCall     CallingConvention = 0x03
	CallConvFastCall     CallingConvention = 0x04
	CallConvVarArg       CallingConvention = 0x05
	CallConvField        CallingConvention = 0x06
	CallConvLocalSig     CallingConvention = 0x07
	CallConvProperty     CallingConvention = 0x08
	CallConvGenericInst  CallingConvention = 0x0a
	CallConvGeneric      CallingConvention = 0x10
	CallConvHasThis      CallingConvention = 0x20
	CallConvExplicitThis CallingConvention = 0x40

	callConvKindMask CallingConvention = 0x0f

	// maxNesting limits recursion on hostile or corrupt blobs.
	maxNesting = 64
)

// Kind returns the calling convention kind without the flag bits.
func (c CallingConvention) Kind() CallingConvention {
	return c & callConvKindMask
}

// HasThis reports whether the method takes an implicit instance argument.
func (c CallingConvention) HasThis() bool {
	return c&CallConvHasThis != 0
}

// ExplicitThis reports whether the instance argument is listed explicitly.
func (c CallingConvention) ExplicitThis() bool {
	return c&CallConvExplicitThis != 0
}

// IsGeneric reports whether the signature carries a generic parameter count.
func (c CallingConvention) IsGeneric() bool {
	return c&CallConvGeneric != 0
}

// IsVarArg reports whether the method uses the vararg calling convention.
func (c CallingConvention) IsVarArg() bool {
	return c.Kind() == CallConvVarArg
}

// Modifier is a custom modifier (modreq/modopt) preceding a type.
type Modifier struct {
	Required bool
	Token    uint32
}

// Type is one decoded type descriptor.
type Type struct {
	Element ElementType
	// Modifiers lists the custom modifiers preceding the type.
	Modifiers []Modifier
	// Pinned is set for pinned locals.
	Pinned bool
	// Token is the TypeDefOrRef token of CLASS and VALUETYPE, and the generic
	// type of GENERICINST.
	Token uint32
	// ValueTypeInstance is set when a GENERICINST instantiates a value type.
	ValueTypeInstance bool
	// Elem is the referenced type of PTR, BYREF, SZARRAY and ARRAY.
	Elem *Type
	// Args are the type arguments of GENERICINST.
	Args []Type
	// Number is the index of VAR and MVAR.
	Number uint32
	// Rank, Sizes and LowBounds describe the shape of ARRAY.
	Rank      uint32
	Sizes     []uint32
	LowBounds []int32
	// Method is the signature of FNPTR.
	Method *MethodSignature
	// Raw is the exact encoding of the type including its modifiers.
	Raw []byte
}

// NeedsBoxing reports whether a value of this type must be boxed to be stored in
// an object slot.
func (t *Type) NeedsBoxing() bool {
	if t.Element == ElementGenericInst {
		return t.ValueTypeInstance
	}
	return t.Element.NeedsBoxing()
}

// Unmodified returns the encoding of the type without its leading custom
// modifiers.
func (t *Type) Unmodified() []byte {
	raw := t.Raw
	for _, m := range t.Modifiers {
		token, _ := AppendTypeDefOrRef(nil, m.Token)
		raw = raw[1+len(token):]
	}
	return raw
}

// IsVoid reports whether the type is the void return type.
func (t *Type) IsVoid() bool {
	return t.Element == ElementVoid
}

// MethodSignature is a decoded MethodDefSig, MethodRefSig or StandAloneMethodSig.
type MethodSignature struct {
	CallingConvention CallingConvention
	GenericParamCount uint32
	ReturnType        Type
	Params            []Type
	// SentinelIndex is the index of the first vararg parameter, or -1.
	SentinelIndex int
	Raw           []byte
}

// ParseMethodSignature decodes an ECMA-335 II.23.2.1 MethodDefSig (or the
// II.23.2.2 MethodRefSig superset). The whole blob must be consumed.
func ParseMethodSignature(blob []byte) (*MethodSignature, error) {
	r := reader{data: blob}
	sig := parseMethod(&r, 0)
	if r.err != nil {
		return nil, r.err
	}
	if !r.empty() {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(blob)-r.pos)
	}
	return sig, nil
}

func parseMethod(r *reader, depth int) *MethodSignature {
	start := r.pos
	sig := &MethodSignature{
		CallingConvention: CallingConvention(r.readByte()),
		SentinelIndex:     -1,
	}
	switch sig.CallingConvention.Kind() {
	case CallConvDefault, CallConvC, CallConvStdCall, CallConvThisCall,
		CallConvFastCall, CallConvVarArg:
	default:
		r.fail(fmt.Errorf("%w: calling convention %#x is not a method",
			ErrMalformed, uint8(sig.CallingConvention)))
		return nil
	}
	if sig.CallingConvention.IsGeneric() {
		sig.GenericParamCount = r.Uint()
	}
	paramCount := r.Uint()
	if r.err != nil {
		return nil
	}
	// Every parameter takes at least one byte, reject impossible counts before
	// allocating.
	if int(paramCount) > len(r.data)-r.pos {
		r.fail(fmt.Errorf("%w: %d parameters declared, %d bytes left", ErrTruncated,
			paramCount, len(r.data)-r.pos))
		return nil
	}

	sig.ReturnType = parseType(r, depth+1, parseOptions{allowVoid: true, allowByRef: true})
	sig.Params = make([]Type, 0, paramCount)
	for i := uint32(0); i < paramCount && r.err == nil; i++ {
		if !r.empty() && ElementType(r.peek()) == ElementSentinel {
			if sig.SentinelIndex >= 0 {
				r.fail(fmt.Errorf("%w: duplicate sentinel", ErrMalformed))
				break
			}
			r.readByte()
			sig.SentinelIndex = int(i)
		}
		sig.Params = append(sig.Params, parseType(r, depth+1, parseOptions{allowByRef: true}))
	}
	if r.err != nil {
		return nil
	}
	if uint32(len(sig.Params)) != paramCount {
		r.fail(fmt.Errorf("%w: parsed %d of %d parameters", ErrMalformed,
			len(sig.Params), paramCount))
		return nil
	}
	sig.Raw = r.data[start:r.pos]
	return sig
}

type parseOptions struct {
	allowVoid   bool
	allowByRef  bool
	allowPinned bool
}

// parseType decodes one type descriptor including its custom modifiers. It is
// the single recursive-descent step of the parser.
func parseType(r *reader, depth int, opts parseOptions) Type {
	start := r.pos
	var t Type
	if depth > maxNesting {
		r.fail(fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, maxNesting))
		return t
	}

	for r.err == nil {
		switch ElementType(r.peek()) {
		case ElementCModReqd, ElementCModOpt:
			required := ElementType(r.readByte()) == ElementCModReqd
			t.Modifiers = append(t.Modifiers, Modifier{
				Required: required,
				Token:    r.TypeDefOrRef(),
			})
			continue
		case ElementPinned:
			if !opts.allowPinned {
				r.fail(fmt.Errorf("%w: pinned outside locals", ErrMalformed))
				return t
			}
			r.readByte()
			t.Pinned = true
			continue
		}
		break
	}
	if r.err != nil {
		return t
	}

	t.Element = ElementType(r.readByte())
	switch t.Element {
	case ElementVoid:
		if !opts.allowVoid {
			r.fail(fmt.Errorf("%w: void outside of return type", ErrMalformed))
		}
	case ElementBoolean, ElementChar, ElementI1, ElementU1, ElementI2, ElementU2,
		ElementI4, ElementU4, ElementI8, ElementU8, ElementR4, ElementR8,
		ElementString, ElementObject, ElementI, ElementU, ElementTypedByRef:
	case ElementPtr:
		elem := parseType(r, depth+1, parseOptions{allowVoid: true})
		t.Elem = &elem
	case ElementByRef:
		if !opts.allowByRef {
			r.fail(fmt.Errorf("%w: nested byref", ErrMalformed))
			break
		}
		elem := parseType(r, depth+1, parseOptions{})
		t.Elem = &elem
	case ElementSzArray:
		elem := parseType(r, depth+1, parseOptions{})
		t.Elem = &elem
	case ElementValueType, ElementClass:
		t.Token = r.TypeDefOrRef()
	case ElementVar, ElementMVar:
		t.Number = r.Uint()
	case ElementArray:
		parseArrayShape(r, depth, &t)
	case ElementGenericInst:
		parseGenericInst(r, &t, depth)
	case ElementFnPtr:
		t.Method = parseMethod(r, depth+1)
	default:
		r.fail(fmt.Errorf("%w: %#x", ErrUnknownElementType, uint8(t.Element)))
	}
	if r.err == nil {
		t.Raw = r.data[start:r.pos]
	}
	return t
}

// parseArrayShape decodes ECMA-335 II.23.2.13 ArrayShape after the element type.
func parseArrayShape(r *reader, depth int, t *Type) {
	elem := parseType(r, depth+1, parseOptions{})
	t.Elem = &elem
	t.Rank = r.Uint()
	if r.err != nil {
		return
	}
	if t.Rank == 0 {
		r.fail(fmt.Errorf("%w: array of rank 0", ErrMalformed))
		return
	}
	numSizes := r.Uint()
	if numSizes > t.Rank {
		r.fail(fmt.Errorf("%w: %d sizes for rank %d", ErrMalformed, numSizes, t.Rank))
		return
	}
	for i := uint32(0); i < numSizes && r.err == nil; i++ {
		t.Sizes = append(t.Sizes, r.Uint())
	}
	numLoBounds := r.Uint()
	if numLoBounds > t.Rank {
		r.fail(fmt.Errorf("%w: %d low bounds for rank %d", ErrMalformed, numLoBounds,
			t.Rank))
		return
	}
	for i := uint32(0); i < numLoBounds && r.err == nil; i++ {
		t.LowBounds = append(t.LowBounds, r.Int())
	}
}

// parseGenericInst decodes GENERICINST (CLASS|VALUETYPE) TypeDefOrRef GenArgCount Type*
func parseGenericInst(r *reader, t *Type, depth int) {
	switch ElementType(r.readByte()) {
	case ElementClass:
	case ElementValueType:
		t.ValueTypeInstance = true
	default:
		if r.err == nil {
			r.fail(fmt.Errorf("%w: generic instantiation of non class type",
				ErrMalformed))
		}
		return
	}
	t.Token = r.TypeDefOrRef()
	argCount := r.Uint()
	if r.err != nil {
		return
	}
	if argCount == 0 || int(argCount) > len(r.data)-r.pos {
		r.fail(fmt.Errorf("%w: generic argument count %d", ErrMalformed, argCount))
		return
	}
	t.Args = make([]Type, 0, argCount)
	for i := uint32(0); i < argCount && r.err == nil; i++ {
		t.Args = append(t.Args, parseType(r, depth+1, parseOptions{}))
	}
}

// ParseLocalsSignature decodes an ECMA-335 II.23.2.6 LocalVarSig.
func ParseLocalsSignature(blob []byte) ([]Type, error) {
	r := reader{data: blob}
	if cc := CallingConvention(r.readByte()); r.err == nil && cc != CallConvLocalSig {
		return nil, fmt.Errorf("%w: locals signature starts with %#x", ErrMalformed,
			uint8(cc))
	}
	count := r.Uint()
	if r.err != nil {
		return nil, r.err
	}
	if int(count) > len(blob)-r.pos {
		return nil, fmt.Errorf("%w: %d locals declared, %d bytes left", ErrTruncated,
			count, len(blob)-r.pos)
	}
	locals := make([]Type, 0, count)
	for i := uint32(0); i < count && r.err == nil; i++ {
		locals = append(locals, parseType(&r, 1,
			parseOptions{allowByRef: true, allowPinned: true}))
	}
	if r.err != nil {
		return nil, r.err
	}
	if !r.empty() {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(blob)-r.pos)
	}
	return locals, nil
}
