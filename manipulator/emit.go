// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package manipulator // import "go.opentelemetry.io/clr-profiler/manipulator"

import (
	"go.opentelemetry.io/clr-profiler/cil"
	"go.opentelemetry.io/clr-profiler/sigparser"
)

const (
	objectType    = "[mscorlib]System.Object"
	typeType      = "[mscorlib]System.Type"
	exceptionType = "[mscorlib]System.Exception"
	methodInfo    = "class [mscorlib]System.Reflection.MethodInfo"

	getTypeFromHandle = "class [mscorlib]System.Type [mscorlib]System.Type::GetTypeFromHandle(" +
		"valuetype [mscorlib]System.RuntimeTypeHandle)"
	makeByRefType    = "instance class [mscorlib]System.Type [mscorlib]System.Type::MakeByRefType()"
	methodBaseInvoke = "instance object [mscorlib]System.Reflection.MethodBase::Invoke(object, object[])"
)

// appendNewArray creates an array and fills each slot with what elem appends.
func appendNewArray(s *cil.InstructionSet, elemType string, n int, elem func(i int)) {
	s.AppendLoadInt32(int32(n))
	s.AppendType(cil.Newarr, elemType)
	for i := range n {
		s.Append(cil.Dup)
		s.AppendLoadInt32(int32(i))
		elem(i)
		s.Append(cil.StelemRef)
	}
}

// appendBoxed converts the value on the stack to an object reference.
// Managed and unmanaged pointers cannot be boxed and are replaced by null.
func appendBoxed(s *cil.InstructionSet, t *sigparser.Type) {
	switch {
	case t.Element == sigparser.ElementByRef || t.Element == sigparser.ElementPtr ||
		t.Element == sigparser.ElementFnPtr || t.Element == sigparser.ElementTypedByRef:
		s.Append(cil.Pop)
		s.Append(cil.Ldnull)
	case t.NeedsBoxing():
		s.AppendTypeSignature(cil.Box, t.Unmodified())
	}
}

// appendArgumentArray builds an object[] of the boxed arguments.
func appendArgumentArray(s *cil.InstructionSet, t *Target) {
	first := uint16(0)
	if t.HasThis() {
		first = 1
	}
	params := t.Signature.Params
	appendNewArray(s, objectType, len(params), func(i int) {
		s.AppendLoadArg(first + uint16(i))
		appendBoxed(s, &params[i])
	})
}

// appendTypeOf loads the System.Type of a signature type.
func appendTypeOf(s *cil.InstructionSet, t *sigparser.Type) {
	if t.Element == sigparser.ElementByRef {
		appendTypeOf(s, t.Elem)
		s.AppendCall(cil.Callvirt, makeByRefType)
		return
	}
	s.AppendTypeSignature(cil.Ldtoken, t.Unmodified())
	s.AppendCall(cil.Call, getTypeFromHandle)
}

// appendParameterTypes builds the Type[] used to look up an overload.
func appendParameterTypes(s *cil.InstructionSet, params []sigparser.Type) {
	appendNewArray(s, typeType, len(params), func(i int) {
		appendTypeOf(s, &params[i])
	})
}

// appendResult converts the object on the stack to the return type and stores
// it, or drops it for void methods.
func appendResult(s *cil.InstructionSet, ret *sigparser.Type, local uint16, ok bool) {
	if !ok {
		s.Append(cil.Pop)
		return
	}
	if ret.NeedsBoxing() {
		s.AppendTypeSignature(cil.UnboxAny, ret.Unmodified())
	} else if ret.Element != sigparser.ElementObject {
		s.AppendTypeSignature(cil.Castclass, ret.Unmodified())
	}
	s.AppendStoreLocal(local)
}
