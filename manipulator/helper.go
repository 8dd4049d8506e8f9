// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package manipulator // import "go.opentelemetry.io/clr-profiler/manipulator"

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/clr-profiler/cil"
)

// HelperTypeName is the core library type that receives the injected helper
// methods. Methods on it are visible from every application domain.
const HelperTypeName = "System.CannotUnloadAppDomainException"

// Names of the helper methods.
const (
	LoadAssemblyOrThrow                              = "LoadAssemblyOrThrow"
	GetTypeViaReflectionOrThrow                      = "GetTypeViaReflectionOrThrow"
	GetMethodViaReflectionOrThrow                    = "GetMethodViaReflectionOrThrow"
	StoreMethodInAppDomainStorageOrThrow             = "StoreMethodInAppDomainStorageOrThrow"
	GetMethodFromAppDomainStorage                    = "GetMethodFromAppDomainStorage"
	GetMethodFromAppDomainStorageOrReflectionOrThrow = "GetMethodFromAppDomainStorageOrReflectionOrThrow"
	GetMethodCacheLookupMethod                       = "GetMethodCacheLookupMethod"
	GetMethodInfoFromAgentCache                      = "GetMethodInfoFromAgentCache"
)

const (
	// AgentShimTypeName is the agent type providing tracers and the method cache.
	AgentShimTypeName = "NewRelic.Agent.Core.AgentShim"
	// cacheLookupStorageKey is the application domain data slot of the agent
	// cache lookup method.
	cacheLookupStorageKey = "NewRelic_Delegate_GetMethodInfoFromAgentCache"
)

// helperSignatures holds return type and parameters of each helper method as
// declared by the host when it injects them.
var helperSignatures = map[string][2]string{
	LoadAssemblyOrThrow: {
		"class [mscorlib]System.Reflection.Assembly", "string"},
	GetTypeViaReflectionOrThrow: {
		"class [mscorlib]System.Type", "string, string"},
	GetMethodViaReflectionOrThrow: {
		methodInfo, "string, string, string, class [mscorlib]System.Type[]"},
	StoreMethodInAppDomainStorageOrThrow: {
		"void", methodInfo + ", string"},
	GetMethodFromAppDomainStorage: {
		methodInfo, "string"},
	GetMethodFromAppDomainStorageOrReflectionOrThrow: {
		methodInfo, "string, string, string, string, class [mscorlib]System.Type[]"},
	GetMethodCacheLookupMethod: {
		methodInfo, ""},
	GetMethodInfoFromAgentCache: {
		methodInfo, "string, string, string, string, class [mscorlib]System.Type[]"},
}

// helperRef returns the member reference text of a helper method.
func helperRef(name string) string {
	sig := helperSignatures[name]
	return fmt.Sprintf("%s [%s]%s::%s(%s)", sig[0], cil.CoreLibrary, HelperTypeName, name, sig[1])
}

// isCoreLibrary reports whether the assembly is the runtime core library.
func isCoreLibrary(assembly string) bool {
	return strings.EqualFold(assembly, "mscorlib") ||
		strings.EqualFold(assembly, "System.Private.CoreLib")
}

// Helper synthesizes the bodies of the helper methods. The original bodies are
// placeholders and are discarded.
type Helper struct {
	opts Options
}

// NewHelper creates the helper manipulator.
func NewHelper(opts Options) *Helper {
	return &Helper{opts: opts}
}

// Name implements Manipulator.
func (*Helper) Name() string {
	return "helper"
}

// Applies implements Manipulator.
func (*Helper) Applies(t *Target) bool {
	return isCoreLibrary(t.Function.GetAssemblyName()) &&
		t.Function.GetTypeName() == HelperTypeName
}

// Instrument implements Manipulator.
func (h *Helper) Instrument(t *Target) ([]byte, error) {
	name := t.Function.GetFunctionName()
	emit, ok := h.bodies()[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHelper, name)
	}

	tokenizer := t.Function.GetTokenizer()
	locals, err := cil.NewLocals(nil)
	if err != nil {
		return nil, err
	}
	s := cil.NewInstructionSet(tokenizer)
	if err := emit(s, tokenizer, locals); err != nil {
		return nil, fmt.Errorf("failed to emit helper %s: %w", name, err)
	}
	return finish(tokenizer, s, locals, 0)
}

type helperBody func(s *cil.InstructionSet, tokenizer cil.Tokenizer, locals *cil.Locals) error

func (h *Helper) bodies() map[string]helperBody {
	return map[string]helperBody{
		LoadAssemblyOrThrow:                              emitLoadAssembly,
		GetTypeViaReflectionOrThrow:                      emitGetType,
		GetMethodViaReflectionOrThrow:                    emitGetMethod,
		StoreMethodInAppDomainStorageOrThrow:             emitStoreMethod,
		GetMethodFromAppDomainStorage:                    emitLoadMethod,
		GetMethodFromAppDomainStorageOrReflectionOrThrow: emitLoadOrGetMethod,
		GetMethodCacheLookupMethod:                       h.emitCacheLookupMethod,
		GetMethodInfoFromAgentCache:                      emitAgentCacheLookup,
	}
}

// Assembly.LoadFrom(assemblyPath)
func emitLoadAssembly(s *cil.InstructionSet, _ cil.Tokenizer, _ *cil.Locals) error {
	s.Append(cil.Ldarg0)
	s.AppendCall(cil.Call, "class [mscorlib]System.Reflection.Assembly "+
		"[mscorlib]System.Reflection.Assembly::LoadFrom(string)")
	s.Append(cil.Ret)
	return s.Err()
}

// LoadAssemblyOrThrow(assemblyPath).GetType(typeName, true)
func emitGetType(s *cil.InstructionSet, _ cil.Tokenizer, _ *cil.Locals) error {
	s.Append(cil.Ldarg0)
	s.AppendCall(cil.Call, helperRef(LoadAssemblyOrThrow))
	s.Append(cil.Ldarg1)
	s.Append(cil.LdcI41)
	s.AppendCall(cil.Callvirt, "instance class [mscorlib]System.Type "+
		"[mscorlib]System.Reflection.Assembly::GetType(string, bool)")
	s.Append(cil.Ret)
	return s.Err()
}

// Looks the method up by name, or by name and parameter types when types are
// given, and throws MissingMethodException when there is none.
func emitGetMethod(s *cil.InstructionSet, tokenizer cil.Tokenizer, locals *cil.Locals) error {
	typ, err := addLocal(tokenizer, locals, "class "+typeType)
	if err != nil {
		return err
	}
	s.Append(cil.Ldarg0)
	s.Append(cil.Ldarg1)
	s.AppendCall(cil.Call, helperRef(GetTypeViaReflectionOrThrow))
	s.AppendStoreLocal(typ)

	s.Append(cil.Ldarg3)
	withTypes := s.AppendJump(cil.Brtrue)
	s.AppendLoadLocal(typ)
	s.Append(cil.Ldarg2)
	s.AppendCall(cil.Callvirt, methodInfo+" [mscorlib]System.Type::GetMethod(string)")
	check := s.AppendJump(cil.Br)

	s.AppendLabel(withTypes)
	s.AppendLoadLocal(typ)
	s.Append(cil.Ldarg2)
	s.Append(cil.Ldarg3)
	s.AppendCall(cil.Callvirt, methodInfo+
		" [mscorlib]System.Type::GetMethod(string, class [mscorlib]System.Type[])")

	s.AppendLabel(check)
	s.Append(cil.Dup)
	found := s.AppendJump(cil.Brtrue)
	s.Append(cil.Pop)
	s.Append(cil.Ldarg2)
	s.AppendCall(cil.Newobj, "instance void [mscorlib]System.MissingMethodException::.ctor(string)")
	s.Append(cil.Throw)

	s.AppendLabel(found)
	s.Append(cil.Ret)
	return s.Err()
}

// AppDomain.CurrentDomain.SetData(storageKey, method)
func emitStoreMethod(s *cil.InstructionSet, _ cil.Tokenizer, _ *cil.Locals) error {
	s.AppendCall(cil.Call, "class [mscorlib]System.AppDomain [mscorlib]System.AppDomain::get_CurrentDomain()")
	s.Append(cil.Ldarg1)
	s.Append(cil.Ldarg0)
	s.AppendCall(cil.Callvirt, "instance void [mscorlib]System.AppDomain::SetData(string, object)")
	s.Append(cil.Ret)
	return s.Err()
}

// AppDomain.CurrentDomain.GetData(storageKey) as MethodInfo
func emitLoadMethod(s *cil.InstructionSet, _ cil.Tokenizer, _ *cil.Locals) error {
	s.AppendCall(cil.Call, "class [mscorlib]System.AppDomain [mscorlib]System.AppDomain::get_CurrentDomain()")
	s.Append(cil.Ldarg0)
	s.AppendCall(cil.Callvirt, "instance object [mscorlib]System.AppDomain::GetData(string)")
	s.AppendType(cil.Isinst, "[mscorlib]System.Reflection.MethodInfo")
	s.Append(cil.Ret)
	return s.Err()
}

// Returns the stored method, looking it up and storing it on the first call.
func emitLoadOrGetMethod(s *cil.InstructionSet, _ cil.Tokenizer, _ *cil.Locals) error {
	s.Append(cil.Ldarg0)
	s.AppendCall(cil.Call, helperRef(GetMethodFromAppDomainStorage))
	s.Append(cil.Dup)
	done := s.AppendJump(cil.Brtrue)
	s.Append(cil.Pop)

	s.Append(cil.Ldarg1)
	s.Append(cil.Ldarg2)
	s.Append(cil.Ldarg3)
	s.AppendLoadArg(4)
	s.AppendCall(cil.Call, helperRef(GetMethodViaReflectionOrThrow))
	s.Append(cil.Dup)
	s.Append(cil.Ldarg0)
	s.AppendCall(cil.Call, helperRef(StoreMethodInAppDomainStorageOrThrow))

	s.AppendLabel(done)
	s.Append(cil.Ret)
	return s.Err()
}

// Returns the agent's cache lookup method, resolving it from the agent core
// on the first call.
func (h *Helper) emitCacheLookupMethod(s *cil.InstructionSet, _ cil.Tokenizer, _ *cil.Locals) error {
	s.AppendString(cacheLookupStorageKey)
	s.AppendCall(cil.Call, helperRef(GetMethodFromAppDomainStorage))
	s.Append(cil.Dup)
	done := s.AppendJump(cil.Brtrue)
	s.Append(cil.Pop)

	s.AppendString(h.opts.AgentCorePath)
	s.AppendString(AgentShimTypeName)
	s.AppendString(GetMethodInfoFromAgentCache)
	s.Append(cil.Ldnull)
	s.AppendCall(cil.Call, helperRef(GetMethodViaReflectionOrThrow))
	s.Append(cil.Dup)
	s.AppendString(cacheLookupStorageKey)
	s.AppendCall(cil.Call, helperRef(StoreMethodInAppDomainStorageOrThrow))

	s.AppendLabel(done)
	s.Append(cil.Ret)
	return s.Err()
}

// GetMethodCacheLookupMethod().Invoke(null, new object[] {arguments...}) as MethodInfo
func emitAgentCacheLookup(s *cil.InstructionSet, _ cil.Tokenizer, _ *cil.Locals) error {
	s.AppendCall(cil.Call, helperRef(GetMethodCacheLookupMethod))
	s.Append(cil.Ldnull)
	appendNewArray(s, objectType, 5, func(i int) {
		s.AppendLoadArg(uint16(i))
	})
	s.AppendCall(cil.Callvirt, methodBaseInvoke)
	s.AppendType(cil.Castclass, "[mscorlib]System.Reflection.MethodInfo")
	s.Append(cil.Ret)
	return s.Err()
}
