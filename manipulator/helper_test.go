// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package manipulator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/clr-profiler/rewriter/offline"
	"go.opentelemetry.io/clr-profiler/sigparser"
)

func helperTarget(t *testing.T, assembly, name string) (*Target, *offline.Module) {
	mod := newModule(assembly)
	return newTarget(t, mod, &offline.Method{
		TypeName:     HelperTypeName,
		FunctionName: name,
		Signature:    []byte{0x00, 0x01, 0x1c, 0x0e},
		Body:         tinyBody(0x14, 0x2a),
	}, nil), mod
}

func TestHelperApplies(t *testing.T) {
	tests := map[string]struct {
		assembly string
		typeName string
		applies  bool
	}{
		"mscorlib":       {assembly: "mscorlib", typeName: HelperTypeName, applies: true},
		"core library":   {assembly: "System.Private.CoreLib", typeName: HelperTypeName, applies: true},
		"case":           {assembly: "MSCORLIB", typeName: HelperTypeName, applies: true},
		"other assembly": {assembly: "MyApp", typeName: HelperTypeName},
		"other type":     {assembly: "mscorlib", typeName: "System.Exception"},
	}
	h := NewHelper(Options{AgentCorePath: testAgentCore})
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			target := newTarget(t, newModule(tc.assembly), &offline.Method{
				TypeName:     tc.typeName,
				FunctionName: LoadAssemblyOrThrow,
				Signature:    []byte{0x00, 0x00, 0x01},
				Body:         tinyBody(0x2a),
			}, nil)
			assert.Equal(t, tc.applies, h.Applies(target))
		})
	}
}

func TestHelperLoadAssembly(t *testing.T) {
	target, mod := helperTarget(t, "mscorlib", LoadAssemblyOrThrow)
	b, err := NewHelper(Options{AgentCorePath: testAgentCore}).Instrument(target)
	require.NoError(t, err)

	got, body := listing(t, mod.Metadata, b)
	assertListing(t, []string{
		"ldarg.0",
		"call [mscorlib]System.Reflection.Assembly::LoadFrom",
		"ret",
	}, got)
	assert.Equal(t, uint16(1), body.Header.MaxStack)
	assert.Zero(t, body.Header.LocalVarSigToken)
	assert.Empty(t, body.Clauses)
}

func TestHelperGetMethod(t *testing.T) {
	target, mod := helperTarget(t, "mscorlib", GetMethodViaReflectionOrThrow)
	b, err := NewHelper(Options{AgentCorePath: testAgentCore}).Instrument(target)
	require.NoError(t, err)

	got, body := listing(t, mod.Metadata, b)
	assertListing(t, []string{
		"ldarg.0",
		"ldarg.1",
		"call [mscorlib]System.CannotUnloadAppDomainException::GetTypeViaReflectionOrThrow",
		"stloc.0",
		"ldarg.3",
		"brtrue",
		"ldloc.0",
		"ldarg.2",
		"callvirt [mscorlib]System.Type::GetMethod",
		"br",
		"ldloc.0",
		"ldarg.2",
		"ldarg.3",
		"callvirt [mscorlib]System.Type::GetMethod",
		"dup",
		"brtrue",
		"pop",
		"ldarg.2",
		"newobj [mscorlib]System.MissingMethodException::.ctor",
		"throw",
		"ret",
	}, got)

	require.NotZero(t, body.Header.LocalVarSigToken)
	require.Len(t, mod.Metadata.Signatures, 1)
	locals, err := sigparser.ParseLocalsSignature(mod.Metadata.Signatures[0])
	require.NoError(t, err)
	require.Len(t, locals, 1)
	name, err := mod.Metadata.GetTypeName(locals[0].Token)
	require.NoError(t, err)
	assert.Equal(t, "System.Type", name)
}

func TestHelperCacheLookupMethod(t *testing.T) {
	target, mod := helperTarget(t, "System.Private.CoreLib", GetMethodCacheLookupMethod)
	b, err := NewHelper(Options{AgentCorePath: testAgentCore}).Instrument(target)
	require.NoError(t, err)

	got, _ := listing(t, mod.Metadata, b)
	assertListing(t, []string{
		`ldstr "NewRelic_Delegate_GetMethodInfoFromAgentCache"`,
		"call [mscorlib]System.CannotUnloadAppDomainException::GetMethodFromAppDomainStorage",
		"dup",
		"brtrue",
		"pop",
		`ldstr "` + testAgentCore + `"`,
		`ldstr "NewRelic.Agent.Core.AgentShim"`,
		`ldstr "GetMethodInfoFromAgentCache"`,
		"ldnull",
		"call [mscorlib]System.CannotUnloadAppDomainException::GetMethodViaReflectionOrThrow",
		"dup",
		`ldstr "NewRelic_Delegate_GetMethodInfoFromAgentCache"`,
		"call [mscorlib]System.CannotUnloadAppDomainException::StoreMethodInAppDomainStorageOrThrow",
		"ret",
	}, got)
}

func TestHelperBodies(t *testing.T) {
	h := NewHelper(Options{AgentCorePath: testAgentCore})
	for name := range helperSignatures {
		t.Run(name, func(t *testing.T) {
			target, mod := helperTarget(t, "mscorlib", name)
			b, err := h.Instrument(target)
			require.NoError(t, err)
			got, _ := listing(t, mod.Metadata, b)
			assert.Equal(t, "ret", got[len(got)-1])
		})
	}
}

func TestHelperUnknown(t *testing.T) {
	target, _ := helperTarget(t, "mscorlib", "GetSomethingElse")
	_, err := NewHelper(Options{}).Instrument(target)
	assert.ErrorIs(t, err, ErrUnknownHelper)
}
