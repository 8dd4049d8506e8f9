// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package manipulator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/clr-profiler/rewriter/offline"
)

// apiTarget is the stub "static void IncrementCounter(string)" with the
// original body "nop; ret".
func apiTarget(t *testing.T) (*Target, *offline.Module) {
	mod := newModule(APIAssemblyName)
	return newTarget(t, mod, &offline.Method{
		FunctionID:   7,
		TypeName:     APITypeName,
		FunctionName: "IncrementCounter",
		Signature:    []byte{0x00, 0x01, 0x01, 0x0e},
		Body:         tinyBody(0x00, 0x2a),
	}, nil), mod
}

func TestAPIApplies(t *testing.T) {
	tests := map[string]struct {
		assembly string
		typeName string
		applies  bool
	}{
		"api":            {assembly: APIAssemblyName, typeName: APITypeName, applies: true},
		"assembly case":  {assembly: "newrelic.api.agent", typeName: APITypeName, applies: true},
		"type case":      {assembly: APIAssemblyName, typeName: "NewRelic.Api.Agent.newrelic"},
		"other type":     {assembly: APIAssemblyName, typeName: "NewRelic.Api.Agent.Transaction"},
		"other assembly": {assembly: "MyApp", typeName: APITypeName},
	}
	a := NewAPI(Options{})
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			target := newTarget(t, newModule(tc.assembly), &offline.Method{
				TypeName:     tc.typeName,
				FunctionName: "IncrementCounter",
				Signature:    []byte{0x00, 0x00, 0x01},
				Body:         tinyBody(0x2a),
			}, nil)
			assert.Equal(t, tc.applies, a.Applies(target))
		})
	}
}

func TestAPIReflection(t *testing.T) {
	target, mod := apiTarget(t)
	b, err := NewAPI(Options{
		AgentCorePath: testAgentCore,
		APIStrategy:   StrategyReflection,
	}).Instrument(target)
	require.NoError(t, err)

	got, body := listing(t, mod.Metadata, b)
	assertListing(t, concat(
		[]string{
			`ldstr "` + testAgentCore + `"`,
			`ldstr "NewRelic.Agent.Core.AgentApi"`,
			`ldstr "IncrementCounter"`,
			"ldc.i4.1",
			"newarr [mscorlib]System.Type",
		},
		arrayStore("ldc.i4.0", "ldtoken 0x1b000001",
			"call [mscorlib]System.Type::GetTypeFromHandle"),
		[]string{
			"call [mscorlib]System.CannotUnloadAppDomainException::GetMethodViaReflectionOrThrow",
			"ldnull",
			"ldc.i4.1",
			"newarr [mscorlib]System.Object",
		},
		arrayStore("ldc.i4.0", "ldarg.0"),
		[]string{
			"callvirt [mscorlib]System.Reflection.MethodBase::Invoke",
			"pop",
			"leave",
			// handler
			"pop",
			"leave",
			// original body
			"nop",
			"nop",
			"ret",
			// forwarded
			"ret",
		},
	), got)

	require.Len(t, body.Clauses, 1)
	c := body.Clauses[0]
	assert.Zero(t, c.TryOffset)
	assert.Equal(t, c.TryEnd(), c.HandlerOffset)
	assert.Equal(t, "[mscorlib]System.Object", mod.Metadata.Describe(c.ClassToken))
	assert.Zero(t, body.Header.LocalVarSigToken)
	assert.Equal(t, []byte{0x0e}, []byte(mod.Metadata.TypeSpecs[0]))
}

func TestAPIAgentCache(t *testing.T) {
	state := &AgentCacheState{}
	_, err := state.Init(testAgentCore, AgentAPITypeName)
	require.NoError(t, err)

	target, mod := apiTarget(t)
	b, err := NewAPI(Options{
		AgentCorePath: "/ignored",
		APIStrategy:   StrategyInAgentCache,
		AgentCache:    state,
	}).Instrument(target)
	require.NoError(t, err)

	got, _ := listing(t, mod.Metadata, b)
	require.Greater(t, len(got), 5)
	assertListing(t, []string{
		fmt.Sprintf("ldstr %q", APITypeName+".IncrementCounter("+target.Parameters+")"),
		`ldstr "` + testAgentCore + `"`,
		`ldstr "NewRelic.Agent.Core.AgentApi"`,
		`ldstr "IncrementCounter"`,
		"ldc.i4.1",
	}, got[:5])
	assert.Contains(t, got,
		"call [mscorlib]System.CannotUnloadAppDomainException::GetMethodInfoFromAgentCache")
}

func TestAPIResult(t *testing.T) {
	tests := map[string]struct {
		ret     []byte
		convert string
	}{
		"value type": {ret: []byte{0x08}, convert: "unbox.any 0x1b000001"},
		"string":     {ret: []byte{0x0e}, convert: "castclass 0x1b000001"},
		"object":     {ret: []byte{0x1c}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			mod := newModule(APIAssemblyName)
			sig := append([]byte{0x00, 0x00}, tc.ret...)
			target := newTarget(t, mod, &offline.Method{
				TypeName:     APITypeName,
				FunctionName: "GetValue",
				Signature:    sig,
				Body:         tinyBody(0x14, 0x2a),
			}, nil)
			b, err := NewAPI(Options{APIStrategy: StrategyReflection}).Instrument(target)
			require.NoError(t, err)

			got, body := listing(t, mod.Metadata, b)
			invoke := -1
			for i, s := range got {
				if s == "callvirt [mscorlib]System.Reflection.MethodBase::Invoke" {
					invoke = i
					break
				}
			}
			require.GreaterOrEqual(t, invoke, 0)
			want := []string{"stloc.0", "leave"}
			if tc.convert != "" {
				want = append([]string{tc.convert}, want...)
			}
			assertListing(t, want, got[invoke+1:invoke+1+len(want)])
			assert.Equal(t, []string{"ldloc.0", "ret"}, got[len(got)-2:])
			assert.NotZero(t, body.Header.LocalVarSigToken)
		})
	}
}

func TestAPIErrors(t *testing.T) {
	tests := map[string]struct {
		sig  []byte
		opts Options
		err  error
	}{
		"byref return": {
			sig:  []byte{0x00, 0x00, 0x10, 0x08},
			opts: Options{APIStrategy: StrategyReflection},
			err:  ErrUnsupportedReturnType,
		},
		"agent cache not initialized": {
			sig:  []byte{0x00, 0x00, 0x01},
			opts: Options{APIStrategy: StrategyInAgentCache},
			err:  ErrAgentCacheUninitialized,
		},
		"unknown strategy": {
			sig:  []byte{0x00, 0x00, 0x01},
			opts: Options{APIStrategy: Strategy(9)},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			target := newTarget(t, newModule(APIAssemblyName), &offline.Method{
				TypeName:     APITypeName,
				FunctionName: "GetValue",
				Signature:    tc.sig,
				Body:         tinyBody(0x2a),
			}, nil)
			_, err := NewAPI(tc.opts).Instrument(target)
			require.Error(t, err)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			}
		})
	}
}

func TestStrategy(t *testing.T) {
	for _, s := range []Strategy{StrategyInAgentCache, StrategyReflection} {
		parsed, err := ParseStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	parsed, err := ParseStrategy("Reflection")
	require.NoError(t, err)
	assert.Equal(t, StrategyReflection, parsed)
	_, err = ParseStrategy("magic")
	assert.Error(t, err)
	assert.Equal(t, "strategy(9)", Strategy(9).String())
}

func TestAgentCacheState(t *testing.T) {
	var nilState *AgentCacheState
	assert.Nil(t, nilState.Load())

	state := &AgentCacheState{}
	assert.Nil(t, state.Load())
	_, err := state.Init("", AgentAPITypeName)
	assert.Error(t, err)
	assert.Nil(t, state.Load())

	cache, err := state.Init("/a.dll", "A")
	require.NoError(t, err)
	assert.Equal(t, AgentCache{AssemblyPath: "/a.dll", TypeName: "A"}, *cache)

	cache, err = state.Init("/b.dll", "B")
	require.NoError(t, err)
	assert.Equal(t, "/a.dll", cache.AssemblyPath)
	assert.Equal(t, "/a.dll", state.Load().AssemblyPath)
}
