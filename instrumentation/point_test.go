// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package instrumentation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string {
	return &s
}

func versionPtr(t *testing.T, s string) *AssemblyVersion {
	t.Helper()
	v, err := NewAssemblyVersion(s)
	require.NoError(t, err)
	return &v
}

func TestMatchKey(t *testing.T) {
	assert.Equal(t, "[MyAssembly]MyNamespace.MyClass.MyMethod",
		GetMatchKey("MyAssembly", "MyNamespace.MyClass", "MyMethod"))

	for _, params := range []string{"", "System.Int32", "System.String,System.Object[]", "void"} {
		assert.Equal(t,
			GetMatchKey("MyAssembly", "MyNamespace.MyClass", "MyMethod")+"("+params+")",
			GetMatchKeyWithParameters("MyAssembly", "MyNamespace.MyClass", "MyMethod", params))
	}

	p := &Point{AssemblyName: "A", ClassName: "B", MethodName: "C", Parameters: strPtr("VOID")}
	assert.Equal(t, "[A]B.C()", p.MatchKey())
	p.Parameters = nil
	assert.Equal(t, "[A]B.C", p.MatchKey())
}

func TestParametersMatch(t *testing.T) {
	values := []*string{nil, strPtr(""), strPtr("void"), strPtr("VOID"),
		strPtr("System.String"), strPtr("System.Int32")}

	for _, v := range values {
		assert.True(t, (&Point{}).ParametersMatch(&Point{Parameters: v}))
		assert.True(t, (&Point{Parameters: v}).ParametersMatch(&Point{}))
	}

	tests := map[string]struct {
		a, b     string
		expected bool
	}{
		"empty and void":   {"", "void", true},
		"void and empty":   {"Void", "", true},
		"void and void":    {"void", "VOID", true},
		"empty and string": {"", "System.String", false},
		"void and string":  {"void", "System.String", false},
		"case":             {"system.string", "System.String", true},
		"different":        {"System.Int32", "System.String", false},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			a := &Point{Parameters: strPtr(test.a)}
			b := &Point{Parameters: strPtr(test.b)}
			assert.Equal(t, test.expected, a.ParametersMatch(b))
			assert.Equal(t, test.expected, b.ParametersMatch(a))
		})
	}
}

func TestContainsVersion(t *testing.T) {
	p := &Point{MinVersion: versionPtr(t, "1.0.0"), MaxVersion: versionPtr(t, "2.0.0")}

	assert.True(t, p.ContainsVersion(AssemblyVersion{Major: 1}))
	assert.True(t, p.ContainsVersion(AssemblyVersion{1, 9, 9, 9}))
	assert.True(t, p.ContainsVersion(AssemblyVersion{1, 65535, 65535, 65535}))
	assert.False(t, p.ContainsVersion(AssemblyVersion{Major: 2}))
	assert.False(t, p.ContainsVersion(AssemblyVersion{Major: 2, Revision: 1}))
	assert.False(t, p.ContainsVersion(AssemblyVersion{0, 9, 9, 9}))
	assert.False(t, p.ContainsVersion(AssemblyVersion{}))

	open := &Point{}
	assert.True(t, open.ContainsVersion(AssemblyVersion{}))
	assert.True(t, open.ContainsVersion(AssemblyVersion{Major: 100}))

	minOnly := &Point{MinVersion: versionPtr(t, "3")}
	assert.True(t, minOnly.ContainsVersion(AssemblyVersion{Major: 300}))
	assert.False(t, minOnly.ContainsVersion(AssemblyVersion{Major: 2}))

	maxOnly := &Point{MaxVersion: versionPtr(t, "3")}
	assert.True(t, maxOnly.ContainsVersion(AssemblyVersion{Revision: 1}))
	assert.False(t, maxOnly.ContainsVersion(AssemblyVersion{Major: 3}))
}

func TestTracerArgs(t *testing.T) {
	tests := map[string]struct {
		args     TracerArgs
		expected uint32
	}{
		"zero":     {TracerArgs{}, 0},
		"priority": {TracerArgs{NamingPriority: 5}, 0x5},
		"clamped":  {TracerArgs{NamingPriority: 42}, 0x7},
		"suppress": {TracerArgs{SuppressRecursiveCalls: true}, 0x8},
		"metric":   {TracerArgs{Metric: MetricUnscoped}, 0x30},
		"none":     {TracerArgs{Metric: MetricNone}, 0x50},
		"custom":   {TracerArgs{CustomMetricName: true}, 0x80},
		"level":    {TracerArgs{Level: 3}, 0x300},
		"all": {
			TracerArgs{NamingPriority: 7, SuppressRecursiveCalls: true, Metric: MetricBoth,
				CustomMetricName: true, Level: 0xff},
			0xffcf,
		},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			packed := test.args.Pack()
			assert.Equal(t, test.expected, packed)
			if test.args.NamingPriority <= MaxNamingPriority {
				assert.Equal(t, test.args, UnpackTracerArgs(packed))
			}
		})
	}

	assert.Equal(t, MetricScoped, ParseMetricType(" Scoped "))
	assert.Equal(t, MetricUnspecified, ParseMetricType("bogus"))
}
