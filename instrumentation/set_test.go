// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package instrumentation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate(params string, version AssemblyVersion) *Candidate {
	return &Candidate{
		AssemblyName: "MyAssembly",
		ClassName:    "MyNamespace.MyClass",
		MethodName:   "MyMethod",
		Parameters:   params,
		Version:      version,
	}
}

var v1 = AssemblyVersion{Major: 1}

func TestSetMatchAllOverloads(t *testing.T) {
	s := NewSet()
	p := &Point{AssemblyName: "MyAssembly", ClassName: "MyNamespace.MyClass", MethodName: "MyMethod"}
	s.Add(p)

	assert.Same(t, p, s.Match(candidate("System.Int32", v1)))
	assert.Same(t, p, s.Match(candidate("", v1)))
	assert.Same(t, p, s.Match(&Candidate{
		AssemblyName: "myassembly",
		ClassName:    "MYNAMESPACE.MYCLASS",
		MethodName:   "mymethod",
	}))
	assert.Nil(t, s.Match(&Candidate{AssemblyName: "MyAssembly", ClassName: "Other",
		MethodName: "MyMethod"}))
}

func TestSetMatchNoParameters(t *testing.T) {
	for _, params := range []string{"", "void"} {
		t.Run(params, func(t *testing.T) {
			s := NewSet()
			p := &Point{AssemblyName: "MyAssembly", ClassName: "MyNamespace.MyClass",
				MethodName: "MyMethod", Parameters: strPtr(params)}
			s.Add(p)

			assert.Nil(t, s.Match(candidate("System.Int32", v1)))
			assert.Same(t, p, s.Match(candidate("", v1)))
		})
	}
}

func TestSetMatchPrefersOverload(t *testing.T) {
	s := NewSet()
	allOverloads := &Point{AssemblyName: "MyAssembly", ClassName: "MyNamespace.MyClass", MethodName: "MyMethod"}
	overload := &Point{AssemblyName: "MyAssembly", ClassName: "MyNamespace.MyClass",
		MethodName: "MyMethod", Parameters: strPtr("System.String"),
		MinVersion: versionPtr(t, "2.0")}
	s.Add(allOverloads, overload)
	require.Equal(t, 2, s.Len())

	assert.Same(t, overload, s.Match(candidate("system.string", AssemblyVersion{Major: 2})))
	assert.Same(t, allOverloads, s.Match(candidate("System.Int32", AssemblyVersion{Major: 2})))
	// The overload is version excluded, so the catch-all applies.
	assert.Same(t, allOverloads, s.Match(candidate("System.String", v1)))
}

func TestSetMatchVersionRanges(t *testing.T) {
	s := NewSet()
	old := &Point{AssemblyName: "MyAssembly", ClassName: "MyNamespace.MyClass", MethodName: "MyMethod",
		TracerFactoryName: "Old", MaxVersion: versionPtr(t, "2.0.0")}
	current := &Point{AssemblyName: "MyAssembly", ClassName: "MyNamespace.MyClass", MethodName: "MyMethod",
		TracerFactoryName: "Current", MinVersion: versionPtr(t, "2.0.0"), MaxVersion: versionPtr(t, "3.0.0")}
	s.Add(old, current)

	assert.Same(t, old, s.Match(candidate("", AssemblyVersion{1, 9, 9, 9})))
	assert.Same(t, current, s.Match(candidate("", AssemblyVersion{Major: 2})))
	assert.Nil(t, s.Match(candidate("", AssemblyVersion{Major: 3})))
	assert.Nil(t, s.Match(candidate("", AssemblyVersion{})))

	// Configured order decides between overlapping ranges.
	overlapping := &Point{AssemblyName: "MyAssembly", ClassName: "MyNamespace.MyClass",
		MethodName: "MyMethod", TracerFactoryName: "Overlapping"}
	s.Add(overlapping)
	assert.Same(t, current, s.Match(candidate("", AssemblyVersion{Major: 2})))
	assert.Same(t, overlapping, s.Match(candidate("", AssemblyVersion{Major: 3})))
}

func TestSetIgnoreRules(t *testing.T) {
	newSet := func(rules ...IgnoreRule) *Set {
		s := NewSet()
		for _, class := range []string{"MyNamespace.MyClass", "MyNamespace.Other"} {
			s.Add(&Point{AssemblyName: "MyAssembly", ClassName: class, MethodName: "MyMethod"})
		}
		s.AddIgnoreRules(rules...)
		return s
	}
	other := &Candidate{AssemblyName: "MyAssembly", ClassName: "MyNamespace.Other", MethodName: "MyMethod"}

	s := newSet(IgnoreRule{AssemblyName: "myassembly"})
	assert.Nil(t, s.Match(candidate("", v1)))
	assert.Nil(t, s.Match(other))
	assert.True(t, s.IsIgnored("MyAssembly", "Anything"))

	s = newSet(IgnoreRule{AssemblyName: "MyAssembly", ClassName: "mynamespace.myclass"})
	assert.Nil(t, s.Match(candidate("", v1)))
	assert.NotNil(t, s.Match(other))

	// Rules without an assembly never apply.
	s = newSet(IgnoreRule{ClassName: "MyNamespace.MyClass"})
	assert.NotNil(t, s.Match(candidate("", v1)))
	assert.False(t, s.IsIgnored("", "MyNamespace.MyClass"))
}

func TestIgnoreRule(t *testing.T) {
	assert.False(t, IgnoreRule{}.Valid())
	assert.False(t, IgnoreRule{ClassName: "A"}.Matches("", "A"))
	assert.True(t, IgnoreRule{AssemblyName: "A"}.Matches("a", "B"))
	assert.False(t, IgnoreRule{AssemblyName: "A", ClassName: "B"}.Matches("A", "C"))
}

func TestSetConcurrentAdd(t *testing.T) {
	s := NewSet()
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Add(&Point{AssemblyName: "MyAssembly", ClassName: "MyNamespace.MyClass",
				MethodName: "MyMethod"})
		}()
		go func() {
			defer wg.Done()
			_ = s.Match(candidate("", v1))
		}()
	}
	wg.Wait()
	assert.Equal(t, 4, s.Len())
	assert.NotNil(t, s.Match(candidate("", v1)))
}
