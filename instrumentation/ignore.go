// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package instrumentation // import "go.opentelemetry.io/clr-profiler/instrumentation"

import "strings"

// IgnoreRule suppresses instrumentation of an assembly, or of one class in it.
type IgnoreRule struct {
	AssemblyName string
	ClassName    string
}

// Valid reports whether the rule names an assembly. Invalid rules never apply.
func (r IgnoreRule) Valid() bool {
	return r.AssemblyName != ""
}

// Matches reports whether the rule suppresses the given class.
func (r IgnoreRule) Matches(assembly, class string) bool {
	if !r.Valid() || !strings.EqualFold(r.AssemblyName, assembly) {
		return false
	}
	return r.ClassName == "" || strings.EqualFold(r.ClassName, class)
}
