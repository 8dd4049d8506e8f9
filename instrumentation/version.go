// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package instrumentation holds the configured instrumentation points and
// decides which of them applies to a method that is about to be compiled.
package instrumentation // import "go.opentelemetry.io/clr-profiler/instrumentation"

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/clr-profiler/stringutil"
)

// ErrInvalidVersion is returned for version strings that cannot be parsed.
var ErrInvalidVersion = errors.New("invalid assembly version")

// AssemblyVersion is the four part version of an assembly. The zero value
// stands for an unknown version.
type AssemblyVersion struct {
	Major    uint16
	Minor    uint16
	Build    uint16
	Revision uint16
}

// NewAssemblyVersion parses "major[.minor[.build[.revision]]]". Missing trailing
// components are zero. Empty input, more than four components, components that
// are not decimal numbers in [0, 65535], and 0.0.0.0 are rejected.
func NewAssemblyVersion(s string) (AssemblyVersion, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return AssemblyVersion{}, fmt.Errorf("%w: empty", ErrInvalidVersion)
	}

	var fields [5]string
	n := stringutil.SplitN(s, ".", fields[:])
	if n > 4 {
		return AssemblyVersion{}, fmt.Errorf("%w: %q has more than 4 components",
			ErrInvalidVersion, s)
	}

	var parts [4]uint16
	for i, field := range fields[:n] {
		// ParseUint rejects signs, so negative components fail here as well.
		v, err := strconv.ParseUint(field, 10, 16)
		if err != nil {
			return AssemblyVersion{}, fmt.Errorf("%w: component %d of %q",
				ErrInvalidVersion, i, s)
		}
		parts[i] = uint16(v)
	}

	v := AssemblyVersion{Major: parts[0], Minor: parts[1], Build: parts[2], Revision: parts[3]}
	if v.IsZero() {
		return AssemblyVersion{}, fmt.Errorf("%w: %q is all zero", ErrInvalidVersion, s)
	}
	return v, nil
}

// IsZero reports whether the version is unknown.
func (v AssemblyVersion) IsZero() bool {
	return v == AssemblyVersion{}
}

// Compare returns -1, 0 or +1 comparing the components lexicographically.
func (v AssemblyVersion) Compare(other AssemblyVersion) int {
	a := [4]uint16{v.Major, v.Minor, v.Build, v.Revision}
	b := [4]uint16{other.Major, other.Minor, other.Build, other.Revision}
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// Less reports whether v sorts before other.
func (v AssemblyVersion) Less(other AssemblyVersion) bool {
	return v.Compare(other) < 0
}

func (v AssemblyVersion) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.Revision)
}
