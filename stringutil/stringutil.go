// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package stringutil // import "go.opentelemetry.io/clr-profiler/stringutil"

import (
	"strings"
)

// SplitN splits the string around each instance of sep, filling f with substrings of s.
// If s contains more fields than len(f), the last element of f is set to the
// unparsed remainder of s. The number of filled elements is returned.
//
// Apart from the mentioned differences, SplitN is like an allocation-free strings.SplitN.
func SplitN(s, sep string, f []string) int {
	n := len(f)
	if n == 0 {
		return 0
	}
	i := 0
	for ; i < n-1 && s != ""; i++ {
		fieldEnd := strings.Index(s, sep)
		if fieldEnd < 0 {
			f[i] = s
			return i + 1
		}
		f[i] = s[:fieldEnd]
		s = s[fieldEnd+len(sep):]
	}

	// Put the remainder of s as last element of f.
	f[i] = s
	return i + 1
}

// SplitClassNames splits a comma separated list of class names. Commas nested
// in generic argument lists, in either '<>' or '[]' brackets, do not separate
// names. Names are trimmed and empty names dropped. When the brackets do not
// balance, the whole trimmed input is returned as a single name.
func SplitClassNames(list string) []string {
	var names []string
	var stack []byte
	start := 0

	for i := 0; i < len(list); i++ {
		switch c := list[i]; c {
		case '<', '[':
			stack = append(stack, c)
		case '>', ']':
			open := byte('<')
			if c == ']' {
				open = '['
			}
			if len(stack) == 0 || stack[len(stack)-1] != open {
				return wholeName(list)
			}
			stack = stack[:len(stack)-1]
		case ',':
			if len(stack) != 0 {
				continue
			}
			if name := strings.TrimSpace(list[start:i]); name != "" {
				names = append(names, name)
			}
			start = i + 1
		}
	}
	if len(stack) != 0 {
		return wholeName(list)
	}
	if name := strings.TrimSpace(list[start:]); name != "" {
		names = append(names, name)
	}
	return names
}

func wholeName(list string) []string {
	name := strings.TrimSpace(list)
	if name == "" {
		return nil
	}
	return []string{name}
}
