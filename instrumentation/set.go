// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package instrumentation // import "go.opentelemetry.io/clr-profiler/instrumentation"

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/clr-profiler/internal/xsync"
)

// Candidate describes a method that is about to be compiled.
type Candidate struct {
	AssemblyName string
	ClassName    string
	MethodName   string
	// Parameters is the rendered parameter list, "" for no parameters.
	Parameters string
	Version    AssemblyVersion
}

type setData struct {
	// points maps lowercased match keys to points in configured order.
	points map[string][]*Point
	ignore []IgnoreRule
	count  int
}

// Set is the collection of configured instrumentation points. It is safe for
// concurrent use.
type Set struct {
	data xsync.RWMutex[setData]
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{
		data: xsync.NewRWMutex(setData{points: make(map[string][]*Point)}),
	}
}

// Add appends points. Points sharing a match key are tried in the order they
// were added.
func (s *Set) Add(points ...*Point) {
	data := s.data.WLock()
	defer s.data.WUnlock(&data)

	for _, p := range points {
		key := strings.ToLower(p.MatchKey())
		data.points[key] = append(data.points[key], p)
		data.count++
	}
}

// AddIgnoreRules appends ignore rules. Invalid rules are dropped.
func (s *Set) AddIgnoreRules(rules ...IgnoreRule) {
	data := s.data.WLock()
	defer s.data.WUnlock(&data)

	for _, r := range rules {
		if !r.Valid() {
			log.Debugf("Dropping ignore rule without assembly name (class %q)", r.ClassName)
			continue
		}
		data.ignore = append(data.ignore, r)
	}
}

// Len returns the number of points in the set.
func (s *Set) Len() int {
	data := s.data.RLock()
	defer s.data.RUnlock(&data)
	return data.count
}

// Match returns the point applying to the candidate, or nil. The overload
// specific key is tried before the key matching all overloads. Within a key,
// the first point whose version range contains the candidate version wins.
// Ignore rules suppress a match.
func (s *Set) Match(c *Candidate) *Point {
	data := s.data.RLock()
	defer s.data.RUnlock(&data)

	params := c.Parameters
	keys := [2]string{
		strings.ToLower(GetMatchKeyWithParameters(c.AssemblyName, c.ClassName,
			c.MethodName, params)),
		strings.ToLower(GetMatchKey(c.AssemblyName, c.ClassName, c.MethodName)),
	}

	var match *Point
	for _, key := range keys {
		if match = firstInRange(data.points[key], &params, c.Version); match != nil {
			break
		}
	}
	if match == nil {
		return nil
	}

	for _, rule := range data.ignore {
		if rule.Matches(c.AssemblyName, c.ClassName) {
			log.Debugf("Ignoring %s: suppressed by ignore rule [%s]%s", match.MatchKey(),
				rule.AssemblyName, rule.ClassName)
			return nil
		}
	}
	return match
}

func firstInRange(points []*Point, params *string, version AssemblyVersion) *Point {
	for _, p := range points {
		if !parametersMatch(p.Parameters, params) {
			continue
		}
		if p.ContainsVersion(version) {
			return p
		}
		log.Debugf("Version %s outside of range for %s", version, p)
	}
	return nil
}

// IsIgnored reports whether an ignore rule covers the class.
func (s *Set) IsIgnored(assembly, class string) bool {
	data := s.data.RLock()
	defer s.data.RUnlock(&data)

	for _, rule := range data.ignore {
		if rule.Matches(assembly, class) {
			return true
		}
	}
	return false
}
