// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package instrumentation // import "go.opentelemetry.io/clr-profiler/instrumentation"

import (
	"fmt"
	"strings"
)

// MetricType selects which metrics the tracer records.
type MetricType uint8

const (
	MetricUnspecified MetricType = iota
	MetricInstance
	MetricScoped
	MetricUnscoped
	MetricBoth
	MetricNone
)

var metricTypeNames = map[string]MetricType{
	"instance": MetricInstance,
	"scoped":   MetricScoped,
	"unscoped": MetricUnscoped,
	"both":     MetricBoth,
	"none":     MetricNone,
}

// ParseMetricType maps the metric attribute to a MetricType. Unknown values
// leave the type unspecified.
func ParseMetricType(s string) MetricType {
	return metricTypeNames[strings.ToLower(strings.TrimSpace(s))]
}

// Tracer factory argument bit layout
const (
	namingPriorityMask    = 0x7
	suppressRecursiveFlag = 1 << 3
	metricTypeShift       = 4
	metricTypeMask        = 0x7
	customMetricNameFlag  = 1 << 7
	levelShift            = 8

	// MaxNamingPriority is the highest transaction naming priority.
	MaxNamingPriority = 7
)

// TracerArgs are the tracer settings packed into the integer handed to the
// tracer factory.
type TracerArgs struct {
	NamingPriority         uint8
	SuppressRecursiveCalls bool
	Metric                 MetricType
	CustomMetricName       bool
	Level                  uint8
}

// Pack encodes the settings: bits 0-2 naming priority, bit 3 recursion
// suppression, bits 4-6 metric type, bit 7 custom metric name, bits 8-15 level.
func (a TracerArgs) Pack() uint32 {
	priority := a.NamingPriority
	if priority > MaxNamingPriority {
		priority = MaxNamingPriority
	}
	packed := uint32(priority) & namingPriorityMask
	if a.SuppressRecursiveCalls {
		packed |= suppressRecursiveFlag
	}
	packed |= (uint32(a.Metric) & metricTypeMask) << metricTypeShift
	if a.CustomMetricName {
		packed |= customMetricNameFlag
	}
	packed |= uint32(a.Level) << levelShift
	return packed
}

// UnpackTracerArgs is the inverse of TracerArgs.Pack.
func UnpackTracerArgs(packed uint32) TracerArgs {
	return TracerArgs{
		NamingPriority:         uint8(packed & namingPriorityMask),
		SuppressRecursiveCalls: packed&suppressRecursiveFlag != 0,
		Metric:                 MetricType(packed >> metricTypeShift & metricTypeMask),
		CustomMetricName:       packed&customMetricNameFlag != 0,
		Level:                  uint8(packed >> levelShift),
	}
}

// Point is one configured instrumentation point.
type Point struct {
	TracerFactoryName string
	AssemblyName      string
	ClassName         string
	MethodName        string
	// Parameters is nil when all overloads match.
	Parameters *string
	MetricName string
	Metric     MetricType
	MinVersion *AssemblyVersion
	MaxVersion *AssemblyVersion
	// TracerFactoryArgs is the packed TracerArgs.
	TracerFactoryArgs uint32
}

// GetMatchKey returns the key matching every overload of a method.
func GetMatchKey(assembly, class, method string) string {
	return "[" + assembly + "]" + class + "." + method
}

// GetMatchKeyWithParameters returns the key matching one overload of a method.
func GetMatchKeyWithParameters(assembly, class, method, parameters string) string {
	return GetMatchKey(assembly, class, method) + "(" + parameters + ")"
}

// normalizeParameters maps the explicit "void" parameter list to the empty one.
func normalizeParameters(parameters string) string {
	if strings.EqualFold(parameters, "void") {
		return ""
	}
	return parameters
}

// ParametersMatch reports whether the parameter constraints of both points are
// compatible. A missing constraint on either side matches anything, "" and
// "void" both stand for no parameters, other values compare case-insensitively.
func (p *Point) ParametersMatch(other *Point) bool {
	return parametersMatch(p.Parameters, other.Parameters)
}

func parametersMatch(a, b *string) bool {
	if a == nil || b == nil {
		return true
	}
	return strings.EqualFold(normalizeParameters(*a), normalizeParameters(*b))
}

// ContainsVersion reports whether v is in [MinVersion, MaxVersion). An unknown
// version is only contained when neither bound is set.
func (p *Point) ContainsVersion(v AssemblyVersion) bool {
	if p.MinVersion == nil && p.MaxVersion == nil {
		return true
	}
	if v.IsZero() {
		return false
	}
	if p.MinVersion != nil && v.Less(*p.MinVersion) {
		return false
	}
	if p.MaxVersion != nil && !v.Less(*p.MaxVersion) {
		return false
	}
	return true
}

// MatchKey returns the key the point is indexed under.
func (p *Point) MatchKey() string {
	if p.Parameters == nil {
		return GetMatchKey(p.AssemblyName, p.ClassName, p.MethodName)
	}
	return GetMatchKeyWithParameters(p.AssemblyName, p.ClassName, p.MethodName,
		normalizeParameters(*p.Parameters))
}

func (p *Point) String() string {
	versions := ""
	if p.MinVersion != nil {
		versions += " min=" + p.MinVersion.String()
	}
	if p.MaxVersion != nil {
		versions += " max=" + p.MaxVersion.String()
	}
	return fmt.Sprintf("%s tracer=%s args=%#x%s", p.MatchKey(), p.TracerFactoryName,
		p.TracerFactoryArgs, versions)
}
