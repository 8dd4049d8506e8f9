// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package instrumentation // import "go.opentelemetry.io/clr-profiler/instrumentation"

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/clr-profiler/stringutil"
)

// deprecatedFiles are instrumentation files of wrappers that no longer exist.
// They are never parsed.
var deprecatedFiles = []string{
	"NewRelic.Providers.Wrapper.CastleMonoRail2.Instrumentation.xml",
	"NewRelic.Providers.Wrapper.MongoDb.Instrumentation.xml",
	"NewRelic.Providers.Wrapper.Owin.Instrumentation.xml",
}

type xmlExtension struct {
	XMLName         xml.Name `xml:"extension"`
	Instrumentation struct {
		TracerFactories []xmlTracerFactory `xml:"tracerFactory"`
	} `xml:"instrumentation"`
}

type xmlTracerFactory struct {
	Name                      string     `xml:"name,attr"`
	MetricName                string     `xml:"metricName,attr"`
	Metric                    string     `xml:"metric,attr"`
	Level                     string     `xml:"level,attr"`
	TransactionNamingPriority string     `xml:"transactionNamingPriority,attr"`
	SuppressRecursiveCalls    *string    `xml:"suppressRecursiveCalls,attr"`
	Matches                   []xmlMatch `xml:"match"`
}

type xmlMatch struct {
	AssemblyName string           `xml:"assemblyName,attr"`
	ClassName    string           `xml:"className,attr"`
	MinVersion   string           `xml:"minVersion,attr"`
	MaxVersion   string           `xml:"maxVersion,attr"`
	Methods      []xmlExactMethod `xml:"exactMethodMatcher"`
}

type xmlExactMethod struct {
	MethodName string `xml:"methodName,attr"`
	// Parameters stays nil when the attribute is absent.
	Parameters *string `xml:"parameters,attr"`
}

type xmlIgnoreList struct {
	Rules []struct {
		AssemblyName string `xml:"assemblyName,attr"`
		ClassName    string `xml:"className,attr"`
	} `xml:"ignore"`
}

// IsDeprecatedFile reports whether the file belongs to a removed wrapper.
func IsDeprecatedFile(path string) bool {
	base := filepath.Base(path)
	for _, name := range deprecatedFiles {
		if strings.EqualFold(base, name) {
			return true
		}
	}
	return false
}

// ParseInstrumentation decodes an extension document into points. Every class
// listed in a match element gets its own point for each method matcher.
func ParseInstrumentation(data []byte) ([]*Point, error) {
	var doc xmlExtension
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	var points []*Point
	for i := range doc.Instrumentation.TracerFactories {
		factory := &doc.Instrumentation.TracerFactories[i]
		args := factory.tracerArgs()
		for j := range factory.Matches {
			match := &factory.Matches[j]
			if match.AssemblyName == "" {
				log.Warnf("Skipping match of tracer factory %q without assemblyName",
					factory.Name)
				continue
			}
			minVersion := parseVersionBound(match.MinVersion)
			maxVersion := parseVersionBound(match.MaxVersion)
			for _, class := range stringutil.SplitClassNames(match.ClassName) {
				for _, method := range match.Methods {
					if method.MethodName == "" {
						log.Warnf("Skipping method matcher without methodName in [%s]%s",
							match.AssemblyName, class)
						continue
					}
					points = append(points, &Point{
						TracerFactoryName: factory.Name,
						AssemblyName:      match.AssemblyName,
						ClassName:         class,
						MethodName:        method.MethodName,
						Parameters:        method.Parameters,
						MetricName:        factory.MetricName,
						Metric:            args.Metric,
						MinVersion:        minVersion,
						MaxVersion:        maxVersion,
						TracerFactoryArgs: args.Pack(),
					})
				}
			}
		}
	}
	return points, nil
}

func (f *xmlTracerFactory) tracerArgs() TracerArgs {
	args := TracerArgs{
		Metric:                 ParseMetricType(f.Metric),
		CustomMetricName:       f.MetricName != "",
		SuppressRecursiveCalls: true,
	}
	if f.SuppressRecursiveCalls != nil {
		if v, err := strconv.ParseBool(strings.TrimSpace(*f.SuppressRecursiveCalls)); err == nil {
			args.SuppressRecursiveCalls = v
		}
	}
	if f.Level != "" {
		if v, err := strconv.ParseUint(strings.TrimSpace(f.Level), 10, 8); err == nil {
			args.Level = uint8(v)
		} else {
			log.Warnf("Ignoring invalid level %q of tracer factory %q", f.Level, f.Name)
		}
	}
	if f.TransactionNamingPriority != "" {
		v, err := strconv.ParseUint(strings.TrimSpace(f.TransactionNamingPriority), 10, 8)
		switch {
		case err != nil:
			log.Warnf("Ignoring invalid transactionNamingPriority %q of tracer factory %q",
				f.TransactionNamingPriority, f.Name)
		case v > MaxNamingPriority:
			args.NamingPriority = MaxNamingPriority
		default:
			args.NamingPriority = uint8(v)
		}
	}
	return args
}

// parseVersionBound returns nil for absent or invalid bounds, leaving that side
// of the range open.
func parseVersionBound(s string) *AssemblyVersion {
	if s == "" {
		return nil
	}
	v, err := NewAssemblyVersion(s)
	if err != nil {
		log.Warnf("Ignoring version bound: %v", err)
		return nil
	}
	return &v
}

// ParseIgnoreList decodes a document of ignore elements.
func ParseIgnoreList(data []byte) ([]IgnoreRule, error) {
	var doc xmlIgnoreList
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	rules := make([]IgnoreRule, 0, len(doc.Rules))
	for _, r := range doc.Rules {
		rules = append(rules, IgnoreRule{AssemblyName: r.AssemblyName, ClassName: r.ClassName})
	}
	return rules, nil
}

// LoadResult is the outcome of loading instrumentation files.
type LoadResult struct {
	// Points in the order of the given files.
	Points          []*Point
	LoadedFiles     int
	InvalidFiles    int
	DeprecatedFiles int
}

// LoadFiles reads and decodes instrumentation files concurrently. Deprecated
// files are skipped. A file that cannot be read or decoded counts as invalid
// and its error is part of the returned combined error, which never discards
// the points of the other files.
func LoadFiles(ctx context.Context, paths []string) (*LoadResult, error) {
	perFile := make([][]*Point, len(paths))
	errs := make([]error, len(paths))
	skipped := make([]bool, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		if IsDeprecatedFile(path) {
			skipped[i] = true
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				errs[i] = err
				return nil
			}
			if perFile[i], err = ParseInstrumentation(data); err != nil {
				errs[i] = fmt.Errorf("failed to parse %s: %w", path, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &LoadResult{}
	var combined error
	for i, path := range paths {
		switch {
		case skipped[i]:
			log.Warnf("Skipping deprecated instrumentation file %s", path)
			result.DeprecatedFiles++
		case errs[i] != nil:
			log.Warnf("Skipping invalid instrumentation file: %v", errs[i])
			result.InvalidFiles++
			combined = multierr.Append(combined, errs[i])
		default:
			log.Debugf("Loaded %d instrumentation points from %s", len(perFile[i]), path)
			result.LoadedFiles++
			result.Points = append(result.Points, perFile[i]...)
		}
	}
	return result, combined
}
