// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/clr-profiler/internal/controller"

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/clr-profiler/instrumentation"
	"go.opentelemetry.io/clr-profiler/manipulator"
)

// Config is the profiler configuration.
type Config struct {
	// AgentHome overrides the agent home found through the environment.
	AgentHome string
	// InstrumentationFiles is a comma separated list of extension files loaded
	// after the ones in the agent home.
	InstrumentationFiles string
	// IgnoreListFile is an XML document of ignore rules.
	IgnoreListFile     string
	APIStrategy        string
	ParameterCacheSize uint

	// Match is a "[assembly]Class.Method(parameters)" method to look up.
	Match           string
	AssemblyVersion string

	VerboseMode bool
	Version     bool

	Fs *flag.FlagSet
}

// Dump visits all flag sets, and dumps them all to debug
// Used for verbose mode logging.
func (cfg *Config) Dump() {
	log.Debug("Config:")
	cfg.Fs.VisitAll(func(f *flag.Flag) {
		log.Debug(fmt.Sprintf("%s: %v", f.Name, f.Value))
	})
}

// Validate runs validations on the provided configuration, and returns errors
// if invalid values were provided.
func (cfg *Config) Validate() error {
	if _, err := manipulator.ParseStrategy(cfg.APIStrategy); err != nil {
		return err
	}
	if cfg.ParameterCacheSize == 0 || cfg.ParameterCacheSize > 1<<24 {
		return fmt.Errorf("invalid parameter cache size %d", cfg.ParameterCacheSize)
	}
	if cfg.Match != "" {
		if _, err := ParseMethod(cfg.Match); err != nil {
			return err
		}
	}
	if cfg.AssemblyVersion != "" {
		if cfg.Match == "" {
			return errors.New("an assembly version needs a method to match")
		}
		if _, err := instrumentation.NewAssemblyVersion(cfg.AssemblyVersion); err != nil {
			return err
		}
	}
	return nil
}

// Files returns the configured instrumentation files.
func (cfg *Config) Files() []string {
	var files []string
	for _, f := range strings.Split(cfg.InstrumentationFiles, ",") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	return files
}

// ParseMethod parses "[assembly]Class.Method" with an optional parameter list
// "(System.String,System.Int32)" into a match candidate. A method without
// parentheses has no parameters.
func ParseMethod(s string) (*instrumentation.Candidate, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") {
		return nil, fmt.Errorf("method %q does not start with [assembly]", s)
	}
	assembly, rest, ok := strings.Cut(s[1:], "]")
	if !ok || assembly == "" {
		return nil, fmt.Errorf("method %q has no assembly name", s)
	}

	var params string
	if open := strings.IndexByte(rest, '('); open >= 0 {
		if !strings.HasSuffix(rest, ")") {
			return nil, fmt.Errorf("method %q has an unterminated parameter list", s)
		}
		params = rest[open+1 : len(rest)-1]
		rest = rest[:open]
	}
	dot := strings.LastIndexByte(rest, '.')
	// Constructors are named ".ctor" and ".cctor".
	if dot > 0 && rest[dot-1] == '.' {
		dot--
	}
	if dot <= 0 || dot >= len(rest)-1 {
		return nil, fmt.Errorf("method %q needs Class.Method", s)
	}
	return &instrumentation.Candidate{
		AssemblyName: assembly,
		ClassName:    rest[:dot],
		MethodName:   rest[dot+1:],
		Parameters:   params,
	}, nil
}
