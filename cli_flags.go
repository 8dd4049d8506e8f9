// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"

	"github.com/peterbourgon/ff/v3"

	"go.opentelemetry.io/clr-profiler/internal/controller"
	"go.opentelemetry.io/clr-profiler/manipulator"
	"go.opentelemetry.io/clr-profiler/sigparser"
)

const (
	// Default values for CLI flags
	defaultArgAPIStrategy        = "agent-cache"
	defaultArgParameterCacheSize = sigparser.DefaultParameterCacheSize
)

// Help strings for command line arguments
var (
	agentHomeHelp = fmt.Sprintf("Directory of the agent installation. "+
		"Defaults to %s, then %s.", controller.InstallPathEnv, controller.HomeEnv)
	instrumentationFilesHelp = "Comma separated list of instrumentation files loaded " +
		"after the extensions of the agent home."
	configHelp      = "Configuration file with one \"flag value\" pair per line."
	ignoreListHelp  = "XML file of assemblies and classes that are never instrumented."
	apiStrategyHelp = fmt.Sprintf("How rewritten agent API methods reach the agent (%s or %s).",
		manipulator.StrategyInAgentCache, manipulator.StrategyReflection)
	parameterCacheSizeHelp = "Number of rendered parameter lists kept in memory."
	matchHelp              = "Print the instrumentation point of a method " +
		"given as [assembly]Class.Method(parameters) and exit."
	assemblyVersionHelp = "Assembly version used with -match."
	verboseModeHelp     = "Enable verbose logging and debugging capabilities."
	versionHelp         = "Show version."
)

func parseArgs(argv []string) (*controller.Config, error) {
	var args controller.Config

	fs := flag.NewFlagSet("clr-profiler", flag.ExitOnError)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.StringVar(&args.AgentHome, "agent-home", "", agentHomeHelp)
	fs.StringVar(&args.APIStrategy, "api-strategy", defaultArgAPIStrategy, apiStrategyHelp)
	fs.StringVar(&args.AssemblyVersion, "assembly-version", "", assemblyVersionHelp)

	fs.String("config", "", configHelp)

	fs.StringVar(&args.IgnoreListFile, "ignore-list", "", ignoreListHelp)
	fs.StringVar(&args.InstrumentationFiles, "instrumentation-files", "",
		instrumentationFilesHelp)

	fs.StringVar(&args.Match, "match", "", matchHelp)

	fs.UintVar(&args.ParameterCacheSize, "parameter-cache-size",
		defaultArgParameterCacheSize, parameterCacheSizeHelp)

	fs.BoolVar(&args.VerboseMode, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&args.VerboseMode, "verbose", false, verboseModeHelp)
	fs.BoolVar(&args.Version, "version", false, versionHelp)

	fs.Usage = func() {
		fs.PrintDefaults()
	}

	args.Fs = fs

	return &args, ff.Parse(fs, argv,
		ff.WithEnvVarPrefix("CLR_PROFILER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		// This will ignore configuration file (only) options that the current
		// profiler does not recognize.
		ff.WithIgnoreUndefined(true),
		ff.WithAllowMissingConfigFile(true),
	)
}
