// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"go.opentelemetry.io/clr-profiler/instrumentation"
	"go.opentelemetry.io/clr-profiler/internal/controller"
	"go.opentelemetry.io/clr-profiler/rewriter"
	"go.opentelemetry.io/clr-profiler/vc"
)

type exitCode int

const (
	exitSuccess exitCode = 0
	exitFailure exitCode = 1

	// Go 'flag' package calls os.Exit(2) on flag parse errors, if ExitOnError is set
	exitParseError exitCode = 2
)

func main() {
	os.Exit(int(mainWithExitCode()))
}

func mainWithExitCode() exitCode {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		return parseError("Failure to parse arguments: %v", err)
	}

	if cfg.Version {
		fmt.Printf("%s\n", vc.Version())
		return exitSuccess
	}

	if cfg.VerboseMode {
		log.SetLevel(log.DebugLevel)
		// Dump the arguments in debug mode.
		cfg.Dump()
	}

	if err = cfg.Validate(); err != nil {
		return parseError("Invalid configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		unix.SIGINT, unix.SIGTERM, unix.SIGABRT)
	defer cancel()

	log.Infof("Starting CLR profiler %s", vc.Info())

	ctlr := controller.New(cfg, rewriter.OSSystemCalls{})
	if err = ctlr.Start(ctx); err != nil {
		var exitErr controller.ErrorWithExitCode
		if errors.As(err, &exitErr) {
			log.Errorf("Failed to start: %v", err)
			return exitCode(exitErr.Code())
		}
		return failure("Failed to start: %v", err)
	}
	defer ctlr.Shutdown()

	if cfg.Match == "" {
		log.Infof("Agent home %s ready", ctlr.Home())
		return exitSuccess
	}
	return match(ctlr.Rewriter().Set(), cfg)
}

// match prints the point instrumenting the configured method.
func match(set *instrumentation.Set, cfg *controller.Config) exitCode {
	candidate, err := controller.ParseMethod(cfg.Match)
	if err != nil {
		return parseError("Invalid method: %v", err)
	}
	if cfg.AssemblyVersion != "" {
		if candidate.Version, err = instrumentation.NewAssemblyVersion(cfg.AssemblyVersion); err != nil {
			return parseError("Invalid assembly version: %v", err)
		}
	}

	p := set.Match(candidate)
	if p == nil {
		fmt.Printf("%s: not instrumented\n", cfg.Match)
		return exitSuccess
	}
	fmt.Printf("%s: %s\n", cfg.Match, p)
	return exitSuccess
}

func parseError(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitParseError
}

func failure(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitFailure
}
