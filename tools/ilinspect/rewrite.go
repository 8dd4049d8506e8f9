// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/clr-profiler/instrumentation"
	"go.opentelemetry.io/clr-profiler/manipulator"
	"go.opentelemetry.io/clr-profiler/methodbody"
	"go.opentelemetry.io/clr-profiler/rewriter"
	"go.opentelemetry.io/clr-profiler/rewriter/offline"
)

type rewriteCmd struct {
	// User-specified command line arguments.
	instrumentation string
	agentCore       string
	strategy        string
	output          string
	disassemble     bool
}

func newRewriteCmd() *ffcli.Command {
	cmd := rewriteCmd{}
	set := flag.NewFlagSet("rewrite", flag.ExitOnError)
	set.StringVar(&cmd.instrumentation, "instrumentation", "",
		"Comma separated list of instrumentation files")
	set.StringVar(&cmd.agentCore, "agent-core", "/opt/newrelic/NewRelic.Agent.Core.dll",
		"Agent core path embedded in the rewritten bodies")
	set.StringVar(&cmd.strategy, "api-strategy", manipulator.StrategyReflection.String(),
		"How rewritten agent API methods reach the agent")
	set.StringVar(&cmd.output, "o", "", "Write the rewritten dump to this file")
	set.BoolVar(&cmd.disassemble, "d", false, "Print the rewritten bodies")
	return &ffcli.Command{
		Name:       "rewrite",
		ShortUsage: "rewrite [flags] <dump>",
		ShortHelp:  "Instrument the methods of a method dump",
		FlagSet:    set,
		Exec:       cmd.exec,
	}
}

func (cmd *rewriteCmd) exec(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("expected a method dump")
	}
	strategy, err := manipulator.ParseStrategy(cmd.strategy)
	if err != nil {
		return err
	}
	d, err := offline.Load(args[0])
	if err != nil {
		return fmt.Errorf("failed to load dump: %w", err)
	}

	var files []string
	for _, f := range strings.Split(cmd.instrumentation, ",") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	loaded, err := instrumentation.LoadFiles(ctx, files)
	if loaded == nil {
		return err
	}
	if err != nil {
		log.Warnf("%v", err)
	}
	set := instrumentation.NewSet()
	set.Add(loaded.Points...)

	var cache manipulator.AgentCacheState
	if strategy == manipulator.StrategyInAgentCache {
		if _, err = cache.Init(cmd.agentCore, manipulator.AgentAPITypeName); err != nil {
			return err
		}
	}
	rw, err := rewriter.New(&rewriter.Config{
		Set: set,
		Manipulators: manipulator.Options{
			AgentCorePath: cmd.agentCore,
			APIStrategy:   strategy,
			AgentCache:    &cache,
		},
	})
	if err != nil {
		return err
	}

	for _, m := range d.Methods() {
		if err := cmd.rewrite(rw, m); err != nil {
			log.Errorf("%s::%s: %v", m.TypeName, m.FunctionName, err)
		}
	}
	stats := rw.Stats()
	log.Infof("%d instrumented, %d failed, %d skipped, %d invalid",
		stats.Instrumented(), stats.Failed(), stats.Skipped, stats.Invalid)

	if cmd.output == "" {
		return nil
	}
	return d.Save(cmd.output)
}

func (cmd *rewriteCmd) rewrite(rw *rewriter.Rewriter, m *offline.Method) error {
	raw, err := rw.Instrument(m)
	if err != nil || raw == nil {
		return err
	}
	body, err := methodbody.Parse(raw)
	if err != nil {
		return err
	}
	m.SetBody(raw)
	if err := m.SetLocalsFromToken(body.Header.LocalVarSigToken); err != nil {
		return err
	}

	by, _ := rw.Instrumented(m.FunctionID)
	fmt.Printf("%s::%s: %s\n", m.TypeName, m.FunctionName, by)
	if cmd.disassemble {
		return printBody(os.Stdout, raw, m.Module().Metadata.Describe)
	}
	return nil
}
