// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package controller sets up the rewriter from the agent installation and the
// profiler configuration.
package controller // import "go.opentelemetry.io/clr-profiler/internal/controller"

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/clr-profiler/instrumentation"
	"go.opentelemetry.io/clr-profiler/manipulator"
	"go.opentelemetry.io/clr-profiler/rewriter"
)

const (
	// Environment variables naming the agent home, in lookup order.
	InstallPathEnv = "NEWRELIC_INSTALL_PATH"
	HomeEnv        = "NEWRELIC_HOME"

	// AgentCoreAssembly is the file name of the managed agent.
	AgentCoreAssembly = "NewRelic.Agent.Core.dll"
	extensionsDir     = "extensions"
)

var (
	// ErrNoAgentHome is returned when none of the home variables is set.
	ErrNoAgentHome = errors.New("agent home not configured")
	// ErrNoAgentCore is returned when the agent home lacks the agent core.
	ErrNoAgentCore = errors.New("agent core not found")
)

// Controller owns the rewriter of the process.
type Controller struct {
	config     *Config
	sys        rewriter.SystemCalls
	agentCache manipulator.AgentCacheState

	home     string
	load     *instrumentation.LoadResult
	rewriter *rewriter.Rewriter
}

// New creates a controller. There should only be one per process.
func New(cfg *Config, sys rewriter.SystemCalls) *Controller {
	return &Controller{config: cfg, sys: sys}
}

// Start loads the configuration and creates the rewriter. It must complete
// before the first compilation event is handled.
func (c *Controller) Start(ctx context.Context) error {
	strategy, err := manipulator.ParseStrategy(c.config.APIStrategy)
	if err != nil {
		return err
	}
	if c.home, err = c.agentHome(); err != nil {
		return withExitCode(err, ExitNoAgent)
	}
	agentCore := filepath.Join(c.home, AgentCoreAssembly)
	if !c.sys.FileExists(agentCore) {
		return withExitCode(fmt.Errorf("%w: %s", ErrNoAgentCore, agentCore), ExitNoAgent)
	}
	log.Infof("Using agent core %s", agentCore)

	set, err := c.loadSet(ctx)
	if err != nil {
		return err
	}

	if strategy == manipulator.StrategyInAgentCache {
		if _, err := c.agentCache.Init(agentCore, manipulator.AgentAPITypeName); err != nil {
			return err
		}
	}

	c.rewriter, err = rewriter.New(&rewriter.Config{
		Set: set,
		Manipulators: manipulator.Options{
			AgentCorePath: agentCore,
			APIStrategy:   strategy,
			AgentCache:    &c.agentCache,
		},
		ParameterCacheSize: uint32(c.config.ParameterCacheSize),
	})
	if err != nil {
		return fmt.Errorf("failed to create rewriter: %w", err)
	}
	log.Infof("Loaded %d instrumentation points from %d files (%d invalid, %d deprecated)",
		set.Len(), c.load.LoadedFiles, c.load.InvalidFiles, c.load.DeprecatedFiles)
	return nil
}

// agentHome returns the configured home, or the first home variable set.
func (c *Controller) agentHome() (string, error) {
	if c.config.AgentHome != "" {
		return c.config.AgentHome, nil
	}
	for _, name := range []string{InstallPathEnv, HomeEnv} {
		if home, ok := c.sys.TryGetEnvironmentVariable(name); ok && home != "" {
			log.Debugf("Agent home %s from %s", home, name)
			return home, nil
		}
	}
	return "", fmt.Errorf("%w: set %s or %s", ErrNoAgentHome, InstallPathEnv, HomeEnv)
}

// loadSet builds the instrumentation set. Invalid files are skipped.
func (c *Controller) loadSet(ctx context.Context) (*instrumentation.Set, error) {
	paths, err := filepath.Glob(filepath.Join(c.home, extensionsDir, "*.xml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list extensions: %w", err)
	}
	paths = append(paths, c.config.Files()...)

	c.load, err = instrumentation.LoadFiles(ctx, paths)
	if c.load == nil {
		return nil, fmt.Errorf("failed to load instrumentation: %w", err)
	}
	set := instrumentation.NewSet()
	set.Add(c.load.Points...)

	if c.config.IgnoreListFile != "" {
		rules, err := loadIgnoreList(c.config.IgnoreListFile)
		if err != nil {
			log.Warnf("Ignoring ignore list: %v", err)
		} else {
			set.AddIgnoreRules(rules...)
		}
	}

	if p := instrumentation.ServerlessPointFromEnvironment(c.sys); p != nil {
		set.Add(p)
	}
	return set, nil
}

func loadIgnoreList(path string) ([]instrumentation.IgnoreRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rules, err := instrumentation.ParseIgnoreList(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return rules, nil
}

// Home returns the agent home in use.
func (c *Controller) Home() string {
	return c.home
}

// Rewriter returns the rewriter, nil before a successful Start.
func (c *Controller) Rewriter() *rewriter.Rewriter {
	return c.rewriter
}

// Shutdown logs the rewrite statistics.
func (c *Controller) Shutdown() {
	if c.rewriter == nil {
		return
	}
	stats := c.rewriter.Stats()
	for name, counters := range stats.Manipulators {
		log.Infof("%s manipulator: %d instrumented, %d failed", name,
			counters.Instrumented, counters.Failed)
	}
	log.Infof("Methods skipped: %d, invalid: %d", stats.Skipped, stats.Invalid)
}
