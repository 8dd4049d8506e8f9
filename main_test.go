// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgsDefaults(t *testing.T) {
	cfg, err := parseArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, "agent-cache", cfg.APIStrategy)
	assert.Equal(t, uint(4096), cfg.ParameterCacheSize)
	assert.Empty(t, cfg.AgentHome)
	assert.False(t, cfg.VerboseMode)
	assert.NoError(t, cfg.Validate())
}

func TestParseArgsSources(t *testing.T) {
	config := filepath.Join(t.TempDir(), "profiler.conf")
	require.NoError(t, os.WriteFile(config, []byte(
		"agent-home /from/config\n"+
			"ignore-list /etc/ignore.xml\n"+
			"unknown-flag 1\n"), 0o644))
	t.Setenv("CLR_PROFILER_API_STRATEGY", "reflection")
	t.Setenv("CLR_PROFILER_AGENT_HOME", "/from/env")

	cfg, err := parseArgs([]string{
		"-config", config,
		"-agent-home", "/from/flag",
		"-v",
		"-match", "[MyApp]MyApp.Widget.Compute",
	})
	require.NoError(t, err)
	// Flags win over the environment, which wins over the config file.
	assert.Equal(t, "/from/flag", cfg.AgentHome)
	assert.Equal(t, "reflection", cfg.APIStrategy)
	assert.Equal(t, "/etc/ignore.xml", cfg.IgnoreListFile)
	assert.True(t, cfg.VerboseMode)
	assert.Equal(t, "[MyApp]MyApp.Widget.Compute", cfg.Match)
}
