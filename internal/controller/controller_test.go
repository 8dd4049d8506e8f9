// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/clr-profiler/instrumentation"
	"go.opentelemetry.io/clr-profiler/manipulator"
)

const extension = `<?xml version="1.0" encoding="utf-8"?>
<extension xmlns="urn:newrelic-extension">
  <instrumentation>
    <tracerFactory name="MyTracer">
      <match assemblyName="MyApp" className="MyApp.Widget">
        <exactMethodMatcher methodName="Compute"/>
      </match>
    </tracerFactory>
  </instrumentation>
</extension>`

type fakeSystem struct {
	env   map[string]string
	files map[string]bool
}

func (f *fakeSystem) TryGetEnvironmentVariable(name string) (string, bool) {
	v, ok := f.env[name]
	return v, ok
}

func (f *fakeSystem) FileExists(path string) bool {
	return f.files[path]
}

// agentHome creates an agent home with one extension file.
func agentHome(t *testing.T) (string, *fakeSystem) {
	t.Helper()
	home := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(home, extensionsDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, extensionsDir, "widget.xml"),
		[]byte(extension), 0o644))
	return home, &fakeSystem{
		env:   map[string]string{InstallPathEnv: home},
		files: map[string]bool{filepath.Join(home, AgentCoreAssembly): true},
	}
}

func testConfig() *Config {
	return &Config{APIStrategy: "agent-cache", ParameterCacheSize: 16}
}

func widget(method string) *instrumentation.Candidate {
	return &instrumentation.Candidate{
		AssemblyName: "MyApp",
		ClassName:    "MyApp.Widget",
		MethodName:   method,
	}
}

func TestControllerStart(t *testing.T) {
	home, sys := agentHome(t)
	ctlr := New(testConfig(), sys)
	require.NoError(t, ctlr.Start(context.Background()))
	defer ctlr.Shutdown()

	assert.Equal(t, home, ctlr.Home())
	require.NotNil(t, ctlr.Rewriter())
	p := ctlr.Rewriter().Set().Match(widget("Compute"))
	require.NotNil(t, p)
	assert.Equal(t, "MyTracer", p.TracerFactoryName)

	cache := ctlr.agentCache.Load()
	require.NotNil(t, cache)
	assert.Equal(t, filepath.Join(home, AgentCoreAssembly), cache.AssemblyPath)
	assert.Equal(t, manipulator.AgentAPITypeName, cache.TypeName)
}

func TestControllerReflection(t *testing.T) {
	_, sys := agentHome(t)
	cfg := testConfig()
	cfg.APIStrategy = "reflection"
	ctlr := New(cfg, sys)
	require.NoError(t, ctlr.Start(context.Background()))
	assert.Nil(t, ctlr.agentCache.Load())
}

func TestControllerAgentHome(t *testing.T) {
	tests := map[string]struct {
		configured string
		env        map[string]string
		want       string
	}{
		"configured": {
			configured: "/configured",
			env:        map[string]string{InstallPathEnv: "/install", HomeEnv: "/home"},
			want:       "/configured",
		},
		"install path": {
			env:  map[string]string{InstallPathEnv: "/install", HomeEnv: "/home"},
			want: "/install",
		},
		"empty install path": {
			env:  map[string]string{InstallPathEnv: "", HomeEnv: "/home"},
			want: "/home",
		},
		"home": {
			env:  map[string]string{HomeEnv: "/home"},
			want: "/home",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			cfg.AgentHome = tc.configured
			ctlr := New(cfg, &fakeSystem{env: tc.env})
			home, err := ctlr.agentHome()
			require.NoError(t, err)
			assert.Equal(t, tc.want, home)
		})
	}
}

func TestControllerNoAgent(t *testing.T) {
	tests := map[string]struct {
		sys     *fakeSystem
		wantErr error
	}{
		"no home": {
			sys:     &fakeSystem{},
			wantErr: ErrNoAgentHome,
		},
		"no core": {
			sys:     &fakeSystem{env: map[string]string{HomeEnv: "/opt/newrelic"}},
			wantErr: ErrNoAgentCore,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			ctlr := New(testConfig(), tc.sys)
			err := ctlr.Start(context.Background())
			require.ErrorIs(t, err, tc.wantErr)

			var exitErr ErrorWithExitCode
			require.True(t, errors.As(err, &exitErr))
			assert.Equal(t, ExitNoAgent, exitErr.Code())
			assert.Nil(t, ctlr.Rewriter())
		})
	}
}

func TestControllerInvalidStrategy(t *testing.T) {
	_, sys := agentHome(t)
	cfg := testConfig()
	cfg.APIStrategy = "bogus"
	require.Error(t, New(cfg, sys).Start(context.Background()))
}

func TestControllerExtraFiles(t *testing.T) {
	home, sys := agentHome(t)
	dir := t.TempDir()
	other := filepath.Join(dir, "other.xml")
	broken := filepath.Join(dir, "broken.xml")
	require.NoError(t, os.WriteFile(other, []byte(extension), 0o644))
	require.NoError(t, os.WriteFile(broken, []byte("<extension>"), 0o644))

	cfg := testConfig()
	cfg.InstrumentationFiles = other + ", " + broken + ","
	ctlr := New(cfg, sys)
	require.NoError(t, ctlr.Start(context.Background()))
	assert.Equal(t, home, ctlr.Home())
	assert.Equal(t, 2, ctlr.load.LoadedFiles)
	assert.Equal(t, 1, ctlr.load.InvalidFiles)
}

func TestControllerIgnoreList(t *testing.T) {
	_, sys := agentHome(t)
	ignore := filepath.Join(t.TempDir(), "ignore.xml")
	require.NoError(t, os.WriteFile(ignore,
		[]byte(`<ignoreList><ignore assemblyName="MyApp"/></ignoreList>`), 0o644))

	cfg := testConfig()
	cfg.IgnoreListFile = ignore
	ctlr := New(cfg, sys)
	require.NoError(t, ctlr.Start(context.Background()))
	assert.True(t, ctlr.Rewriter().Set().IsIgnored("MyApp", "MyApp.Widget"))
	assert.False(t, ctlr.Rewriter().Set().IsIgnored("Other", "MyApp.Widget"))

	// A missing list does not fail the start.
	cfg.IgnoreListFile = filepath.Join(t.TempDir(), "missing.xml")
	require.NoError(t, New(cfg, sys).Start(context.Background()))
}

func TestControllerServerless(t *testing.T) {
	_, sys := agentHome(t)
	sys.env[instrumentation.HandlerEnv] = "MyLambda::MyLambda.Function::Handle"
	ctlr := New(testConfig(), sys)
	require.NoError(t, ctlr.Start(context.Background()))

	p := ctlr.Rewriter().Set().Match(&instrumentation.Candidate{
		AssemblyName: "MyLambda",
		ClassName:    "MyLambda.Function",
		MethodName:   "Handle",
	})
	require.NotNil(t, p)
	assert.Equal(t, instrumentation.ServerlessTracerFactory, p.TracerFactoryName)
}
