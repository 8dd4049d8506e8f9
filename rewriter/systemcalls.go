// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package rewriter // import "go.opentelemetry.io/clr-profiler/rewriter"

import (
	"os"

	"go.opentelemetry.io/clr-profiler/instrumentation"
)

// SystemCalls gives access to the process environment and file system.
type SystemCalls interface {
	instrumentation.Environment
	FileExists(path string) bool
}

// OSSystemCalls implements SystemCalls for the current process.
type OSSystemCalls struct{}

var _ SystemCalls = OSSystemCalls{}

// TryGetEnvironmentVariable implements instrumentation.Environment.
func (OSSystemCalls) TryGetEnvironmentVariable(name string) (string, bool) {
	return os.LookupEnv(name)
}

// FileExists implements SystemCalls.
func (OSSystemCalls) FileExists(path string) bool {
	return fileExists(path)
}
