// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package rewriter // import "go.opentelemetry.io/clr-profiler/rewriter"

import "os"

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
