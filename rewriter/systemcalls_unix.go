// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package rewriter // import "go.opentelemetry.io/clr-profiler/rewriter"

import "golang.org/x/sys/unix"

func fileExists(path string) bool {
	return unix.Access(path, unix.F_OK) == nil
}
