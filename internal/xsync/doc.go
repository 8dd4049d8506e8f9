// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package xsync wraps locking primitives so the data a lock protects can only
// be reached while holding it.
package xsync // import "go.opentelemetry.io/clr-profiler/internal/xsync"
