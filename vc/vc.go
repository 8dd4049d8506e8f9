// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package vc provides buildtime information.
package vc // import "go.opentelemetry.io/clr-profiler/vc"

import (
	"fmt"
	"runtime/debug"
)

var (
	// The following variables are going to be set at link time using ldflags
	// and can be referenced later in the program.
	revision       = ""
	buildTimestamp = ""
	// version in vX.Y.Z{-N-abbrev} format (via git-describe --tags)
	version = ""
)

// Build describes the running binary.
type Build struct {
	Version        string
	Revision       string
	BuildTimestamp string
}

func (b Build) String() string {
	return fmt.Sprintf("%s (revision %s, build timestamp %s)",
		b.Version, b.Revision, b.BuildTimestamp)
}

// Info returns the link time values. Values not set at link time are taken
// from the Go module build information when available.
func Info() Build {
	b := Build{Version: version, Revision: revision, BuildTimestamp: buildTimestamp}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	if b.Version == "" {
		b.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && b.Revision == "":
			b.Revision = s.Value
		case s.Key == "vcs.time" && b.BuildTimestamp == "":
			b.BuildTimestamp = s.Value
		}
	}
	return b
}

// Version in vX.Y.Z{-N-abbrev} format.
func Version() string {
	return Info().Version
}
