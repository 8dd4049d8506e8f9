// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// ilinspect decodes method bodies and signatures and rewrites method dumps
// offline, the way the profiler rewrites methods at JIT time.

package main

import (
	"context"
	"errors"
	"flag"
	"os"

	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"
)

func main() {
	log.SetReportCaller(false)
	log.SetFormatter(&log.TextFormatter{})

	root := ffcli.Command{
		Name:       "ilinspect",
		ShortUsage: "ilinspect <subcommand> [flags]",
		ShortHelp:  "Tool for inspecting and rewriting CIL method bodies",
		Subcommands: []*ffcli.Command{
			newBodyCmd(),
			newSignatureCmd(),
			newSplitCmd(),
			newRewriteCmd(),
		},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}

	if err := root.ParseAndRun(context.Background(), os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			log.Fatalf("%v", err)
		}
	}
}
