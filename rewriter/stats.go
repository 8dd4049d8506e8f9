// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package rewriter // import "go.opentelemetry.io/clr-profiler/rewriter"

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// counters are the outcome counters of one manipulator.
type counters struct {
	instrumented atomic.Uint64
	failed       atomic.Uint64
}

// outcome records the result of one rewrite in counters exactly once.
type outcome struct {
	c      *counters
	sealed bool
}

func (o *outcome) success() {
	if o.sealed {
		log.Errorf("Attempted to report rewrite outcome more than once")
		return
	}
	o.c.instrumented.Add(1)
	o.sealed = true
}

func (o *outcome) failure() {
	if o.sealed {
		log.Errorf("Attempted to report rewrite outcome more than once")
		return
	}
	o.c.failed.Add(1)
	o.sealed = true
}

// defaultToFailure counts a failure unless an outcome was reported.
func (o *outcome) defaultToFailure() {
	if !o.sealed {
		o.c.failed.Add(1)
	}
}

// Counters are the outcome counts of one manipulator.
type Counters struct {
	Instrumented uint64
	Failed       uint64
}

// Stats is a snapshot of the rewriter statistics.
type Stats struct {
	// Skipped counts methods that were not rewritten, including invalid and
	// already instrumented ones.
	Skipped uint64
	// Invalid counts methods whose signature could not be processed.
	Invalid uint64
	// Manipulators holds the counts per manipulator name.
	Manipulators map[string]Counters
}

// Instrumented returns the total number of rewritten methods.
func (s Stats) Instrumented() uint64 {
	var n uint64
	for _, c := range s.Manipulators {
		n += c.Instrumented
	}
	return n
}

// Failed returns the total number of failed rewrites.
func (s Stats) Failed() uint64 {
	n := s.Invalid
	for _, c := range s.Manipulators {
		n += c.Failed
	}
	return n
}
