// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package rewriter decides which methods are rewritten and by which
// manipulator, and keeps track of the methods it rewrote.
package rewriter // import "go.opentelemetry.io/clr-profiler/rewriter"

import (
	"errors"
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/clr-profiler/cil"
	"go.opentelemetry.io/clr-profiler/instrumentation"
	"go.opentelemetry.io/clr-profiler/internal/xsync"
	"go.opentelemetry.io/clr-profiler/manipulator"
	"go.opentelemetry.io/clr-profiler/sigparser"
)

// Config configures a Rewriter.
type Config struct {
	// Set holds the instrumentation points.
	Set *instrumentation.Set
	// Manipulators configures the manipulators.
	Manipulators manipulator.Options
	// ParameterCacheSize is the number of rendered parameter strings to keep.
	ParameterCacheSize uint32
}

// Rewriter produces replacement bodies for JIT compilation events. Instrument
// may be called concurrently for different methods.
type Rewriter struct {
	set          *instrumentation.Set
	manipulators []manipulator.Manipulator
	counters     map[string]*counters
	params       *sigparser.ParameterCache

	// instrumented maps function IDs to the manipulator that rewrote them.
	instrumented xsync.RWMutex[map[uint64]string]

	skipped atomic.Uint64
	invalid atomic.Uint64
}

// New creates a Rewriter. Manipulators are tried in the order helper, API,
// default.
func New(cfg *Config) (*Rewriter, error) {
	if cfg.Set == nil {
		return nil, errors.New("no instrumentation set")
	}
	size := cfg.ParameterCacheSize
	if size == 0 {
		size = sigparser.DefaultParameterCacheSize
	}
	params, err := sigparser.NewParameterCache(size)
	if err != nil {
		return nil, err
	}

	r := &Rewriter{
		set: cfg.Set,
		manipulators: []manipulator.Manipulator{
			manipulator.NewHelper(cfg.Manipulators),
			manipulator.NewAPI(cfg.Manipulators),
			manipulator.NewDefault(cfg.Manipulators),
		},
		counters:     make(map[string]*counters),
		params:       params,
		instrumented: xsync.NewRWMutex(make(map[uint64]string)),
	}
	for _, m := range r.manipulators {
		r.counters[m.Name()] = &counters{}
	}
	return r, nil
}

// Set returns the instrumentation set. Points added to it apply to later
// compilation events.
func (r *Rewriter) Set() *instrumentation.Set {
	return r.set
}

func (r *Rewriter) skip(fn Function, reason string) {
	r.skipped.Add(1)
	log.Debugf("Skipping %s.%s: %s", fn.GetTypeName(), fn.GetFunctionName(), reason)
}

// Instrument returns the replacement body of fn, or nil when the method is not
// rewritten. An error means the method could not be rewritten and keeps its
// original body.
func (r *Rewriter) Instrument(fn Function) ([]byte, error) {
	if !fn.IsValid() {
		r.skipped.Add(1)
		log.Debugf("Skipping invalid function")
		return nil, nil
	}
	if by, ok := r.Instrumented(fn.GetFunctionID()); ok {
		r.skip(fn, "already instrumented by the "+by+" manipulator")
		return nil, nil
	}
	if !fn.ShouldInjectMethodInstrumentation() {
		r.skip(fn, "instrumentation disabled")
		return nil, nil
	}
	if reason := skipReason(fn); reason != "" {
		r.skip(fn, reason)
		return nil, nil
	}

	target, err := r.target(fn)
	if err != nil {
		r.invalid.Add(1)
		log.Warnf("Not instrumenting %s.%s: %v", fn.GetTypeName(), fn.GetFunctionName(), err)
		return nil, err
	}

	for _, m := range r.manipulators {
		if !m.Applies(target) {
			continue
		}
		return r.instrument(m, target)
	}
	r.skip(fn, "no instrumentation point")
	return nil, nil
}

// target collects what the manipulators need to know about fn.
func (r *Rewriter) target(fn Function) (*manipulator.Target, error) {
	sig, err := sigparser.ParseMethodSignature(fn.GetSignature())
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}
	params, err := r.params.ParameterString(fn.GetModuleName(), fn.GetSignature(),
		fn.GetTokenResolver())
	if err != nil {
		return nil, fmt.Errorf("failed to render parameters: %w", err)
	}

	t := &manipulator.Target{Function: fn, Signature: sig, Parameters: params}
	if fn.ShouldTrace() {
		t.Point = r.set.Match(&instrumentation.Candidate{
			AssemblyName: fn.GetAssemblyName(),
			ClassName:    fn.GetTypeName(),
			MethodName:   fn.GetFunctionName(),
			Parameters:   params,
			Version:      fn.GetAssemblyProps(),
		})
		if t.Point != nil {
			log.Debugf("%s.%s(%s) matches %v", fn.GetTypeName(), fn.GetFunctionName(),
				params, t.Point)
		}
	}
	return t, nil
}

func (r *Rewriter) instrument(m manipulator.Manipulator, t *manipulator.Target) ([]byte, error) {
	o := outcome{c: r.counters[m.Name()]}
	defer o.defaultToFailure()

	fn := t.Function
	body, err := m.Instrument(t)
	if err != nil {
		switch {
		case errors.Is(err, cil.ErrUnresolvedLabel), errors.Is(err, manipulator.ErrUnknownHelper):
			log.Errorf("Internal error rewriting %s.%s with the %s manipulator: %v",
				fn.GetTypeName(), fn.GetFunctionName(), m.Name(), err)
		default:
			log.Warnf("Failed to rewrite %s.%s with the %s manipulator: %v",
				fn.GetTypeName(), fn.GetFunctionName(), m.Name(), err)
		}
		o.failure()
		return nil, fmt.Errorf("%s manipulator: %w", m.Name(), err)
	}

	record := r.instrumented.WLock()
	(*record)[fn.GetFunctionID()] = m.Name()
	r.instrumented.WUnlock(&record)

	o.success()
	log.Debugf("Instrumented %s.%s with the %s manipulator (%d bytes)",
		fn.GetTypeName(), fn.GetFunctionName(), m.Name(), len(body))
	return body, nil
}

// Instrumented reports whether the function was rewritten and by which
// manipulator.
func (r *Rewriter) Instrumented(functionID uint64) (string, bool) {
	record := r.instrumented.RLock()
	defer r.instrumented.RUnlock(&record)
	by, ok := (*record)[functionID]
	return by, ok
}

// Forget clears the record of a rewrite, after the host reverted the method.
func (r *Rewriter) Forget(functionID uint64) {
	record := r.instrumented.WLock()
	defer r.instrumented.WUnlock(&record)
	delete(*record, functionID)
}

// Stats returns a snapshot of the statistics.
func (r *Rewriter) Stats() Stats {
	s := Stats{
		Skipped:      r.skipped.Load(),
		Invalid:      r.invalid.Load(),
		Manipulators: make(map[string]Counters, len(r.counters)),
	}
	for name, c := range r.counters {
		s.Manipulators[name] = Counters{
			Instrumented: c.instrumented.Load(),
			Failed:       c.failed.Load(),
		}
	}
	return s
}
