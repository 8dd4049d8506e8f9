// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package manipulator builds replacement method bodies. Each manipulator emits
// a complete body for one kind of method: instrumented user methods, the
// agent API stubs and the support methods injected into the core library.
package manipulator // import "go.opentelemetry.io/clr-profiler/manipulator"

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/clr-profiler/cil"
	"go.opentelemetry.io/clr-profiler/instrumentation"
	"go.opentelemetry.io/clr-profiler/methodbody"
	"go.opentelemetry.io/clr-profiler/sigparser"
)

var (
	// ErrUnknownHelper is returned for methods of the helper type that have no
	// body definition.
	ErrUnknownHelper = errors.New("unknown helper method")
	// ErrAgentCacheUninitialized is returned when the agent cache strategy is
	// used before the agent cache state was initialized.
	ErrAgentCacheUninitialized = errors.New("agent cache not initialized")
	// ErrUnsupportedReturnType is returned for API stubs returning byrefs,
	// pointers or typed references.
	ErrUnsupportedReturnType = errors.New("unsupported API return type")
)

// Function gives access to the method being rewritten.
type Function interface {
	GetFunctionID() uint64
	GetAssemblyName() string
	GetTypeName() string
	GetFunctionName() string
	// GetTypeToken returns the TypeDef token of the declaring type.
	GetTypeToken() uint32
	// GetMethodBody returns the original body including its header.
	GetMethodBody() []byte
	// GetLocalsSignature returns the LocalVarSig of the original body, empty
	// when it has no locals.
	GetLocalsSignature() ([]byte, error)
	GetTokenizer() cil.Tokenizer
}

// Target is a method selected for rewriting.
type Target struct {
	Function  Function
	Signature *sigparser.MethodSignature
	// Parameters is the canonical parameter string of the signature.
	Parameters string
	// Point is the matching instrumentation point or nil.
	Point *instrumentation.Point
}

// IsConstructor reports whether the target is an instance constructor.
func (t *Target) IsConstructor() bool {
	return t.Function.GetFunctionName() == ".ctor"
}

// HasThis reports whether argument 0 is the implicit this.
func (t *Target) HasThis() bool {
	cc := t.Signature.CallingConvention
	return cc.HasThis() && !cc.ExplicitThis()
}

// Manipulator rewrites one kind of method.
type Manipulator interface {
	Name() string
	// Applies reports whether the manipulator is responsible for the target.
	Applies(t *Target) bool
	// Instrument returns the serialized replacement body.
	Instrument(t *Target) ([]byte, error)
}

// Options configure the manipulators.
type Options struct {
	// AgentCorePath is the file path of the managed agent core assembly.
	AgentCorePath string
	// APIStrategy selects how API stubs reach the agent.
	APIStrategy Strategy
	// AgentCache is the process-wide state of the agent cache strategy.
	AgentCache *AgentCacheState
}

// original is the parsed body of the method being replaced.
type original struct {
	body   *methodbody.Body
	locals *cil.Locals
}

func loadOriginal(fn Function) (*original, error) {
	body, err := methodbody.Parse(fn.GetMethodBody())
	if err != nil {
		return nil, fmt.Errorf("failed to parse original body: %w", err)
	}
	sig, err := fn.GetLocalsSignature()
	if err != nil {
		return nil, fmt.Errorf("failed to get original locals: %w", err)
	}
	locals, err := cil.NewLocals(sig)
	if err != nil {
		return nil, err
	}
	if n := len(body.Clauses); n != 0 {
		log.Debugf("Carrying over %d exception clauses of %s.%s", n,
			fn.GetTypeName(), fn.GetFunctionName())
	}
	return &original{body: body, locals: locals}, nil
}

// addLocal declares a local of a textual type and returns its index.
func addLocal(tokenizer cil.Tokenizer, locals *cil.Locals, typeSig string) (uint16, error) {
	blob, err := cil.ResolveTypeSig(tokenizer, typeSig)
	if err != nil {
		return 0, fmt.Errorf("failed to encode local %s: %w", typeSig, err)
	}
	return locals.AddLocal(blob)
}

// finish serializes the new body. The original max stack is kept when it is
// larger than the tracked depth since copied original code is not tracked.
func finish(tokenizer cil.Tokenizer, s *cil.InstructionSet, locals *cil.Locals,
	originalMaxStack uint16) ([]byte, error) {
	out, err := s.Finalize()
	if err != nil {
		return nil, err
	}
	var localsToken uint32
	if locals.Len() > 0 {
		sig, err := locals.Bytes()
		if err != nil {
			return nil, err
		}
		if localsToken, err = tokenizer.GetTokenFromSignature(sig); err != nil {
			return nil, fmt.Errorf("failed to get locals signature token: %w", err)
		}
	}
	maxStack := max(out.MaxStack, originalMaxStack)
	if originalMaxStack > out.MaxStack {
		log.Debugf("Keeping original max stack %d over tracked %d", originalMaxStack, out.MaxStack)
	}
	return methodbody.New(out.Code, out.Clauses, maxStack, localsToken, true).Bytes(), nil
}
