// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package manipulator // import "go.opentelemetry.io/clr-profiler/manipulator"

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/clr-profiler/cil"
	"go.opentelemetry.io/clr-profiler/sigparser"
)

const (
	// APIAssemblyName is the assembly of the public agent API.
	APIAssemblyName = "NewRelic.Api.Agent"
	// APITypeName is the type whose static stubs are forwarded to the agent.
	APITypeName = "NewRelic.Api.Agent.NewRelic"
	// AgentAPITypeName is the agent type implementing the API.
	AgentAPITypeName = "NewRelic.Agent.Core.AgentApi"
)

// API forwards the agent API stubs to their implementation in the agent core.
// When the forwarded call fails the stub runs its original body.
type API struct {
	opts Options
}

// NewAPI creates the API manipulator.
func NewAPI(opts Options) *API {
	return &API{opts: opts}
}

// Name implements Manipulator.
func (*API) Name() string {
	return "api"
}

// Applies implements Manipulator.
func (*API) Applies(t *Target) bool {
	return strings.EqualFold(t.Function.GetAssemblyName(), APIAssemblyName) &&
		t.Function.GetTypeName() == APITypeName
}

// Instrument implements Manipulator.
func (a *API) Instrument(t *Target) ([]byte, error) {
	fn := t.Function
	switch t.Signature.ReturnType.Element {
	case sigparser.ElementByRef, sigparser.ElementPtr, sigparser.ElementFnPtr,
		sigparser.ElementTypedByRef:
		log.Debugf("Not forwarding %s.%s: %s return", fn.GetTypeName(),
			fn.GetFunctionName(), t.Signature.ReturnType.Element)
		return nil, fmt.Errorf("%w %s", ErrUnsupportedReturnType, t.Signature.ReturnType.Element)
	}

	orig, err := loadOriginal(fn)
	if err != nil {
		return nil, err
	}
	tokenizer := fn.GetTokenizer()
	result, hasResult, err := orig.locals.AppendReturnTypeLocal(t.Signature)
	if err != nil {
		return nil, err
	}

	s := cil.NewInstructionSet(tokenizer)
	done := s.NewLabel()
	fallback := s.NewLabel()
	var lookupErr error
	s.TryCatch(func() {
		lookupErr = a.appendLookup(s, t)
		s.Append(cil.Ldnull)
		appendArgumentArray(s, t)
		s.AppendCall(cil.Callvirt, methodBaseInvoke)
		appendResult(s, &t.Signature.ReturnType, result, hasResult)
		s.AppendJumpTo(cil.Leave, done)
	}, func() {
		s.AppendJumpTo(cil.Leave, fallback)
	})
	if lookupErr != nil {
		return nil, lookupErr
	}

	s.AppendLabel(fallback)
	s.AppendRawOriginalBody(orig.body.Code, orig.body.Clauses)
	s.Append(cil.Ret)

	s.AppendLabel(done)
	if hasResult {
		s.AppendLoadLocal(result)
	}
	s.Append(cil.Ret)
	return finish(tokenizer, s, orig.locals, orig.body.Header.MaxStack)
}

// appendLookup loads the MethodInfo of the implementation.
func (a *API) appendLookup(s *cil.InstructionSet, t *Target) error {
	name := t.Function.GetFunctionName()
	switch a.opts.APIStrategy {
	case StrategyInAgentCache:
		cache := a.opts.AgentCache.Load()
		if cache == nil {
			return ErrAgentCacheUninitialized
		}
		s.AppendString(APITypeName + "." + name + "(" + t.Parameters + ")")
		s.AppendString(cache.AssemblyPath)
		s.AppendString(cache.TypeName)
		s.AppendString(name)
		appendParameterTypes(s, t.Signature.Params)
		s.AppendCall(cil.Call, helperRef(GetMethodInfoFromAgentCache))
	case StrategyReflection:
		s.AppendString(a.opts.AgentCorePath)
		s.AppendString(AgentAPITypeName)
		s.AppendString(name)
		appendParameterTypes(s, t.Signature.Params)
		s.AppendCall(cil.Call, helperRef(GetMethodViaReflectionOrThrow))
	default:
		return fmt.Errorf("unknown API strategy %s", a.opts.APIStrategy)
	}
	return nil
}
