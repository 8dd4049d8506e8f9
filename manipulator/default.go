// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package manipulator // import "go.opentelemetry.io/clr-profiler/manipulator"

import (
	"fmt"

	"go.opentelemetry.io/clr-profiler/cil"
)

const (
	getTracerStorageKey    = "NewRelic_Delegate_AgentShim_GetTracer"
	finishTracerStorageKey = "NewRelic_Delegate_AgentShim_FinishTracer"

	// getTracerArgs is the number of arguments of AgentShim.GetTracer:
	// tracer factory name, tracer factory args, metric name, assembly name,
	// type, type name, method name, parameter string, invocation target,
	// arguments and function ID.
	getTracerArgs = 11
	// finishTracerArgs is the number of arguments of AgentShim.FinishTracer:
	// tracer, return value and exception.
	finishTracerArgs = 3
)

// Default wraps instrumented methods in calls to the agent's tracer. Failures
// of the injected calls are swallowed. Exceptions of the original body are
// reported to the tracer and rethrown.
type Default struct {
	opts Options
}

// NewDefault creates the default manipulator.
func NewDefault(opts Options) *Default {
	return &Default{opts: opts}
}

// Name implements Manipulator.
func (*Default) Name() string {
	return "default"
}

// Applies implements Manipulator.
func (*Default) Applies(t *Target) bool {
	return t.Point != nil
}

// defaultLocals are the locals added to the original ones.
type defaultLocals struct {
	tracer    uint16
	exception uint16
	result    uint16
	hasResult bool
}

// Instrument implements Manipulator.
func (d *Default) Instrument(t *Target) ([]byte, error) {
	if t.Point == nil {
		return nil, fmt.Errorf("no instrumentation point for %s.%s",
			t.Function.GetTypeName(), t.Function.GetFunctionName())
	}
	fn := t.Function
	tokenizer := fn.GetTokenizer()
	orig, err := loadOriginal(fn)
	if err != nil {
		return nil, err
	}

	var l defaultLocals
	if l.tracer, err = addLocal(tokenizer, orig.locals, "object"); err != nil {
		return nil, err
	}
	if l.exception, err = addLocal(tokenizer, orig.locals, "class "+exceptionType); err != nil {
		return nil, err
	}
	if l.result, l.hasResult, err = orig.locals.AppendReturnTypeLocal(t.Signature); err != nil {
		return nil, err
	}

	s := cil.NewInstructionSet(tokenizer)
	s.Append(cil.Ldnull)
	s.AppendStoreLocal(l.tracer)
	s.TryCatch(func() {
		d.appendGetTracer(s, t)
		s.AppendStoreLocal(l.tracer)
	}, func() {})

	afterBody := s.NewLabel()
	s.TryCatchTyped(exceptionType, func() {
		s.AppendOriginalBody(orig.body.Code, orig.body.Clauses, func() {
			if l.hasResult {
				s.AppendStoreLocal(l.result)
			}
			s.AppendJumpTo(cil.Leave, afterBody)
		})
	}, func() {
		s.AppendStoreLocal(l.exception)
		d.appendFinishTracer(s, l.tracer, func() {
			s.Append(cil.Ldnull)
		}, func() {
			s.AppendLoadLocal(l.exception)
		})
		s.Append(cil.Rethrow)
	})
	s.AppendLabel(afterBody)

	d.appendFinishTracer(s, l.tracer, func() {
		if !l.hasResult {
			s.Append(cil.Ldnull)
			return
		}
		s.AppendLoadLocal(l.result)
		appendBoxed(s, &t.Signature.ReturnType)
	}, func() {
		s.Append(cil.Ldnull)
	})
	if l.hasResult {
		s.AppendLoadLocal(l.result)
	}
	s.Append(cil.Ret)
	return finish(tokenizer, s, orig.locals, orig.body.Header.MaxStack)
}

// appendAgentShimMethod loads the MethodInfo of an AgentShim method, caching
// it in application domain storage.
func (d *Default) appendAgentShimMethod(s *cil.InstructionSet, storageKey, name string) {
	s.AppendString(storageKey)
	s.AppendString(d.opts.AgentCorePath)
	s.AppendString(AgentShimTypeName)
	s.AppendString(name)
	s.Append(cil.Ldnull)
	s.AppendCall(cil.Call, helperRef(GetMethodFromAppDomainStorageOrReflectionOrThrow))
}

// appendGetTracer invokes AgentShim.GetTracer and leaves the tracer on the stack.
func (d *Default) appendGetTracer(s *cil.InstructionSet, t *Target) {
	fn := t.Function
	p := t.Point
	d.appendAgentShimMethod(s, getTracerStorageKey, "GetTracer")
	s.Append(cil.Ldnull)
	appendNewArray(s, objectType, getTracerArgs, func(i int) {
		switch i {
		case 0:
			s.AppendString(p.TracerFactoryName)
		case 1:
			s.AppendLoadInt32(int32(p.TracerFactoryArgs))
			s.AppendType(cil.Box, "[mscorlib]System.UInt32")
		case 2:
			appendStringOrNull(s, p.MetricName)
		case 3:
			s.AppendString(fn.GetAssemblyName())
		case 4:
			s.AppendToken(cil.Ldtoken, fn.GetTypeToken())
			s.AppendCall(cil.Call, getTypeFromHandle)
		case 5:
			s.AppendString(fn.GetTypeName())
		case 6:
			s.AppendString(fn.GetFunctionName())
		case 7:
			s.AppendString(t.Parameters)
		case 8:
			if t.HasThis() && !t.IsConstructor() {
				s.Append(cil.Ldarg0)
			} else {
				s.Append(cil.Ldnull)
			}
		case 9:
			appendArgumentArray(s, t)
		case 10:
			s.AppendInt64(cil.LdcI8, int64(fn.GetFunctionID()))
			s.AppendType(cil.Box, "[mscorlib]System.UInt64")
		}
	})
	s.AppendCall(cil.Callvirt, methodBaseInvoke)
}

// appendFinishTracer invokes AgentShim.FinishTracer inside a protected region
// that swallows its failures.
func (d *Default) appendFinishTracer(s *cil.InstructionSet, tracer uint16,
	loadResult, loadException func()) {
	s.TryCatch(func() {
		d.appendAgentShimMethod(s, finishTracerStorageKey, "FinishTracer")
		s.Append(cil.Ldnull)
		appendNewArray(s, objectType, finishTracerArgs, func(i int) {
			switch i {
			case 0:
				s.AppendLoadLocal(tracer)
			case 1:
				loadResult()
			case 2:
				loadException()
			}
		})
		s.AppendCall(cil.Callvirt, methodBaseInvoke)
		s.Append(cil.Pop)
	}, func() {})
}

func appendStringOrNull(s *cil.InstructionSet, str string) {
	if str == "" {
		s.Append(cil.Ldnull)
		return
	}
	s.AppendString(str)
}
