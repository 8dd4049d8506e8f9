// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package rewriter // import "go.opentelemetry.io/clr-profiler/rewriter"

import (
	"go.opentelemetry.io/clr-profiler/instrumentation"
	"go.opentelemetry.io/clr-profiler/manipulator"
	"go.opentelemetry.io/clr-profiler/sigparser"
)

// Function is the host's view of a method that is about to be compiled.
type Function interface {
	manipulator.Function

	GetModuleName() string
	// GetSignature returns the MethodDefSig blob.
	GetSignature() []byte
	// GetAssemblyProps returns the version of the declaring assembly, zero
	// when unknown.
	GetAssemblyProps() instrumentation.AssemblyVersion
	// GetClassAttributes returns the TypeAttributes of the declaring type.
	GetClassAttributes() uint32
	// GetMethodAttributes returns the MethodAttributes of the method.
	GetMethodAttributes() uint32
	ShouldTrace() bool
	ShouldInjectMethodInstrumentation() bool
	IsValid() bool
	GetTokenResolver() sigparser.TokenResolver
}

// TypeAttributes and MethodAttributes flags (ECMA-335 II.23.1.15, II.23.1.10).
const (
	typeLayoutMask       = 0x18
	typeSequentialLayout = 0x08
	typeExplicitLayout   = 0x10

	methodUnmanagedExport = 0x0008
	methodSpecialName     = 0x0800
	methodPinvokeImpl     = 0x2000
)

// skipReason returns why the method must not be rewritten, or "".
func skipReason(fn Function) string {
	switch fn.GetClassAttributes() & typeLayoutMask {
	case typeSequentialLayout:
		return "sequential layout"
	case typeExplicitLayout:
		return "explicit layout"
	}
	attrs := fn.GetMethodAttributes()
	switch {
	case attrs&methodSpecialName != 0 && fn.GetFunctionName() != ".ctor":
		return "special name"
	case attrs&methodPinvokeImpl != 0:
		return "P/Invoke"
	case attrs&methodUnmanagedExport != 0:
		return "unmanaged export"
	case len(fn.GetMethodBody()) == 0:
		return "no body"
	}
	return ""
}
