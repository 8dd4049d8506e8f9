// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package cil // import "go.opentelemetry.io/clr-profiler/cil"

import (
	"fmt"
	"math"

	"go.opentelemetry.io/clr-profiler/sigparser"
)

// Locals is the local variable signature of a rewritten method. The original
// locals keep their indices.
type Locals struct {
	types    [][]byte
	original int
}

// NewLocals starts from the method's original LocalVarSig, which may be empty
// for methods without locals.
func NewLocals(originalSig []byte) (*Locals, error) {
	l := &Locals{}
	if len(originalSig) == 0 {
		return l, nil
	}
	types, err := sigparser.ParseLocalsSignature(originalSig)
	if err != nil {
		return nil, fmt.Errorf("invalid original locals: %w", err)
	}
	for i := range types {
		l.types = append(l.types, types[i].Raw)
	}
	l.original = len(l.types)
	return l, nil
}

// AddLocal appends a local of the encoded type and returns its index.
func (l *Locals) AddLocal(typeBlob []byte) (uint16, error) {
	if len(l.types) >= math.MaxUint16 {
		return 0, fmt.Errorf("too many locals: %d", len(l.types))
	}
	l.types = append(l.types, typeBlob)
	return uint16(len(l.types) - 1), nil
}

// AppendReturnTypeLocal adds a local holding the method result. Methods
// returning void get none and ok is false.
func (l *Locals) AppendReturnTypeLocal(sig *sigparser.MethodSignature) (index uint16, ok bool, err error) {
	if sig.ReturnType.IsVoid() {
		return 0, false, nil
	}
	index, err = l.AddLocal(sig.ReturnType.Unmodified())
	return index, err == nil, err
}

// Original returns the number of locals of the original method.
func (l *Locals) Original() int {
	return l.original
}

// Len returns the number of locals.
func (l *Locals) Len() int {
	return len(l.types)
}

// Bytes encodes the LocalVarSig.
func (l *Locals) Bytes() ([]byte, error) {
	return sigparser.EncodeLocalsSignature(l.types...)
}
