// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package sigparser // import "go.opentelemetry.io/clr-profiler/sigparser"

// Builder assembles signature blobs. The first encoding error sticks and is
// reported by Bytes.
type Builder struct {
	buf []byte
	err error
}

// Element appends a single element type or calling convention byte.
func (b *Builder) Element(e ElementType) *Builder {
	b.buf = append(b.buf, byte(e))
	return b
}

// CallingConvention appends the calling convention byte.
func (b *Builder) CallingConvention(cc CallingConvention) *Builder {
	b.buf = append(b.buf, byte(cc))
	return b
}

// Uint appends a compressed unsigned integer.
func (b *Builder) Uint(v uint32) *Builder {
	if b.err == nil {
		b.buf, b.err = AppendUint(b.buf, v)
	}
	return b
}

// Int appends a compressed signed integer.
func (b *Builder) Int(v int32) *Builder {
	if b.err == nil {
		b.buf, b.err = AppendInt(b.buf, v)
	}
	return b
}

// TypeDefOrRef appends a type token in coded index form.
func (b *Builder) TypeDefOrRef(token uint32) *Builder {
	if b.err == nil {
		b.buf, b.err = AppendTypeDefOrRef(b.buf, token)
	}
	return b
}

// Class appends CLASS followed by the token.
func (b *Builder) Class(token uint32) *Builder {
	return b.Element(ElementClass).TypeDefOrRef(token)
}

// ValueType appends VALUETYPE followed by the token.
func (b *Builder) ValueType(token uint32) *Builder {
	return b.Element(ElementValueType).TypeDefOrRef(token)
}

// Raw appends already encoded bytes.
func (b *Builder) Raw(data []byte) *Builder {
	b.buf = append(b.buf, data...)
	return b
}

// Len returns the number of bytes encoded so far.
func (b *Builder) Len() int {
	return len(b.buf)
}

// Bytes returns the encoded blob.
func (b *Builder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.buf, nil
}

// EncodeMethodSignature encodes a method signature from already encoded types.
func EncodeMethodSignature(cc CallingConvention, genericParamCount uint32,
	returnType []byte, params ...[]byte) ([]byte, error) {
	var b Builder
	b.CallingConvention(cc)
	if cc.IsGeneric() {
		b.Uint(genericParamCount)
	}
	b.Uint(uint32(len(params)))
	b.Raw(returnType)
	for _, p := range params {
		b.Raw(p)
	}
	return b.Bytes()
}

// EncodeLocalsSignature encodes a LocalVarSig from already encoded types.
func EncodeLocalsSignature(locals ...[]byte) ([]byte, error) {
	var b Builder
	b.CallingConvention(CallConvLocalSig)
	b.Uint(uint32(len(locals)))
	for _, l := range locals {
		b.Raw(l)
	}
	return b.Bytes()
}
