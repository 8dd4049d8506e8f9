// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package sigparser // import "go.opentelemetry.io/clr-profiler/sigparser"

import (
	"fmt"
)

// Metadata token table types used by the TypeDefOrRef coded index.
const (
	TokenTypeRef  uint32 = 0x01000000
	TokenTypeDef  uint32 = 0x02000000
	TokenTypeSpec uint32 = 0x1b000000

	tokenTypeMask = 0xff000000
	tokenRIDMask  = 0x00ffffff
)

// ECMA-335 II.23.2 compressed integer limits
const (
	maxCompressed1 = 0x7f
	maxCompressed2 = 0x3fff
	maxCompressed4 = 0x1fffffff
)

// reader walks a signature blob sequentially. The first error sticks and all further
// reads return zero values, the same way the profiler's nibble reader does it.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) Error() error {
	return r.err
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w at offset %d", err, r.pos)
	}
}

func (r *reader) empty() bool {
	return r.pos >= len(r.data)
}

func (r *reader) peek() byte {
	if r.err != nil {
		return 0
	}
	if r.empty() {
		r.fail(ErrTruncated)
		return 0
	}
	return r.data[r.pos]
}

func (r *reader) readByte() byte {
	b := r.peek()
	if r.err == nil {
		r.pos++
	}
	return b
}

// Uint decodes one ECMA-335 II.23.2 compressed unsigned integer.
func (r *reader) Uint() uint32 {
	b0 := r.readByte()
	if r.err != nil {
		return 0
	}
	switch {
	case b0&0x80 == 0:
		return uint32(b0)
	case b0&0xc0 == 0x80:
		b1 := r.readByte()
		return uint32(b0&0x3f)<<8 | uint32(b1)
	case b0&0xe0 == 0xc0:
		b1 := r.readByte()
		b2 := r.readByte()
		b3 := r.readByte()
		return uint32(b0&0x1f)<<24 | uint32(b1)<<16 | uint32(b2)<<8 | uint32(b3)
	default:
		r.fail(fmt.Errorf("%w: compressed integer lead byte %#x", ErrMalformed, b0))
		return 0
	}
}

// Int decodes one ECMA-335 II.23.2 compressed signed integer. The sign bit is
// rotated into bit 0 of the encoded value width.
func (r *reader) Int() int32 {
	start := r.pos
	raw := r.Uint()
	if r.err != nil {
		return 0
	}
	var bits uint
	switch r.pos - start {
	case 1:
		bits = 7
	case 2:
		bits = 14
	default:
		bits = 29
	}
	value := int32(raw >> 1)
	if raw&1 != 0 {
		value -= 1 << (bits - 1)
	}
	return value
}

// TypeDefOrRef decodes a ECMA-335 II.23.2.8 TypeDefOrRefOrSpecEncoded token.
func (r *reader) TypeDefOrRef() uint32 {
	coded := r.Uint()
	if r.err != nil {
		return 0
	}
	rid := coded >> 2
	switch coded & 0x3 {
	case 0:
		return TokenTypeDef | rid
	case 1:
		return TokenTypeRef | rid
	case 2:
		return TokenTypeSpec | rid
	default:
		r.fail(fmt.Errorf("%w: TypeDefOrRef tag 3", ErrMalformed))
		return 0
	}
}

// AppendUint appends the compressed encoding of v.
func AppendUint(buf []byte, v uint32) ([]byte, error) {
	switch {
	case v <= maxCompressed1:
		return append(buf, byte(v)), nil
	case v <= maxCompressed2:
		return append(buf, byte(v>>8)|0x80, byte(v)), nil
	case v <= maxCompressed4:
		return append(buf, byte(v>>24)|0xc0, byte(v>>16), byte(v>>8), byte(v)), nil
	default:
		return buf, fmt.Errorf("%w: %#x is too large to compress", ErrMalformed, v)
	}
}

// AppendInt appends the compressed encoding of the signed value v.
func AppendInt(buf []byte, v int32) ([]byte, error) {
	rotate := func(v int32, bits uint) uint32 {
		mask := uint32(1)<<bits - 1
		u := uint32(v) & mask
		return (u<<1 | u>>(bits-1)) & mask
	}
	switch {
	case v >= -(1<<6) && v < 1<<6:
		return append(buf, byte(rotate(v, 7))), nil
	case v >= -(1<<13) && v < 1<<13:
		u := rotate(v, 14)
		return append(buf, byte(u>>8)|0x80, byte(u)), nil
	case v >= -(1<<28) && v < 1<<28:
		u := rotate(v, 29)
		return append(buf, byte(u>>24)|0xc0, byte(u>>16), byte(u>>8), byte(u)), nil
	default:
		return buf, fmt.Errorf("%w: %d is out of compressed range", ErrMalformed, v)
	}
}

// AppendTypeDefOrRef appends a TypeDef, TypeRef or TypeSpec token as coded index.
func AppendTypeDefOrRef(buf []byte, token uint32) ([]byte, error) {
	rid := token & tokenRIDMask
	var tag uint32
	switch token & tokenTypeMask {
	case TokenTypeDef:
		tag = 0
	case TokenTypeRef:
		tag = 1
	case TokenTypeSpec:
		tag = 2
	default:
		return buf, fmt.Errorf("%w: token %#x is not a type token", ErrMalformed, token)
	}
	return AppendUint(buf, rid<<2|tag)
}
