// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package methodbody encodes and decodes the ECMA-335 II.25.4 method body format:
// the tiny and fat method headers, the code and the trailing exception handling
// data sections.
//
// All multi-byte values are little endian. Fields are extracted and packed one byte
// at a time so the layout never depends on native struct layout or host endianness.
package methodbody // import "go.opentelemetry.io/clr-profiler/methodbody"

import (
	"errors"
	"fmt"
)

// ECMA-335 II.25.4.1 Method header type values and II.25.4.4 Flags for method headers
const (
	formatMask   = 0x3
	tinyFormat   = 0x2
	fatFormat    = 0x3
	flagsMask    = 0x0fff
	moreSections = 0x08
	initLocals   = 0x10

	// TinyMaxCodeSize is the largest code size a tiny header can describe (6 bits).
	TinyMaxCodeSize = 0x3f
	// TinyMaxStack is the implied evaluation stack depth of tiny bodies.
	TinyMaxStack = 8
	// TinyHeaderSize is the size of the tiny header in bytes.
	TinyHeaderSize = 1
	// FatHeaderSize is the size of the fat header in bytes.
	FatHeaderSize = 12
	// fatHeaderWords is the fat header size in 4-byte words, stored in the upper
	// nibble of the flags word.
	fatHeaderWords = FatHeaderSize / 4
)

var (
	// ErrInvalidHeader is returned when the header format tag is not recognized.
	ErrInvalidHeader = errors.New("invalid method header format")
	// ErrTruncated is returned when the buffer is too short for the structure it
	// claims to contain.
	ErrTruncated = errors.New("truncated method body")
)

// Header is the decoded form of either a tiny or a fat method header.
type Header struct {
	// Fat is set when the header uses the 12 byte fat encoding.
	Fat bool
	// Flags holds the 12 bit fat header flags, including the format tag.
	Flags uint16
	// SizeWords is the fat header size in 4-byte words.
	SizeWords uint8
	// MaxStack is the maximum evaluation stack depth.
	MaxStack uint16
	// CodeSize is the size of the IL code in bytes.
	CodeSize uint32
	// LocalVarSigToken is the StandAloneSig token of the locals, 0 if none.
	LocalVarSigToken uint32
}

// InitLocals reports whether locals are zero initialized on entry.
func (h *Header) InitLocals() bool {
	return h.Fat && h.Flags&initLocals != 0
}

// MoreSections reports whether data sections follow the code.
func (h *Header) MoreSections() bool {
	return h.Fat && h.Flags&moreSections != 0
}

// Size returns the encoded size of the header in bytes.
func (h *Header) Size() int {
	if !h.Fat {
		return TinyHeaderSize
	}
	return int(h.SizeWords) * 4
}

// ParseTinyHeader decodes a ECMA-335 II.25.4.2 tiny header.
//
//	bit 7..2  code size
//	bit 1..0  format tag 0x2
func ParseTinyHeader(b []byte) (Header, error) {
	if len(b) < TinyHeaderSize {
		return Header{}, ErrTruncated
	}
	if b[0]&formatMask != tinyFormat {
		return Header{}, fmt.Errorf("%w: tag %#x is not tiny", ErrInvalidHeader, b[0]&formatMask)
	}
	return Header{
		MaxStack: TinyMaxStack,
		CodeSize: uint32(b[0] >> 2),
	}, nil
}

// ParseFatHeader decodes a ECMA-335 II.25.4.3 fat header.
//
//	byte 0      flags bits 7..0 (bits 1..0 format tag 0x3)
//	byte 1      bits 3..0 flags bits 11..8, bits 7..4 header size in words
//	byte 2..3   max stack
//	byte 4..7   code size
//	byte 8..11  local variable signature token
func ParseFatHeader(b []byte) (Header, error) {
	if len(b) < 1 {
		return Header{}, ErrTruncated
	}
	if b[0]&formatMask != fatFormat {
		return Header{}, fmt.Errorf("%w: tag %#x is not fat", ErrInvalidHeader, b[0]&formatMask)
	}
	if len(b) < FatHeaderSize {
		return Header{}, ErrTruncated
	}
	h := Header{
		Fat:              true,
		Flags:            uint16(b[0]) | uint16(b[1]&0x0f)<<8,
		SizeWords:        b[1] >> 4,
		MaxStack:         readUint16(b, 2),
		CodeSize:         readUint32(b, 4),
		LocalVarSigToken: readUint32(b, 8),
	}
	if h.SizeWords < fatHeaderWords {
		return Header{}, fmt.Errorf("%w: fat header size %d words", ErrInvalidHeader,
			h.SizeWords)
	}
	return h, nil
}

// ParseHeader decodes a tiny or fat header depending on its format tag.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < 1 {
		return Header{}, ErrTruncated
	}
	switch b[0] & formatMask {
	case tinyFormat:
		return ParseTinyHeader(b)
	case fatFormat:
		return ParseFatHeader(b)
	default:
		return Header{}, fmt.Errorf("%w: tag %#x", ErrInvalidHeader, b[0]&formatMask)
	}
}

// NewHeader selects the tiny or fat encoding for a body with the given properties.
// The tiny form is only used when the body needs nothing beyond code.
func NewHeader(codeSize uint32, maxStack uint16, localVarSigToken uint32,
	hasSections, zeroLocals bool) Header {
	if codeSize <= TinyMaxCodeSize && maxStack <= TinyMaxStack &&
		localVarSigToken == 0 && !hasSections && !zeroLocals {
		return Header{
			MaxStack: TinyMaxStack,
			CodeSize: codeSize,
		}
	}
	flags := uint16(fatFormat)
	if hasSections {
		flags |= moreSections
	}
	if zeroLocals {
		flags |= initLocals
	}
	return Header{
		Fat:              true,
		Flags:            flags,
		SizeWords:        fatHeaderWords,
		MaxStack:         maxStack,
		CodeSize:         codeSize,
		LocalVarSigToken: localVarSigToken,
	}
}

// Append encodes the header and appends it to buf.
func (h *Header) Append(buf []byte) []byte {
	if !h.Fat {
		return append(buf, byte(h.CodeSize<<2)|tinyFormat)
	}
	flags := h.Flags&flagsMask | fatFormat
	buf = append(buf,
		byte(flags),
		byte(flags>>8)&0x0f|fatHeaderWords<<4)
	buf = appendUint16(buf, h.MaxStack)
	buf = appendUint32(buf, h.CodeSize)
	return appendUint32(buf, h.LocalVarSigToken)
}

func readUint16(b []byte, offs int) uint16 {
	return uint16(b[offs]) | uint16(b[offs+1])<<8
}

func readUint24(b []byte, offs int) uint32 {
	return uint32(b[offs]) | uint32(b[offs+1])<<8 | uint32(b[offs+2])<<16
}

func readUint32(b []byte, offs int) uint32 {
	return uint32(b[offs]) | uint32(b[offs+1])<<8 |
		uint32(b[offs+2])<<16 | uint32(b[offs+3])<<24
}

func appendUint16(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}

func appendUint24(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16))
}

func appendUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
