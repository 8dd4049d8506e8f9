// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package methodbody // import "go.opentelemetry.io/clr-profiler/methodbody"

import (
	"fmt"
)

// Body is a complete method body: header, IL code and exception clauses.
type Body struct {
	Header  Header
	Code    []byte
	Clauses []ExceptionClause
}

// Parse decodes a method body as stored in the image or handed out by the runtime.
func Parse(b []byte) (*Body, error) {
	hdr, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	codeStart := hdr.Size()
	codeEnd := codeStart + int(hdr.CodeSize)
	if codeEnd > len(b) || codeEnd < codeStart {
		return nil, fmt.Errorf("%w: code size %d exceeds body of %d bytes",
			ErrTruncated, hdr.CodeSize, len(b))
	}
	body := &Body{
		Header: hdr,
		Code:   b[codeStart:codeEnd],
	}
	if hdr.MoreSections() {
		if body.Clauses, err = parseSections(b, codeEnd); err != nil {
			return nil, err
		}
	}
	return body, nil
}

// New creates a body for the given code and clauses and selects its header.
func New(code []byte, clauses []ExceptionClause, maxStack uint16,
	localVarSigToken uint32, zeroLocals bool) *Body {
	return &Body{
		Header: NewHeader(uint32(len(code)), maxStack, localVarSigToken,
			len(clauses) != 0, zeroLocals),
		Code:    code,
		Clauses: clauses,
	}
}

// Bytes serializes the body: header, code and the 4 byte aligned EH section.
func (b *Body) Bytes() []byte {
	size := b.Header.Size() + len(b.Code)
	if len(b.Clauses) != 0 {
		size = AlignSection(size) + int(SectionDataSize(len(b.Clauses), true))
	}
	buf := make([]byte, 0, size)
	buf = b.Header.Append(buf)
	buf = append(buf, b.Code...)
	if len(b.Clauses) == 0 {
		return buf
	}
	for len(buf) != AlignSection(len(buf)) {
		buf = append(buf, 0)
	}
	return AppendExceptionSection(buf, b.Clauses)
}
