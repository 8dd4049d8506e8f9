// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package methodbody // import "go.opentelemetry.io/clr-profiler/methodbody"

import (
	"fmt"
)

// ClauseFlags is the ECMA-335 II.25.4.6 exception clause kind.
type ClauseFlags uint32

const (
	// ClauseTyped is a typed exception handler (catch).
	ClauseTyped ClauseFlags = 0x0
	// ClauseFilter is a filtered handler.
	ClauseFilter ClauseFlags = 0x1
	// ClauseFinally is a finally handler.
	ClauseFinally ClauseFlags = 0x2
	// ClauseFault is a fault handler.
	ClauseFault ClauseFlags = 0x4
	// ClauseDuplicated marks a clause duplicated into a funclet by some compilers.
	ClauseDuplicated ClauseFlags = 0x8
)

func (f ClauseFlags) String() string {
	switch f &^ ClauseDuplicated {
	case ClauseTyped:
		return "catch"
	case ClauseFilter:
		return "filter"
	case ClauseFinally:
		return "finally"
	case ClauseFault:
		return "fault"
	}
	return fmt.Sprintf("flags(%#x)", uint32(f))
}

// ECMA-335 II.25.4.5 Method data section kinds
const (
	sectEHTable    = 0x01
	sectOptILTable = 0x02
	sectFatFormat  = 0x40
	sectMoreSects  = 0x80
	sectKindMask   = 0x3f

	sectionHeaderSize = 4
	smallClauseSize   = 12
	fatClauseSize     = 24

	// The small data size field is a single byte.
	maxSmallDataSize = 0xff
)

// ExceptionClause is one decoded exception handling clause. Offsets and lengths
// are in bytes relative to the start of the code.
type ExceptionClause struct {
	Flags         ClauseFlags
	TryOffset     uint32
	TryLength     uint32
	HandlerOffset uint32
	HandlerLength uint32
	// ClassToken is the catch type token of a typed clause.
	ClassToken uint32
	// FilterOffset is the filter start of a filter clause.
	FilterOffset uint32
}

// TryEnd returns the first offset after the protected region.
func (c *ExceptionClause) TryEnd() uint32 {
	return c.TryOffset + c.TryLength
}

// HandlerEnd returns the first offset after the handler region.
func (c *ExceptionClause) HandlerEnd() uint32 {
	return c.HandlerOffset + c.HandlerLength
}

// fitsSmall reports whether the clause can be encoded in the small format.
func (c *ExceptionClause) fitsSmall() bool {
	return c.TryOffset <= 0xffff && c.TryLength <= 0xff &&
		c.HandlerOffset <= 0xffff && c.HandlerLength <= 0xff
}

// tokenOrFilter is the value of the shared last clause field.
func (c *ExceptionClause) tokenOrFilter() uint32 {
	if c.Flags&^ClauseDuplicated == ClauseFilter {
		return c.FilterOffset
	}
	return c.ClassToken
}

func (c *ExceptionClause) setTokenOrFilter(v uint32) {
	if c.Flags&^ClauseDuplicated == ClauseFilter {
		c.FilterOffset = v
		return
	}
	c.ClassToken = v
}

func clauseSize(fat bool) uint32 {
	if fat {
		return fatClauseSize
	}
	return smallClauseSize
}

// SectionDataSize computes the data size field of an EH table section holding
// clauseCount clauses. The 4 byte section header is included in the value.
func SectionDataSize(clauseCount int, fat bool) uint32 {
	return sectionHeaderSize + uint32(clauseCount)*clauseSize(fat)
}

// ClauseCount returns the number of clauses described by an EH table section
// data size. The header bytes are not subtracted before dividing, the same way
// the runtime reads the table.
func ClauseCount(dataSize uint32, fat bool) int {
	return int(dataSize / clauseSize(fat))
}

// needsFatSection reports whether the clauses require the fat section format.
func needsFatSection(clauses []ExceptionClause) bool {
	if SectionDataSize(len(clauses), false) > maxSmallDataSize {
		return true
	}
	for i := range clauses {
		if !clauses[i].fitsSmall() {
			return true
		}
	}
	return false
}

// AlignSection rounds offset up to the 4 byte boundary each data section starts at.
func AlignSection(offset int) int {
	return (offset + 3) &^ 3
}

// parseSections walks the data sections starting at offset and returns the EH
// clauses of all EH table sections. Other section kinds are skipped.
func parseSections(b []byte, offset int) ([]ExceptionClause, error) {
	var clauses []ExceptionClause
	for {
		offset = AlignSection(offset)
		if offset+sectionHeaderSize > len(b) {
			return nil, fmt.Errorf("%w: section header at %d", ErrTruncated, offset)
		}
		kind := b[offset]
		fat := kind&sectFatFormat != 0
		var dataSize uint32
		if fat {
			dataSize = readUint24(b, offset+1)
		} else {
			dataSize = uint32(b[offset+1])
		}
		if dataSize < sectionHeaderSize || offset+int(dataSize) > len(b) {
			return nil, fmt.Errorf("%w: section of %d bytes at %d", ErrTruncated,
				dataSize, offset)
		}

		switch kind & sectKindMask {
		case sectEHTable:
			count := ClauseCount(dataSize, fat)
			pos := offset + sectionHeaderSize
			for i := 0; i < count; i++ {
				if pos+int(clauseSize(fat)) > len(b) {
					return nil, fmt.Errorf("%w: clause %d", ErrTruncated, i)
				}
				clauses = append(clauses, decodeClause(b[pos:], fat))
				pos += int(clauseSize(fat))
			}
		case sectOptILTable:
			// Reserved, no content we need.
		default:
			return nil, fmt.Errorf("unknown method data section kind %#x", kind)
		}

		offset += int(dataSize)
		if kind&sectMoreSects == 0 {
			return clauses, nil
		}
	}
}

func decodeClause(b []byte, fat bool) ExceptionClause {
	var c ExceptionClause
	if fat {
		c = ExceptionClause{
			Flags:         ClauseFlags(readUint32(b, 0)),
			TryOffset:     readUint32(b, 4),
			TryLength:     readUint32(b, 8),
			HandlerOffset: readUint32(b, 12),
			HandlerLength: readUint32(b, 16),
		}
		c.setTokenOrFilter(readUint32(b, 20))
		return c
	}
	c = ExceptionClause{
		Flags:         ClauseFlags(readUint16(b, 0)),
		TryOffset:     uint32(readUint16(b, 2)),
		TryLength:     uint32(b[4]),
		HandlerOffset: uint32(readUint16(b, 5)),
		HandlerLength: uint32(b[7]),
	}
	c.setTokenOrFilter(readUint32(b, 8))
	return c
}

// AppendExceptionSection encodes clauses as a single EH table section and appends
// it to buf. The small format is used when every clause fits it. buf must already
// be 4 byte aligned relative to the start of the method body.
func AppendExceptionSection(buf []byte, clauses []ExceptionClause) []byte {
	if len(clauses) == 0 {
		return buf
	}
	fat := needsFatSection(clauses)
	dataSize := SectionDataSize(len(clauses), fat)
	if fat {
		buf = append(buf, sectEHTable|sectFatFormat)
		buf = appendUint24(buf, dataSize)
		for i := range clauses {
			c := &clauses[i]
			buf = appendUint32(buf, uint32(c.Flags))
			buf = appendUint32(buf, c.TryOffset)
			buf = appendUint32(buf, c.TryLength)
			buf = appendUint32(buf, c.HandlerOffset)
			buf = appendUint32(buf, c.HandlerLength)
			buf = appendUint32(buf, c.tokenOrFilter())
		}
		return buf
	}

	buf = append(buf, sectEHTable, byte(dataSize), 0, 0)
	for i := range clauses {
		c := &clauses[i]
		buf = appendUint16(buf, uint16(c.Flags))
		buf = appendUint16(buf, uint16(c.TryOffset))
		buf = append(buf, byte(c.TryLength))
		buf = appendUint16(buf, uint16(c.HandlerOffset))
		buf = append(buf, byte(c.HandlerLength))
		buf = appendUint32(buf, c.tokenOrFilter())
	}
	return buf
}
