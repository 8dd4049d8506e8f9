// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package cil // import "go.opentelemetry.io/clr-profiler/cil"

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrUnknownOpcode is returned when decoding meets an undefined opcode.
	ErrUnknownOpcode = errors.New("unknown opcode")
	// ErrTruncated is returned when an instruction extends past the code.
	ErrTruncated = errors.New("truncated instruction")
)

// Instruction is one decoded instruction.
type Instruction struct {
	Offset uint32
	Info   *OpcodeInfo
	// Raw holds the full encoding including the opcode.
	Raw []byte
	// Operand holds the integer or token operand, or the raw bits of a
	// floating point operand.
	Operand int64
	// Targets holds the absolute branch targets of branches and switches.
	Targets []uint32
}

// Opcode returns the instruction opcode.
func (i *Instruction) Opcode() Opcode {
	return i.Info.Opcode
}

// End returns the offset of the next instruction.
func (i *Instruction) End() uint32 {
	return i.Offset + uint32(len(i.Raw))
}

// Decode splits code into instructions.
func Decode(code []byte) ([]Instruction, error) {
	var instructions []Instruction
	for pos := 0; pos < len(code); {
		inst, err := decodeOne(code, pos)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, inst)
		pos += len(inst.Raw)
	}
	return instructions, nil
}

func decodeOne(code []byte, pos int) (Instruction, error) {
	start := pos
	op := Opcode(code[pos])
	pos++
	if op == twoBytePrefix {
		if pos >= len(code) {
			return Instruction{}, fmt.Errorf("%w: two byte opcode at %#x", ErrTruncated, start)
		}
		op = Opcode(twoBytePrefix)<<8 | Opcode(code[pos])
		pos++
	}
	info := op.Info()
	if info == nil {
		return Instruction{}, fmt.Errorf("%w: %#x at %#x", ErrUnknownOpcode, uint16(op), start)
	}

	size := info.Operand.Size()
	if pos+size > len(code) {
		return Instruction{}, fmt.Errorf("%w: %s at %#x", ErrTruncated, info.Name, start)
	}
	operand := code[pos : pos+size]
	inst := Instruction{Offset: uint32(start), Info: info}

	switch info.Operand {
	case InlineNone:
	case InlineShortI:
		inst.Operand = int64(int8(operand[0]))
	case InlineShortVar:
		inst.Operand = int64(operand[0])
	case InlineVar:
		inst.Operand = int64(binary.LittleEndian.Uint16(operand))
	case InlineI:
		inst.Operand = int64(int32(binary.LittleEndian.Uint32(operand)))
	case InlineI8, InlineR:
		inst.Operand = int64(binary.LittleEndian.Uint64(operand))
	case InlineShortBr:
		next := pos + size
		inst.Operand = int64(int8(operand[0]))
		inst.Targets = []uint32{uint32(int64(next) + inst.Operand)}
	case InlineBr:
		next := pos + size
		inst.Operand = int64(int32(binary.LittleEndian.Uint32(operand)))
		inst.Targets = []uint32{uint32(int64(next) + inst.Operand)}
	case InlineSwitch:
		count := binary.LittleEndian.Uint32(operand)
		if uint64(count)*4 > uint64(len(code)-pos-size) {
			return Instruction{}, fmt.Errorf("%w: switch with %d targets at %#x",
				ErrTruncated, count, start)
		}
		inst.Operand = int64(count)
		next := pos + size + int(count)*4
		inst.Targets = make([]uint32, count)
		for i := range inst.Targets {
			rel := int32(binary.LittleEndian.Uint32(code[pos+size+i*4:]))
			inst.Targets[i] = uint32(int64(next) + int64(rel))
		}
		size += int(count) * 4
	default:
		// Tokens of every kind, and ShortInlineR
		inst.Operand = int64(binary.LittleEndian.Uint32(operand))
	}
	inst.Raw = code[start : pos+size]
	return inst, nil
}
