// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package cil // import "go.opentelemetry.io/clr-profiler/cil"

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Format renders the instruction in assembler syntax. Tokens are rendered with
// describe, or in hex when describe is nil.
func (i *Instruction) Format(describe func(token uint32) string) string {
	var sb strings.Builder
	sb.WriteString(i.Info.Name)
	switch i.Info.Operand {
	case InlineNone:
		return sb.String()
	case InlineShortI, InlineI, InlineI8, InlineShortVar, InlineVar:
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatInt(i.Operand, 10))
	case InlineShortR:
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatFloat(
			float64(math.Float32frombits(uint32(i.Operand))), 'g', -1, 32))
	case InlineR:
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatFloat(
			math.Float64frombits(uint64(i.Operand)), 'g', -1, 64))
	case InlineShortBr, InlineBr:
		fmt.Fprintf(&sb, " IL_%04x", i.Targets[0])
	case InlineSwitch:
		sb.WriteString(" (")
		for n, target := range i.Targets {
			if n > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "IL_%04x", target)
		}
		sb.WriteByte(')')
	default:
		token := uint32(i.Operand)
		sb.WriteByte(' ')
		if describe != nil {
			sb.WriteString(describe(token))
		} else {
			fmt.Fprintf(&sb, "0x%08x", token)
		}
	}
	return sb.String()
}

// Disassemble writes one line per instruction of code to w.
func Disassemble(w io.Writer, code []byte, describe func(token uint32) string) error {
	instructions, err := Decode(code)
	if err != nil {
		return err
	}
	for n := range instructions {
		inst := &instructions[n]
		if _, err := fmt.Fprintf(w, "IL_%04x: %s\n", inst.Offset,
			inst.Format(describe)); err != nil {
			return err
		}
	}
	return nil
}
