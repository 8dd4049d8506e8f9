// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package cil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpcodeInfo(t *testing.T) {
	tests := map[string]struct {
		op      Opcode
		name    string
		size    int
		operand OperandKind
	}{
		"nop":      {op: Nop, name: "nop", size: 1, operand: InlineNone},
		"ldc.i4.s": {op: LdcI4S, name: "ldc.i4.s", size: 1, operand: InlineShortI},
		"call":     {op: Call, name: "call", size: 1, operand: InlineMethod},
		"switch":   {op: Switch, name: "switch", size: 1, operand: InlineSwitch},
		"ceq":      {op: Ceq, name: "ceq", size: 2, operand: InlineNone},
		"ldarg":    {op: Ldarg, name: "ldarg", size: 2, operand: InlineVar},
		"rethrow":  {op: Rethrow, name: "rethrow", size: 2, operand: InlineNone},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			info := tc.op.Info()
			require.NotNil(t, info)
			assert.Equal(t, tc.name, info.Name)
			assert.Equal(t, tc.name, tc.op.String())
			assert.Equal(t, tc.size, tc.op.Size())
			assert.Equal(t, tc.operand, info.Operand)
		})
	}

	assert.Nil(t, Opcode(0xa6).Info())
	assert.Nil(t, Opcode(0x1234).Info())
	assert.Equal(t, "opcode(0xa6)", Opcode(0xa6).String())
}

func TestLongForm(t *testing.T) {
	assert.Equal(t, Br, BrS.LongForm())
	assert.Equal(t, Brfalse, BrfalseS.LongForm())
	assert.Equal(t, Leave, LeaveS.LongForm())
	assert.Equal(t, Br, Br.LongForm())
	assert.Equal(t, Nop, Nop.LongForm())
}

func TestEndsBlock(t *testing.T) {
	for _, op := range []Opcode{Ret, Br, BrS, Leave, Throw, Rethrow} {
		assert.True(t, op.Info().EndsBlock(), op.String())
	}
	for _, op := range []Opcode{Nop, Call, Brtrue, Switch, Tail} {
		assert.False(t, op.Info().EndsBlock(), op.String())
	}
}

func TestDecode(t *testing.T) {
	code := []byte{
		0x02,       // 0: ldarg.0
		0x2c, 0x03, // 1: brfalse.s 6
		0x1f, 0xfe, // 3: ldc.i4.s -2
		0x2a,                         // 5: ret
		0x45, 0x02, 0x00, 0x00, 0x00, // 6: switch (2 targets)
		0x00, 0x00, 0x00, 0x00,
		0xf7, 0xff, 0xff, 0xff,
		0xfe, 0x01, // 19: ceq
		0x28, 0x01, 0x00, 0x00, 0x0a, // 21: call 0x0a000001
		0x2a, // 26: ret
	}
	instrs, err := Decode(code)
	require.NoError(t, err)
	require.Len(t, instrs, 8)

	offsets := make([]uint32, len(instrs))
	ops := make([]Opcode, len(instrs))
	for i := range instrs {
		offsets[i] = instrs[i].Offset
		ops[i] = instrs[i].Opcode()
	}
	assert.Equal(t, []uint32{0, 1, 3, 5, 6, 19, 21, 26}, offsets)
	assert.Equal(t, []Opcode{Ldarg0, BrfalseS, LdcI4S, Ret, Switch, Ceq, Call, Ret}, ops)

	assert.Equal(t, []uint32{6}, instrs[1].Targets)
	assert.Equal(t, int64(-2), instrs[2].Operand)
	assert.Equal(t, int64(2), instrs[4].Operand)
	assert.Equal(t, []uint32{19, 10}, instrs[4].Targets)
	assert.Equal(t, uint32(19), instrs[4].End())
	assert.Equal(t, int64(0x0a000001), instrs[6].Operand)
	assert.Equal(t, code[21:26], instrs[6].Raw)
}

func TestDecodeErrors(t *testing.T) {
	tests := map[string]struct {
		code []byte
		err  error
	}{
		"unknown opcode":      {code: []byte{0xa6}, err: ErrUnknownOpcode},
		"unknown two byte":    {code: []byte{0xfe, 0x30}, err: ErrUnknownOpcode},
		"lone prefix":         {code: []byte{0x00, 0xfe}, err: ErrTruncated},
		"short operand":       {code: []byte{0x20, 0x01, 0x02}, err: ErrTruncated},
		"switch past the end": {code: []byte{0x45, 0x03, 0x00, 0x00, 0x00, 0x00}, err: ErrTruncated},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(tc.code)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestDisassemble(t *testing.T) {
	code := []byte{
		0x02,       // ldarg.0
		0x2c, 0x03, // brfalse.s 6
		0x1f, 0xfe, // ldc.i4.s -2
		0x2a,                         // ret
		0x45, 0x02, 0x00, 0x00, 0x00, // switch
		0x00, 0x00, 0x00, 0x00,
		0xf7, 0xff, 0xff, 0xff,
		0x28, 0x01, 0x00, 0x00, 0x0a, // call 0x0a000001
		0x72, 0x01, 0x00, 0x00, 0x70, // ldstr 0x70000001
		0x2a, // ret
	}

	var sb strings.Builder
	require.NoError(t, Disassemble(&sb, code, nil))
	assert.Equal(t, `IL_0000: ldarg.0
IL_0001: brfalse.s IL_0006
IL_0003: ldc.i4.s -2
IL_0005: ret
IL_0006: switch (IL_0013, IL_000a)
IL_0013: call 0x0a000001
IL_0018: ldstr 0x70000001
IL_001d: ret
`, sb.String())

	instrs, err := Decode(code[19:])
	require.NoError(t, err)
	describe := func(token uint32) string {
		return fmt.Sprintf("<%x>", token>>24)
	}
	assert.Equal(t, "call <a>", instrs[0].Format(describe))
	assert.Equal(t, "ldstr <70>", instrs[1].Format(describe))

	instrs, err = Decode([]byte{0x22, 0x00, 0x00, 0xc0, 0x3f, 0x13, 0x05})
	require.NoError(t, err)
	assert.Equal(t, "ldc.r4 1.5", instrs[0].Format(nil))
	assert.Equal(t, "stloc.s 5", instrs[1].Format(nil))
}
