// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package cil decodes and emits ECMA-335 Common Intermediate Language.
package cil // import "go.opentelemetry.io/clr-profiler/cil"

import "fmt"

// Opcode is a CIL opcode. Two byte opcodes carry the 0xfe prefix in the high byte.
type Opcode uint16

// OperandKind describes the inline operand following an opcode.
type OperandKind uint8

const (
	InlineNone OperandKind = iota
	InlineShortI
	InlineI
	InlineI8
	InlineShortR
	InlineR
	InlineShortVar
	InlineVar
	InlineShortBr
	InlineBr
	InlineSwitch
	InlineMethod
	InlineField
	InlineType
	InlineTok
	InlineString
	InlineSig
)

// Size returns the operand size in bytes. Switch operands are variable and
// report the size of the target count only.
func (k OperandKind) Size() int {
	switch k {
	case InlineNone:
		return 0
	case InlineShortI, InlineShortVar, InlineShortBr:
		return 1
	case InlineVar:
		return 2
	case InlineI8, InlineR:
		return 8
	default:
		return 4
	}
}

// FlowKind is the control flow behavior of an opcode.
type FlowKind uint8

const (
	FlowNext FlowKind = iota
	FlowBreak
	FlowCall
	FlowBranch
	FlowCondBranch
	FlowReturn
	FlowThrow
	// FlowMeta marks prefixes.
	FlowMeta
)

// VarStack marks a stack effect that depends on the operand signature.
const VarStack = -1

// OpcodeInfo describes an opcode.
type OpcodeInfo struct {
	Opcode  Opcode
	Name    string
	Operand OperandKind
	// Pop and Push are the number of stack slots consumed and produced.
	Pop  int8
	Push int8
	Flow FlowKind
}

// EndsBlock reports whether control never falls through to the next instruction.
func (i *OpcodeInfo) EndsBlock() bool {
	switch i.Flow {
	case FlowBranch, FlowReturn, FlowThrow:
		return true
	}
	return false
}

// ECMA-335 III opcodes
const (
	Nop         Opcode = 0x00
	Break       Opcode = 0x01
	Ldarg0      Opcode = 0x02
	Ldarg1      Opcode = 0x03
	Ldarg2      Opcode = 0x04
	Ldarg3      Opcode = 0x05
	Ldloc0      Opcode = 0x06
	Ldloc1      Opcode = 0x07
	Ldloc2      Opcode = 0x08
	Ldloc3      Opcode = 0x09
	Stloc0      Opcode = 0x0a
	Stloc1      Opcode = 0x0b
	Stloc2      Opcode = 0x0c
	Stloc3      Opcode = 0x0d
	LdargS      Opcode = 0x0e
	LdargaS     Opcode = 0x0f
	StargS      Opcode = 0x10
	LdlocS      Opcode = 0x11
	LdlocaS     Opcode = 0x12
	StlocS      Opcode = 0x13
	Ldnull      Opcode = 0x14
	LdcI4M1     Opcode = 0x15
	LdcI40      Opcode = 0x16
	LdcI41      Opcode = 0x17
	LdcI42      Opcode = 0x18
	LdcI43      Opcode = 0x19
	LdcI44      Opcode = 0x1a
	LdcI45      Opcode = 0x1b
	LdcI46      Opcode = 0x1c
	LdcI47      Opcode = 0x1d
	LdcI48      Opcode = 0x1e
	LdcI4S      Opcode = 0x1f
	LdcI4       Opcode = 0x20
	LdcI8       Opcode = 0x21
	LdcR4       Opcode = 0x22
	LdcR8       Opcode = 0x23
	Dup         Opcode = 0x25
	Pop         Opcode = 0x26
	Jmp         Opcode = 0x27
	Call        Opcode = 0x28
	Calli       Opcode = 0x29
	Ret         Opcode = 0x2a
	BrS         Opcode = 0x2b
	BrfalseS    Opcode = 0x2c
	BrtrueS     Opcode = 0x2d
	BeqS        Opcode = 0x2e
	BgeS        Opcode = 0x2f
	BgtS        Opcode = 0x30
	BleS        Opcode = 0x31
	BltS        Opcode = 0x32
	BneUnS      Opcode = 0x33
	BgeUnS      Opcode = 0x34
	BgtUnS      Opcode = 0x35
	BleUnS      Opcode = 0x36
	BltUnS      Opcode = 0x37
	Br          Opcode = 0x38
	Brfalse     Opcode = 0x39
	Brtrue      Opcode = 0x3a
	Beq         Opcode = 0x3b
	Bge         Opcode = 0x3c
	Bgt         Opcode = 0x3d
	Ble         Opcode = 0x3e
	Blt         Opcode = 0x3f
	BneUn       Opcode = 0x40
	BgeUn       Opcode = 0x41
	BgtUn       Opcode = 0x42
	BleUn       Opcode = 0x43
	BltUn       Opcode = 0x44
	Switch      Opcode = 0x45
	LdindI1     Opcode = 0x46
	LdindU1     Opcode = 0x47
	LdindI2     Opcode = 0x48
	LdindU2     Opcode = 0x49
	LdindI4     Opcode = 0x4a
	LdindU4     Opcode = 0x4b
	LdindI8     Opcode = 0x4c
	LdindI      Opcode = 0x4d
	LdindR4     Opcode = 0x4e
	LdindR8     Opcode = 0x4f
	LdindRef    Opcode = 0x50
	StindRef    Opcode = 0x51
	StindI1     Opcode = 0x52
	StindI2     Opcode = 0x53
	StindI4     Opcode = 0x54
	StindI8     Opcode = 0x55
	StindR4     Opcode = 0x56
	StindR8     Opcode = 0x57
	Add         Opcode = 0x58
	Sub         Opcode = 0x59
	Mul         Opcode = 0x5a
	Div         Opcode = 0x5b
	DivUn       Opcode = 0x5c
	Rem         Opcode = 0x5d
	RemUn       Opcode = 0x5e
	And         Opcode = 0x5f
	Or          Opcode = 0x60
	Xor         Opcode = 0x61
	Shl         Opcode = 0x62
	Shr         Opcode = 0x63
	ShrUn       Opcode = 0x64
	Neg         Opcode = 0x65
	Not         Opcode = 0x66
	ConvI1      Opcode = 0x67
	ConvI2      Opcode = 0x68
	ConvI4      Opcode = 0x69
	ConvI8      Opcode = 0x6a
	ConvR4      Opcode = 0x6b
	ConvR8      Opcode = 0x6c
	ConvU4      Opcode = 0x6d
	ConvU8      Opcode = 0x6e
	Callvirt    Opcode = 0x6f
	Cpobj       Opcode = 0x70
	Ldobj       Opcode = 0x71
	Ldstr       Opcode = 0x72
	Newobj      Opcode = 0x73
	Castclass   Opcode = 0x74
	Isinst      Opcode = 0x75
	ConvRUn     Opcode = 0x76
	Unbox       Opcode = 0x79
	Throw       Opcode = 0x7a
	Ldfld       Opcode = 0x7b
	Ldflda      Opcode = 0x7c
	Stfld       Opcode = 0x7d
	Ldsfld      Opcode = 0x7e
	Ldsflda     Opcode = 0x7f
	Stsfld      Opcode = 0x80
	Stobj       Opcode = 0x81
	ConvOvfI1Un Opcode = 0x82
	ConvOvfI2Un Opcode = 0x83
	ConvOvfI4Un Opcode = 0x84
	ConvOvfI8Un Opcode = 0x85
	ConvOvfU1Un Opcode = 0x86
	ConvOvfU2Un Opcode = 0x87
	ConvOvfU4Un Opcode = 0x88
	ConvOvfU8Un Opcode = 0x89
	ConvOvfIUn  Opcode = 0x8a
	ConvOvfUUn  Opcode = 0x8b
	Box         Opcode = 0x8c
	Newarr      Opcode = 0x8d
	Ldlen       Opcode = 0x8e
	Ldelema     Opcode = 0x8f
	LdelemI1    Opcode = 0x90
	LdelemU1    Opcode = 0x91
	LdelemI2    Opcode = 0x92
	LdelemU2    Opcode = 0x93
	LdelemI4    Opcode = 0x94
	LdelemU4    Opcode = 0x95
	LdelemI8    Opcode = 0x96
	LdelemI     Opcode = 0x97
	LdelemR4    Opcode = 0x98
	LdelemR8    Opcode = 0x99
	LdelemRef   Opcode = 0x9a
	StelemI     Opcode = 0x9b
	StelemI1    Opcode = 0x9c
	StelemI2    Opcode = 0x9d
	StelemI4    Opcode = 0x9e
	StelemI8    Opcode = 0x9f
	StelemR4    Opcode = 0xa0
	StelemR8    Opcode = 0xa1
	StelemRef   Opcode = 0xa2
	Ldelem      Opcode = 0xa3
	Stelem      Opcode = 0xa4
	UnboxAny    Opcode = 0xa5
	ConvOvfI1   Opcode = 0xb3
	ConvOvfU1   Opcode = 0xb4
	ConvOvfI2   Opcode = 0xb5
	ConvOvfU2   Opcode = 0xb6
	ConvOvfI4   Opcode = 0xb7
	ConvOvfU4   Opcode = 0xb8
	ConvOvfI8   Opcode = 0xb9
	ConvOvfU8   Opcode = 0xba
	Refanyval   Opcode = 0xc2
	Ckfinite    Opcode = 0xc3
	Mkrefany    Opcode = 0xc6
	Ldtoken     Opcode = 0xd0
	ConvU2      Opcode = 0xd1
	ConvU1      Opcode = 0xd2
	ConvI       Opcode = 0xd3
	ConvOvfI    Opcode = 0xd4
	ConvOvfU    Opcode = 0xd5
	AddOvf      Opcode = 0xd6
	AddOvfUn    Opcode = 0xd7
	MulOvf      Opcode = 0xd8
	MulOvfUn    Opcode = 0xd9
	SubOvf      Opcode = 0xda
	SubOvfUn    Opcode = 0xdb
	Endfinally  Opcode = 0xdc
	Leave       Opcode = 0xdd
	LeaveS      Opcode = 0xde
	StindI      Opcode = 0xdf
	ConvU       Opcode = 0xe0
	Arglist     Opcode = 0xfe00
	Ceq         Opcode = 0xfe01
	Cgt         Opcode = 0xfe02
	CgtUn       Opcode = 0xfe03
	Clt         Opcode = 0xfe04
	CltUn       Opcode = 0xfe05
	Ldftn       Opcode = 0xfe06
	Ldvirtftn   Opcode = 0xfe07
	Ldarg       Opcode = 0xfe09
	Ldarga      Opcode = 0xfe0a
	Starg       Opcode = 0xfe0b
	Ldloc       Opcode = 0xfe0c
	Ldloca      Opcode = 0xfe0d
	Stloc       Opcode = 0xfe0e
	Localloc    Opcode = 0xfe0f
	Endfilter   Opcode = 0xfe11
	Unaligned   Opcode = 0xfe12
	Volatile    Opcode = 0xfe13
	Tail        Opcode = 0xfe14
	Initobj     Opcode = 0xfe15
	Constrained Opcode = 0xfe16
	Cpblk       Opcode = 0xfe17
	Initblk     Opcode = 0xfe18
	No          Opcode = 0xfe19
	Rethrow     Opcode = 0xfe1a
	Sizeof      Opcode = 0xfe1c
	Refanytype  Opcode = 0xfe1d
	Readonly    Opcode = 0xfe1e
)

const twoBytePrefix = 0xfe

var opcodeTable = [...]OpcodeInfo{
	{Nop, "nop", InlineNone, 0, 0, FlowNext},
	{Break, "break", InlineNone, 0, 0, FlowBreak},
	{Ldarg0, "ldarg.0", InlineNone, 0, 1, FlowNext},
	{Ldarg1, "ldarg.1", InlineNone, 0, 1, FlowNext},
	{Ldarg2, "ldarg.2", InlineNone, 0, 1, FlowNext},
	{Ldarg3, "ldarg.3", InlineNone, 0, 1, FlowNext},
	{Ldloc0, "ldloc.0", InlineNone, 0, 1, FlowNext},
	{Ldloc1, "ldloc.1", InlineNone, 0, 1, FlowNext},
	{Ldloc2, "ldloc.2", InlineNone, 0, 1, FlowNext},
	{Ldloc3, "ldloc.3", InlineNone, 0, 1, FlowNext},
	{Stloc0, "stloc.0", InlineNone, 1, 0, FlowNext},
	{Stloc1, "stloc.1", InlineNone, 1, 0, FlowNext},
	{Stloc2, "stloc.2", InlineNone, 1, 0, FlowNext},
	{Stloc3, "stloc.3", InlineNone, 1, 0, FlowNext},
	{LdargS, "ldarg.s", InlineShortVar, 0, 1, FlowNext},
	{LdargaS, "ldarga.s", InlineShortVar, 0, 1, FlowNext},
	{StargS, "starg.s", InlineShortVar, 1, 0, FlowNext},
	{LdlocS, "ldloc.s", InlineShortVar, 0, 1, FlowNext},
	{LdlocaS, "ldloca.s", InlineShortVar, 0, 1, FlowNext},
	{StlocS, "stloc.s", InlineShortVar, 1, 0, FlowNext},
	{Ldnull, "ldnull", InlineNone, 0, 1, FlowNext},
	{LdcI4M1, "ldc.i4.m1", InlineNone, 0, 1, FlowNext},
	{LdcI40, "ldc.i4.0", InlineNone, 0, 1, FlowNext},
	{LdcI41, "ldc.i4.1", InlineNone, 0, 1, FlowNext},
	{LdcI42, "ldc.i4.2", InlineNone, 0, 1, FlowNext},
	{LdcI43, "ldc.i4.3", InlineNone, 0, 1, FlowNext},
	{LdcI44, "ldc.i4.4", InlineNone, 0, 1, FlowNext},
	{LdcI45, "ldc.i4.5", InlineNone, 0, 1, FlowNext},
	{LdcI46, "ldc.i4.6", InlineNone, 0, 1, FlowNext},
	{LdcI47, "ldc.i4.7", InlineNone, 0, 1, FlowNext},
	{LdcI48, "ldc.i4.8", InlineNone, 0, 1, FlowNext},
	{LdcI4S, "ldc.i4.s", InlineShortI, 0, 1, FlowNext},
	{LdcI4, "ldc.i4", InlineI, 0, 1, FlowNext},
	{LdcI8, "ldc.i8", InlineI8, 0, 1, FlowNext},
	{LdcR4, "ldc.r4", InlineShortR, 0, 1, FlowNext},
	{LdcR8, "ldc.r8", InlineR, 0, 1, FlowNext},
	{Dup, "dup", InlineNone, 1, 2, FlowNext},
	{Pop, "pop", InlineNone, 1, 0, FlowNext},
	{Jmp, "jmp", InlineMethod, 0, 0, FlowReturn},
	{Call, "call", InlineMethod, VarStack, VarStack, FlowCall},
	{Calli, "calli", InlineSig, VarStack, VarStack, FlowCall},
	{Ret, "ret", InlineNone, VarStack, 0, FlowReturn},
	{BrS, "br.s", InlineShortBr, 0, 0, FlowBranch},
	{BrfalseS, "brfalse.s", InlineShortBr, 1, 0, FlowCondBranch},
	{BrtrueS, "brtrue.s", InlineShortBr, 1, 0, FlowCondBranch},
	{BeqS, "beq.s", InlineShortBr, 2, 0, FlowCondBranch},
	{BgeS, "bge.s", InlineShortBr, 2, 0, FlowCondBranch},
	{BgtS, "bgt.s", InlineShortBr, 2, 0, FlowCondBranch},
	{BleS, "ble.s", InlineShortBr, 2, 0, FlowCondBranch},
	{BltS, "blt.s", InlineShortBr, 2, 0, FlowCondBranch},
	{BneUnS, "bne.un.s", InlineShortBr, 2, 0, FlowCondBranch},
	{BgeUnS, "bge.un.s", InlineShortBr, 2, 0, FlowCondBranch},
	{BgtUnS, "bgt.un.s", InlineShortBr, 2, 0, FlowCondBranch},
	{BleUnS, "ble.un.s", InlineShortBr, 2, 0, FlowCondBranch},
	{BltUnS, "blt.un.s", InlineShortBr, 2, 0, FlowCondBranch},
	{Br, "br", InlineBr, 0, 0, FlowBranch},
	{Brfalse, "brfalse", InlineBr, 1, 0, FlowCondBranch},
	{Brtrue, "brtrue", InlineBr, 1, 0, FlowCondBranch},
	{Beq, "beq", InlineBr, 2, 0, FlowCondBranch},
	{Bge, "bge", InlineBr, 2, 0, FlowCondBranch},
	{Bgt, "bgt", InlineBr, 2, 0, FlowCondBranch},
	{Ble, "ble", InlineBr, 2, 0, FlowCondBranch},
	{Blt, "blt", InlineBr, 2, 0, FlowCondBranch},
	{BneUn, "bne.un", InlineBr, 2, 0, FlowCondBranch},
	{BgeUn, "bge.un", InlineBr, 2, 0, FlowCondBranch},
	{BgtUn, "bgt.un", InlineBr, 2, 0, FlowCondBranch},
	{BleUn, "ble.un", InlineBr, 2, 0, FlowCondBranch},
	{BltUn, "blt.un", InlineBr, 2, 0, FlowCondBranch},
	{Switch, "switch", InlineSwitch, 1, 0, FlowCondBranch},
	{LdindI1, "ldind.i1", InlineNone, 1, 1, FlowNext},
	{LdindU1, "ldind.u1", InlineNone, 1, 1, FlowNext},
	{LdindI2, "ldind.i2", InlineNone, 1, 1, FlowNext},
	{LdindU2, "ldind.u2", InlineNone, 1, 1, FlowNext},
	{LdindI4, "ldind.i4", InlineNone, 1, 1, FlowNext},
	{LdindU4, "ldind.u4", InlineNone, 1, 1, FlowNext},
	{LdindI8, "ldind.i8", InlineNone, 1, 1, FlowNext},
	{LdindI, "ldind.i", InlineNone, 1, 1, FlowNext},
	{LdindR4, "ldind.r4", InlineNone, 1, 1, FlowNext},
	{LdindR8, "ldind.r8", InlineNone, 1, 1, FlowNext},
	{LdindRef, "ldind.ref", InlineNone, 1, 1, FlowNext},
	{StindRef, "stind.ref", InlineNone, 2, 0, FlowNext},
	{StindI1, "stind.i1", InlineNone, 2, 0, FlowNext},
	{StindI2, "stind.i2", InlineNone, 2, 0, FlowNext},
	{StindI4, "stind.i4", InlineNone, 2, 0, FlowNext},
	{StindI8, "stind.i8", InlineNone, 2, 0, FlowNext},
	{StindR4, "stind.r4", InlineNone, 2, 0, FlowNext},
	{StindR8, "stind.r8", InlineNone, 2, 0, FlowNext},
	{Add, "add", InlineNone, 2, 1, FlowNext},
	{Sub, "sub", InlineNone, 2, 1, FlowNext},
	{Mul, "mul", InlineNone, 2, 1, FlowNext},
	{Div, "div", InlineNone, 2, 1, FlowNext},
	{DivUn, "div.un", InlineNone, 2, 1, FlowNext},
	{Rem, "rem", InlineNone, 2, 1, FlowNext},
	{RemUn, "rem.un", InlineNone, 2, 1, FlowNext},
	{And, "and", InlineNone, 2, 1, FlowNext},
	{Or, "or", InlineNone, 2, 1, FlowNext},
	{Xor, "xor", InlineNone, 2, 1, FlowNext},
	{Shl, "shl", InlineNone, 2, 1, FlowNext},
	{Shr, "shr", InlineNone, 2, 1, FlowNext},
	{ShrUn, "shr.un", InlineNone, 2, 1, FlowNext},
	{Neg, "neg", InlineNone, 1, 1, FlowNext},
	{Not, "not", InlineNone, 1, 1, FlowNext},
	{ConvI1, "conv.i1", InlineNone, 1, 1, FlowNext},
	{ConvI2, "conv.i2", InlineNone, 1, 1, FlowNext},
	{ConvI4, "conv.i4", InlineNone, 1, 1, FlowNext},
	{ConvI8, "conv.i8", InlineNone, 1, 1, FlowNext},
	{ConvR4, "conv.r4", InlineNone, 1, 1, FlowNext},
	{ConvR8, "conv.r8", InlineNone, 1, 1, FlowNext},
	{ConvU4, "conv.u4", InlineNone, 1, 1, FlowNext},
	{ConvU8, "conv.u8", InlineNone, 1, 1, FlowNext},
	{Callvirt, "callvirt", InlineMethod, VarStack, VarStack, FlowCall},
	{Cpobj, "cpobj", InlineType, 2, 0, FlowNext},
	{Ldobj, "ldobj", InlineType, 1, 1, FlowNext},
	{Ldstr, "ldstr", InlineString, 0, 1, FlowNext},
	{Newobj, "newobj", InlineMethod, VarStack, 1, FlowCall},
	{Castclass, "castclass", InlineType, 1, 1, FlowNext},
	{Isinst, "isinst", InlineType, 1, 1, FlowNext},
	{ConvRUn, "conv.r.un", InlineNone, 1, 1, FlowNext},
	{Unbox, "unbox", InlineType, 1, 1, FlowNext},
	{Throw, "throw", InlineNone, 1, 0, FlowThrow},
	{Ldfld, "ldfld", InlineField, 1, 1, FlowNext},
	{Ldflda, "ldflda", InlineField, 1, 1, FlowNext},
	{Stfld, "stfld", InlineField, 2, 0, FlowNext},
	{Ldsfld, "ldsfld", InlineField, 0, 1, FlowNext},
	{Ldsflda, "ldsflda", InlineField, 0, 1, FlowNext},
	{Stsfld, "stsfld", InlineField, 1, 0, FlowNext},
	{Stobj, "stobj", InlineType, 2, 0, FlowNext},
	{ConvOvfI1Un, "conv.ovf.i1.un", InlineNone, 1, 1, FlowNext},
	{ConvOvfI2Un, "conv.ovf.i2.un", InlineNone, 1, 1, FlowNext},
	{ConvOvfI4Un, "conv.ovf.i4.un", InlineNone, 1, 1, FlowNext},
	{ConvOvfI8Un, "conv.ovf.i8.un", InlineNone, 1, 1, FlowNext},
	{ConvOvfU1Un, "conv.ovf.u1.un", InlineNone, 1, 1, FlowNext},
	{ConvOvfU2Un, "conv.ovf.u2.un", InlineNone, 1, 1, FlowNext},
	{ConvOvfU4Un, "conv.ovf.u4.un", InlineNone, 1, 1, FlowNext},
	{ConvOvfU8Un, "conv.ovf.u8.un", InlineNone, 1, 1, FlowNext},
	{ConvOvfIUn, "conv.ovf.i.un", InlineNone, 1, 1, FlowNext},
	{ConvOvfUUn, "conv.ovf.u.un", InlineNone, 1, 1, FlowNext},
	{Box, "box", InlineType, 1, 1, FlowNext},
	{Newarr, "newarr", InlineType, 1, 1, FlowNext},
	{Ldlen, "ldlen", InlineNone, 1, 1, FlowNext},
	{Ldelema, "ldelema", InlineType, 2, 1, FlowNext},
	{LdelemI1, "ldelem.i1", InlineNone, 2, 1, FlowNext},
	{LdelemU1, "ldelem.u1", InlineNone, 2, 1, FlowNext},
	{LdelemI2, "ldelem.i2", InlineNone, 2, 1, FlowNext},
	{LdelemU2, "ldelem.u2", InlineNone, 2, 1, FlowNext},
	{LdelemI4, "ldelem.i4", InlineNone, 2, 1, FlowNext},
	{LdelemU4, "ldelem.u4", InlineNone, 2, 1, FlowNext},
	{LdelemI8, "ldelem.i8", InlineNone, 2, 1, FlowNext},
	{LdelemI, "ldelem.i", InlineNone, 2, 1, FlowNext},
	{LdelemR4, "ldelem.r4", InlineNone, 2, 1, FlowNext},
	{LdelemR8, "ldelem.r8", InlineNone, 2, 1, FlowNext},
	{LdelemRef, "ldelem.ref", InlineNone, 2, 1, FlowNext},
	{StelemI, "stelem.i", InlineNone, 3, 0, FlowNext},
	{StelemI1, "stelem.i1", InlineNone, 3, 0, FlowNext},
	{StelemI2, "stelem.i2", InlineNone, 3, 0, FlowNext},
	{StelemI4, "stelem.i4", InlineNone, 3, 0, FlowNext},
	{StelemI8, "stelem.i8", InlineNone, 3, 0, FlowNext},
	{StelemR4, "stelem.r4", InlineNone, 3, 0, FlowNext},
	{StelemR8, "stelem.r8", InlineNone, 3, 0, FlowNext},
	{StelemRef, "stelem.ref", InlineNone, 3, 0, FlowNext},
	{Ldelem, "ldelem", InlineType, 2, 1, FlowNext},
	{Stelem, "stelem", InlineType, 3, 0, FlowNext},
	{UnboxAny, "unbox.any", InlineType, 1, 1, FlowNext},
	{ConvOvfI1, "conv.ovf.i1", InlineNone, 1, 1, FlowNext},
	{ConvOvfU1, "conv.ovf.u1", InlineNone, 1, 1, FlowNext},
	{ConvOvfI2, "conv.ovf.i2", InlineNone, 1, 1, FlowNext},
	{ConvOvfU2, "conv.ovf.u2", InlineNone, 1, 1, FlowNext},
	{ConvOvfI4, "conv.ovf.i4", InlineNone, 1, 1, FlowNext},
	{ConvOvfU4, "conv.ovf.u4", InlineNone, 1, 1, FlowNext},
	{ConvOvfI8, "conv.ovf.i8", InlineNone, 1, 1, FlowNext},
	{ConvOvfU8, "conv.ovf.u8", InlineNone, 1, 1, FlowNext},
	{Refanyval, "refanyval", InlineType, 1, 1, FlowNext},
	{Ckfinite, "ckfinite", InlineNone, 1, 1, FlowNext},
	{Mkrefany, "mkrefany", InlineType, 1, 1, FlowNext},
	{Ldtoken, "ldtoken", InlineTok, 0, 1, FlowNext},
	{ConvU2, "conv.u2", InlineNone, 1, 1, FlowNext},
	{ConvU1, "conv.u1", InlineNone, 1, 1, FlowNext},
	{ConvI, "conv.i", InlineNone, 1, 1, FlowNext},
	{ConvOvfI, "conv.ovf.i", InlineNone, 1, 1, FlowNext},
	{ConvOvfU, "conv.ovf.u", InlineNone, 1, 1, FlowNext},
	{AddOvf, "add.ovf", InlineNone, 2, 1, FlowNext},
	{AddOvfUn, "add.ovf.un", InlineNone, 2, 1, FlowNext},
	{MulOvf, "mul.ovf", InlineNone, 2, 1, FlowNext},
	{MulOvfUn, "mul.ovf.un", InlineNone, 2, 1, FlowNext},
	{SubOvf, "sub.ovf", InlineNone, 2, 1, FlowNext},
	{SubOvfUn, "sub.ovf.un", InlineNone, 2, 1, FlowNext},
	{Endfinally, "endfinally", InlineNone, 0, 0, FlowReturn},
	{Leave, "leave", InlineBr, 0, 0, FlowBranch},
	{LeaveS, "leave.s", InlineShortBr, 0, 0, FlowBranch},
	{StindI, "stind.i", InlineNone, 2, 0, FlowNext},
	{ConvU, "conv.u", InlineNone, 1, 1, FlowNext},
	{Arglist, "arglist", InlineNone, 0, 1, FlowNext},
	{Ceq, "ceq", InlineNone, 2, 1, FlowNext},
	{Cgt, "cgt", InlineNone, 2, 1, FlowNext},
	{CgtUn, "cgt.un", InlineNone, 2, 1, FlowNext},
	{Clt, "clt", InlineNone, 2, 1, FlowNext},
	{CltUn, "clt.un", InlineNone, 2, 1, FlowNext},
	{Ldftn, "ldftn", InlineMethod, 0, 1, FlowNext},
	{Ldvirtftn, "ldvirtftn", InlineMethod, 1, 1, FlowNext},
	{Ldarg, "ldarg", InlineVar, 0, 1, FlowNext},
	{Ldarga, "ldarga", InlineVar, 0, 1, FlowNext},
	{Starg, "starg", InlineVar, 1, 0, FlowNext},
	{Ldloc, "ldloc", InlineVar, 0, 1, FlowNext},
	{Ldloca, "ldloca", InlineVar, 0, 1, FlowNext},
	{Stloc, "stloc", InlineVar, 1, 0, FlowNext},
	{Localloc, "localloc", InlineNone, 1, 1, FlowNext},
	{Endfilter, "endfilter", InlineNone, 1, 0, FlowReturn},
	{Unaligned, "unaligned.", InlineShortI, 0, 0, FlowMeta},
	{Volatile, "volatile.", InlineNone, 0, 0, FlowMeta},
	{Tail, "tail.", InlineNone, 0, 0, FlowMeta},
	{Initobj, "initobj", InlineType, 1, 0, FlowNext},
	{Constrained, "constrained.", InlineType, 0, 0, FlowMeta},
	{Cpblk, "cpblk", InlineNone, 3, 0, FlowNext},
	{Initblk, "initblk", InlineNone, 3, 0, FlowNext},
	{No, "no.", InlineShortI, 0, 0, FlowMeta},
	{Rethrow, "rethrow", InlineNone, 0, 0, FlowThrow},
	{Sizeof, "sizeof", InlineType, 0, 1, FlowNext},
	{Refanytype, "refanytype", InlineNone, 1, 1, FlowNext},
	{Readonly, "readonly.", InlineNone, 0, 0, FlowMeta},
}

var (
	oneByteOpcodes [256]*OpcodeInfo
	twoByteOpcodes [256]*OpcodeInfo
)

func init() {
	for i := range opcodeTable {
		info := &opcodeTable[i]
		if info.Opcode.IsTwoByte() {
			twoByteOpcodes[byte(info.Opcode)] = info
		} else {
			oneByteOpcodes[byte(info.Opcode)] = info
		}
	}
}

// IsTwoByte reports whether the opcode is encoded with the 0xfe prefix.
func (o Opcode) IsTwoByte() bool {
	return o>>8 == twoBytePrefix
}

// Size returns the encoded size of the opcode itself.
func (o Opcode) Size() int {
	if o.IsTwoByte() {
		return 2
	}
	return 1
}

// Info returns the opcode description or nil for unknown opcodes.
func (o Opcode) Info() *OpcodeInfo {
	switch o >> 8 {
	case 0:
		return oneByteOpcodes[byte(o)]
	case twoBytePrefix:
		return twoByteOpcodes[byte(o)]
	}
	return nil
}

func (o Opcode) String() string {
	if info := o.Info(); info != nil {
		return info.Name
	}
	return fmt.Sprintf("opcode(%#x)", uint16(o))
}

func (o Opcode) appendTo(buf []byte) []byte {
	if o.IsTwoByte() {
		return append(buf, twoBytePrefix, byte(o))
	}
	return append(buf, byte(o))
}

// longBranch maps short branch opcodes to their 4 byte offset forms.
var longBranch = map[Opcode]Opcode{
	BrS:      Br,
	BrfalseS: Brfalse,
	BrtrueS:  Brtrue,
	BeqS:     Beq,
	BgeS:     Bge,
	BgtS:     Bgt,
	BleS:     Ble,
	BltS:     Blt,
	BneUnS:   BneUn,
	BgeUnS:   BgeUn,
	BgtUnS:   BgtUn,
	BleUnS:   BleUn,
	BltUnS:   BltUn,
	LeaveS:   Leave,
}

// LongForm returns the long offset form of a branch opcode. Other opcodes are
// returned unchanged.
func (o Opcode) LongForm() Opcode {
	if long, ok := longBranch[o]; ok {
		return long
	}
	return o
}
