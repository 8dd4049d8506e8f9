// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package cil // import "go.opentelemetry.io/clr-profiler/cil"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.opentelemetry.io/clr-profiler/methodbody"
)

var (
	// ErrUnresolvedLabel is returned by Finalize when a referenced label was
	// never placed.
	ErrUnresolvedLabel = errors.New("unresolved label")
	// ErrBranchOutOfRange is returned when a short branch cannot reach its target.
	ErrBranchOutOfRange = errors.New("branch target out of range")
	// ErrLabelPlaced is returned when a label is placed twice.
	ErrLabelPlaced = errors.New("label already placed")
	// ErrInvalidOperand is returned when an opcode is appended with the wrong
	// kind of operand.
	ErrInvalidOperand = errors.New("invalid operand")
	// ErrInvalidOriginalBody is returned when the original code or its clauses
	// cannot be re-encoded.
	ErrInvalidOriginalBody = errors.New("invalid original body")
)

// CoreLibrary is the assembly textual references use for framework types.
const CoreLibrary = "mscorlib"

var catchAllType = TypeName{Assembly: CoreLibrary, Name: "System.Object"}

// Label identifies a position in an InstructionSet.
type Label int

type operandSource uint8

const (
	operandNone operandSource = iota
	operandImmediate
	operandLabel
	operandSwitch
	operandToken
	operandMember
	operandType
	operandString
	operandTypeSpec
	operandRaw
)

type instruction struct {
	op      Opcode
	source  operandSource
	imm     uint64
	label   Label
	targets []Label
	token   uint32
	text    string
	member  *MemberRef
	typ     TypeName
	blob    []byte
}

func (i *instruction) size() int {
	if i.source == operandRaw {
		return len(i.blob)
	}
	info := i.op.Info()
	if info.Operand == InlineSwitch {
		return i.op.Size() + 4 + 4*len(i.targets)
	}
	return i.op.Size() + info.Operand.Size()
}

type labelState struct {
	// index is the instruction the label precedes, -1 until placed.
	index int
	used  bool
	// depth is the stack depth of jumps to the label.
	depth int
}

// position is a label plus a byte offset, used for clauses of copied code.
type position struct {
	label Label
	delta uint32
}

type clause struct {
	flags        methodbody.ClauseFlags
	tryStart     position
	tryEnd       position
	handlerStart position
	handlerEnd   position
	filter       position
	hasFilter    bool
	classToken   uint32
	className    *TypeName
}

// Output is a finalized instruction stream.
type Output struct {
	Code     []byte
	Clauses  []methodbody.ExceptionClause
	MaxStack uint16
}

// InstructionSet accumulates instructions for a new method body. Tokens for
// textual references are created through the Tokenizer during Finalize. The
// first error sticks and is returned from Err and Finalize.
type InstructionSet struct {
	tokenizer Tokenizer
	instrs    []instruction
	labels    []labelState
	named     map[string]Label
	clauses   []clause

	depth    int
	maxDepth int
	// ended is set after an instruction that does not fall through.
	ended bool

	err error
}

// NewInstructionSet creates an empty stream.
func NewInstructionSet(tokenizer Tokenizer) *InstructionSet {
	return &InstructionSet{
		tokenizer: tokenizer,
		named:     make(map[string]Label),
	}
}

// Err returns the first error encountered while appending.
func (s *InstructionSet) Err() error {
	return s.err
}

func (s *InstructionSet) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

// MaxStack returns the maximum stack depth of the tracked instructions.
func (s *InstructionSet) MaxStack() int {
	return s.maxDepth
}

func (s *InstructionSet) setDepth(depth int) {
	s.depth = depth
	if depth > s.maxDepth {
		s.maxDepth = depth
	}
}

// emit appends an instruction and applies its stack effect. The tracked depth
// never drops below zero, which lets copied original code that is not tracked
// consume values it produced itself.
func (s *InstructionSet) emit(inst instruction, pop, push int) {
	if s.err != nil {
		return
	}
	s.instrs = append(s.instrs, inst)
	depth := s.depth - pop
	if depth < 0 {
		depth = 0
	}
	s.setDepth(depth + push)
	s.ended = false
	if info := inst.op.Info(); info != nil && info.EndsBlock() {
		s.ended = true
		s.depth = 0
	}
}

// info validates that op accepts operands of one of the given kinds.
func (s *InstructionSet) info(op Opcode, kinds ...OperandKind) *OpcodeInfo {
	if s.err != nil {
		return nil
	}
	info := op.Info()
	if info == nil {
		s.fail(fmt.Errorf("%w: %#x", ErrUnknownOpcode, uint16(op)))
		return nil
	}
	for _, k := range kinds {
		if info.Operand == k {
			return info
		}
	}
	s.fail(fmt.Errorf("%w for %s", ErrInvalidOperand, info.Name))
	return nil
}

func (s *InstructionSet) stackEffect(info *OpcodeInfo) (pop, push int) {
	pop, push = int(info.Pop), int(info.Push)
	if info.Pop == VarStack {
		// ret: everything left is the return value
		pop = s.depth
	}
	return pop, push
}

// Append appends an opcode without operand.
func (s *InstructionSet) Append(op Opcode) {
	info := s.info(op, InlineNone)
	if info == nil {
		return
	}
	pop, push := s.stackEffect(info)
	s.emit(instruction{op: op}, pop, push)
}

// AppendInt appends an opcode with an integer or variable index operand.
func (s *InstructionSet) AppendInt(op Opcode, v int32) {
	info := s.info(op, InlineShortI, InlineI, InlineShortVar, InlineVar)
	if info == nil {
		return
	}
	var ok bool
	switch info.Operand {
	case InlineShortI:
		ok = v >= math.MinInt8 && v <= math.MaxInt8
	case InlineShortVar:
		ok = v >= 0 && v <= math.MaxUint8
	case InlineVar:
		ok = v >= 0 && v <= math.MaxUint16
	default:
		ok = true
	}
	if !ok {
		s.fail(fmt.Errorf("%w: %d does not fit %s", ErrInvalidOperand, v, info.Name))
		return
	}
	pop, push := s.stackEffect(info)
	s.emit(instruction{op: op, source: operandImmediate, imm: uint64(uint32(v))}, pop, push)
}

// AppendInt64 appends ldc.i8.
func (s *InstructionSet) AppendInt64(op Opcode, v int64) {
	if info := s.info(op, InlineI8); info != nil {
		s.emit(instruction{op: op, source: operandImmediate, imm: uint64(v)}, 0, 1)
	}
}

// AppendFloat32 appends ldc.r4.
func (s *InstructionSet) AppendFloat32(op Opcode, v float32) {
	if info := s.info(op, InlineShortR); info != nil {
		s.emit(instruction{op: op, source: operandImmediate,
			imm: uint64(math.Float32bits(v))}, 0, 1)
	}
}

// AppendFloat64 appends ldc.r8.
func (s *InstructionSet) AppendFloat64(op Opcode, v float64) {
	if info := s.info(op, InlineR); info != nil {
		s.emit(instruction{op: op, source: operandImmediate, imm: math.Float64bits(v)}, 0, 1)
	}
}

// AppendToken appends an opcode with an existing metadata token. Calls need
// their signature for stack tracking and go through AppendCall.
func (s *InstructionSet) AppendToken(op Opcode, token uint32) {
	info := s.info(op, InlineMethod, InlineField, InlineType, InlineTok, InlineString, InlineSig)
	if info == nil {
		return
	}
	if info.Pop == VarStack || info.Push == VarStack {
		s.fail(fmt.Errorf("%w: %s needs a member reference", ErrInvalidOperand, info.Name))
		return
	}
	s.emit(instruction{op: op, source: operandToken, token: token},
		int(info.Pop), int(info.Push))
}

// AppendString appends ldstr of an interned string.
func (s *InstructionSet) AppendString(str string) {
	if s.info(Ldstr, InlineString) != nil {
		s.emit(instruction{op: Ldstr, source: operandString, text: str}, 0, 1)
	}
}

// AppendCall appends a call, callvirt, newobj, ldftn or jmp to a textual member
// reference such as "instance object [mscorlib]System.Type::GetMethod(string)".
func (s *InstructionSet) AppendCall(op Opcode, memberRef string) {
	info := s.info(op, InlineMethod)
	if info == nil {
		return
	}
	ref, err := ParseMemberRef(memberRef)
	if err != nil {
		s.fail(err)
		return
	}
	pop, push := int(info.Pop), int(info.Push)
	if info.Pop == VarStack {
		pop, push = ref.StackEffect(op)
	}
	s.emit(instruction{op: op, source: operandMember, text: memberRef, member: ref}, pop, push)
}

// AppendType appends an opcode with a textual type reference, "[mscorlib]System.Object".
func (s *InstructionSet) AppendType(op Opcode, typeRef string) {
	info := s.info(op, InlineType, InlineTok)
	if info == nil {
		return
	}
	name, err := ParseTypeRef(typeRef)
	if err != nil {
		s.fail(err)
		return
	}
	s.emit(instruction{op: op, source: operandType, typ: name}, int(info.Pop), int(info.Push))
}

// AppendTypeSignature appends an opcode with a TypeSpec token for the encoded type.
func (s *InstructionSet) AppendTypeSignature(op Opcode, blob []byte) {
	info := s.info(op, InlineType, InlineTok)
	if info == nil {
		return
	}
	s.emit(instruction{op: op, source: operandTypeSpec, blob: blob}, int(info.Pop), int(info.Push))
}

// AppendLoadInt32 appends the shortest ldc.i4 form for v.
func (s *InstructionSet) AppendLoadInt32(v int32) {
	switch {
	case v >= -1 && v <= 8:
		s.Append(LdcI40 + Opcode(v))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		s.AppendInt(LdcI4S, v)
	default:
		s.AppendInt(LdcI4, v)
	}
}

func (s *InstructionSet) appendIndexed(index uint16, short [4]Opcode, shortForm, longForm Opcode) {
	switch {
	case index < 4:
		s.Append(short[index])
	case index <= math.MaxUint8:
		s.AppendInt(shortForm, int32(index))
	default:
		s.AppendInt(longForm, int32(index))
	}
}

// AppendLoadArg appends the shortest ldarg form.
func (s *InstructionSet) AppendLoadArg(index uint16) {
	s.appendIndexed(index, [4]Opcode{Ldarg0, Ldarg1, Ldarg2, Ldarg3}, LdargS, Ldarg)
}

// AppendLoadLocal appends the shortest ldloc form.
func (s *InstructionSet) AppendLoadLocal(index uint16) {
	s.appendIndexed(index, [4]Opcode{Ldloc0, Ldloc1, Ldloc2, Ldloc3}, LdlocS, Ldloc)
}

// AppendStoreLocal appends the shortest stloc form.
func (s *InstructionSet) AppendStoreLocal(index uint16) {
	s.appendIndexed(index, [4]Opcode{Stloc0, Stloc1, Stloc2, Stloc3}, StlocS, Stloc)
}

// NewLabel creates a label that is placed later with AppendLabel.
func (s *InstructionSet) NewLabel() Label {
	s.labels = append(s.labels, labelState{index: -1})
	return Label(len(s.labels) - 1)
}

func (s *InstructionSet) namedLabel(name string) Label {
	l, ok := s.named[name]
	if !ok {
		l = s.NewLabel()
		s.named[name] = l
	}
	return l
}

// AppendLabel places the label before the next instruction.
func (s *InstructionSet) AppendLabel(l Label) {
	if s.err != nil {
		return
	}
	if int(l) < 0 || int(l) >= len(s.labels) {
		s.fail(fmt.Errorf("%w: label %d does not exist", ErrUnresolvedLabel, l))
		return
	}
	state := &s.labels[l]
	if state.index >= 0 {
		s.fail(fmt.Errorf("%w: label %d", ErrLabelPlaced, l))
		return
	}
	state.index = len(s.instrs)
	if s.ended {
		s.depth = state.depth
		s.ended = false
	} else if state.depth > s.depth {
		s.setDepth(state.depth)
	}
}

// AppendLabelNamed places the named label before the next instruction.
func (s *InstructionSet) AppendLabelNamed(name string) {
	s.AppendLabel(s.namedLabel(name))
}

func (s *InstructionSet) here() Label {
	l := s.NewLabel()
	s.AppendLabel(l)
	return l
}

func (s *InstructionSet) markUsed(l Label) {
	if int(l) >= 0 && int(l) < len(s.labels) {
		s.labels[l].used = true
	} else {
		s.fail(fmt.Errorf("%w: label %d does not exist", ErrUnresolvedLabel, l))
	}
}

// AppendJump appends a branch to a new label and returns it.
func (s *InstructionSet) AppendJump(op Opcode) Label {
	l := s.NewLabel()
	s.AppendJumpTo(op, l)
	return l
}

// AppendJumpTo appends a branch to the label.
func (s *InstructionSet) AppendJumpTo(op Opcode, l Label) {
	info := s.info(op, InlineShortBr, InlineBr)
	if info == nil {
		return
	}
	s.markUsed(l)
	if s.err != nil {
		return
	}
	pop := int(info.Pop)
	depth := max(s.depth-pop, 0)
	if op == Leave || op == LeaveS {
		depth = 0
	}
	if depth > s.labels[l].depth {
		s.labels[l].depth = depth
	}
	s.emit(instruction{op: op, source: operandLabel, label: l}, pop, 0)
}

// AppendJumpNamed appends a branch to the named label.
func (s *InstructionSet) AppendJumpNamed(op Opcode, name string) {
	s.AppendJumpTo(op, s.namedLabel(name))
}

// AppendSwitch appends a switch over the labels.
func (s *InstructionSet) AppendSwitch(targets []Label) {
	if s.info(Switch, InlineSwitch) == nil {
		return
	}
	depth := max(s.depth-1, 0)
	for _, l := range targets {
		s.markUsed(l)
		if s.err == nil && depth > s.labels[l].depth {
			s.labels[l].depth = depth
		}
	}
	s.emit(instruction{op: Switch, source: operandSwitch, targets: targets}, 1, 0)
}

// appendRaw appends untracked pre-encoded instruction bytes.
func (s *InstructionSet) appendRaw(raw []byte, info *OpcodeInfo) {
	if s.err != nil {
		return
	}
	s.instrs = append(s.instrs, instruction{op: info.Opcode, source: operandRaw, blob: raw})
	s.ended = info.EndsBlock()
}

// TryCatch emits a protected region with a catch-all handler. The handler
// discards the exception before catch runs. Both blocks leave to the code
// following the handler unless they end in a control transfer.
func (s *InstructionSet) TryCatch(try, catch func()) {
	s.tryCatch(nil, try, catch)
}

// TryCatchTyped emits a protected region with a handler for exceptions of the
// textual type. The exception is on the stack when catch runs.
func (s *InstructionSet) TryCatchTyped(typeRef string, try, catch func()) {
	name, err := ParseTypeRef(typeRef)
	if err != nil {
		s.fail(err)
		return
	}
	s.tryCatch(&name, try, catch)
}

func (s *InstructionSet) tryCatch(class *TypeName, try, catch func()) {
	if s.err != nil {
		return
	}
	after := s.NewLabel()
	tryStart := s.here()
	try()
	if !s.ended {
		s.AppendJumpTo(Leave, after)
	}

	handlerStart := s.here()
	s.setDepth(1)
	if class == nil {
		s.Append(Pop)
	}
	catch()
	if !s.ended {
		s.AppendJumpTo(Leave, after)
	}
	handlerEnd := s.here()

	c := clause{
		flags:        methodbody.ClauseTyped,
		tryStart:     position{label: tryStart},
		tryEnd:       position{label: handlerStart},
		handlerStart: position{label: handlerStart},
		handlerEnd:   position{label: handlerEnd},
		className:    class,
	}
	if class == nil {
		c.className = &catchAllType
	}
	for _, l := range []Label{tryStart, handlerStart, handlerEnd} {
		s.markUsed(l)
	}
	s.clauses = append(s.clauses, c)
	s.AppendLabel(after)
}

// AppendOriginalBody re-encodes existing code. Branches are widened to their
// long forms and target labels, tail call prefixes are dropped, and every ret
// is replaced by what onReturn appends, with the return value, if any, on the
// stack.
// The code's clauses are carried over to the re-encoded offsets.
func (s *InstructionSet) AppendOriginalBody(code []byte, clauses []methodbody.ExceptionClause,
	onReturn func()) {
	if s.err != nil {
		return
	}
	instrs, err := Decode(code)
	if err != nil {
		s.fail(fmt.Errorf("%w: %w", ErrInvalidOriginalBody, err))
		return
	}

	labels := make(map[uint32]Label, len(instrs)+1)
	for i := range instrs {
		labels[instrs[i].Offset] = s.NewLabel()
	}
	end := uint32(len(code))
	labels[end] = s.NewLabel()
	branchesToEnd := false
	labelAt := func(offset uint32) Label {
		l, ok := labels[offset]
		if !ok {
			s.fail(fmt.Errorf("%w: offset %#x is not an instruction boundary",
				ErrInvalidOriginalBody, offset))
			return 0
		}
		s.markUsed(l)
		return l
	}

	for i := range instrs {
		inst := &instrs[i]
		s.AppendLabel(labels[inst.Offset])
		switch info := inst.Info; {
		case info.Opcode == Ret:
			s.setDepth(1)
			onReturn()
		case info.Opcode == Tail:
		case info.Operand == InlineShortBr || info.Operand == InlineBr:
			branchesToEnd = branchesToEnd || inst.Targets[0] == end
			target := labelAt(inst.Targets[0])
			if s.err != nil {
				return
			}
			s.instrs = append(s.instrs, instruction{op: info.Opcode.LongForm(),
				source: operandLabel, label: target})
			s.ended = info.EndsBlock()
		case info.Operand == InlineSwitch:
			targets := make([]Label, len(inst.Targets))
			for j, t := range inst.Targets {
				branchesToEnd = branchesToEnd || t == end
				targets[j] = labelAt(t)
			}
			s.instrs = append(s.instrs, instruction{op: Switch, source: operandSwitch,
				targets: targets})
			s.ended = false
		default:
			s.appendRaw(inst.Raw, info)
		}
		if s.err != nil {
			return
		}
	}
	// The end label only makes the following code reachable when a branch
	// of the original code targets it.
	ended, depth := s.ended, s.depth
	s.AppendLabel(labels[end])
	if !branchesToEnd {
		s.ended, s.depth = ended, depth
	}

	for i := range clauses {
		c := &clauses[i]
		converted := clause{
			flags:        c.Flags,
			tryStart:     position{label: labelAt(c.TryOffset)},
			tryEnd:       position{label: labelAt(c.TryEnd())},
			handlerStart: position{label: labelAt(c.HandlerOffset)},
			handlerEnd:   position{label: labelAt(c.HandlerEnd())},
			classToken:   c.ClassToken,
		}
		if c.Flags&^methodbody.ClauseDuplicated == methodbody.ClauseFilter {
			converted.filter = position{label: labelAt(c.FilterOffset)}
			converted.hasFilter = true
			converted.classToken = 0
		}
		s.clauses = append(s.clauses, converted)
	}
}

// AppendRawOriginalBody copies code byte for byte with its clauses. A final ret
// becomes a nop so execution continues after the copy.
func (s *InstructionSet) AppendRawOriginalBody(code []byte, clauses []methodbody.ExceptionClause) {
	if s.err != nil {
		return
	}
	instrs, err := Decode(code)
	if err != nil {
		s.fail(fmt.Errorf("%w: %w", ErrInvalidOriginalBody, err))
		return
	}
	if len(instrs) == 0 {
		return
	}
	copied := append([]byte(nil), code...)
	if last := &instrs[len(instrs)-1]; last.Opcode() == Ret {
		copied[last.Offset] = byte(Nop)
	}

	start := s.here()
	s.markUsed(start)
	s.instrs = append(s.instrs, instruction{op: Nop, source: operandRaw, blob: copied})
	s.ended = false

	for i := range clauses {
		c := &clauses[i]
		converted := clause{
			flags:        c.Flags,
			tryStart:     position{label: start, delta: c.TryOffset},
			tryEnd:       position{label: start, delta: c.TryEnd()},
			handlerStart: position{label: start, delta: c.HandlerOffset},
			handlerEnd:   position{label: start, delta: c.HandlerEnd()},
			classToken:   c.ClassToken,
		}
		if c.Flags&^methodbody.ClauseDuplicated == methodbody.ClauseFilter {
			converted.filter = position{label: start, delta: c.FilterOffset}
			converted.hasFilter = true
			converted.classToken = 0
		}
		s.clauses = append(s.clauses, converted)
	}
}

// Finalize lays out the instructions, resolves labels and tokens and encodes
// the code and its clauses. Clauses are ordered innermost first.
func (s *InstructionSet) Finalize() (*Output, error) {
	if s.err != nil {
		return nil, s.err
	}

	var unresolved []string
	for i := range s.labels {
		if s.labels[i].used && s.labels[i].index < 0 {
			unresolved = append(unresolved, fmt.Sprintf("%d", i))
		}
	}
	for name, l := range s.named {
		if s.labels[l].used && s.labels[l].index < 0 {
			unresolved = append(unresolved, name)
		}
	}
	if len(unresolved) != 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedLabel, strings.Join(unresolved, ", "))
	}

	offsets := make([]uint32, len(s.instrs)+1)
	for i := range s.instrs {
		offsets[i+1] = offsets[i] + uint32(s.instrs[i].size())
	}
	labelOffset := func(l Label) uint32 {
		return offsets[s.labels[l].index]
	}

	tokens := newTokenCache(s.tokenizer)
	code := make([]byte, 0, offsets[len(s.instrs)])
	for i := range s.instrs {
		var err error
		if code, err = s.encode(code, &s.instrs[i], offsets[i+1], labelOffset, tokens); err != nil {
			return nil, fmt.Errorf("failed to encode %s at %#x: %w", s.instrs[i].op,
				offsets[i], err)
		}
	}

	out := &Output{Code: code, MaxStack: uint16(min(s.maxDepth, math.MaxUint16))}
	posOffset := func(p position) uint32 {
		return labelOffset(p.label) + p.delta
	}
	for i := range s.clauses {
		c := &s.clauses[i]
		tryStart, handlerStart := posOffset(c.tryStart), posOffset(c.handlerStart)
		ec := methodbody.ExceptionClause{
			Flags:         c.flags,
			TryOffset:     tryStart,
			TryLength:     posOffset(c.tryEnd) - tryStart,
			HandlerOffset: handlerStart,
			HandlerLength: posOffset(c.handlerEnd) - handlerStart,
			ClassToken:    c.classToken,
		}
		if c.hasFilter {
			ec.FilterOffset = posOffset(c.filter)
		}
		if c.className != nil {
			token, err := tokens.typeRef(*c.className)
			if err != nil {
				return nil, err
			}
			ec.ClassToken = token
		}
		out.Clauses = append(out.Clauses, ec)
	}
	return out, nil
}

func (s *InstructionSet) encode(code []byte, inst *instruction, next uint32,
	labelOffset func(Label) uint32, tokens *tokenCache) ([]byte, error) {
	if inst.source == operandRaw {
		return append(code, inst.blob...), nil
	}
	code = inst.op.appendTo(code)
	info := inst.op.Info()

	appendToken := func(token uint32, err error) ([]byte, error) {
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint32(code, token), nil
	}

	switch inst.source {
	case operandNone:
		return code, nil
	case operandImmediate:
		switch info.Operand.Size() {
		case 1:
			return append(code, byte(inst.imm)), nil
		case 2:
			return binary.LittleEndian.AppendUint16(code, uint16(inst.imm)), nil
		case 4:
			return binary.LittleEndian.AppendUint32(code, uint32(inst.imm)), nil
		default:
			return binary.LittleEndian.AppendUint64(code, inst.imm), nil
		}
	case operandLabel:
		rel := int64(labelOffset(inst.label)) - int64(next)
		if info.Operand == InlineShortBr {
			if rel < math.MinInt8 || rel > math.MaxInt8 {
				return nil, fmt.Errorf("%w: %d bytes", ErrBranchOutOfRange, rel)
			}
			return append(code, byte(int8(rel))), nil
		}
		return binary.LittleEndian.AppendUint32(code, uint32(int32(rel))), nil
	case operandSwitch:
		code = binary.LittleEndian.AppendUint32(code, uint32(len(inst.targets)))
		for _, l := range inst.targets {
			code = binary.LittleEndian.AppendUint32(code,
				uint32(int32(int64(labelOffset(l))-int64(next))))
		}
		return code, nil
	case operandToken:
		return appendToken(inst.token, nil)
	case operandMember:
		return appendToken(tokens.memberRef(inst.text, inst.member))
	case operandType:
		return appendToken(tokens.typeRef(inst.typ))
	case operandString:
		return appendToken(tokens.stringToken(inst.text))
	case operandTypeSpec:
		return appendToken(tokens.typeSpec(inst.blob))
	}
	return nil, fmt.Errorf("%w: operand source %d", ErrInvalidOperand, inst.source)
}
