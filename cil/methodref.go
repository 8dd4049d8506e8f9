// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package cil // import "go.opentelemetry.io/clr-profiler/cil"

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/clr-profiler/sigparser"
)

// ErrSyntax is returned for member and type references that cannot be parsed.
var ErrSyntax = errors.New("invalid reference syntax")

// TypeName is a type referenced by assembly and full name, "[mscorlib]System.Type".
type TypeName struct {
	Assembly string
	Name     string
}

func (n TypeName) String() string {
	return "[" + n.Assembly + "]" + n.Name
}

// TypeSig is a type in a textual member reference.
type TypeSig struct {
	// Element is a primitive type, ElementClass, ElementValueType, ElementVar
	// or ElementMVar.
	Element sigparser.ElementType
	Class   TypeName
	Number  uint32
	// Suffixes are ElementSzArray, ElementByRef and ElementPtr, innermost first.
	Suffixes []sigparser.ElementType
}

// IsVoid reports whether the type is a plain void.
func (t *TypeSig) IsVoid() bool {
	return t.Element == sigparser.ElementVoid && len(t.Suffixes) == 0
}

// MemberRef is a parsed method reference such as
// "instance object [mscorlib]System.Reflection.MethodBase::Invoke(object, object[])".
type MemberRef struct {
	Instance bool
	Return   TypeSig
	Parent   TypeName
	Name     string
	Params   []TypeSig
}

// StackEffect returns the slots a call through op pops and pushes.
func (m *MemberRef) StackEffect(op Opcode) (pop, push int) {
	pop = len(m.Params)
	if op == Newobj {
		return pop, 1
	}
	if m.Instance {
		pop++
	}
	if !m.Return.IsVoid() {
		push = 1
	}
	return pop, push
}

var primitiveKeywords = map[string]sigparser.ElementType{
	"void":     sigparser.ElementVoid,
	"bool":     sigparser.ElementBoolean,
	"char":     sigparser.ElementChar,
	"int8":     sigparser.ElementI1,
	"uint8":    sigparser.ElementU1,
	"int16":    sigparser.ElementI2,
	"uint16":   sigparser.ElementU2,
	"int32":    sigparser.ElementI4,
	"uint32":   sigparser.ElementU4,
	"int64":    sigparser.ElementI8,
	"uint64":   sigparser.ElementU8,
	"float32":  sigparser.ElementR4,
	"float64":  sigparser.ElementR8,
	"string":   sigparser.ElementString,
	"object":   sigparser.ElementObject,
	"typedref": sigparser.ElementTypedByRef,
}

// refLexer splits reference text into identifiers and punctuation.
type refLexer struct {
	text string
	pos  int
	err  error
}

func isIdentByte(c byte) bool {
	return c == '.' || c == '_' || c == '`' || c == '$' || c == '<' || c == '>' ||
		c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func (l *refLexer) skipSpace() {
	for l.pos < len(l.text) && (l.text[l.pos] == ' ' || l.text[l.pos] == '\t') {
		l.pos++
	}
}

// peek returns the next token without consuming it, "" at the end.
func (l *refLexer) peek() string {
	l.skipSpace()
	if l.pos >= len(l.text) {
		return ""
	}
	if strings.HasPrefix(l.text[l.pos:], "::") {
		return "::"
	}
	if strings.HasPrefix(l.text[l.pos:], "!!") {
		return "!!"
	}
	if !isIdentByte(l.text[l.pos]) {
		return l.text[l.pos : l.pos+1]
	}
	end := l.pos
	for end < len(l.text) && isIdentByte(l.text[end]) {
		end++
	}
	return l.text[l.pos:end]
}

func (l *refLexer) next() string {
	tok := l.peek()
	l.pos += len(tok)
	return tok
}

// arraySuffix reports whether the next tokens are "[]".
func (l *refLexer) arraySuffix() bool {
	save := l.pos
	defer func() { l.pos = save }()
	return l.next() == "[" && l.next() == "]"
}

func (l *refLexer) fail(format string, args ...any) {
	if l.err == nil {
		l.err = fmt.Errorf("%w: %s at offset %d of %q", ErrSyntax,
			fmt.Sprintf(format, args...), l.pos, l.text)
	}
}

func (l *refLexer) expect(tok string) {
	if l.err != nil {
		return
	}
	if got := l.next(); got != tok {
		l.fail("expected %q, found %q", tok, got)
	}
}

func (l *refLexer) ident() string {
	if l.err != nil {
		return ""
	}
	tok := l.next()
	if tok == "" || !isIdentByte(tok[0]) {
		l.fail("expected identifier, found %q", tok)
		return ""
	}
	return tok
}

func (l *refLexer) typeName() TypeName {
	l.expect("[")
	asm := l.ident()
	l.expect("]")
	return TypeName{Assembly: asm, Name: l.ident()}
}

func (l *refLexer) typeSig() TypeSig {
	var t TypeSig
	switch tok := l.next(); tok {
	case "class":
		t.Element = sigparser.ElementClass
		t.Class = l.typeName()
	case "valuetype":
		t.Element = sigparser.ElementValueType
		t.Class = l.typeName()
	case "!", "!!":
		t.Element = sigparser.ElementVar
		if tok == "!!" {
			t.Element = sigparser.ElementMVar
		}
		n, err := strconv.ParseUint(l.ident(), 10, 32)
		if err != nil {
			l.fail("invalid generic parameter number")
		}
		t.Number = uint32(n)
	case "native":
		switch l.ident() {
		case "int":
			t.Element = sigparser.ElementI
		case "uint":
			t.Element = sigparser.ElementU
		default:
			l.fail("expected native int or native uint")
		}
	default:
		element, ok := primitiveKeywords[tok]
		if !ok {
			l.fail("unknown type %q", tok)
			return t
		}
		t.Element = element
	}

	for l.err == nil {
		switch l.peek() {
		case "[":
			// "[" also opens the assembly of a following type name.
			if !l.arraySuffix() {
				return t
			}
			l.next()
			l.expect("]")
			t.Suffixes = append(t.Suffixes, sigparser.ElementSzArray)
		case "&":
			l.next()
			t.Suffixes = append(t.Suffixes, sigparser.ElementByRef)
		case "*":
			l.next()
			t.Suffixes = append(t.Suffixes, sigparser.ElementPtr)
		default:
			return t
		}
	}
	return t
}

// ParseMemberRef parses a textual method reference.
func ParseMemberRef(text string) (*MemberRef, error) {
	l := refLexer{text: text}
	m := &MemberRef{}
	if l.peek() == "instance" {
		l.next()
		m.Instance = true
	}
	m.Return = l.typeSig()
	m.Parent = l.typeName()
	l.expect("::")
	m.Name = l.ident()
	l.expect("(")
	if l.err == nil && l.peek() != ")" {
		for l.err == nil {
			m.Params = append(m.Params, l.typeSig())
			if l.peek() != "," {
				break
			}
			l.next()
		}
	}
	l.expect(")")
	if l.err == nil && l.peek() != "" {
		l.fail("trailing text")
	}
	if l.err != nil {
		return nil, l.err
	}
	return m, nil
}

// ParseTypeRef parses a textual type reference, "[assembly]Namespace.Type".
func ParseTypeRef(text string) (TypeName, error) {
	l := refLexer{text: text}
	name := l.typeName()
	if l.err == nil && l.peek() != "" {
		l.fail("trailing text")
	}
	if l.err != nil {
		return TypeName{}, l.err
	}
	return name, nil
}

// encode appends the signature encoding of the type.
func (t *TypeSig) encode(b *sigparser.Builder, classToken func(TypeName) (uint32, error)) error {
	for i := len(t.Suffixes) - 1; i >= 0; i-- {
		b.Element(t.Suffixes[i])
	}
	switch t.Element {
	case sigparser.ElementClass, sigparser.ElementValueType:
		token, err := classToken(t.Class)
		if err != nil {
			return err
		}
		b.Element(t.Element).TypeDefOrRef(token)
	case sigparser.ElementVar, sigparser.ElementMVar:
		b.Element(t.Element).Uint(t.Number)
	default:
		b.Element(t.Element)
	}
	return nil
}

// Signature encodes the method signature of the reference.
func (m *MemberRef) Signature(classToken func(TypeName) (uint32, error)) ([]byte, error) {
	var b sigparser.Builder
	cc := sigparser.CallConvDefault
	if m.Instance {
		cc |= sigparser.CallConvHasThis
	}
	b.CallingConvention(cc).Uint(uint32(len(m.Params)))
	if err := m.Return.encode(&b, classToken); err != nil {
		return nil, err
	}
	for i := range m.Params {
		if err := m.Params[i].encode(&b, classToken); err != nil {
			return nil, err
		}
	}
	return b.Bytes()
}
