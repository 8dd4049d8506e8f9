// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package offline // import "go.opentelemetry.io/clr-profiler/rewriter/offline"

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
)

// Metadata table numbers, the upper byte of a token.
const (
	TableTypeRef       = 0x01
	TableTypeDef       = 0x02
	TableMemberRef     = 0x0a
	TableStandAloneSig = 0x11
	TableTypeSpec      = 0x1b
	TableAssemblyRef   = 0x23
	TableUserString    = 0x70
)

// ErrUnknownToken is returned for tokens without a row.
var ErrUnknownToken = errors.New("unknown token")

// TypeRef is a row of the TypeRef table.
type TypeRef struct {
	Scope uint32 `json:"scope"`
	Name  string `json:"name"`
}

// MemberRef is a row of the MemberRef table.
type MemberRef struct {
	Parent    uint32   `json:"parent"`
	Name      string   `json:"name"`
	Signature HexBytes `json:"signature"`
}

// Tokenizer is an in-memory metadata emitter for one module. Equal rows are
// emitted once. It is safe for concurrent use.
type Tokenizer struct {
	mu sync.Mutex

	AssemblyRefs []string    `json:"assemblyRefs,omitempty"`
	TypeRefs     []TypeRef   `json:"typeRefs,omitempty"`
	MemberRefs   []MemberRef `json:"memberRefs,omitempty"`
	TypeSpecs    []HexBytes  `json:"typeSpecs,omitempty"`
	UserStrings  []string    `json:"userStrings,omitempty"`
	Signatures   []HexBytes  `json:"signatures,omitempty"`
	// TypeDefs names the types defined in the module.
	TypeDefs map[uint32]string `json:"typeDefs,omitempty"`
}

// NewTokenizer creates a tokenizer that knows the given type definitions.
func NewTokenizer(typeDefs map[uint32]string) *Tokenizer {
	return &Tokenizer{TypeDefs: typeDefs}
}

func token(table uint32, index int) uint32 {
	return table<<24 | uint32(index+1)
}

func row(tok, table uint32, n int) (int, bool) {
	index := int(tok&0xffffff) - 1
	return index, tok>>24 == table && index >= 0 && index < n
}

// find returns the token of the first row equal per eq, or appends a new row.
func find[T any](rows *[]T, table uint32, eq func(*T) bool, add T) uint32 {
	for i := range *rows {
		if eq(&(*rows)[i]) {
			return token(table, i)
		}
	}
	*rows = append(*rows, add)
	return token(table, len(*rows)-1)
}

// GetAssemblyRefToken implements cil.Tokenizer.
func (t *Tokenizer) GetAssemblyRefToken(assembly string) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return find(&t.AssemblyRefs, TableAssemblyRef,
		func(a *string) bool { return *a == assembly }, assembly), nil
}

// GetTypeRefToken implements cil.Tokenizer.
func (t *Tokenizer) GetTypeRefToken(assemblyRef uint32, typeName string) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := row(assemblyRef, TableAssemblyRef, len(t.AssemblyRefs)); !ok {
		return 0, fmt.Errorf("%w: assembly reference %#x", ErrUnknownToken, assemblyRef)
	}
	ref := TypeRef{Scope: assemblyRef, Name: typeName}
	return find(&t.TypeRefs, TableTypeRef, func(r *TypeRef) bool { return *r == ref }, ref), nil
}

// GetMemberRefToken implements cil.Tokenizer.
func (t *Tokenizer) GetMemberRefToken(parent uint32, name string, signature []byte) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ref := MemberRef{Parent: parent, Name: name, Signature: bytes.Clone(signature)}
	return find(&t.MemberRefs, TableMemberRef, func(r *MemberRef) bool {
		return r.Parent == parent && r.Name == name && bytes.Equal(r.Signature, signature)
	}, ref), nil
}

// GetTypeSpecToken implements cil.Tokenizer.
func (t *Tokenizer) GetTypeSpecToken(signature []byte) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return find(&t.TypeSpecs, TableTypeSpec, func(s *HexBytes) bool {
		return bytes.Equal(*s, signature)
	}, HexBytes(bytes.Clone(signature))), nil
}

// GetStringToken implements cil.Tokenizer.
func (t *Tokenizer) GetStringToken(s string) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return find(&t.UserStrings, TableUserString,
		func(u *string) bool { return *u == s }, s), nil
}

// GetTokenFromSignature implements cil.Tokenizer.
func (t *Tokenizer) GetTokenFromSignature(signature []byte) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return find(&t.Signatures, TableStandAloneSig, func(s *HexBytes) bool {
		return bytes.Equal(*s, signature)
	}, HexBytes(bytes.Clone(signature))), nil
}

// GetTypeName implements sigparser.TokenResolver for TypeDef and TypeRef tokens.
func (t *Tokenizer) GetTypeName(tok uint32) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tok>>24 == TableTypeDef {
		if name, ok := t.TypeDefs[tok]; ok {
			return name, nil
		}
	}
	if i, ok := row(tok, TableTypeRef, len(t.TypeRefs)); ok {
		return t.TypeRefs[i].Name, nil
	}
	return "", fmt.Errorf("%w: %#x", ErrUnknownToken, tok)
}

// Describe renders a token for listings, "[mscorlib]System.Object" for type
// references, the member name for member references and the quoted text of
// user strings.
func (t *Tokenizer) Describe(tok uint32) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch tok >> 24 {
	case TableTypeRef:
		if i, ok := row(tok, TableTypeRef, len(t.TypeRefs)); ok {
			return t.describeTypeRef(&t.TypeRefs[i])
		}
	case TableMemberRef:
		if i, ok := row(tok, TableMemberRef, len(t.MemberRefs)); ok {
			ref := &t.MemberRefs[i]
			parent := fmt.Sprintf("%#x", ref.Parent)
			if j, ok := row(ref.Parent, TableTypeRef, len(t.TypeRefs)); ok {
				parent = t.describeTypeRef(&t.TypeRefs[j])
			}
			return parent + "::" + ref.Name
		}
	case TableUserString:
		if i, ok := row(tok, TableUserString, len(t.UserStrings)); ok {
			return fmt.Sprintf("%q", t.UserStrings[i])
		}
	case TableTypeDef:
		if name, ok := t.TypeDefs[tok]; ok {
			return name
		}
	}
	return fmt.Sprintf("0x%08x", tok)
}

func (t *Tokenizer) describeTypeRef(ref *TypeRef) string {
	if i, ok := row(ref.Scope, TableAssemblyRef, len(t.AssemblyRefs)); ok {
		return "[" + t.AssemblyRefs[i] + "]" + ref.Name
	}
	return ref.Name
}
