// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package cil // import "go.opentelemetry.io/clr-profiler/cil"

import (
	"fmt"

	"go.opentelemetry.io/clr-profiler/sigparser"
)

// Tokenizer creates metadata tokens in the module of the method being rewritten.
// Implementations return the existing token when an equal entry already exists.
type Tokenizer interface {
	GetAssemblyRefToken(assembly string) (uint32, error)
	GetTypeRefToken(assemblyRef uint32, typeName string) (uint32, error)
	GetMemberRefToken(parent uint32, name string, signature []byte) (uint32, error)
	GetTypeSpecToken(signature []byte) (uint32, error)
	GetStringToken(s string) (uint32, error)
	// GetTokenFromSignature returns a StandAloneSig token for a locals or
	// method signature.
	GetTokenFromSignature(signature []byte) (uint32, error)
}

// tokenCache memoizes tokenizer calls for one rewrite.
type tokenCache struct {
	tokenizer  Tokenizer
	assemblies map[string]uint32
	types      map[TypeName]uint32
	members    map[string]uint32
	strings    map[string]uint32
	specs      map[string]uint32
}

func newTokenCache(tokenizer Tokenizer) *tokenCache {
	return &tokenCache{
		tokenizer:  tokenizer,
		assemblies: make(map[string]uint32),
		types:      make(map[TypeName]uint32),
		members:    make(map[string]uint32),
		strings:    make(map[string]uint32),
		specs:      make(map[string]uint32),
	}
}

func (c *tokenCache) assemblyRef(name string) (uint32, error) {
	if token, ok := c.assemblies[name]; ok {
		return token, nil
	}
	token, err := c.tokenizer.GetAssemblyRefToken(name)
	if err != nil {
		return 0, fmt.Errorf("failed to get assembly reference %s: %w", name, err)
	}
	c.assemblies[name] = token
	return token, nil
}

func (c *tokenCache) typeRef(name TypeName) (uint32, error) {
	if token, ok := c.types[name]; ok {
		return token, nil
	}
	asm, err := c.assemblyRef(name.Assembly)
	if err != nil {
		return 0, err
	}
	token, err := c.tokenizer.GetTypeRefToken(asm, name.Name)
	if err != nil {
		return 0, fmt.Errorf("failed to get type reference %s: %w", name, err)
	}
	c.types[name] = token
	return token, nil
}

func (c *tokenCache) memberRef(text string, ref *MemberRef) (uint32, error) {
	if token, ok := c.members[text]; ok {
		return token, nil
	}
	parent, err := c.typeRef(ref.Parent)
	if err != nil {
		return 0, err
	}
	sig, err := ref.Signature(c.typeRef)
	if err != nil {
		return 0, err
	}
	token, err := c.tokenizer.GetMemberRefToken(parent, ref.Name, sig)
	if err != nil {
		return 0, fmt.Errorf("failed to get member reference %s: %w", text, err)
	}
	c.members[text] = token
	return token, nil
}

func (c *tokenCache) stringToken(s string) (uint32, error) {
	if token, ok := c.strings[s]; ok {
		return token, nil
	}
	token, err := c.tokenizer.GetStringToken(s)
	if err != nil {
		return 0, fmt.Errorf("failed to get string token for %q: %w", s, err)
	}
	c.strings[s] = token
	return token, nil
}

func (c *tokenCache) typeSpec(blob []byte) (uint32, error) {
	if token, ok := c.specs[string(blob)]; ok {
		return token, nil
	}
	token, err := c.tokenizer.GetTypeSpecToken(blob)
	if err != nil {
		return 0, fmt.Errorf("failed to get type specification %x: %w", blob, err)
	}
	c.specs[string(blob)] = token
	return token, nil
}

// ResolveTypeSig encodes a textual type such as "class [mscorlib]System.Exception"
// into a signature blob, creating references through the tokenizer.
func ResolveTypeSig(tokenizer Tokenizer, text string) ([]byte, error) {
	l := refLexer{text: text}
	t := l.typeSig()
	if l.err == nil && l.peek() != "" {
		l.fail("trailing text")
	}
	if l.err != nil {
		return nil, l.err
	}
	var b sigparser.Builder
	if err := t.encode(&b, newTokenCache(tokenizer).typeRef); err != nil {
		return nil, err
	}
	return b.Bytes()
}
