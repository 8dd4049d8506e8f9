// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package sigparser // import "go.opentelemetry.io/clr-profiler/sigparser"

import (
	"fmt"
	"strconv"
	"strings"
)

// TokenResolver maps TypeDef, TypeRef and TypeSpec tokens to display names.
type TokenResolver interface {
	GetTypeName(token uint32) (string, error)
}

// TokenResolverFunc adapts a function to the TokenResolver interface.
type TokenResolverFunc func(token uint32) (string, error)

// GetTypeName implements TokenResolver.
func (f TokenResolverFunc) GetTypeName(token uint32) (string, error) {
	return f(token)
}

// Format renders the type the way instrumentation rules spell parameter types.
// Custom modifiers and the pinned flag are not part of the rendering.
func (t *Type) Format(resolver TokenResolver) (string, error) {
	var sb strings.Builder
	if err := t.format(&sb, resolver); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (t *Type) format(sb *strings.Builder, resolver TokenResolver) error {
	if name, ok := primitiveNames[t.Element]; ok {
		sb.WriteString(name)
		return nil
	}
	switch t.Element {
	case ElementClass, ElementValueType:
		return writeTypeName(sb, resolver, t.Token)
	case ElementGenericInst:
		if err := writeTypeName(sb, resolver, t.Token); err != nil {
			return err
		}
		sb.WriteByte('<')
		for i := range t.Args {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := t.Args[i].format(sb, resolver); err != nil {
				return err
			}
		}
		sb.WriteByte('>')
	case ElementSzArray:
		if err := t.Elem.format(sb, resolver); err != nil {
			return err
		}
		sb.WriteString("[]")
	case ElementArray:
		if err := t.Elem.format(sb, resolver); err != nil {
			return err
		}
		sb.WriteByte('[')
		sb.WriteString(strings.Repeat(",", int(t.Rank)-1))
		sb.WriteByte(']')
	case ElementByRef:
		if err := t.Elem.format(sb, resolver); err != nil {
			return err
		}
		sb.WriteByte('&')
	case ElementPtr:
		if err := t.Elem.format(sb, resolver); err != nil {
			return err
		}
		sb.WriteByte('*')
	case ElementVar:
		sb.WriteByte('!')
		sb.WriteString(strconv.FormatUint(uint64(t.Number), 10))
	case ElementMVar:
		sb.WriteString("!!")
		sb.WriteString(strconv.FormatUint(uint64(t.Number), 10))
	case ElementFnPtr:
		params, err := t.Method.ParameterString(resolver)
		if err != nil {
			return err
		}
		sb.WriteString("method ")
		if err := t.Method.ReturnType.format(sb, resolver); err != nil {
			return err
		}
		sb.WriteString(" *(")
		sb.WriteString(params)
		sb.WriteByte(')')
	default:
		return fmt.Errorf("%w: cannot format %s", ErrUnknownElementType, t.Element)
	}
	return nil
}

func writeTypeName(sb *strings.Builder, resolver TokenResolver, token uint32) error {
	if resolver == nil {
		return fmt.Errorf("no resolver for type token %#x", token)
	}
	name, err := resolver.GetTypeName(token)
	if err != nil {
		return fmt.Errorf("failed to resolve type token %#x: %w", token, err)
	}
	sb.WriteString(name)
	return nil
}

// ParameterString renders the parameter types joined by ','. A method without
// parameters renders as the empty string. Vararg parameters follow a "...".
func (m *MethodSignature) ParameterString(resolver TokenResolver) (string, error) {
	var sb strings.Builder
	for i := range m.Params {
		if i > 0 {
			sb.WriteByte(',')
		}
		if i == m.SentinelIndex {
			sb.WriteString("...,")
		}
		if err := m.Params[i].format(&sb, resolver); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}
