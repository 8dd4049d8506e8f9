// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package offline

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/clr-profiler/instrumentation"
)

const dumpJSON = `{
  "modules": [
    {
      "name": "MyApp.dll",
      "assemblyName": "MyApp",
      "assemblyVersion": "1.2.3.4",
      "metadata": {"typeDefs": {"33554434": "MyApp.Widget"}},
      "methods": [
        {
          "functionId": 7,
          "typeName": "MyApp.Widget",
          "typeToken": 33554434,
          "functionName": "Compute",
          "classAttributes": 0,
          "methodAttributes": 0,
          "signature": "20 01 08 08",
          "body": "0a032a",
          "noTrace": true
        }
      ]
    }
  ]
}`

func TestDecode(t *testing.T) {
	d, err := Decode(strings.NewReader(dumpJSON))
	require.NoError(t, err)
	methods := d.Methods()
	require.Len(t, methods, 1)

	m := methods[0]
	assert.True(t, m.IsValid())
	assert.Same(t, d.Modules[0], m.Module())
	assert.Equal(t, uint64(7), m.GetFunctionID())
	assert.Equal(t, "MyApp.dll", m.GetModuleName())
	assert.Equal(t, "MyApp", m.GetAssemblyName())
	assert.Equal(t, []byte{0x20, 0x01, 0x08, 0x08}, m.GetSignature())
	assert.Equal(t, []byte{0x0a, 0x03, 0x2a}, m.GetMethodBody())
	assert.Equal(t, instrumentation.AssemblyVersion{Major: 1, Minor: 2, Build: 3, Revision: 4},
		m.GetAssemblyProps())
	assert.False(t, m.ShouldTrace())
	assert.True(t, m.ShouldInjectMethodInstrumentation())

	name, err := m.GetTokenResolver().GetTypeName(m.GetTypeToken())
	require.NoError(t, err)
	assert.Equal(t, "MyApp.Widget", name)
}

func TestDecodeErrors(t *testing.T) {
	tests := map[string]string{
		"syntax":  `{"modules": [`,
		"hex":     `{"modules": [{"methods": [{"body": "zz"}]}]}`,
		"version": `{"modules": [{"assemblyVersion": "one"}]}`,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(input))
			assert.Error(t, err)
		})
	}
}

func TestSaveLoad(t *testing.T) {
	for _, name := range []string{"dump.json", "dump.json.zst"} {
		t.Run(name, func(t *testing.T) {
			d, err := Decode(strings.NewReader(dumpJSON))
			require.NoError(t, err)
			m := d.Methods()[0]
			m.SetBody([]byte{0x06, 0x2a})
			tok, err := m.Module().Metadata.GetTokenFromSignature([]byte{0x07, 0x01, 0x08})
			require.NoError(t, err)
			require.NoError(t, m.SetLocalsFromToken(tok))

			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, d.Save(path))
			loaded, err := Load(path)
			require.NoError(t, err)

			var want, got bytes.Buffer
			require.NoError(t, d.Encode(&want))
			require.NoError(t, loaded.Encode(&got))
			assert.Equal(t, want.String(), got.String())

			lm := loaded.Methods()[0]
			assert.Equal(t, []byte{0x06, 0x2a}, lm.GetMethodBody())
			locals, err := lm.GetLocalsSignature()
			require.NoError(t, err)
			assert.Equal(t, []byte{0x07, 0x01, 0x08}, locals)
		})
	}
}

func TestSetLocalsFromToken(t *testing.T) {
	d, err := Decode(strings.NewReader(dumpJSON))
	require.NoError(t, err)
	m := d.Methods()[0]
	assert.ErrorIs(t, m.SetLocalsFromToken(0x11000005), ErrUnknownToken)
	require.NoError(t, m.SetLocalsFromToken(0))
	assert.Nil(t, m.Locals)
}

func TestUnboundMethod(t *testing.T) {
	m := &Method{Signature: HexBytes{0x00, 0x00, 0x01}}
	assert.False(t, m.IsValid())
}

func TestTokenizer(t *testing.T) {
	tk := NewTokenizer(map[uint32]string{0x02000002: "MyApp.Widget"})

	mscorlib, err := tk.GetAssemblyRefToken("mscorlib")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x23000001), mscorlib)
	again, err := tk.GetAssemblyRefToken("mscorlib")
	require.NoError(t, err)
	assert.Equal(t, mscorlib, again)

	object, err := tk.GetTypeRefToken(mscorlib, "System.Object")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01000001), object)
	exception, err := tk.GetTypeRefToken(mscorlib, "System.Exception")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01000002), exception)
	_, err = tk.GetTypeRefToken(0x23000009, "System.Object")
	assert.ErrorIs(t, err, ErrUnknownToken)

	sig := []byte{0x20, 0x00, 0x01}
	ctor, err := tk.GetMemberRefToken(exception, ".ctor", sig)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0a000001), ctor)
	sig[2] = 0x08
	other, err := tk.GetMemberRefToken(exception, ".ctor", sig)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0a000002), other)
	// The first row kept its own copy of the signature.
	assert.Equal(t, HexBytes{0x20, 0x00, 0x01}, tk.MemberRefs[0].Signature)

	spec, err := tk.GetTypeSpecToken([]byte{0x08})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1b000001), spec)
	str, err := tk.GetStringToken("hello")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x70000001), str)
	locals, err := tk.GetTokenFromSignature([]byte{0x07, 0x00})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11000001), locals)

	tests := map[uint32]string{
		object:     "[mscorlib]System.Object",
		ctor:       "[mscorlib]System.Exception::.ctor",
		str:        `"hello"`,
		0x02000002: "MyApp.Widget",
		spec:       "0x1b000001",
		0x01000009: "0x01000009",
	}
	for tok, want := range tests {
		assert.Equal(t, want, tk.Describe(tok))
	}

	name, err := tk.GetTypeName(exception)
	require.NoError(t, err)
	assert.Equal(t, "System.Exception", name)
	_, err = tk.GetTypeName(0x02000003)
	assert.ErrorIs(t, err, ErrUnknownToken)
}
