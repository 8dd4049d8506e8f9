// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package sigparser

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTypeNames = map[uint32]string{
	0x01000005: "System.Collections.Generic.List`1",
	0x01000012: "System.Threading.CancellationToken",
	0x02000001: "MyNamespace.MyClass",
	0x1b000002: "System.Nullable`1<System.Int32>",
}

var testResolver = TokenResolverFunc(func(token uint32) (string, error) {
	if name, ok := testTypeNames[token]; ok {
		return name, nil
	}
	return "", fmt.Errorf("unknown token %#x", token)
})

func TestCompressedUint(t *testing.T) {
	tests := map[uint32][]byte{
		0x03:       {0x03},
		0x7f:       {0x7f},
		0x80:       {0x80, 0x80},
		0x2e57:     {0xae, 0x57},
		0x3fff:     {0xbf, 0xff},
		0x4000:     {0xc0, 0x00, 0x40, 0x00},
		0x1fffffff: {0xdf, 0xff, 0xff, 0xff},
	}
	for value, encoded := range tests {
		t.Run(fmt.Sprintf("%#x", value), func(t *testing.T) {
			r := reader{data: encoded}
			assert.Equal(t, value, r.Uint())
			require.NoError(t, r.Error())
			assert.True(t, r.empty())

			out, err := AppendUint(nil, value)
			require.NoError(t, err)
			assert.Equal(t, encoded, out)
		})
	}

	_, err := AppendUint(nil, 0x20000000)
	require.ErrorIs(t, err, ErrMalformed)

	r := reader{data: []byte{0xe0}}
	r.Uint()
	require.ErrorIs(t, r.Error(), ErrMalformed)

	r = reader{data: []byte{0xc0, 0x00}}
	r.Uint()
	require.ErrorIs(t, r.Error(), ErrTruncated)
}

func TestCompressedInt(t *testing.T) {
	tests := map[int32][]byte{
		3:          {0x06},
		-3:         {0x7b},
		64:         {0x80, 0x80},
		-64:        {0x01},
		8192:       {0xc0, 0x00, 0x40, 0x00},
		-8192:      {0x80, 0x01},
		268435455:  {0xdf, 0xff, 0xff, 0xfe},
		-268435456: {0xc0, 0x00, 0x00, 0x01},
	}
	for value, encoded := range tests {
		t.Run(fmt.Sprintf("%d", value), func(t *testing.T) {
			r := reader{data: encoded}
			assert.Equal(t, value, r.Int())
			require.NoError(t, r.Error())

			out, err := AppendInt(nil, value)
			require.NoError(t, err)
			assert.Equal(t, encoded, out)
		})
	}
}

func TestTypeDefOrRef(t *testing.T) {
	out, err := AppendTypeDefOrRef(nil, 0x01000012)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x49}, out)

	r := reader{data: []byte{0x49, 0x0a, 0x04}}
	assert.Equal(t, uint32(0x01000012), r.TypeDefOrRef())
	assert.Equal(t, uint32(0x1b000002), r.TypeDefOrRef())
	assert.Equal(t, uint32(0x02000001), r.TypeDefOrRef())
	require.NoError(t, r.Error())

	_, err = AppendTypeDefOrRef(nil, 0x06000001)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParameterString(t *testing.T) {
	tests := map[string]struct {
		blob       []byte
		params     string
		returnType string
	}{
		"no parameters": {
			blob:       []byte{0x00, 0x00, 0x01},
			params:     "",
			returnType: "System.Void",
		},
		"primitives": {
			blob:       []byte{0x20, 0x02, 0x0e, 0x08, 0x0e},
			params:     "System.Int32,System.String",
			returnType: "System.String",
		},
		"class and value type": {
			blob:       []byte{0x00, 0x02, 0x01, 0x12, 0x04, 0x11, 0x49},
			params:     "MyNamespace.MyClass,System.Threading.CancellationToken",
			returnType: "System.Void",
		},
		"generic instance": {
			blob:       []byte{0x00, 0x01, 0x01, 0x15, 0x12, 0x15, 0x01, 0x0e},
			params:     "System.Collections.Generic.List`1<System.String>",
			returnType: "System.Void",
		},
		"nested generic instance": {
			blob: []byte{0x00, 0x01, 0x01,
				0x15, 0x12, 0x15, 0x02, 0x0e, 0x15, 0x12, 0x15, 0x01, 0x08},
			params: "System.Collections.Generic.List`1<System.String," +
				"System.Collections.Generic.List`1<System.Int32>>",
			returnType: "System.Void",
		},
		"arrays": {
			blob:       []byte{0x00, 0x02, 0x1d, 0x1c, 0x1d, 0x08, 0x14, 0x0e, 0x03, 0x00, 0x00},
			params:     "System.Int32[],System.String[,,]",
			returnType: "System.Object[]",
		},
		"byref and pointer": {
			blob:       []byte{0x00, 0x02, 0x0f, 0x01, 0x10, 0x08, 0x0f, 0x05},
			params:     "System.Int32&,System.Byte*",
			returnType: "System.Void*",
		},
		"generic parameters": {
			blob:       []byte{0x30, 0x01, 0x02, 0x13, 0x00, 0x13, 0x00, 0x1e, 0x00},
			params:     "!0,!!0",
			returnType: "!0",
		},
		"custom modifier": {
			blob:       []byte{0x00, 0x01, 0x01, 0x1f, 0x49, 0x08},
			params:     "System.Int32",
			returnType: "System.Void",
		},
		"typespec": {
			blob:       []byte{0x00, 0x01, 0x01, 0x11, 0x0a},
			params:     "System.Nullable`1<System.Int32>",
			returnType: "System.Void",
		},
		"vararg": {
			blob:       []byte{0x05, 0x02, 0x01, 0x08, 0x41, 0x0e},
			params:     "System.Int32,...,System.String",
			returnType: "System.Void",
		},
		"function pointer": {
			blob:       []byte{0x00, 0x01, 0x01, 0x1b, 0x00, 0x01, 0x08, 0x0e},
			params:     "method System.Int32 *(System.String)",
			returnType: "System.Void",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			sig, err := ParseMethodSignature(test.blob)
			require.NoError(t, err)
			assert.Equal(t, test.blob, sig.Raw)

			params, err := sig.ParameterString(testResolver)
			require.NoError(t, err)
			assert.Equal(t, test.params, params)

			ret, err := sig.ReturnType.Format(testResolver)
			require.NoError(t, err)
			assert.Equal(t, test.returnType, ret)
		})
	}
}

func TestParseMethodSignature(t *testing.T) {
	sig, err := ParseMethodSignature([]byte{0x30, 0x02, 0x01, 0x08, 0x15, 0x11, 0x0a, 0x01, 0x08})
	require.NoError(t, err)
	assert.True(t, sig.CallingConvention.HasThis())
	assert.True(t, sig.CallingConvention.IsGeneric())
	assert.False(t, sig.CallingConvention.ExplicitThis())
	assert.False(t, sig.CallingConvention.IsVarArg())
	assert.Equal(t, uint32(2), sig.GenericParamCount)
	assert.Equal(t, -1, sig.SentinelIndex)
	assert.True(t, sig.ReturnType.NeedsBoxing())
	require.Len(t, sig.Params, 1)

	param := sig.Params[0]
	assert.Equal(t, ElementGenericInst, param.Element)
	assert.True(t, param.ValueTypeInstance)
	assert.True(t, param.NeedsBoxing())
	assert.Equal(t, uint32(0x1b000002), param.Token)
	assert.Equal(t, []byte{0x15, 0x11, 0x0a, 0x01, 0x08}, param.Raw)

	sig, err = ParseMethodSignature([]byte{0x00, 0x01, 0x1c, 0x14, 0x08, 0x02, 0x01, 0x05, 0x02, 0x7b, 0x06})
	require.NoError(t, err)
	array := sig.Params[0]
	assert.Equal(t, uint32(2), array.Rank)
	assert.Equal(t, []uint32{5}, array.Sizes)
	assert.Equal(t, []int32{-3, 3}, array.LowBounds)
	assert.False(t, sig.ReturnType.NeedsBoxing())
}

func TestParseMethodSignatureErrors(t *testing.T) {
	tests := map[string]struct {
		blob []byte
		err  error
	}{
		"empty":                {blob: nil, err: ErrTruncated},
		"missing parameter":    {blob: []byte{0x00, 0x02, 0x01, 0x08}, err: ErrTruncated},
		"count exceeds bytes":  {blob: []byte{0x00, 0x05, 0x01}, err: ErrTruncated},
		"unknown element":      {blob: []byte{0x00, 0x01, 0x01, 0x17}, err: ErrUnknownElementType},
		"trailing bytes":       {blob: []byte{0x00, 0x00, 0x01, 0x08}, err: ErrMalformed},
		"field signature":      {blob: []byte{0x06, 0x08}, err: ErrMalformed},
		"void parameter":       {blob: []byte{0x00, 0x01, 0x01, 0x01}, err: ErrMalformed},
		"nested byref":         {blob: []byte{0x00, 0x01, 0x01, 0x10, 0x10, 0x08}, err: ErrMalformed},
		"pinned parameter":     {blob: []byte{0x00, 0x01, 0x01, 0x45, 0x08}, err: ErrMalformed},
		"zero rank array":      {blob: []byte{0x00, 0x01, 0x01, 0x14, 0x08, 0x00}, err: ErrMalformed},
		"generic of primitive": {blob: []byte{0x00, 0x01, 0x01, 0x15, 0x08, 0x04, 0x01, 0x08}, err: ErrMalformed},
		"duplicate sentinel": {
			blob: []byte{0x05, 0x02, 0x01, 0x41, 0x08, 0x41, 0x08},
			err:  ErrMalformed,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMethodSignature(test.blob)
			require.ErrorIs(t, err, test.err)
		})
	}
}

func TestParseDeepNesting(t *testing.T) {
	blob := []byte{0x00, 0x01, 0x01}
	for i := 0; i < 100; i++ {
		blob = append(blob, byte(ElementSzArray))
	}
	blob = append(blob, byte(ElementI4))
	_, err := ParseMethodSignature(blob)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseLocalsSignature(t *testing.T) {
	locals, err := ParseLocalsSignature([]byte{0x07, 0x03, 0x08, 0x45, 0x10, 0x0e, 0x1c})
	require.NoError(t, err)
	require.Len(t, locals, 3)
	assert.Equal(t, ElementI4, locals[0].Element)
	assert.True(t, locals[1].Pinned)
	assert.Equal(t, ElementByRef, locals[1].Element)
	assert.Equal(t, []byte{0x45, 0x10, 0x0e}, locals[1].Raw)
	assert.Equal(t, ElementObject, locals[2].Element)

	_, err = ParseLocalsSignature([]byte{0x00, 0x01, 0x08})
	require.ErrorIs(t, err, ErrMalformed)
	_, err = ParseLocalsSignature([]byte{0x07, 0x02, 0x08})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestFormatUnresolved(t *testing.T) {
	sig, err := ParseMethodSignature([]byte{0x00, 0x01, 0x01, 0x12, 0x08})
	require.NoError(t, err)
	_, err = sig.ParameterString(testResolver)
	require.Error(t, err)
	_, err = sig.ParameterString(nil)
	require.Error(t, err)
}

func TestBuilder(t *testing.T) {
	var ret Builder
	retBlob, err := ret.Element(ElementSzArray).Class(0x02000001).Bytes()
	require.NoError(t, err)

	blob, err := EncodeMethodSignature(CallConvHasThis|CallConvGeneric, 1, retBlob,
		[]byte{byte(ElementMVar), 0x00}, []byte{byte(ElementString)})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x30, 0x01, 0x02, 0x1d, 0x12, 0x04, 0x1e, 0x00, 0x0e}, blob)

	sig, err := ParseMethodSignature(blob)
	require.NoError(t, err)
	params, err := sig.ParameterString(testResolver)
	require.NoError(t, err)
	assert.Equal(t, "!!0,System.String", params)
	formatted, err := sig.ReturnType.Format(testResolver)
	require.NoError(t, err)
	assert.Equal(t, "MyNamespace.MyClass[]", formatted)

	locals, err := EncodeLocalsSignature([]byte{byte(ElementObject)}, retBlob)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x07, 0x02, 0x1c, 0x1d, 0x12, 0x04}, locals)

	var bad Builder
	_, err = bad.Class(0x70000001).Uint(1).Bytes()
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParameterCache(t *testing.T) {
	cache, err := NewParameterCache(16)
	require.NoError(t, err)

	blob := []byte{0x00, 0x01, 0x01, 0x12, 0x04}
	params, err := cache.ParameterString("MyAssembly.dll", blob, testResolver)
	require.NoError(t, err)
	assert.Equal(t, "MyNamespace.MyClass", params)
	assert.Equal(t, 1, cache.Len())

	failing := TokenResolverFunc(func(uint32) (string, error) {
		return "", errors.New("resolver must not be called")
	})
	params, err = cache.ParameterString("MyAssembly.dll", blob, failing)
	require.NoError(t, err)
	assert.Equal(t, "MyNamespace.MyClass", params)

	// Tokens are module scoped.
	_, err = cache.ParameterString("Other.dll", blob, failing)
	require.Error(t, err)
	assert.Equal(t, 1, cache.Len())

	_, err = cache.ParameterString("MyAssembly.dll", []byte{0x00}, testResolver)
	require.ErrorIs(t, err, ErrTruncated)
}
