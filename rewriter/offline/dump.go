// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package offline rewrites methods outside of a running process. Methods are
// read from JSON dumps holding everything the rewriter asks the host for, and
// metadata emitted during rewriting is kept in memory.
package offline // import "go.opentelemetry.io/clr-profiler/rewriter/offline"

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"go.opentelemetry.io/clr-profiler/cil"
	"go.opentelemetry.io/clr-profiler/instrumentation"
	"go.opentelemetry.io/clr-profiler/sigparser"
)

// HexBytes is a byte slice encoded as a hex string in JSON.
type HexBytes []byte

// MarshalText implements encoding.TextMarshaler.
func (b HexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(b)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Spaces are ignored.
func (b *HexBytes) UnmarshalText(text []byte) error {
	data, err := hex.DecodeString(strings.ReplaceAll(string(text), " ", ""))
	if err != nil {
		return err
	}
	*b = data
	return nil
}

// Dump is the content of a method dump file.
type Dump struct {
	Modules []*Module `json:"modules"`
}

// Module is a loaded module and the methods dumped from it.
type Module struct {
	Name            string `json:"name"`
	AssemblyName    string `json:"assemblyName"`
	AssemblyVersion string `json:"assemblyVersion,omitempty"`
	// Metadata holds the module's type definitions and, after rewriting, the
	// rows emitted for the new bodies.
	Metadata *Tokenizer `json:"metadata"`
	Methods  []*Method  `json:"methods"`

	version instrumentation.AssemblyVersion
}

// Method is a dumped method. It implements rewriter.Function.
type Method struct {
	FunctionID       uint64   `json:"functionId"`
	TypeName         string   `json:"typeName"`
	TypeToken        uint32   `json:"typeToken"`
	FunctionName     string   `json:"functionName"`
	ClassAttributes  uint32   `json:"classAttributes"`
	MethodAttributes uint32   `json:"methodAttributes"`
	Signature        HexBytes `json:"signature"`
	// Body is the method body including its header.
	Body   HexBytes `json:"body"`
	Locals HexBytes `json:"locals,omitempty"`

	// NoInjection disables method instrumentation for the method.
	NoInjection bool `json:"noInjection,omitempty"`
	// NoTrace disables tracing for the method.
	NoTrace bool `json:"noTrace,omitempty"`

	module *Module
}

// Bind connects modules and methods after decoding or construction.
func (d *Dump) Bind() error {
	for _, m := range d.Modules {
		if m.Metadata == nil {
			m.Metadata = NewTokenizer(nil)
		}
		if m.AssemblyVersion != "" {
			v, err := instrumentation.NewAssemblyVersion(m.AssemblyVersion)
			if err != nil {
				return fmt.Errorf("module %s: %w", m.Name, err)
			}
			m.version = v
		}
		for _, method := range m.Methods {
			method.module = m
		}
	}
	return nil
}

// Methods returns all methods of the dump.
func (d *Dump) Methods() []*Method {
	var methods []*Method
	for _, m := range d.Modules {
		methods = append(methods, m.Methods...)
	}
	return methods
}

func isCompressed(path string) bool {
	return strings.HasSuffix(path, ".zst")
}

// Load reads a dump file. Files ending in .zst are zstd compressed.
func Load(path string) (*Dump, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if isCompressed(path) {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		defer dec.Close()
		r = dec
	}
	return Decode(r)
}

// Decode reads a dump.
func Decode(r io.Reader) (*Dump, error) {
	d := &Dump{}
	if err := json.NewDecoder(r).Decode(d); err != nil {
		return nil, fmt.Errorf("failed to decode dump: %w", err)
	}
	if err := d.Bind(); err != nil {
		return nil, err
	}
	return d, nil
}

// Save writes the dump, compressed when the path ends in .zst.
func (d *Dump) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := d.write(f, isCompressed(path)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (d *Dump) write(w io.Writer, compress bool) error {
	if compress {
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		if err := d.Encode(enc); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	}
	return d.Encode(w)
}

// Encode writes the dump as indented JSON.
func (d *Dump) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("failed to encode dump: %w", err)
	}
	return nil
}

// Module returns the module of the method.
func (m *Method) Module() *Module {
	return m.module
}

// SetBody replaces the body, as the host does once a rewrite is installed.
func (m *Method) SetBody(body []byte) {
	m.Body = body
}

// SetLocalsFromToken replaces the locals with the signature of a StandAloneSig
// token emitted into the module.
func (m *Method) SetLocalsFromToken(tok uint32) error {
	if tok == 0 {
		m.Locals = nil
		return nil
	}
	md := m.module.Metadata
	md.mu.Lock()
	defer md.mu.Unlock()
	i, ok := row(tok, TableStandAloneSig, len(md.Signatures))
	if !ok {
		return fmt.Errorf("%w: locals signature %#x", ErrUnknownToken, tok)
	}
	m.Locals = md.Signatures[i]
	return nil
}

func (m *Method) GetFunctionID() uint64 {
	return m.FunctionID
}

func (m *Method) GetModuleName() string {
	return m.module.Name
}

func (m *Method) GetAssemblyName() string {
	return m.module.AssemblyName
}

func (m *Method) GetTypeName() string {
	return m.TypeName
}

func (m *Method) GetTypeToken() uint32 {
	return m.TypeToken
}

func (m *Method) GetFunctionName() string {
	return m.FunctionName
}

func (m *Method) GetSignature() []byte {
	return m.Signature
}

func (m *Method) GetMethodBody() []byte {
	return m.Body
}

func (m *Method) GetClassAttributes() uint32 {
	return m.ClassAttributes
}

func (m *Method) GetMethodAttributes() uint32 {
	return m.MethodAttributes
}

func (m *Method) GetAssemblyProps() instrumentation.AssemblyVersion {
	return m.module.version
}

func (m *Method) GetLocalsSignature() ([]byte, error) {
	return m.Locals, nil
}

func (m *Method) GetTokenizer() cil.Tokenizer {
	return m.module.Metadata
}

func (m *Method) GetTokenResolver() sigparser.TokenResolver {
	return m.module.Metadata
}

func (m *Method) ShouldTrace() bool {
	return !m.NoTrace
}

func (m *Method) ShouldInjectMethodInstrumentation() bool {
	return !m.NoInjection
}

// IsValid reports whether the method is bound to a module and has a signature.
func (m *Method) IsValid() bool {
	return m.module != nil && len(m.Signature) != 0
}
