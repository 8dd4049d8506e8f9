// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterbourgon/ff/v3/ffcli"

	"go.opentelemetry.io/clr-profiler/cil"
	"go.opentelemetry.io/clr-profiler/methodbody"
	"go.opentelemetry.io/clr-profiler/rewriter/offline"
)

type bodyCmd struct {
	// User-specified command line arguments.
	dump       string
	functionID uint64
}

func newBodyCmd() *ffcli.Command {
	cmd := bodyCmd{}
	set := flag.NewFlagSet("body", flag.ExitOnError)
	set.StringVar(&cmd.dump, "dump", "", "Method dump to take the body from")
	set.Uint64Var(&cmd.functionID, "function", 0, "Function ID of the method in the dump")
	return &ffcli.Command{
		Name:       "body",
		ShortUsage: "body [-dump file -function id | <hex>]",
		ShortHelp:  "Print the header, clauses and instructions of a method body",
		FlagSet:    set,
		Exec:       cmd.exec,
	}
}

func (cmd *bodyCmd) exec(_ context.Context, args []string) error {
	if cmd.dump == "" {
		if len(args) != 1 {
			return errors.New("expected a hex encoded body or -dump")
		}
		raw, err := decodeHex(args[0])
		if err != nil {
			return err
		}
		return printBody(os.Stdout, raw, nil)
	}

	d, err := offline.Load(cmd.dump)
	if err != nil {
		return err
	}
	for _, m := range d.Methods() {
		if m.FunctionID == cmd.functionID {
			fmt.Printf("%s::%s\n", m.TypeName, m.FunctionName)
			return printBody(os.Stdout, m.Body, m.Module().Metadata.Describe)
		}
	}
	return fmt.Errorf("function %d not in %s", cmd.functionID, cmd.dump)
}

// decodeHex accepts hex with optional whitespace between bytes.
func decodeHex(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return raw, nil
}

func printBody(w io.Writer, raw []byte, describe func(uint32) string) error {
	body, err := methodbody.Parse(raw)
	if err != nil {
		return err
	}
	h := body.Header
	format := "tiny"
	if h.Fat {
		format = "fat"
	}
	fmt.Fprintf(w, ".header %s maxstack %d codesize %d", format, h.MaxStack, h.CodeSize)
	if h.LocalVarSigToken != 0 {
		fmt.Fprintf(w, " locals 0x%08x", h.LocalVarSigToken)
	}
	if h.InitLocals() {
		fmt.Fprint(w, " init")
	}
	fmt.Fprintln(w)

	for i := range body.Clauses {
		c := &body.Clauses[i]
		fmt.Fprintf(w, ".try IL_%04x to IL_%04x %s", c.TryOffset, c.TryEnd(), c.Flags)
		switch c.Flags &^ methodbody.ClauseDuplicated {
		case methodbody.ClauseTyped:
			if describe != nil {
				fmt.Fprintf(w, " %s", describe(c.ClassToken))
			} else {
				fmt.Fprintf(w, " 0x%08x", c.ClassToken)
			}
		case methodbody.ClauseFilter:
			fmt.Fprintf(w, " IL_%04x", c.FilterOffset)
		}
		fmt.Fprintf(w, " handler IL_%04x to IL_%04x\n", c.HandlerOffset, c.HandlerEnd())
	}
	return cil.Disassemble(w, body.Code, describe)
}
