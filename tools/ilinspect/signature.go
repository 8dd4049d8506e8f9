// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/peterbourgon/ff/v3/ffcli"

	"go.opentelemetry.io/clr-profiler/sigparser"
	"go.opentelemetry.io/clr-profiler/stringutil"
)

func newSignatureCmd() *ffcli.Command {
	return &ffcli.Command{
		Name:       "signature",
		ShortUsage: "signature <hex>",
		ShortHelp:  "Decode a method signature blob",
		Exec: func(_ context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("expected a hex encoded signature")
			}
			blob, err := decodeHex(args[0])
			if err != nil {
				return err
			}
			return printSignature(os.Stdout, blob)
		},
	}
}

// rawTokens renders class tokens as hex, there being no metadata to resolve them.
var rawTokens = sigparser.TokenResolverFunc(func(tok uint32) (string, error) {
	return fmt.Sprintf("0x%08x", tok), nil
})

func printSignature(w io.Writer, blob []byte) error {
	sig, err := sigparser.ParseMethodSignature(blob)
	if err != nil {
		return err
	}
	ret, err := sig.ReturnType.Format(rawTokens)
	if err != nil {
		return err
	}
	params, err := sig.ParameterString(rawTokens)
	if err != nil {
		return err
	}

	if sig.CallingConvention.HasThis() {
		fmt.Fprint(w, "instance ")
	}
	fmt.Fprint(w, ret)
	if sig.CallingConvention.IsGeneric() {
		fmt.Fprintf(w, " <%d>", sig.GenericParamCount)
	}
	fmt.Fprintf(w, " (%s)\n", params)
	return nil
}

func newSplitCmd() *ffcli.Command {
	return &ffcli.Command{
		Name:       "split",
		ShortUsage: "split <class names>",
		ShortHelp:  "Split a class name list the way instrumentation files are read",
		Exec: func(_ context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("expected a class name list")
			}
			for _, name := range stringutil.SplitClassNames(args[0]) {
				fmt.Println(name)
			}
			return nil
		},
	}
}
