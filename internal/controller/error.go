// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/clr-profiler/internal/controller"

// ExitNoAgent is the exit code for a missing agent installation.
const ExitNoAgent = 3

// ErrorWithExitCode provides an error with an exit code
// Used to be able to return errors with the exit code the CLI is expected to
// return when exiting.
type ErrorWithExitCode struct {
	error
	code int
}

func withExitCode(err error, code int) error {
	return ErrorWithExitCode{error: err, code: code}
}

func (e ErrorWithExitCode) Code() int {
	return e.code
}

func (e ErrorWithExitCode) Unwrap() error {
	return e.error
}
