// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package instrumentation // import "go.opentelemetry.io/clr-profiler/instrumentation"

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/clr-profiler/stringutil"
)

const (
	// ServerlessTracerFactory is the tracer factory of the handler point.
	ServerlessTracerFactory = "NewRelic.Providers.Wrapper.AwsLambda.HandlerMethod"

	// Environment variables naming the serverless handler, in lookup order.
	LambdaHandlerEnv = "NEW_RELIC_LAMBDA_HANDLER"
	HandlerEnv       = "_HANDLER"

	handlerSeparator = "::"
)

// ErrInvalidHandler is returned for malformed handler descriptors.
var ErrInvalidHandler = errors.New("invalid handler descriptor")

// Environment looks up environment variables.
type Environment interface {
	TryGetEnvironmentVariable(name string) (string, bool)
}

// ServerlessPoint builds the point for an "assembly::class::method" handler
// descriptor.
func ServerlessPoint(descriptor string) (*Point, error) {
	var fields [4]string
	n := stringutil.SplitN(descriptor, handlerSeparator, fields[:])
	if n != 3 {
		return nil, fmt.Errorf("%w: %q needs 3 %q separated parts, found %d",
			ErrInvalidHandler, descriptor, handlerSeparator, n)
	}
	for _, field := range fields[:n] {
		if field == "" {
			return nil, fmt.Errorf("%w: %q has an empty part", ErrInvalidHandler, descriptor)
		}
	}
	return &Point{
		TracerFactoryName: ServerlessTracerFactory,
		AssemblyName:      fields[0],
		ClassName:         fields[1],
		MethodName:        fields[2],
	}, nil
}

// ServerlessPointFromEnvironment returns the handler point configured through
// the environment, or nil. Malformed descriptors are logged and ignored.
func ServerlessPointFromEnvironment(env Environment) *Point {
	for _, name := range []string{LambdaHandlerEnv, HandlerEnv} {
		descriptor, ok := env.TryGetEnvironmentVariable(name)
		if !ok || descriptor == "" {
			continue
		}
		point, err := ServerlessPoint(descriptor)
		if err != nil {
			log.Warnf("Ignoring %s: %v", name, err)
			return nil
		}
		log.Debugf("Serverless handler from %s: %s", name, point.MatchKey())
		return point
	}
	return nil
}
