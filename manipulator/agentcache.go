// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package manipulator // import "go.opentelemetry.io/clr-profiler/manipulator"

import (
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/clr-profiler/internal/xsync"
)

// Strategy selects how a rewritten API stub finds its agent implementation.
type Strategy uint8

const (
	// StrategyInAgentCache resolves implementations through the agent's own
	// method cache. The cache lookup method is resolved once per process.
	StrategyInAgentCache Strategy = iota
	// StrategyReflection looks the implementation up by reflection on every call.
	StrategyReflection
)

var strategyNames = map[Strategy]string{
	StrategyInAgentCache: "agent-cache",
	StrategyReflection:   "reflection",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", uint8(s))
}

// ParseStrategy parses a strategy name as printed by String.
func ParseStrategy(name string) (Strategy, error) {
	for s, n := range strategyNames {
		if strings.EqualFold(n, name) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown API strategy %q", name)
}

// AgentCache describes where rewritten API stubs find the agent cache.
type AgentCache struct {
	// AssemblyPath is the agent core assembly.
	AssemblyPath string
	// TypeName is the agent type implementing the API.
	TypeName string
}

// AgentCacheState is the process-wide agent cache configuration. It is set
// once, and racing initializations observe the first value.
type AgentCacheState struct {
	cache xsync.Once[AgentCache]
}

// Init sets the agent cache configuration unless it was already set, and
// returns the configuration in effect.
func (s *AgentCacheState) Init(assemblyPath, typeName string) (*AgentCache, error) {
	return s.cache.GetOrInit(func() (AgentCache, error) {
		if assemblyPath == "" || typeName == "" {
			return AgentCache{}, errors.New("agent cache needs an assembly path and type")
		}
		return AgentCache{AssemblyPath: assemblyPath, TypeName: typeName}, nil
	})
}

// Load returns the configuration or nil before the first successful Init.
func (s *AgentCacheState) Load() *AgentCache {
	if s == nil {
		return nil
	}
	return s.cache.Get()
}
