// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package sigparser // import "go.opentelemetry.io/clr-profiler/sigparser"

import (
	"github.com/elastic/go-freelru"
	"github.com/zeebo/xxh3"
)

// DefaultParameterCacheSize is the number of rendered parameter strings kept.
const DefaultParameterCacheSize = 4096

// ParameterCache caches rendered parameter strings. Tokens are module scoped,
// so the module name is part of the key.
type ParameterCache struct {
	strings *freelru.SyncedLRU[uint64, string]
}

func hashKey(k uint64) uint32 {
	return uint32(k ^ k>>32)
}

// NewParameterCache creates a cache holding up to size entries.
func NewParameterCache(size uint32) (*ParameterCache, error) {
	lru, err := freelru.NewSynced[uint64, string](size, hashKey)
	if err != nil {
		return nil, err
	}
	return &ParameterCache{strings: lru}, nil
}

func cacheKey(module string, signature []byte) uint64 {
	h := xxh3.New()
	_, _ = h.WriteString(module)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(signature)
	return h.Sum64()
}

// ParameterString returns the rendered parameter string of the method signature,
// parsing and formatting it on a cache miss. Failures are not cached.
func (c *ParameterCache) ParameterString(module string, signature []byte,
	resolver TokenResolver) (string, error) {
	key := cacheKey(module, signature)
	if s, ok := c.strings.Get(key); ok {
		return s, nil
	}
	sig, err := ParseMethodSignature(signature)
	if err != nil {
		return "", err
	}
	s, err := sig.ParameterString(resolver)
	if err != nil {
		return "", err
	}
	c.strings.Add(key, s)
	return s, nil
}

// Len returns the number of cached entries.
func (c *ParameterCache) Len() int {
	return c.strings.Len()
}
