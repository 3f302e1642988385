package source

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"moviestream/internal/domain"
)

const defaultMemoryCacheSize = 1024

// MemoryCache is an in-process resolver cache. Entries expire after the TTL
// given at construction; the per-call ttl is ignored.
type MemoryCache struct {
	lru *expirable.LRU[string, domain.ResolvedSource]
}

func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = defaultMemoryCacheSize
	}
	return &MemoryCache{lru: expirable.NewLRU[string, domain.ResolvedSource](size, nil, ttl)}
}

func (m *MemoryCache) Get(_ context.Context, key string) (domain.ResolvedSource, bool, error) {
	value, ok := m.lru.Get(key)
	return value, ok, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value domain.ResolvedSource, _ time.Duration) error {
	m.lru.Add(key, value)
	return nil
}
