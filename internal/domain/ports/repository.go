package ports

import (
	"context"
	"time"

	"moviestream/internal/domain"
)

// CacheRepository persists cache entries keyed by content hash.
type CacheRepository interface {
	Upsert(ctx context.Context, entry domain.CacheEntry) error
	Get(ctx context.Context, hash domain.ContentHash) (domain.CacheEntry, error)
	Touch(ctx context.Context, hash domain.ContentHash, at time.Time) error
	ListStale(ctx context.Context, cutoff time.Time) ([]domain.ContentHash, error)
	Delete(ctx context.Context, hash domain.ContentHash) error
	// DeleteIfUnchanged removes the stored entry only while it still matches
	// entry as read. It reports whether a row was removed.
	DeleteIfUnchanged(ctx context.Context, entry domain.CacheEntry) (bool, error)
}

// ResolverCache remembers the canonical form of fetched .torrent URLs.
type ResolverCache interface {
	Get(ctx context.Context, key string) (domain.ResolvedSource, bool, error)
	Set(ctx context.Context, key string, value domain.ResolvedSource, ttl time.Duration) error
}
