package source

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"moviestream/internal/domain"
	"moviestream/internal/domain/ports"
	"moviestream/internal/metrics"
)

// Resolver turns a magnet link or .torrent URL into a content hash and a
// magnet URI for the engine. Resolved URLs are cached; concurrent fetches
// of the same URL share one request.
type Resolver struct {
	fetcher *Fetcher
	cache   ports.ResolverCache
	ttl     time.Duration
	logger  *slog.Logger
	group   singleflight.Group
}

func NewResolver(fetcher *Fetcher, cache ports.ResolverCache, ttl time.Duration, logger *slog.Logger) *Resolver {
	if fetcher == nil {
		fetcher = NewFetcher(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{fetcher: fetcher, cache: cache, ttl: ttl, logger: logger}
}

func (r *Resolver) ResolveMagnet(raw string) (domain.ResolvedSource, error) {
	return ParseMagnet(raw)
}

func (r *Resolver) ResolveURL(ctx context.Context, rawURL string) (domain.ResolvedSource, error) {
	key := strings.TrimSpace(rawURL)
	if r.cache != nil {
		cached, ok, err := r.cache.Get(ctx, key)
		if err != nil {
			r.logger.Warn("resolver cache read failed", slog.String("url", key), slog.String("error", err.Error()))
		} else if ok {
			metrics.ResolverCacheHitsTotal.Inc()
			return cached, nil
		}
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		data, err := r.fetcher.Fetch(ctx, key)
		if err != nil {
			return domain.ResolvedSource{}, err
		}
		return DecodeTorrent(bytes.NewReader(data))
	})
	if err != nil {
		return domain.ResolvedSource{}, err
	}
	resolved := v.(domain.ResolvedSource)

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, resolved, r.ttl); err != nil {
			r.logger.Warn("resolver cache write failed", slog.String("url", key), slog.String("error", err.Error()))
		}
	}
	return resolved, nil
}
