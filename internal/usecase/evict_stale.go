package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"moviestream/internal/domain"
	"moviestream/internal/domain/ports"
	"moviestream/internal/metrics"
)

const DefaultRetention = 30 * 24 * time.Hour

type ArtifactRemover interface {
	RemoveAvailable(hash domain.ContentHash) error
}

// EvictStale deletes artifacts whose last watch is older than Retention.
// A failure on one hash never stops the rest of the batch.
type EvictStale struct {
	Repo      ports.CacheRepository
	Artifacts ArtifactRemover
	Retention time.Duration
	// DeleteRecords removes the cache entry together with the artifact.
	// When false the entry is left for the next stream request to repair.
	DeleteRecords bool
	Now           func() time.Time
	Logger        *slog.Logger
}

type EvictResult struct {
	Evicted []domain.ContentHash
	Failed  []domain.ContentHash
}

func (uc EvictStale) Execute(ctx context.Context) (EvictResult, error) {
	now := time.Now
	if uc.Now != nil {
		now = uc.Now
	}
	retention := uc.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	logger := uc.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hashes, err := uc.Repo.ListStale(ctx, now().Add(-retention))
	if err != nil {
		err = wrapRepo(err)
		logger.Warn("stale eviction skipped", slog.String("error", err.Error()))
		return EvictResult{}, err
	}

	var (
		result EvictResult
		errs   []error
	)
	for _, hash := range hashes {
		if err := uc.Artifacts.RemoveAvailable(hash); err != nil {
			metrics.EvictionFailuresTotal.Inc()
			result.Failed = append(result.Failed, hash)
			errs = append(errs, fmt.Errorf("%s: %w", hash, err))
			continue
		}
		if uc.DeleteRecords {
			if err := uc.Repo.Delete(ctx, hash); err != nil {
				metrics.EvictionFailuresTotal.Inc()
				result.Failed = append(result.Failed, hash)
				errs = append(errs, fmt.Errorf("%s: delete entry: %w", hash, err))
				continue
			}
		}
		metrics.EvictedEntriesTotal.Inc()
		result.Evicted = append(result.Evicted, hash)
	}

	if len(result.Evicted) > 0 {
		logger.Info("stale cache evicted", slog.Int("count", len(result.Evicted)))
	}
	if len(errs) > 0 {
		err := fmt.Errorf("%w: %w", domain.ErrEvictionPartial, errors.Join(errs...))
		logger.Warn("stale eviction incomplete",
			slog.Int("failed", len(result.Failed)),
			slog.String("error", err.Error()),
		)
		return result, err
	}
	return result, nil
}
