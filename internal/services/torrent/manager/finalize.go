package manager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"moviestream/internal/domain"
	"moviestream/internal/domain/ports"
	"moviestream/internal/metrics"
	"moviestream/internal/storage/layout"
)

const (
	modeLink      = "link"
	modeTranscode = "transcode"
)

// Job describes a fully downloaded file ready to become a cache artifact.
type Job struct {
	Hash       domain.ContentHash
	MovieID    domain.MovieID
	File       domain.SelectedFile
	SourcePath string
}

// Finalizer turns a completed download into available/{hash} and records
// the cache entry. Nothing partial is ever visible under available/: the
// artifact is staged at a temp path and renamed into place.
type Finalizer struct {
	root       layout.Root
	repo       ports.CacheRepository
	transcoder ports.Transcoder
	logger     *slog.Logger
	now        func() time.Time
}

func NewFinalizer(root layout.Root, repo ports.CacheRepository, transcoder ports.Transcoder, logger *slog.Logger) *Finalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finalizer{
		root:       root,
		repo:       repo,
		transcoder: transcoder,
		logger:     logger,
		now:        time.Now,
	}
}

func (f *Finalizer) Finalize(ctx context.Context, job Job) (domain.CacheEntry, error) {
	mode := modeLink
	if !job.File.Format.WebPlayable() {
		mode = modeTranscode
	}
	entry, err := f.finalize(ctx, job, mode)
	if err != nil {
		metrics.FinalizeTotal.WithLabelValues("failure", mode).Inc()
		return domain.CacheEntry{}, err
	}
	metrics.FinalizeTotal.WithLabelValues("success", mode).Inc()
	return entry, nil
}

func (f *Finalizer) finalize(ctx context.Context, job Job, mode string) (domain.CacheEntry, error) {
	info, err := os.Stat(job.SourcePath)
	if err != nil {
		return domain.CacheEntry{}, fmt.Errorf("stat downloaded file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return domain.CacheEntry{}, fmt.Errorf("downloaded file %s is not a regular file", job.SourcePath)
	}
	if err := os.MkdirAll(f.root.AvailableRoot(), 0o755); err != nil {
		return domain.CacheEntry{}, err
	}

	tmp, err := f.root.TempArtifact(job.Hash)
	if err != nil {
		return domain.CacheEntry{}, err
	}

	format := job.File.Format
	start := time.Now()
	switch mode {
	case modeLink:
		if err := layout.LinkOrCopy(job.SourcePath, tmp); err != nil {
			_ = os.Remove(tmp)
			return domain.CacheEntry{}, fmt.Errorf("stage artifact: %w", err)
		}
	default:
		if f.transcoder == nil {
			return domain.CacheEntry{}, fmt.Errorf("%w: transcoder not configured", domain.ErrTranscodeFailed)
		}
		if err := f.transcoder.TranscodeFile(ctx, job.SourcePath, tmp); err != nil {
			_ = os.Remove(tmp)
			return domain.CacheEntry{}, err
		}
		format = domain.FormatMP4
	}

	staged, err := os.Stat(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return domain.CacheEntry{}, err
	}
	if err := f.root.Publish(tmp, job.Hash); err != nil {
		_ = os.Remove(tmp)
		return domain.CacheEntry{}, fmt.Errorf("publish artifact: %w", err)
	}

	entry := domain.CacheEntry{
		Hash:        job.Hash,
		MovieID:     job.MovieID,
		Format:      format,
		Size:        staged.Size(),
		LastWatched: f.now().UTC(),
	}
	if err := f.repo.Upsert(ctx, entry); err != nil {
		// Without a row the artifact would never be trusted; drop it so disk
		// and store agree.
		_ = f.root.RemoveAvailable(job.Hash)
		return domain.CacheEntry{}, fmt.Errorf("record cache entry: %w", err)
	}

	f.logger.Info("artifact published",
		slog.String("contentHash", string(job.Hash)),
		slog.Int64("movieId", int64(job.MovieID)),
		slog.String("mode", mode),
		slog.String("format", string(format)),
		slog.Int64("size", entry.Size),
		slog.Duration("elapsed", time.Since(start)),
	)
	return entry, nil
}

// Cleanup removes the download directory for hash, including the original
// file of a transcoded artifact.
func (f *Finalizer) Cleanup(hash domain.ContentHash) error {
	return f.root.RemoveDownloading(hash)
}
