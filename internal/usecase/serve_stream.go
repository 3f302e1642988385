package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"moviestream/internal/domain"
	"moviestream/internal/domain/ports"
	"moviestream/internal/metrics"
)

type StreamSource string

const (
	SourceCache     StreamSource = "cache"
	SourceTorrent   StreamSource = "torrent"
	SourceTranscode StreamSource = "transcode"
)

const defaultStreamReadahead = 16 << 20

type ArtifactStore interface {
	Available(hash domain.ContentHash) string
	StatArtifact(hash domain.ContentHash) (int64, error)
}

type Sweeper interface {
	Execute(ctx context.Context) (EvictResult, error)
}

// StreamResult is an open stream for one request. Size is -1 when the
// length is not known ahead of time. The caller must Close it.
type StreamResult struct {
	Hash        domain.ContentHash
	Source      StreamSource
	ContentType string
	Size        int64
	Reader      io.Reader

	closeOnce sync.Once
	closeFn   func() error
	closeErr  error
}

// Seekable reports whether Reader supports byte-range access.
func (r *StreamResult) Seekable() (io.ReadSeeker, bool) {
	if r.Size < 0 {
		return nil, false
	}
	rs, ok := r.Reader.(io.ReadSeeker)
	return rs, ok
}

func (r *StreamResult) Close() error {
	r.closeOnce.Do(func() {
		if r.closeFn != nil {
			r.closeErr = r.closeFn()
		}
	})
	return r.closeErr
}

// ServeStream picks where the bytes for a hash come from: the disk cache
// when the store and the filesystem agree, otherwise the live torrent,
// piped through the transcoder when the container is not web playable.
type ServeStream struct {
	Repo       ports.CacheRepository
	Artifacts  ArtifactStore
	Sessions   ports.SessionManager
	Transcoder ports.Transcoder
	Sweeper    Sweeper
	Readahead  int64
	Now        func() time.Time
	Logger     *slog.Logger
}

func (uc ServeStream) Execute(ctx context.Context, hash domain.ContentHash) (*StreamResult, error) {
	logger := uc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With(slog.String("contentHash", string(hash)))

	if uc.Sweeper != nil {
		// Eviction failures are logged by the sweeper and never block a stream.
		_, _ = uc.Sweeper.Execute(ctx)
	}

	result, ok, err := uc.openCached(ctx, hash, log)
	if err != nil {
		return nil, err
	}
	if ok {
		metrics.CacheHitsTotal.Inc()
		return result, nil
	}
	metrics.CacheMissesTotal.Inc()

	if uc.Sessions == nil {
		return nil, domain.ErrUnknownHash
	}
	lease, err := uc.Sessions.StartOrAttach(ctx, hash)
	if err != nil {
		return nil, err
	}
	result, err = uc.openLive(ctx, lease, log)
	if err != nil {
		lease.Release()
		return nil, err
	}
	return result, nil
}

// OpenCached opens the cached artifact for hash without starting an
// acquisition. ok is false on a cache miss.
func (uc ServeStream) OpenCached(ctx context.Context, hash domain.ContentHash) (*StreamResult, bool, error) {
	logger := uc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return uc.openCached(ctx, hash, logger.With(slog.String("contentHash", string(hash))))
}

// openCached serves the artifact only when both the cache entry and the
// file exist. An entry whose file is gone is deleted so the next request
// goes straight to the engine.
func (uc ServeStream) openCached(ctx context.Context, hash domain.ContentHash, log *slog.Logger) (*StreamResult, bool, error) {
	if uc.Repo == nil || uc.Artifacts == nil {
		return nil, false, nil
	}
	entry, err := uc.Repo.Get(ctx, hash)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Warn("cache lookup failed", slog.String("error", err.Error()))
		}
		return nil, false, nil
	}

	size, err := uc.Artifacts.StatArtifact(hash)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, false, fmt.Errorf("stat artifact: %w", err)
		}
		log.Warn("cache entry without artifact, repairing")
		removed, delErr := uc.Repo.DeleteIfUnchanged(ctx, entry)
		switch {
		case delErr != nil:
			log.Warn("cache repair failed", slog.String("error", delErr.Error()))
		case removed:
			metrics.CacheRepairsTotal.Inc()
		default:
			log.Info("cache entry changed during repair, kept")
		}
		return nil, false, nil
	}

	f, err := os.Open(uc.Artifacts.Available(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("open artifact: %w", err)
	}

	now := time.Now
	if uc.Now != nil {
		now = uc.Now
	}
	if err := uc.Repo.Touch(ctx, hash, now().UTC()); err != nil {
		log.Warn("last watched update failed", slog.String("error", err.Error()))
	}

	return &StreamResult{
		Hash:        hash,
		Source:      SourceCache,
		ContentType: entry.Format.ContentType(),
		Size:        size,
		Reader:      f,
		closeFn:     f.Close,
	}, true, nil
}

func (uc ServeStream) openLive(ctx context.Context, lease ports.SessionLease, log *slog.Logger) (*StreamResult, error) {
	file := lease.File()
	reader, err := lease.NewReader()
	if err != nil {
		return nil, fmt.Errorf("%w: open reader: %v", domain.ErrEngine, err)
	}
	readahead := uc.Readahead
	if readahead <= 0 {
		readahead = defaultStreamReadahead
	}
	reader.SetReadahead(readahead)

	if file.Format.WebPlayable() {
		reader.SetContext(ctx)
		return &StreamResult{
			Hash:        lease.Hash(),
			Source:      SourceTorrent,
			ContentType: file.Format.ContentType(),
			Size:        file.Length,
			Reader:      reader,
			closeFn: func() error {
				err := reader.Close()
				lease.Release()
				return err
			},
		}, nil
	}

	if uc.Transcoder == nil {
		_ = reader.Close()
		return nil, fmt.Errorf("%w: transcoder not configured", domain.ErrTranscodeFailed)
	}

	tctx, cancel := context.WithCancel(ctx)
	reader.SetContext(tctx)
	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := uc.Transcoder.Stream(tctx, reader, pw)
		if err != nil && tctx.Err() == nil {
			log.Error("live transcode failed", slog.String("error", err.Error()))
		}
		_ = pw.CloseWithError(err)
	}()

	return &StreamResult{
		Hash:        lease.Hash(),
		Source:      SourceTranscode,
		ContentType: "video/mp4",
		Size:        -1,
		Reader:      pr,
		closeFn: func() error {
			cancel()
			_ = pr.Close()
			<-done
			err := reader.Close()
			lease.Release()
			return err
		},
	}, nil
}
