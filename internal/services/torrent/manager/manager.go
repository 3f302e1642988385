// Package manager runs at most one torrent acquisition per content hash and
// hands its selected video file to any number of concurrent callers.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"moviestream/internal/domain"
	"moviestream/internal/domain/ports"
	"moviestream/internal/metrics"
	"moviestream/internal/services/session/registry"
	"moviestream/internal/storage/layout"
)

const (
	defaultReadyTimeout = 2 * time.Minute

	failureEngine   = "engine"
	failureNoVideo  = "no_video"
	failureFinalize = "finalize"
	failureTimeout  = "ready_timeout"
)

type Config struct {
	// ReadyTimeout bounds the wait for swarm metadata.
	ReadyTimeout time.Duration
	// IdleTimeout is how long an unreferenced run is kept alive before its
	// engine is torn down. Zero tears down immediately.
	IdleTimeout time.Duration
}

var _ ports.SessionManager = (*Manager)(nil)

type Manager struct {
	engine    ports.Engine
	registry  *registry.Registry
	finalizer *Finalizer
	root      layout.Root
	logger    *slog.Logger

	readyTimeout time.Duration
	idleTimeout  time.Duration

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

func New(engine ports.Engine, reg *registry.Registry, finalizer *Finalizer, root layout.Root, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.IdleTimeout < 0 {
		cfg.IdleTimeout = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		engine:       engine,
		registry:     reg,
		finalizer:    finalizer,
		root:         root,
		logger:       logger,
		readyTimeout: cfg.ReadyTimeout,
		idleTimeout:  cfg.IdleTimeout,
		baseCtx:      ctx,
		stop:         cancel,
	}
}

// run is one acquisition. refs, ended, finalizing, finalized and idleTimer
// are guarded by the registry lock of the run's hash. readyErr, download
// and file are written by the acquire goroutine before ready is closed.
type run struct {
	hash   domain.ContentHash
	magnet string
	prev   *run

	ctx    context.Context
	cancel context.CancelFunc
	ready  chan struct{}
	done   chan struct{}

	readyErr    error
	readyClosed bool
	download    ports.Download
	file        domain.SelectedFile

	refs       int
	ended      bool
	finalizing bool
	finalized  bool
	idleTimer  *time.Timer
}

func (r *run) stopIdleTimer() {
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
}

// StartOrAttach returns a lease on the live run for hash, starting one if
// none exists. It blocks until the run has selected its video file, failed,
// or ctx ends. The caller must Release the lease.
func (m *Manager) StartOrAttach(ctx context.Context, hash domain.ContentHash) (ports.SessionLease, error) {
	if err := m.baseCtx.Err(); err != nil {
		return nil, fmt.Errorf("%w: manager stopped", domain.ErrEngine)
	}

	var (
		r       *run
		started bool
	)
	err := m.registry.Update(hash, func(s *registry.Session) error {
		if cur, ok := s.Handle.(*run); ok && !cur.ended {
			cur.refs++
			cur.stopIdleTimer()
			r = cur
			s.Waiters = cur.refs
			return nil
		}
		if s.MagnetURI == "" {
			return domain.ErrUnknownHash
		}
		prev, _ := s.Handle.(*run)
		r = m.newRun(hash, s.MagnetURI, prev)
		r.refs = 1
		started = true
		s.Handle = r
		s.Status = domain.SessionRequested
		s.File = nil
		s.Err = ""
		s.Waiters = 1
		return nil
	})
	if err != nil {
		return nil, err
	}

	if started {
		m.wg.Add(1)
		go m.acquire(r)
	}

	lease := &Lease{manager: m, run: r}
	select {
	case <-r.ready:
		if r.readyErr != nil {
			lease.Release()
			return nil, r.readyErr
		}
		return lease, nil
	case <-ctx.Done():
		lease.Release()
		return nil, ctx.Err()
	}
}

func (m *Manager) newRun(hash domain.ContentHash, magnet string, prev *run) *run {
	ctx, cancel := context.WithCancel(m.baseCtx)
	return &run{
		hash:   hash,
		magnet: magnet,
		prev:   prev,
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (m *Manager) release(r *run) {
	_ = m.registry.Update(r.hash, func(s *registry.Session) error {
		if r.refs > 0 {
			r.refs--
		}
		if s.Handle == any(r) {
			s.Waiters = r.refs
		}
		if r.refs > 0 || r.ended || r.finalizing {
			return nil
		}
		if r.finalized || m.idleTimeout == 0 {
			r.ended = true
			r.cancel()
			return nil
		}
		r.stopIdleTimer()
		r.idleTimer = time.AfterFunc(m.idleTimeout, func() { m.expire(r) })
		return nil
	})
}

// expire tears down r if it is still unreferenced.
func (m *Manager) expire(r *run) {
	_ = m.registry.Update(r.hash, func(s *registry.Session) error {
		r.idleTimer = nil
		if r.refs > 0 || r.ended || r.finalizing {
			return nil
		}
		r.ended = true
		r.cancel()
		return nil
	})
}

func (m *Manager) acquire(r *run) {
	defer m.wg.Done()
	defer close(r.done)
	defer r.cancel()

	if r.prev != nil {
		<-r.prev.done
		r.prev = nil
	}

	log := m.logger.With(slog.String("contentHash", string(r.hash)))
	metrics.EngineStartsTotal.Inc()

	dl, err := m.engine.Start(r.ctx, r.magnet, m.root.Downloading(r.hash))
	if err != nil {
		if r.ctx.Err() != nil {
			m.teardown(r, log)
			return
		}
		m.fail(r, log, failureEngine, wrapEngine(err))
		return
	}
	r.download = dl

	timer := time.NewTimer(m.readyTimeout)
	defer timer.Stop()
	select {
	case <-dl.Ready():
	case <-timer.C:
		m.fail(r, log, failureTimeout, fmt.Errorf("%w: metadata not received within %s", domain.ErrEngine, m.readyTimeout))
		return
	case <-dl.Closed():
		m.fail(r, log, failureEngine, fmt.Errorf("%w: torrent closed before metadata", domain.ErrEngine))
		return
	case <-r.ctx.Done():
		m.teardown(r, log)
		return
	}

	file, ok := pickVideoFile(dl.Files())
	if !ok {
		m.fail(r, log, failureNoVideo, domain.ErrNoVideoFile)
		return
	}
	if err := dl.Select(file.Index); err != nil {
		m.fail(r, log, failureEngine, wrapEngine(err))
		return
	}
	r.file = file

	if err := m.registry.Update(r.hash, func(s *registry.Session) error {
		if s.Handle != any(r) {
			return nil
		}
		selected := file
		s.File = &selected
		s.Status = domain.SessionDownloading
		return nil
	}); err != nil {
		log.Warn("session update failed", slog.String("error", err.Error()))
	}
	log.Info("file selected",
		slog.String("path", file.Path),
		slog.String("format", string(file.Format)),
		slog.Int64("length", file.Length),
	)
	r.readyClosed = true
	close(r.ready)

	select {
	case <-dl.Complete():
		m.finalize(r, log)
	case <-dl.Closed():
		m.fail(r, log, failureEngine, fmt.Errorf("%w: torrent closed during download", domain.ErrEngine))
	case <-r.ctx.Done():
		m.teardown(r, log)
	}
}

func (m *Manager) finalize(r *run, log *slog.Logger) {
	var movieID domain.MovieID
	_ = m.registry.Update(r.hash, func(s *registry.Session) error {
		r.finalizing = true
		r.stopIdleTimer()
		movieID = s.MovieID
		return nil
	})

	_, err := m.finalizer.Finalize(m.baseCtx, Job{
		Hash:       r.hash,
		MovieID:    movieID,
		File:       r.file,
		SourcePath: r.download.LocalPath(r.file.Index),
	})
	if err != nil {
		m.fail(r, log, failureFinalize, err)
		return
	}

	// Readers may still be streaming from the torrent; keep it until the
	// last lease is released.
	_ = m.registry.Update(r.hash, func(s *registry.Session) error {
		r.finalizing = false
		r.finalized = true
		if s.Handle == any(r) {
			s.Status = domain.SessionAvailable
		}
		if r.refs == 0 {
			r.ended = true
			r.cancel()
		}
		return nil
	})
	<-r.ctx.Done()

	r.download.Drop()
	if err := m.finalizer.Cleanup(r.hash); err != nil {
		log.Warn("download cleanup failed", slog.String("error", err.Error()))
	}
	m.end(r, nil)
}

// fail records err on the session and releases the engine. Waiters that
// have not yet seen the file receive err.
func (m *Manager) fail(r *run, log *slog.Logger, reason string, err error) {
	metrics.SessionFailuresTotal.WithLabelValues(reason).Inc()
	log.Error("session failed", slog.String("reason", reason), slog.String("error", err.Error()))

	if !r.readyClosed {
		r.readyErr = err
		r.readyClosed = true
		close(r.ready)
	}
	if r.download != nil {
		r.download.Drop()
	}
	if cleanupErr := m.root.RemoveDownloading(r.hash); cleanupErr != nil {
		log.Warn("download cleanup failed", slog.String("error", cleanupErr.Error()))
	}
	m.end(r, func(s *registry.Session) {
		s.Status = domain.SessionFailed
		s.Err = err.Error()
	})
}

// teardown releases an abandoned run. The session returns to requested so a
// later request starts over.
func (m *Manager) teardown(r *run, log *slog.Logger) {
	if !r.readyClosed {
		r.readyErr = fmt.Errorf("%w: session cancelled", domain.ErrEngine)
		r.readyClosed = true
		close(r.ready)
	}
	if r.download != nil {
		r.download.Drop()
	}
	if err := m.root.RemoveDownloading(r.hash); err != nil {
		log.Warn("download cleanup failed", slog.String("error", err.Error()))
	}
	log.Info("session torn down")
	m.end(r, func(s *registry.Session) {
		s.Status = domain.SessionRequested
		s.File = nil
	})
}

func (m *Manager) end(r *run, apply func(*registry.Session)) {
	_ = m.registry.Update(r.hash, func(s *registry.Session) error {
		r.ended = true
		r.stopIdleTimer()
		if s.Handle != any(r) {
			return nil
		}
		s.Handle = nil
		s.Waiters = 0
		if apply != nil {
			apply(s)
		}
		return nil
	})
}

// Close cancels every run and waits for their engines to be released.
func (m *Manager) Close() {
	m.stop()
	m.wg.Wait()
}

func wrapEngine(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrEngine) || errors.Is(err, domain.ErrInvalidSource) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrEngine, err)
}
