package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"moviestream/internal/domain"
	"moviestream/internal/domain/ports"
	"moviestream/internal/services/session/registry"
	"moviestream/internal/storage/layout"
)

const testHash = domain.ContentHash("0123456789abcdef0123456789abcdef01234567")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDownload struct {
	dir      string
	files    []domain.TorrentFile
	ready    chan struct{}
	closed   chan struct{}
	complete chan struct{}

	selected  atomic.Int32
	dropped   atomic.Int32
	closeOnce sync.Once
}

func newFakeDownload(files ...domain.TorrentFile) *fakeDownload {
	d := &fakeDownload{
		files:    files,
		ready:    make(chan struct{}),
		closed:   make(chan struct{}),
		complete: make(chan struct{}),
	}
	d.selected.Store(-1)
	return d
}

func (d *fakeDownload) Ready() <-chan struct{}    { return d.ready }
func (d *fakeDownload) Closed() <-chan struct{}   { return d.closed }
func (d *fakeDownload) Complete() <-chan struct{} { return d.complete }
func (d *fakeDownload) Files() []domain.TorrentFile {
	return append([]domain.TorrentFile(nil), d.files...)
}
func (d *fakeDownload) Select(index int) error {
	d.selected.Store(int32(index))
	return nil
}
func (d *fakeDownload) NewReader(int) (ports.StreamReader, error) {
	return nil, errors.New("not implemented")
}
func (d *fakeDownload) LocalPath(index int) string {
	return filepath.Join(d.dir, filepath.FromSlash(d.files[index].Path))
}
func (d *fakeDownload) Drop() {
	d.dropped.Add(1)
	d.closeOnce.Do(func() { close(d.closed) })
}

type fakeEngine struct {
	mu        sync.Mutex
	starts    int
	downloads []*fakeDownload
	next      func() *fakeDownload
	startErr  error
}

func (e *fakeEngine) Start(_ context.Context, _ string, dir string) (ports.Download, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.starts++
	if e.startErr != nil {
		return nil, e.startErr
	}
	d := e.next()
	d.dir = dir
	e.downloads = append(e.downloads, d)
	return d, nil
}

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) Starts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts
}

func (e *fakeEngine) Last() *fakeDownload {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.downloads[len(e.downloads)-1]
}

type fakeRepo struct {
	mu      sync.Mutex
	entries map[domain.ContentHash]domain.CacheEntry
	err     error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{entries: make(map[domain.ContentHash]domain.CacheEntry)}
}

func (r *fakeRepo) Upsert(_ context.Context, e domain.CacheEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries[e.Hash] = e
	return nil
}
func (r *fakeRepo) Get(_ context.Context, h domain.ContentHash) (domain.CacheEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[h]
	if !ok {
		return domain.CacheEntry{}, domain.ErrNotFound
	}
	return e, nil
}
func (r *fakeRepo) Touch(context.Context, domain.ContentHash, time.Time) error { return nil }
func (r *fakeRepo) ListStale(context.Context, time.Time) ([]domain.ContentHash, error) {
	return nil, nil
}
func (r *fakeRepo) Delete(context.Context, domain.ContentHash) error { return nil }
func (r *fakeRepo) DeleteIfUnchanged(context.Context, domain.CacheEntry) (bool, error) {
	return false, nil
}

type fakeTranscoder struct {
	err error
}

func (f fakeTranscoder) Stream(context.Context, io.Reader, io.Writer) error { return nil }
func (f fakeTranscoder) TranscodeFile(_ context.Context, _, out string) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(out, []byte("transcoded"), 0o644)
}

type harness struct {
	manager  *Manager
	engine   *fakeEngine
	registry *registry.Registry
	repo     *fakeRepo
	root     layout.Root
}

func newHarness(t *testing.T, cfg Config, transcoder ports.Transcoder, files ...domain.TorrentFile) *harness {
	t.Helper()
	root, err := layout.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := root.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	reg := registry.New()
	reg.Register(testHash, "magnet:?xt=urn:btih:"+string(testHash), 42)
	engine := &fakeEngine{next: func() *fakeDownload { return newFakeDownload(files...) }}
	repo := newFakeRepo()
	fin := NewFinalizer(root, repo, transcoder, discardLogger())
	m := New(engine, reg, fin, root, cfg, discardLogger())
	t.Cleanup(m.Close)
	return &harness{manager: m, engine: engine, registry: reg, repo: repo, root: root}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) status() domain.SessionStatus {
	s, _ := h.registry.Get(testHash)
	return s.Status
}

func (h *harness) waitForDownload(t *testing.T) *fakeDownload {
	t.Helper()
	waitFor(t, "engine start", func() bool { return h.engine.Starts() > 0 })
	return h.engine.Last()
}

var movieFiles = []domain.TorrentFile{
	{Index: 0, Path: "Movie/readme.txt", Length: 10},
	{Index: 1, Path: "Movie/movie.mp4", Length: 7},
	{Index: 2, Path: "Movie/extras.mkv", Length: 100},
}

func TestPickVideoFileFirstMatch(t *testing.T) {
	got, ok := pickVideoFile(movieFiles)
	if !ok {
		t.Fatal("expected a video file")
	}
	if got.Index != 1 || got.Name != "movie.mp4" || got.Format != domain.FormatMP4 {
		t.Fatalf("picked %+v", got)
	}
	if _, ok := pickVideoFile([]domain.TorrentFile{{Path: "a.nfo"}}); ok {
		t.Fatal("expected no video file")
	}
}

func TestConcurrentStartOrAttachStartsOneEngine(t *testing.T) {
	h := newHarness(t, Config{IdleTimeout: time.Minute}, nil, movieFiles...)

	const callers = 16
	var wg sync.WaitGroup
	leases := make(chan ports.SessionLease, callers)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := h.manager.StartOrAttach(context.Background(), testHash)
			if err != nil {
				errs <- err
				return
			}
			leases <- lease
		}()
	}

	d := h.waitForDownload(t)
	time.Sleep(20 * time.Millisecond)
	close(d.ready)
	wg.Wait()
	close(errs)
	close(leases)

	for err := range errs {
		t.Fatalf("StartOrAttach: %v", err)
	}
	if h.engine.Starts() != 1 {
		t.Fatalf("engine starts = %d, want 1", h.engine.Starts())
	}
	count := 0
	for lease := range leases {
		count++
		if lease.File().Index != 1 {
			t.Fatalf("lease file = %+v", lease.File())
		}
		lease.Release()
	}
	if count != callers {
		t.Fatalf("leases = %d", count)
	}
	if d.selected.Load() != 1 {
		t.Fatalf("selected = %d", d.selected.Load())
	}
	if h.status() != domain.SessionDownloading {
		t.Fatalf("status = %s", h.status())
	}
}

func TestStartOrAttachUnknownHash(t *testing.T) {
	h := newHarness(t, Config{}, nil, movieFiles...)
	_, err := h.manager.StartOrAttach(context.Background(), domain.ContentHash("ffffffffffffffffffffffffffffffffffffffff"))
	if !errors.Is(err, domain.ErrUnknownHash) {
		t.Fatalf("err = %v, want ErrUnknownHash", err)
	}
}

func TestNoVideoFileFailsSession(t *testing.T) {
	files := []domain.TorrentFile{{Index: 0, Path: "album/track.flac"}}
	h := newHarness(t, Config{}, nil, files...)
	h.engine.next = func() *fakeDownload {
		d := newFakeDownload(files...)
		close(d.ready)
		return d
	}

	_, err := h.manager.StartOrAttach(context.Background(), testHash)
	if !errors.Is(err, domain.ErrNoVideoFile) {
		t.Fatalf("err = %v, want ErrNoVideoFile", err)
	}
	waitFor(t, "failed status", func() bool { return h.status() == domain.SessionFailed })
	waitFor(t, "engine dropped", func() bool { return h.engine.Last().dropped.Load() > 0 })
}

func TestEngineStartErrorIsEngineError(t *testing.T) {
	h := newHarness(t, Config{}, nil, movieFiles...)
	h.engine.startErr = errors.New("tracker unreachable")

	_, err := h.manager.StartOrAttach(context.Background(), testHash)
	if !errors.Is(err, domain.ErrEngine) {
		t.Fatalf("err = %v, want ErrEngine", err)
	}
	waitFor(t, "failed status", func() bool { return h.status() == domain.SessionFailed })
	if s, _ := h.registry.Get(testHash); s.Err == "" {
		t.Fatalf("session error not recorded: %+v", s)
	}
}

func TestReadyTimeout(t *testing.T) {
	h := newHarness(t, Config{ReadyTimeout: 20 * time.Millisecond}, nil, movieFiles...)
	_, err := h.manager.StartOrAttach(context.Background(), testHash)
	if !errors.Is(err, domain.ErrEngine) {
		t.Fatalf("err = %v, want ErrEngine", err)
	}
	waitFor(t, "timed out engine dropped", func() bool { return h.engine.Last().dropped.Load() > 0 })
}

func TestRetryAfterFailureStartsNewEngine(t *testing.T) {
	h := newHarness(t, Config{ReadyTimeout: 20 * time.Millisecond}, nil, movieFiles...)
	if _, err := h.manager.StartOrAttach(context.Background(), testHash); err == nil {
		t.Fatal("expected first attempt to fail")
	}
	waitFor(t, "failed status", func() bool { return h.status() == domain.SessionFailed })

	h.engine.next = func() *fakeDownload {
		d := newFakeDownload(movieFiles...)
		close(d.ready)
		return d
	}
	lease, err := h.manager.StartOrAttach(context.Background(), testHash)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	defer lease.Release()
	if h.engine.Starts() != 2 {
		t.Fatalf("starts = %d, want 2", h.engine.Starts())
	}
}

func TestReleaseWithoutIdleTimeoutTearsDown(t *testing.T) {
	h := newHarness(t, Config{IdleTimeout: 0}, nil, movieFiles...)
	h.engine.next = func() *fakeDownload {
		d := newFakeDownload(movieFiles...)
		close(d.ready)
		return d
	}

	lease, err := h.manager.StartOrAttach(context.Background(), testHash)
	if err != nil {
		t.Fatalf("StartOrAttach: %v", err)
	}
	d := h.engine.Last()
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		t.Fatal(err)
	}

	lease.Release()
	lease.Release()

	waitFor(t, "teardown", func() bool { return d.dropped.Load() > 0 })
	waitFor(t, "requested status", func() bool { return h.status() == domain.SessionRequested })
	waitFor(t, "download dir removed", func() bool {
		_, err := os.Stat(h.root.Downloading(testHash))
		return os.IsNotExist(err)
	})
}

func TestAttachWithinIdleWindowKeepsEngine(t *testing.T) {
	h := newHarness(t, Config{IdleTimeout: 80 * time.Millisecond}, nil, movieFiles...)
	h.engine.next = func() *fakeDownload {
		d := newFakeDownload(movieFiles...)
		close(d.ready)
		return d
	}

	first, err := h.manager.StartOrAttach(context.Background(), testHash)
	if err != nil {
		t.Fatalf("StartOrAttach: %v", err)
	}
	first.Release()

	second, err := h.manager.StartOrAttach(context.Background(), testHash)
	if err != nil {
		t.Fatalf("reattach: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if h.engine.Starts() != 1 {
		t.Fatalf("starts = %d, want 1", h.engine.Starts())
	}
	if h.engine.Last().dropped.Load() != 0 {
		t.Fatal("engine dropped while a lease is held")
	}

	second.Release()
	waitFor(t, "idle teardown", func() bool { return h.engine.Last().dropped.Load() > 0 })
}

func TestCancelledWaiterReleasesRun(t *testing.T) {
	h := newHarness(t, Config{IdleTimeout: 0}, nil, movieFiles...)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := h.manager.StartOrAttach(ctx, testHash)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	waitFor(t, "abandoned engine dropped", func() bool { return h.engine.Last().dropped.Load() > 0 })
}

func writeDownloaded(t *testing.T, d *fakeDownload, index int, content string) {
	t.Helper()
	p := d.LocalPath(index)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCompletionPublishesWebPlayableArtifact(t *testing.T) {
	h := newHarness(t, Config{IdleTimeout: time.Minute}, nil, movieFiles...)
	h.engine.next = func() *fakeDownload {
		d := newFakeDownload(movieFiles...)
		close(d.ready)
		return d
	}

	lease, err := h.manager.StartOrAttach(context.Background(), testHash)
	if err != nil {
		t.Fatalf("StartOrAttach: %v", err)
	}
	d := h.engine.Last()
	writeDownloaded(t, d, 1, "mp4data")
	close(d.complete)

	waitFor(t, "available status", func() bool { return h.status() == domain.SessionAvailable })
	data, err := os.ReadFile(h.root.Available(testHash))
	if err != nil || string(data) != "mp4data" {
		t.Fatalf("artifact = %q, %v", data, err)
	}
	entry, err := h.repo.Get(context.Background(), testHash)
	if err != nil {
		t.Fatalf("cache entry: %v", err)
	}
	if entry.MovieID != 42 || entry.Format != domain.FormatMP4 || entry.Size != 7 {
		t.Fatalf("entry = %+v", entry)
	}
	if d.dropped.Load() != 0 {
		t.Fatal("engine dropped while a reader holds a lease")
	}

	lease.Release()
	waitFor(t, "engine released after finalize", func() bool { return d.dropped.Load() > 0 })
	waitFor(t, "download dir removed", func() bool {
		_, err := os.Stat(h.root.Downloading(testHash))
		return os.IsNotExist(err)
	})
	if h.status() != domain.SessionAvailable {
		t.Fatalf("status = %s, want available", h.status())
	}
}

func TestCompletionTranscodesOtherFormats(t *testing.T) {
	files := []domain.TorrentFile{{Index: 0, Path: "movie.mkv", Length: 3}}
	h := newHarness(t, Config{IdleTimeout: 0}, fakeTranscoder{}, files...)
	h.engine.next = func() *fakeDownload {
		d := newFakeDownload(files...)
		close(d.ready)
		return d
	}

	lease, err := h.manager.StartOrAttach(context.Background(), testHash)
	if err != nil {
		t.Fatalf("StartOrAttach: %v", err)
	}
	d := h.engine.Last()
	writeDownloaded(t, d, 0, "mkv")
	close(d.complete)

	waitFor(t, "available status", func() bool { return h.status() == domain.SessionAvailable })
	lease.Release()
	data, err := os.ReadFile(h.root.Available(testHash))
	if err != nil || string(data) != "transcoded" {
		t.Fatalf("artifact = %q, %v", data, err)
	}
	entry, _ := h.repo.Get(context.Background(), testHash)
	if entry.Format != domain.FormatMP4 {
		t.Fatalf("format = %s", entry.Format)
	}
	waitFor(t, "original removed", func() bool {
		_, err := os.Stat(d.LocalPath(0))
		return os.IsNotExist(err)
	})
}

func TestTranscodeFailureLeavesNoArtifact(t *testing.T) {
	files := []domain.TorrentFile{{Index: 0, Path: "movie.avi", Length: 3}}
	h := newHarness(t, Config{IdleTimeout: 0}, fakeTranscoder{err: domain.ErrTranscodeFailed}, files...)
	h.engine.next = func() *fakeDownload {
		d := newFakeDownload(files...)
		close(d.ready)
		return d
	}

	lease, err := h.manager.StartOrAttach(context.Background(), testHash)
	if err != nil {
		t.Fatalf("StartOrAttach: %v", err)
	}
	defer lease.Release()
	d := h.engine.Last()
	writeDownloaded(t, d, 0, "avi")
	close(d.complete)

	waitFor(t, "failed status", func() bool { return h.status() == domain.SessionFailed })
	if _, err := os.Stat(h.root.Available(testHash)); !os.IsNotExist(err) {
		t.Fatal("no artifact expected after failed transcode")
	}
	entries, _ := os.ReadDir(h.root.AvailableRoot())
	if len(entries) != 0 {
		t.Fatalf("available root not empty: %v", entries)
	}
	if _, err := h.repo.Get(context.Background(), testHash); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("no cache entry expected")
	}
}

func TestRecordFailureRemovesArtifact(t *testing.T) {
	h := newHarness(t, Config{IdleTimeout: 0}, nil, movieFiles...)
	h.repo.err = errors.New("mongo down")
	h.engine.next = func() *fakeDownload {
		d := newFakeDownload(movieFiles...)
		close(d.ready)
		return d
	}

	lease, err := h.manager.StartOrAttach(context.Background(), testHash)
	if err != nil {
		t.Fatalf("StartOrAttach: %v", err)
	}
	defer lease.Release()
	d := h.engine.Last()
	writeDownloaded(t, d, 1, "mp4data")
	close(d.complete)

	waitFor(t, "failed status", func() bool { return h.status() == domain.SessionFailed })
	if _, err := os.Stat(h.root.Available(testHash)); !os.IsNotExist(err) {
		t.Fatal("artifact must not outlive a failed cache write")
	}
}

// blockingTranscoder holds TranscodeFile open until unblock is closed.
type blockingTranscoder struct {
	started chan struct{}
	unblock chan struct{}
}

func (b blockingTranscoder) Stream(context.Context, io.Reader, io.Writer) error { return nil }
func (b blockingTranscoder) TranscodeFile(_ context.Context, _, out string) error {
	close(b.started)
	<-b.unblock
	return os.WriteFile(out, []byte("transcoded"), 0o644)
}

func TestReleaseDuringFinalizeKeepsEngineUntilDone(t *testing.T) {
	files := []domain.TorrentFile{{Index: 0, Path: "movie.mkv", Length: 3}}
	tr := blockingTranscoder{started: make(chan struct{}), unblock: make(chan struct{})}
	h := newHarness(t, Config{IdleTimeout: 0}, tr, files...)
	h.engine.next = func() *fakeDownload {
		d := newFakeDownload(files...)
		close(d.ready)
		return d
	}

	lease, err := h.manager.StartOrAttach(context.Background(), testHash)
	if err != nil {
		t.Fatalf("StartOrAttach: %v", err)
	}
	d := h.engine.Last()
	writeDownloaded(t, d, 0, "mkv")
	close(d.complete)

	select {
	case <-tr.started:
	case <-time.After(2 * time.Second):
		t.Fatal("transcode never started")
	}
	lease.Release()

	time.Sleep(50 * time.Millisecond)
	if d.dropped.Load() != 0 {
		t.Fatal("engine dropped while finalize is pending")
	}
	if s := h.status(); s != domain.SessionDownloading {
		t.Fatalf("status = %s, want downloading", s)
	}

	close(tr.unblock)
	waitFor(t, "available status", func() bool { return h.status() == domain.SessionAvailable })
	waitFor(t, "engine released after finalize", func() bool { return d.dropped.Load() > 0 })
	if _, err := os.Stat(h.root.Available(testHash)); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
}
