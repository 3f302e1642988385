package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"moviestream/internal/domain"
	"moviestream/internal/domain/ports"
	"moviestream/internal/storage/layout"
)

const (
	hashA = domain.ContentHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	hashB = domain.ContentHash("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	hashC = domain.ContentHash("cccccccccccccccccccccccccccccccccccccccc")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRoot(t *testing.T) layout.Root {
	t.Helper()
	root, err := layout.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := root.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	return root
}

func writeArtifact(t *testing.T, root layout.Root, hash domain.ContentHash, content string) {
	t.Helper()
	if err := os.WriteFile(root.Available(hash), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

type fakeRepo struct {
	mu       sync.Mutex
	entries  map[domain.ContentHash]domain.CacheEntry
	touched  []domain.ContentHash
	deleted  []domain.ContentHash
	getErr   error
	listErr  error
	deleteFn func(domain.ContentHash) error
	// beforeCondDelete runs ahead of DeleteIfUnchanged without the lock held.
	beforeCondDelete func()
}

func newFakeRepo(entries ...domain.CacheEntry) *fakeRepo {
	r := &fakeRepo{entries: make(map[domain.ContentHash]domain.CacheEntry)}
	for _, e := range entries {
		r.entries[e.Hash] = e
	}
	return r
}

func (r *fakeRepo) Upsert(_ context.Context, e domain.CacheEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Hash] = e
	return nil
}

func (r *fakeRepo) Get(_ context.Context, hash domain.ContentHash) (domain.CacheEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return domain.CacheEntry{}, r.getErr
	}
	e, ok := r.entries[hash]
	if !ok {
		return domain.CacheEntry{}, domain.ErrNotFound
	}
	return e, nil
}

func (r *fakeRepo) Touch(_ context.Context, hash domain.ContentHash, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[hash]
	if !ok {
		return domain.ErrNotFound
	}
	if at.After(e.LastWatched) {
		e.LastWatched = at
		r.entries[hash] = e
	}
	r.touched = append(r.touched, hash)
	return nil
}

func (r *fakeRepo) ListStale(_ context.Context, cutoff time.Time) ([]domain.ContentHash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []domain.ContentHash
	for h, e := range r.entries {
		if e.LastWatched.Before(cutoff) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *fakeRepo) Delete(_ context.Context, hash domain.ContentHash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteFn != nil {
		if err := r.deleteFn(hash); err != nil {
			return err
		}
	}
	delete(r.entries, hash)
	r.deleted = append(r.deleted, hash)
	return nil
}

func (r *fakeRepo) DeleteIfUnchanged(_ context.Context, entry domain.CacheEntry) (bool, error) {
	if r.beforeCondDelete != nil {
		r.beforeCondDelete()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[entry.Hash]
	if !ok || !cur.LastWatched.Equal(entry.LastWatched) || cur.Format != entry.Format || cur.Size != entry.Size {
		return false, nil
	}
	delete(r.entries, entry.Hash)
	r.deleted = append(r.deleted, entry.Hash)
	return true, nil
}

func (r *fakeRepo) has(hash domain.ContentHash) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[hash]
	return ok
}

type fakeStreamReader struct {
	*bytes.Reader
	closed    bool
	readahead int64
	ctx       context.Context
}

func (r *fakeStreamReader) Close() error                   { r.closed = true; return nil }
func (r *fakeStreamReader) SetContext(ctx context.Context) { r.ctx = ctx }
func (r *fakeStreamReader) SetReadahead(n int64)           { r.readahead = n }
func (r *fakeStreamReader) SetResponsive()                 {}

type fakeLease struct {
	hash     domain.ContentHash
	file     domain.SelectedFile
	reader   *fakeStreamReader
	released int
}

func (l *fakeLease) Hash() domain.ContentHash  { return l.hash }
func (l *fakeLease) File() domain.SelectedFile { return l.file }
func (l *fakeLease) NewReader() (ports.StreamReader, error) {
	return l.reader, nil
}
func (l *fakeLease) Release() { l.released++ }

type fakeSessions struct {
	calls int
	lease *fakeLease
	err   error
}

func (s *fakeSessions) StartOrAttach(_ context.Context, _ domain.ContentHash) (ports.SessionLease, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.lease, nil
}

func newLease(hash domain.ContentHash, path string, content string) *fakeLease {
	format := domain.FormatFromPath(path)
	return &fakeLease{
		hash: hash,
		file: domain.SelectedFile{
			Index:  0,
			Name:   path,
			Path:   path,
			Length: int64(len(content)),
			Format: format,
		},
		reader: &fakeStreamReader{Reader: bytes.NewReader([]byte(content))},
	}
}

// prefixTranscoder copies its input behind a marker so tests can tell the
// output went through it.
type prefixTranscoder struct {
	err error
}

func (p prefixTranscoder) Stream(_ context.Context, in io.Reader, out io.Writer) error {
	if p.err != nil {
		return p.err
	}
	if _, err := io.WriteString(out, "mp4:"); err != nil {
		return err
	}
	_, err := io.Copy(out, in)
	return err
}

func (p prefixTranscoder) TranscodeFile(context.Context, string, string) error {
	return errors.New("not used")
}

type countingSweeper struct {
	calls int
	err   error
}

func (s *countingSweeper) Execute(context.Context) (EvictResult, error) {
	s.calls++
	return EvictResult{}, s.err
}
