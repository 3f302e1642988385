package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"

	"moviestream/internal/domain"
	"moviestream/internal/domain/ports"
	"moviestream/internal/metrics"
)

const (
	defaultMaxConns = 35

	// addMagnetTimeout caps the wait for the client to accept a torrent.
	// AddTorrentSpec can block on the client mutex while another torrent
	// resolves metadata.
	addMagnetTimeout = 10 * time.Second

	defaultCompletionPoll = 2 * time.Second
)

var (
	errClientNotConfigured = errors.New("torrent client not configured")
	errAlreadyActive       = errors.New("torrent already active")
)

type Config struct {
	// DataDir holds client state (DHT table, scratch files).
	DataDir         string
	ListenPort      int
	NoDHT           bool
	DisableTrackers bool
	NoUpload        bool
	MaxConns        int
	// CompletionPoll is how often a selected file is checked for completion.
	CompletionPoll time.Duration
	Logger         *slog.Logger
}

// Engine adapts an anacrolix client to ports.Engine. Every torrent gets its
// own file storage rooted at the download directory passed to Start.
type Engine struct {
	client   *torrent.Client
	logger   *slog.Logger
	maxConns int
	poll     time.Duration

	mu        sync.Mutex
	downloads map[metainfo.Hash]*download
}

func New(cfg Config) (*Engine, error) {
	clientConfig := torrent.NewDefaultClientConfig()
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		clientConfig.DataDir = cfg.DataDir
	}
	clientConfig.ListenPort = cfg.ListenPort
	clientConfig.NoDHT = cfg.NoDHT
	clientConfig.DisableTrackers = cfg.DisableTrackers
	clientConfig.NoUpload = cfg.NoUpload
	clientConfig.Seed = false

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}
	e := NewWithClient(client, cfg.Logger)
	if cfg.MaxConns > 0 {
		e.maxConns = cfg.MaxConns
	}
	if cfg.CompletionPoll > 0 {
		e.poll = cfg.CompletionPoll
	}
	return e, nil
}

func NewWithClient(client *torrent.Client, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client:    client,
		logger:    logger,
		maxConns:  defaultMaxConns,
		poll:      defaultCompletionPoll,
		downloads: make(map[metainfo.Hash]*download),
	}
}

var _ ports.Engine = (*Engine)(nil)

func (e *Engine) Start(ctx context.Context, magnetURI string, downloadDir string) (ports.Download, error) {
	if e.client == nil {
		return nil, errClientNotConfigured
	}
	spec, err := torrent.TorrentSpecFromMagnetUri(magnetURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSource, err)
	}
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return nil, err
	}

	store := storage.NewFileOpts(storage.NewFileClientOpts{
		ClientBaseDir:   downloadDir,
		PieceCompletion: storage.NewMapPieceCompletion(),
	})
	spec.Storage = store

	type addResult struct {
		t     *torrent.Torrent
		isNew bool
		err   error
	}
	ch := make(chan addResult, 1)
	go func() {
		t, isNew, err := e.client.AddTorrentSpec(spec)
		ch <- addResult{t, isNew, err}
	}()

	dropOrphan := func() {
		go func() {
			if res := <-ch; res.t != nil && res.isNew {
				res.t.Drop()
			}
			_ = store.Close()
		}()
	}

	var t *torrent.Torrent
	select {
	case res := <-ch:
		if res.err != nil {
			_ = store.Close()
			return nil, res.err
		}
		if !res.isNew {
			_ = store.Close()
			return nil, errAlreadyActive
		}
		t = res.t
	case <-time.After(addMagnetTimeout):
		dropOrphan()
		return nil, errors.New("torrent client busy, try again later")
	case <-ctx.Done():
		dropOrphan()
		return nil, ctx.Err()
	}

	t.SetMaxEstablishedConns(e.maxConns)

	d := &download{
		engine:   e,
		torrent:  t,
		dir:      downloadDir,
		store:    store,
		complete: make(chan struct{}),
		stop:     make(chan struct{}),
		selected: -1,
	}

	e.mu.Lock()
	e.downloads[t.InfoHash()] = d
	active := len(e.downloads)
	e.mu.Unlock()
	metrics.ActiveEngines.Set(float64(active))

	return d, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	downloads := make([]*download, 0, len(e.downloads))
	for _, d := range e.downloads {
		downloads = append(downloads, d)
	}
	e.mu.Unlock()
	for _, d := range downloads {
		d.Drop()
	}

	if e.client == nil {
		return nil
	}
	errList := e.client.Close()
	if len(errList) > 0 {
		return errList[0]
	}
	return nil
}

// Active returns the number of torrents the engine currently holds.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.downloads)
}

func (e *Engine) forget(d *download) {
	e.mu.Lock()
	if current, ok := e.downloads[d.torrent.InfoHash()]; ok && current == d {
		delete(e.downloads, d.torrent.InfoHash())
	}
	active := len(e.downloads)
	e.mu.Unlock()
	metrics.ActiveEngines.Set(float64(active))
}

// freeOSMemory returns memory to the OS after a torrent is dropped. Piece
// buffers are large and the GC otherwise holds them for a long time.
func freeOSMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}

func mapFiles(t *torrent.Torrent) (mapped []domain.TorrentFile) {
	if !torrentInfoReady(t) {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("mapFiles panic recovered",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
			mapped = nil
		}
	}()

	files := t.Files()
	mapped = make([]domain.TorrentFile, 0, len(files))
	for i, f := range files {
		mapped = append(mapped, domain.TorrentFile{
			Index:  i,
			Path:   f.Path(),
			Length: f.Length(),
		})
	}
	return mapped
}

func torrentInfoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}
