package anacrolix

import (
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"

	"moviestream/internal/domain"
	"moviestream/internal/domain/ports"
)

var errInvalidFileIndex = errors.New("invalid file index")

type download struct {
	engine  *Engine
	torrent *torrent.Torrent
	dir     string
	store   storage.ClientImplCloser

	mu       sync.Mutex
	selected int

	complete     chan struct{}
	completeOnce sync.Once
	stop         chan struct{}
	dropOnce     sync.Once
}

var _ ports.Download = (*download)(nil)

func (d *download) Ready() <-chan struct{} {
	return d.torrent.GotInfo()
}

func (d *download) Closed() <-chan struct{} {
	return d.torrent.Closed()
}

func (d *download) Complete() <-chan struct{} {
	return d.complete
}

func (d *download) Files() []domain.TorrentFile {
	return mapFiles(d.torrent)
}

// Select downloads the file at index and stops fetching the others.
func (d *download) Select(index int) error {
	if !torrentInfoReady(d.torrent) {
		return errInvalidFileIndex
	}
	files := d.torrent.Files()
	if index < 0 || index >= len(files) {
		return errInvalidFileIndex
	}

	d.mu.Lock()
	if d.selected == index {
		d.mu.Unlock()
		return nil
	}
	first := d.selected < 0
	d.selected = index
	d.mu.Unlock()

	for i, f := range files {
		if i == index {
			f.Download()
			continue
		}
		f.SetPriority(torrent.PiecePriorityNone)
	}
	d.torrent.AllowDataDownload()

	if first {
		go d.watchCompletion(files[index])
	}
	return nil
}

// watchCompletion closes complete once every byte of f is verified.
func (d *download) watchCompletion(f *torrent.File) {
	ticker := time.NewTicker(d.engine.poll)
	defer ticker.Stop()

	for {
		if f.BytesCompleted() >= f.Length() {
			d.completeOnce.Do(func() { close(d.complete) })
			d.engine.logger.Debug("torrent file complete",
				slog.String("contentHash", d.torrent.InfoHash().HexString()),
				slog.String("path", f.Path()),
			)
			return
		}
		select {
		case <-ticker.C:
		case <-d.stop:
			return
		case <-d.torrent.Closed():
			return
		}
	}
}

func (d *download) NewReader(index int) (ports.StreamReader, error) {
	if !torrentInfoReady(d.torrent) {
		return nil, errInvalidFileIndex
	}
	files := d.torrent.Files()
	if index < 0 || index >= len(files) {
		return nil, errInvalidFileIndex
	}
	r := files[index].NewReader()
	r.SetResponsive()
	return r, nil
}

func (d *download) LocalPath(index int) string {
	if !torrentInfoReady(d.torrent) {
		return ""
	}
	files := d.torrent.Files()
	if index < 0 || index >= len(files) {
		return ""
	}
	return filepath.Join(d.dir, filepath.FromSlash(files[index].Path()))
}

// Drop removes the torrent from the client and releases its storage. It is
// safe to call more than once.
func (d *download) Drop() {
	d.dropOnce.Do(func() {
		close(d.stop)
		d.engine.forget(d)
		d.torrent.Drop()
		if d.store != nil {
			_ = d.store.Close()
		}
		freeOSMemory()
	})
}
