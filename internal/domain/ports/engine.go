package ports

import (
	"context"

	"moviestream/internal/domain"
)

// Engine starts torrent acquisitions. Each call owns exactly one torrent
// until Drop is called on the returned Download.
type Engine interface {
	Start(ctx context.Context, magnetURI string, downloadDir string) (Download, error)
	Close() error
}

// Download is the engine handle for one torrent.
type Download interface {
	// Ready is closed once swarm metadata (the file list) is known.
	Ready() <-chan struct{}
	// Closed is closed when the torrent was dropped or failed.
	Closed() <-chan struct{}
	Files() []domain.TorrentFile
	// Select marks a file for download and deprioritizes the rest.
	Select(index int) error
	// Complete is closed once the selected file is fully downloaded.
	Complete() <-chan struct{}
	NewReader(index int) (StreamReader, error)
	// LocalPath is where the file's bytes live on disk.
	LocalPath(index int) string
	Drop()
}
