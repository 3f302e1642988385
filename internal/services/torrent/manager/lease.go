package manager

import (
	"sync"

	"moviestream/internal/domain"
	"moviestream/internal/domain/ports"
)

var _ ports.SessionLease = (*Lease)(nil)

// Lease is a reference to a run whose video file is selected. The run's
// engine stays alive while any lease is held.
type Lease struct {
	manager *Manager
	run     *run
	once    sync.Once
}

func (l *Lease) Hash() domain.ContentHash {
	return l.run.hash
}

func (l *Lease) File() domain.SelectedFile {
	return l.run.file
}

// NewReader opens a reader over the selected file. Reads block until the
// requested pieces arrive.
func (l *Lease) NewReader() (ports.StreamReader, error) {
	return l.run.download.NewReader(l.run.file.Index)
}

// Release drops the reference. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.manager.release(l.run)
	})
}
