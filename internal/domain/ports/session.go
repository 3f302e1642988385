package ports

import (
	"context"

	"moviestream/internal/domain"
)

// SessionLease keeps a live acquisition alive until Release is called.
type SessionLease interface {
	Hash() domain.ContentHash
	File() domain.SelectedFile
	NewReader() (StreamReader, error)
	Release()
}

type SessionManager interface {
	// StartOrAttach blocks until the acquisition for hash has selected its
	// video file. Concurrent calls for one hash share a single engine.
	StartOrAttach(ctx context.Context, hash domain.ContentHash) (SessionLease, error)
}
