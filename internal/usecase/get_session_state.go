package usecase

import (
	"context"
	"errors"

	"moviestream/internal/domain"
	"moviestream/internal/domain/ports"
)

type SessionLookup interface {
	Lookup(hash domain.ContentHash) (domain.SessionInfo, bool)
}

type SessionState struct {
	Hash    domain.ContentHash   `json:"hash"`
	Status  domain.SessionStatus `json:"status"`
	Session *domain.SessionInfo  `json:"session,omitempty"`
	Cache   *domain.CacheEntry   `json:"cache,omitempty"`
}

// GetSessionState reports what a stream request for hash would find. A
// cached artifact counts as available even when no session is registered.
type GetSessionState struct {
	Sessions  SessionLookup
	Repo      ports.CacheRepository
	Artifacts ArtifactStore
}

func (uc GetSessionState) Execute(ctx context.Context, hash domain.ContentHash) (SessionState, error) {
	state := SessionState{Hash: hash}

	if info, ok := uc.Sessions.Lookup(hash); ok {
		state.Session = &info
		state.Status = info.Status
	}

	if uc.Repo != nil && uc.Artifacts != nil {
		entry, err := uc.Repo.Get(ctx, hash)
		switch {
		case err == nil:
			if _, statErr := uc.Artifacts.StatArtifact(hash); statErr == nil {
				state.Cache = &entry
				state.Status = domain.SessionAvailable
			}
		case !errors.Is(err, domain.ErrNotFound):
			return SessionState{}, wrapRepo(err)
		}
	}

	if state.Session == nil && state.Cache == nil {
		return SessionState{}, domain.ErrUnknownHash
	}
	return state, nil
}
