package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"moviestream/internal/domain"
)

type fakeLookup map[domain.ContentHash]domain.SessionInfo

func (f fakeLookup) Lookup(hash domain.ContentHash) (domain.SessionInfo, bool) {
	info, ok := f[hash]
	return info, ok
}

func TestGetSessionStateFromRegistry(t *testing.T) {
	uc := GetSessionState{
		Sessions:  fakeLookup{hashA: {Hash: hashA, Status: domain.SessionDownloading, MovieID: 5}},
		Repo:      newFakeRepo(),
		Artifacts: newRoot(t),
	}
	state, err := uc.Execute(context.Background(), hashA)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if state.Status != domain.SessionDownloading || state.Session == nil || state.Cache != nil {
		t.Fatalf("state = %+v", state)
	}
}

func TestGetSessionStateCachedWithoutSession(t *testing.T) {
	root := newRoot(t)
	writeArtifact(t, root, hashA, "bytes")
	uc := GetSessionState{
		Sessions:  fakeLookup{},
		Repo:      newFakeRepo(domain.CacheEntry{Hash: hashA, Format: domain.FormatMP4, LastWatched: time.Now()}),
		Artifacts: root,
	}
	state, err := uc.Execute(context.Background(), hashA)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if state.Status != domain.SessionAvailable || state.Cache == nil {
		t.Fatalf("state = %+v", state)
	}
}

func TestGetSessionStateUnknown(t *testing.T) {
	uc := GetSessionState{Sessions: fakeLookup{}, Repo: newFakeRepo(), Artifacts: newRoot(t)}
	if _, err := uc.Execute(context.Background(), hashB); !errors.Is(err, domain.ErrUnknownHash) {
		t.Fatalf("err = %v, want ErrUnknownHash", err)
	}
}

func TestGetSessionStateRepoError(t *testing.T) {
	repo := newFakeRepo()
	repo.getErr = errors.New("timeout")
	uc := GetSessionState{Sessions: fakeLookup{}, Repo: repo, Artifacts: newRoot(t)}
	if _, err := uc.Execute(context.Background(), hashA); !errors.Is(err, ErrRepository) {
		t.Fatalf("err = %v, want ErrRepository", err)
	}
}
