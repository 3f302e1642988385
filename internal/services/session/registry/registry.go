// Package registry is the process-wide map from content hash to streaming
// session. Each session carries its own lock so unrelated hashes never
// contend; the sharded map only guards membership.
package registry

import (
	"sort"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"moviestream/internal/domain"
)

// Session is the registry record for one content hash. Handle is owned by
// the download manager and is only read or written inside Update.
type Session struct {
	Hash      domain.ContentHash
	MagnetURI string
	MovieID   domain.MovieID
	Status    domain.SessionStatus
	File      *domain.SelectedFile
	Err       string
	Waiters   int
	UpdatedAt time.Time
	Handle    any
}

// Info returns the public view of the session.
func (s Session) Info() domain.SessionInfo {
	info := domain.SessionInfo{
		Hash:      s.Hash,
		MagnetURI: s.MagnetURI,
		MovieID:   s.MovieID,
		Status:    s.Status,
		Error:     s.Err,
		Waiters:   s.Waiters,
		UpdatedAt: s.UpdatedAt,
	}
	if s.File != nil {
		file := *s.File
		info.File = &file
	}
	return info
}

type entry struct {
	mu      sync.Mutex
	session Session
}

// Observer is notified after a session's status changes.
type Observer func(domain.SessionInfo)

type Registry struct {
	sessions cmap.ConcurrentMap[string, *entry]
	now      func() time.Time

	obsMu     sync.RWMutex
	observers []Observer
}

func New() *Registry {
	return &Registry{
		sessions: cmap.New[*entry](),
		now:      time.Now,
	}
}

// Observe registers fn for status change notifications.
func (r *Registry) Observe(fn Observer) {
	if fn == nil {
		return
	}
	r.obsMu.Lock()
	r.observers = append(r.observers, fn)
	r.obsMu.Unlock()
}

// Register creates the session for hash or overwrites its magnet URI and
// movie association. The last writer wins.
func (r *Registry) Register(hash domain.ContentHash, magnetURI string, movieID domain.MovieID) domain.SessionInfo {
	e := r.sessions.Upsert(string(hash), nil, func(exist bool, inMap *entry, _ *entry) *entry {
		if exist {
			return inMap
		}
		return &entry{session: Session{
			Hash:      hash,
			Status:    domain.SessionRequested,
			UpdatedAt: r.now(),
		}}
	})

	e.mu.Lock()
	e.session.MagnetURI = magnetURI
	e.session.MovieID = movieID
	e.session.UpdatedAt = r.now()
	info := e.session.Info()
	e.mu.Unlock()
	return info
}

// Get returns a copy of the session for hash.
func (r *Registry) Get(hash domain.ContentHash) (Session, bool) {
	e, ok := r.sessions.Get(string(hash))
	if !ok {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, true
}

// Lookup returns the public view of the session for hash.
func (r *Registry) Lookup(hash domain.ContentHash) (domain.SessionInfo, bool) {
	s, ok := r.Get(hash)
	if !ok {
		return domain.SessionInfo{}, false
	}
	return s.Info(), true
}

// Update runs fn with exclusive access to the session for hash. A status
// change made by fn is validated and then broadcast to observers once the
// lock is released. When fn returns an error nothing is written back.
func (r *Registry) Update(hash domain.ContentHash, fn func(*Session) error) error {
	e, ok := r.sessions.Get(string(hash))
	if !ok {
		return domain.ErrUnknownHash
	}

	e.mu.Lock()
	next := e.session
	if err := fn(&next); err != nil {
		e.mu.Unlock()
		return err
	}
	prev := e.session.Status
	if !domain.CanTransition(prev, next.Status) {
		e.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	next.UpdatedAt = r.now()
	e.session = next
	info := next.Info()
	e.mu.Unlock()

	if prev != next.Status {
		r.notify(info)
	}
	return nil
}

// List returns every session ordered by hash.
func (r *Registry) List() []domain.SessionInfo {
	items := r.sessions.Items()
	out := make([]domain.SessionInfo, 0, len(items))
	for _, e := range items {
		e.mu.Lock()
		out = append(out, e.session.Info())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out
}

func (r *Registry) Count() int {
	return r.sessions.Count()
}

func (r *Registry) notify(info domain.SessionInfo) {
	r.obsMu.RLock()
	observers := append([]Observer(nil), r.observers...)
	r.obsMu.RUnlock()
	for _, fn := range observers {
		fn(info)
	}
}
