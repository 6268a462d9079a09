package session

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/example/skin-analysis/internal/correction"
	"github.com/example/skin-analysis/internal/store"
)

// DefaultCacheSize bounds the number of live sessions kept in process.
const DefaultCacheSize = 1024

// Session is the state of one browser session.
type Session struct {
	ID         string
	Store      *store.Store
	Correction *correction.Model
	// Trigger admits one capture at a time.
	Trigger *semaphore.Weighted

	mu            sync.Mutex
	profileLocked bool
}

// LockProfile freezes the intro-step fields after submission.
func (s *Session) LockProfile() {
	s.mu.Lock()
	s.profileLocked = true
	s.mu.Unlock()
}

// ProfileLocked reports whether the profile was submitted.
func (s *Session) ProfileLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileLocked
}

// Registry hands out sessions by id. Evicted sessions are rebuilt on demand
// over the same storage namespace, so a provider that outlives the cache
// entry keeps their data. A session whose capture is in flight is never
// dropped: it is parked until its trigger is released.
type Registry struct {
	mu       sync.Mutex
	cache    *lru.Cache[string, *Session]
	pinned   map[string]*Session
	provider store.Provider
	logger   *zap.Logger
}

// NewRegistry builds a registry holding at most size sessions.
func NewRegistry(size int, provider store.Provider, logger *zap.Logger) (*Registry, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	r := &Registry{provider: provider, pinned: make(map[string]*Session), logger: logger.Named("session")}
	// The callback runs inside cache.Add, with r.mu held by Get.
	cache, err := lru.NewWithEvict[string, *Session](size, func(id string, sess *Session) {
		if !sess.Trigger.TryAcquire(1) {
			r.pinned[id] = sess
			r.logger.Debug("session evicted while capturing, pinned", zap.String("session_id", id))
			return
		}
		sess.Trigger.Release(1)
		r.logger.Debug("session evicted", zap.String("session_id", id))
	})
	if err != nil {
		return nil, err
	}
	r.cache = cache
	return r, nil
}

// Get returns the session for id, creating it if needed.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.cache.Get(id); ok {
		return sess
	}
	r.sweepLocked()
	sess, ok := r.pinned[id]
	if ok {
		delete(r.pinned, id)
	} else {
		sess = r.build(id)
	}
	r.cache.Add(id, sess)
	return sess
}

// sweepLocked drops parked sessions whose capture has finished.
func (r *Registry) sweepLocked() {
	for id, sess := range r.pinned {
		if sess.Trigger.TryAcquire(1) {
			sess.Trigger.Release(1)
			delete(r.pinned, id)
		}
	}
}

func (r *Registry) build(id string) *Session {
	st := store.New(r.provider.Backend(id), r.logger.With(zap.String("session_id", id)))
	sess := &Session{
		ID:         id,
		Store:      st,
		Correction: correction.New(),
		Trigger:    semaphore.NewWeighted(1),
	}
	// Only a submitted profile carries a timestamp.
	if profile, ok := st.LoadProfile(context.Background()); ok && !profile.CapturedAt.IsZero() {
		sess.profileLocked = true
	}
	return sess
}

// Len reports the number of cached sessions.
func (r *Registry) Len() int {
	return r.cache.Len()
}
