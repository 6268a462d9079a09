// Package store persists a session's profile, captured photo and
// demographic record.
//
// Writes are synchronous: a Set is visible to the next Get. A failing backend
// never surfaces an error to callers; the failure is logged and the session
// continues from an in-memory copy for the rest of its life.
package store

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/example/skin-analysis/internal/demographics"
)

// Well-known keys, shared with the reference front end.
const (
	KeyProfile      = "user_profile"
	KeyPhoto        = "captured_photo"
	KeyDemographics = "demographics"
)

var knownKeys = []string{KeyProfile, KeyPhoto, KeyDemographics}

// Store is the best-effort persistence layer of one session.
type Store struct {
	backend Backend
	logger  *zap.Logger

	mu       sync.RWMutex
	degraded bool
	local    map[string]string
}

// New wraps backend.
func New(backend Backend, logger *zap.Logger) *Store {
	return &Store{backend: backend, logger: logger.Named("store")}
}

// Degraded reports whether the session fell back to memory.
func (s *Store) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// Get returns the value for key, if any.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(ctx, key)
}

func (s *Store) getLocked(ctx context.Context, key string) (string, bool) {
	if s.degraded {
		v, ok := s.local[key]
		return v, ok
	}
	v, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logger.Error("storage read failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return v, ok
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key, value string) {
	s.SetMany(ctx, Entry{Key: key, Value: value})
}

// SetMany stores all entries together.
func (s *Store) SetMany(ctx context.Context, entries ...Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(ctx, entries...)
}

func (s *Store) setLocked(ctx context.Context, entries ...Entry) {
	if !s.degraded {
		err := s.backend.SetMany(ctx, entries...)
		if err == nil {
			return
		}
		keys := make([]string, len(entries))
		for i, e := range entries {
			keys[i] = e.Key
		}
		s.logger.Error("storage write failed, continuing in memory", zap.Strings("keys", keys), zap.Error(err))
		s.degradeLocked(ctx)
	}
	for _, e := range entries {
		s.local[e.Key] = e.Value
	}
}

// degradeLocked snapshots what the backend still holds and stops using it.
func (s *Store) degradeLocked(ctx context.Context) {
	s.local = make(map[string]string, len(knownKeys))
	if snapshot, err := s.backend.GetMany(ctx, knownKeys...); err == nil {
		for k, v := range snapshot {
			s.local[k] = v
		}
	}
	s.degraded = true
}

// Remove deletes keys.
func (s *Store) Remove(ctx context.Context, keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		for _, k := range keys {
			delete(s.local, k)
		}
		return
	}
	if err := s.backend.Remove(ctx, keys...); err != nil {
		s.logger.Error("storage remove failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// SaveProfile writes the intro profile through.
func (s *Store) SaveProfile(ctx context.Context, profile demographics.Profile) {
	data, err := json.Marshal(profile)
	if err != nil {
		s.logger.Error("encode profile", zap.Error(err))
		return
	}
	s.Set(ctx, KeyProfile, string(data))
}

// LoadProfile reads the persisted profile.
func (s *Store) LoadProfile(ctx context.Context) (demographics.Profile, bool) {
	raw, ok := s.Get(ctx, KeyProfile)
	if !ok {
		return demographics.Profile{}, false
	}
	var profile demographics.Profile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		s.logger.Warn("stored profile is unreadable", zap.Error(err))
		return demographics.Profile{}, false
	}
	return profile, true
}

// SaveAnalysis persists a record and its photo as one unit.
func (s *Store) SaveAnalysis(ctx context.Context, rec *demographics.Record, photo string) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.SetMany(ctx,
		Entry{Key: KeyPhoto, Value: photo},
		Entry{Key: KeyDemographics, Value: string(data)},
	)
	return nil
}

// SaveDemographics persists a record that has no photo, such as one
// synthesized for a session that never captured.
func (s *Store) SaveDemographics(ctx context.Context, rec *demographics.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.Set(ctx, KeyDemographics, string(data))
	return nil
}

// LoadAnalysis reads the record and photo together. ok is false unless both
// are present.
func (s *Store) LoadAnalysis(ctx context.Context) (rec *demographics.Record, photo string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var values map[string]string
	if s.degraded {
		values = s.local
	} else {
		var err error
		values, err = s.backend.GetMany(ctx, KeyPhoto, KeyDemographics)
		if err != nil {
			s.logger.Error("storage read failed", zap.Error(err))
			return nil, "", false
		}
	}

	rawRec, hasRec := values[KeyDemographics]
	photo, hasPhoto := values[KeyPhoto]
	if !hasRec || !hasPhoto {
		return nil, "", false
	}
	rec = &demographics.Record{}
	if err := json.Unmarshal([]byte(rawRec), rec); err != nil {
		s.logger.Warn("stored demographics are unreadable", zap.Error(err))
		return nil, "", false
	}
	return rec, photo, true
}

// LoadDemographics reads the record on its own.
func (s *Store) LoadDemographics(ctx context.Context) (*demographics.Record, bool) {
	raw, ok := s.Get(ctx, KeyDemographics)
	if !ok {
		return nil, false
	}
	rec := &demographics.Record{}
	if err := json.Unmarshal([]byte(raw), rec); err != nil {
		s.logger.Warn("stored demographics are unreadable", zap.Error(err))
		return nil, false
	}
	return rec, true
}

// ClearAnalysis drops the photo and record, as a retake does.
func (s *Store) ClearAnalysis(ctx context.Context) {
	s.Remove(ctx, KeyPhoto, KeyDemographics)
}
