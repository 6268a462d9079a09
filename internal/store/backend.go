package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrQuotaExceeded is returned by a backend that cannot hold another write.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Entry is a key/value pair written as part of a batch.
type Entry struct {
	Key   string
	Value string
}

// Backend is the session-scoped key-value medium behind a Store.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, keys ...string) error
	// SetMany writes all entries or none.
	SetMany(ctx context.Context, entries ...Entry) error
	// GetMany reads keys in one step; absent keys are omitted.
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)
}

// Provider hands out the backend for a browser session.
type Provider interface {
	Backend(sessionID string) Backend
}

// MemoryBackend keeps values in process memory with an optional byte quota,
// the way browser storage caps an origin.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
	used   int
	quota  int
}

// NewMemoryBackend builds a backend. A non-positive quota is unlimited.
func NewMemoryBackend(quota int) *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string), quota: quota}
}

func (m *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryBackend) Set(ctx context.Context, key, value string) error {
	return m.SetMany(ctx, Entry{Key: key, Value: value})
}

func (m *MemoryBackend) SetMany(_ context.Context, entries ...Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.used
	pending := make(map[string]string, len(entries))
	for _, e := range entries {
		prev, ok := pending[e.Key]
		if !ok {
			prev, ok = m.values[e.Key]
		}
		if ok {
			used -= len(e.Key) + len(prev)
		}
		used += len(e.Key) + len(e.Value)
		pending[e.Key] = e.Value
	}
	if m.quota > 0 && used > m.quota {
		return ErrQuotaExceeded
	}

	for k, v := range pending {
		m.values[k] = v
	}
	m.used = used
	return nil
}

func (m *MemoryBackend) GetMany(_ context.Context, keys ...string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryBackend) Remove(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if v, ok := m.values[k]; ok {
			m.used -= len(k) + len(v)
			delete(m.values, k)
		}
	}
	return nil
}

// Keys lists stored keys. Intended for inspection.
func (m *MemoryBackend) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	return keys
}

// MemoryProvider gives every session its own quota-bound MemoryBackend and
// hands the same backend back for the same id until it has gone unused for
// ttl.
type MemoryProvider struct {
	mu       sync.Mutex
	quota    int
	backends *expirable.LRU[string, *MemoryBackend]
}

// NewMemoryProvider builds a provider. A non-positive ttl keeps backends for
// the life of the process.
func NewMemoryProvider(quota int, ttl time.Duration) *MemoryProvider {
	return &MemoryProvider{
		quota:    quota,
		backends: expirable.NewLRU[string, *MemoryBackend](0, nil, ttl),
	}
}

func (p *MemoryProvider) Backend(sessionID string) Backend {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.backends.Get(sessionID)
	if !ok {
		b = NewMemoryBackend(p.quota)
	}
	p.backends.Add(sessionID, b)
	return b
}
