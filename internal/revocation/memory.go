package revocation

import (
	"context"
	"sync"
	"time"
)

// DefaultMemoryCapacity bounds the in-memory store.
const DefaultMemoryCapacity = 10000

// Logger is the logging surface used by the memory store.
type Logger interface {
	Errorf(format string, args ...interface{})
}

// EvictionRecorder counts revocations dropped because the store was full.
type EvictionRecorder interface {
	RevocationEvicted()
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithLogger reports evictions through logger.
func WithLogger(logger Logger) MemoryOption {
	return func(m *MemoryStore) { m.logger = logger }
}

// WithEvictionRecorder counts evictions on recorder.
func WithEvictionRecorder(recorder EvictionRecorder) MemoryOption {
	return func(m *MemoryStore) { m.recorder = recorder }
}

// MemoryStore is a thread-safe, bounded in-process revocation list. When
// full, the entry closest to expiry is evicted and that token is accepted
// again until it expires; use the Redis store when that matters.
type MemoryStore struct {
	tokens   map[string]time.Time
	mutex    sync.RWMutex
	capacity int
	now      func() time.Time
	logger   Logger
	recorder EvictionRecorder
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory store holding at most capacity entries.
func NewMemoryStore(capacity int, opts ...MemoryOption) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	m := &MemoryStore{
		tokens:   make(map[string]time.Time),
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Revoke adds token with an expiration time. Tokens already past until are ignored.
func (m *MemoryStore) Revoke(_ context.Context, token string, until time.Time) error {
	now := m.now()
	if !until.After(now) {
		return nil
	}

	key := fingerprint(token)
	m.mutex.Lock()
	var evicted bool
	var evictedUntil time.Time
	if _, exists := m.tokens[key]; !exists {
		evicted, evictedUntil = m.makeRoomLocked(now)
	}
	m.tokens[key] = until
	m.mutex.Unlock()

	if evicted {
		if m.logger != nil {
			m.logger.Errorf("Revocation store full (%d entries): evicted a revoked token valid for another %s; configure Redis to keep every revocation",
				m.capacity, evictedUntil.Sub(now).Round(time.Second))
		}
		if m.recorder != nil {
			m.recorder.RevocationEvicted()
		}
	}
	return nil
}

// makeRoomLocked frees one slot when the store is full, dropping expired
// entries first and then the entry closest to expiry.
func (m *MemoryStore) makeRoomLocked(now time.Time) (bool, time.Time) {
	if len(m.tokens) < m.capacity {
		return false, time.Time{}
	}
	m.cleanupLocked(now)
	if len(m.tokens) < m.capacity {
		return false, time.Time{}
	}

	var oldest string
	var oldestTime time.Time
	first := true
	for k, exp := range m.tokens {
		if first || exp.Before(oldestTime) {
			oldest = k
			oldestTime = exp
			first = false
		}
	}
	delete(m.tokens, oldest)
	return true, oldestTime
}

// IsRevoked checks if a token is in the list and not expired.
func (m *MemoryStore) IsRevoked(_ context.Context, token string) (bool, error) {
	key := fingerprint(token)

	m.mutex.RLock()
	expiry, exists := m.tokens[key]
	m.mutex.RUnlock()

	if !exists {
		return false, nil
	}
	if m.now().After(expiry) {
		m.mutex.Lock()
		delete(m.tokens, key)
		m.mutex.Unlock()
		return false, nil
	}
	return true, nil
}

// Cleanup removes expired entries.
func (m *MemoryStore) Cleanup() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.cleanupLocked(m.now())
}

func (m *MemoryStore) cleanupLocked(now time.Time) {
	for k, exp := range m.tokens {
		if now.After(exp) {
			delete(m.tokens, k)
		}
	}
}

// Run removes expired entries every interval until ctx is done.
func (m *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}

// Count returns the current number of entries.
func (m *MemoryStore) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.tokens)
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
