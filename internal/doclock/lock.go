// Package doclock serializes mutating work on a single document.
package doclock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked is returned when another holder owns the lock.
var ErrLocked = errors.New("lock held by another request")

// Locker acquires a named lock that expires after ttl if never released.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// MemoryLocker is an in-process Locker for single-instance deployments and tests.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]memoryLease
	now  func() time.Time
	seq  uint64
}

type memoryLease struct {
	id      uint64
	expires time.Time
}

// NewMemoryLocker creates an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryLease), now: time.Now}
}

// Acquire takes key without waiting; a live holder yields ErrLocked.
func (m *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if lease, ok := m.held[key]; ok && now.Before(lease.expires) {
		return nil, ErrLocked
	}
	m.seq++
	lease := memoryLease{id: m.seq, expires: now.Add(ttl)}
	m.held[key] = lease
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if cur, ok := m.held[key]; ok && cur.id == lease.id {
				delete(m.held, key)
			}
		})
	}, nil
}
