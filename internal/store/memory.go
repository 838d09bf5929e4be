package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	ad        *StoredAd
	expiresAt time.Time
}

// MemoryAdStore is an in-process AdStore for single-instance deployments and tests
type MemoryAdStore struct {
	mu  sync.Mutex
	ads map[string]memoryEntry
	now func() time.Time
}

// NewMemoryAdStore creates an in-memory ad store
func NewMemoryAdStore() *MemoryAdStore {
	return &MemoryAdStore{
		ads: make(map[string]memoryEntry),
		now: time.Now,
	}
}

// Put implements AdStore
func (s *MemoryAdStore) Put(_ context.Context, ad *StoredAd, ttl time.Duration) error {
	id := ad.ID()
	if id == "" {
		return fmt.Errorf("ad has no id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpired()
	entry := memoryEntry{ad: ad}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.ads[id] = entry
	return nil
}

// Get implements AdStore
func (s *MemoryAdStore) Get(_ context.Context, id string) (*StoredAd, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	return entry.ad, nil
}

// Take implements AdStore
func (s *MemoryAdStore) Take(_ context.Context, id string) (*StoredAd, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.ads, id)
	return entry.ad, nil
}

// Len returns the number of ads held, including expired ones not yet evicted
func (s *MemoryAdStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ads)
}

// lookup must be called with mu held
func (s *MemoryAdStore) lookup(id string) (memoryEntry, bool) {
	entry, ok := s.ads[id]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.ads, id)
		return memoryEntry{}, false
	}
	return entry, true
}

// evictExpired must be called with mu held
func (s *MemoryAdStore) evictExpired() {
	now := s.now()
	for id, entry := range s.ads {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(s.ads, id)
		}
	}
}

type memoryLock struct {
	owner     string
	expiresAt time.Time
}

// MemoryPlacementLocker is an in-process PlacementLocker
type MemoryPlacementLocker struct {
	mu     sync.Mutex
	locks  map[string]memoryLock
	owners map[string]string
	now    func() time.Time
}

// NewMemoryPlacementLocker creates an in-memory placement locker
func NewMemoryPlacementLocker() *MemoryPlacementLocker {
	return &MemoryPlacementLocker{
		locks:  make(map[string]memoryLock),
		owners: make(map[string]string),
		now:    time.Now,
	}
}

// Acquire implements PlacementLocker
func (l *MemoryPlacementLocker) Acquire(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lock, ok := l.locks[key]; ok {
		if lock.expiresAt.IsZero() || l.now().Before(lock.expiresAt) {
			return false, nil
		}
		delete(l.owners, lock.owner)
	}

	lock := memoryLock{owner: owner}
	if ttl > 0 {
		lock.expiresAt = l.now().Add(ttl)
	}
	l.locks[key] = lock
	l.owners[owner] = key
	return true, nil
}

// Refresh implements PlacementLocker
func (l *MemoryPlacementLocker) Refresh(_ context.Context, owner string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key, ok := l.owners[owner]
	if !ok {
		return nil
	}
	lock, ok := l.locks[key]
	if !ok || lock.owner != owner {
		return nil
	}
	lock.expiresAt = time.Time{}
	if ttl > 0 {
		lock.expiresAt = l.now().Add(ttl)
	}
	l.locks[key] = lock
	return nil
}

// Release implements PlacementLocker
func (l *MemoryPlacementLocker) Release(_ context.Context, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key, ok := l.owners[owner]
	if !ok {
		return nil
	}
	delete(l.owners, owner)
	if lock, ok := l.locks[key]; ok && lock.owner == owner {
		delete(l.locks, key)
	}
	return nil
}

// MemoryStatusStore is an in-process StatusStore
type MemoryStatusStore struct {
	mu       sync.RWMutex
	statuses map[string]string
}

// NewMemoryStatusStore creates an in-memory status store
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{statuses: make(map[string]string)}
}

// SetStatus implements StatusStore
func (s *MemoryStatusStore) SetStatus(_ context.Context, network, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[network] = status
	return nil
}

// Statuses implements StatusStore
func (s *MemoryStatusStore) Statuses(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.statuses))
	for k, v := range s.statuses {
		out[k] = v
	}
	return out, nil
}
