package livestate

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	snap      *Snapshot
	expiresAt time.Time
}

// memoryStore keeps snapshots in process. It is the default when no Redis is configured.
type memoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]memoryEntry
	ttl       time.Duration
	now       func() time.Time
}

func (s *memoryStore) Save(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stored := cloneSnapshot(snap)
	stored.UpdatedAt = now
	snap.UpdatedAt = now
	s.snapshots[snap.SessionID] = memoryEntry{snap: stored, expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *memoryStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	s.mu.RLock()
	entry, exists := s.snapshots[sessionID]
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}
	if !s.now().Before(entry.expiresAt) {
		s.mu.Lock()
		delete(s.snapshots, sessionID)
		s.mu.Unlock()
		return nil, nil
	}
	return cloneSnapshot(entry.snap), nil
}

func (s *memoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snapshots, sessionID)
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = make(map[string]memoryEntry)
	return nil
}
