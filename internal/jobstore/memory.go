package jobstore

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	job       Job
	expiresAt time.Time
}

// MemoryStore is a process-local Store with per-entry expiry.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	ttl   time.Duration
	now   func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return newMemoryStore(ttl, time.Now, 5*time.Minute)
}

func newMemoryStore(ttl time.Duration, now func() time.Time, sweep time.Duration) *MemoryStore {
	s := &MemoryStore{
		items: make(map[string]memoryItem),
		ttl:   ttl,
		now:   now,
		stop:  make(chan struct{}),
	}
	go s.cleanupExpired(sweep)
	return s
}

func (s *MemoryStore) Put(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[job.ID] = memoryItem{job: job, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok || s.now().After(item.expiresAt) {
		return Job{}, ErrNotFound
	}
	return item.job, nil
}

func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) cleanupExpired(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, item := range s.items {
		if now.After(item.expiresAt) {
			delete(s.items, id)
		}
	}
}
