package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultSweepBatch bounds the deletions performed by one Sweep call.
const DefaultSweepBatch = 10000

// MemoryStore keeps buckets in a process-local map behind one RWMutex.
type MemoryStore struct {
	mu         sync.RWMutex
	buckets    map[string]*Bucket
	sweepBatch int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*Bucket), sweepBatch: DefaultSweepBatch}
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration, now time.Time) (Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok || now.After(b.ResetAt) {
		b = &Bucket{Key: key, Count: 0, ResetAt: now.Add(window)}
		s.buckets[key] = b
	}
	b.Count++
	return *b, nil
}

// Sweep implements Store. Expired keys are collected under the read lock and
// deleted under the write lock, re-checking each one, so a bucket renewed in
// between survives.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.RLock()
	expired := make([]string, 0)
	for key, b := range s.buckets {
		if now.After(b.ResetAt) {
			expired = append(expired, key)
			if len(expired) >= s.sweepBatch {
				break
			}
		}
	}
	s.mu.RUnlock()

	if len(expired) == 0 {
		return 0, nil
	}

	removed := 0
	s.mu.Lock()
	for _, key := range expired {
		if b, ok := s.buckets[key]; ok && now.After(b.ResetAt) {
			delete(s.buckets, key)
			removed++
		}
	}
	s.mu.Unlock()
	return removed, nil
}

// Len returns the number of live and expired buckets held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}
