package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	hits   []time.Time
	window time.Duration
}

// LocalStore keeps the sliding log in process memory.
type LocalStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewLocalStore() *LocalStore {
	return &LocalStore{buckets: make(map[string]*bucket)}
}

func (s *LocalStore) Check(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{window: window}
		s.buckets[key] = b
	}
	b.hits = trim(b.hits, now.Add(-window))

	allowed := len(b.hits) < limit
	if allowed {
		b.hits = append(b.hits, now)
	}

	reset := window
	if len(b.hits) > 0 {
		reset = b.hits[0].Add(window).Sub(now)
	}
	remaining := limit - len(b.hits)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: allowed, Remaining: remaining, ResetIn: reset}, nil
}

// trim drops hits at or before cutoff; hits are kept in arrival order.
func trim(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}

// Sweep removes buckets with nothing left in their window.
func (s *LocalStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, b := range s.buckets {
		b.hits = trim(b.hits, now.Add(-b.window))
		if len(b.hits) == 0 {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Start runs Sweep every interval until ctx is done.
func (s *LocalStore) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.Sweep(now)
			}
		}
	}()
}
