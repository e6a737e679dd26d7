package ratelimit

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a process-local sliding window store.
type InMemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{windows: make(map[string][]time.Time), now: time.Now}
}

func (s *InMemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stamps := prune(s.windows[key], now.Add(-window))

	if len(stamps) < limit {
		stamps = append(stamps, now)
		s.windows[key] = stamps
		return Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - len(stamps),
			ResetAt:   stamps[0].Add(window),
		}, nil
	}

	s.windows[key] = stamps
	resetAt := stamps[0].Add(window)
	return Result{
		Limit:      limit,
		ResetAt:    resetAt,
		RetryAfter: retryAfter(resetAt, now),
	}, nil
}

// prune drops timestamps at or before cutoff.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(stamps); i++ {
		if stamps[i].After(cutoff) {
			break
		}
	}
	return stamps[i:]
}
