package publisher

import (
	"math/rand/v2"
	"sync"
)

// Sampler keeps a fraction of operations-category events per action.
// Compliance and security events are never sampled.
type Sampler struct {
	mu          sync.RWMutex
	defaultRate float64
	rates       map[string]float64
	roll        func() float64
}

// NewSampler keeps defaultRate of events, clamped to [0, 1].
func NewSampler(defaultRate float64) *Sampler {
	return &Sampler{
		defaultRate: clampRate(defaultRate),
		rates:       make(map[string]float64),
		roll:        rand.Float64,
	}
}

// SetRate overrides the rate for one action.
func (s *Sampler) SetRate(action string, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[action] = clampRate(rate)
}

// Keep reports whether an event for action should be persisted.
func (s *Sampler) Keep(action string) bool {
	s.mu.RLock()
	rate, ok := s.rates[action]
	if !ok {
		rate = s.defaultRate
	}
	s.mu.RUnlock()
	if rate >= 1 {
		return true
	}
	return s.roll() < rate
}

func clampRate(rate float64) float64 {
	switch {
	case rate < 0:
		return 0
	case rate > 1:
		return 1
	default:
		return rate
	}
}
