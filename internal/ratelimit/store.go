// Package ratelimit provides the per-user limits applied to tourist traffic:
// a token bucket for location pings and an hourly quota for SOS triggers.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Store manages per-user token buckets: user id -> limiter.
type Store struct {
	mu           sync.Mutex
	limiters     map[string]*entry
	defaultRate  rate.Limit
	defaultBurst int
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewStore(defaultRate rate.Limit, defaultBurst int) *Store {
	return &Store{
		limiters:     make(map[string]*entry),
		defaultRate:  defaultRate,
		defaultBurst: defaultBurst,
	}
}

func (s *Store) Get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(s.defaultRate, s.defaultBurst)}
		s.limiters[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

func (s *Store) Set(key string, r rate.Limit, burst int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiters[key] = &entry{limiter: rate.NewLimiter(r, burst), lastSeen: time.Now()}
}

func (s *Store) Allow(key string) bool {
	return s.Get(key).Allow()
}

// Prune drops limiters not used for idle and returns how many were removed.
func (s *Store) Prune(idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-idle)
	n := 0
	for k, e := range s.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(s.limiters, k)
			n++
		}
	}
	return n
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}
