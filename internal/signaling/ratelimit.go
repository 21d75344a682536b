package signaling

import (
	"sync"

	"golang.org/x/time/rate"
)

// limiterSet hands out one token-bucket limiter per connection, so one
// noisy client cannot starve the request queue for others.
type limiterSet struct {
	rps   float64
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLimiterSet(rps float64, burst int) *limiterSet {
	return &limiterSet{rps: rps, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (s *limiterSet) get(clientID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[clientID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.rps), s.burst)
		s.limiters[clientID] = l
	}
	return l
}

func (s *limiterSet) remove(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.limiters, clientID)
}
