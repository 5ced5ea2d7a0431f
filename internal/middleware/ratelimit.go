// Package middleware holds cross-cutting guards wrapped around outbound calls.
package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// defaultIdle is how long a key may go unused before its bucket is dropped.
const defaultIdle = 10 * time.Minute

// LimiterStore hands out one token bucket per key. The notification
// dispatcher keys it by device token so a burst of writes to one
// conversation cannot flood a single phone.
type LimiterStore struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	done     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	*rate.Limiter
	used time.Time
}

// NewLimiterStore allows limitPerMinute sends per key with the given burst.
// Unused buckets are swept every sweepEvery (defaults to the idle window).
func NewLimiterStore(limitPerMinute, burst int, sweepEvery time.Duration) *LimiterStore {
	if limitPerMinute <= 0 {
		limitPerMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	if sweepEvery <= 0 {
		sweepEvery = defaultIdle
	}
	s := &LimiterStore{
		limit:   rate.Limit(float64(limitPerMinute) / 60),
		burst:   burst,
		idle:    defaultIdle,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go s.sweepLoop(sweepEvery)
	return s
}

func (s *LimiterStore) sweepLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.sweep(s.now().Add(-s.idle))
		}
	}
}

// sweep forgets buckets last used before cutoff.
func (s *LimiterStore) sweep(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, b := range s.buckets {
		if b.used.Before(cutoff) {
			delete(s.buckets, key)
		}
	}
}

// Stop ends the sweeper. Safe to call more than once.
func (s *LimiterStore) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Allow takes one token from key's bucket, reporting false when it is empty.
func (s *LimiterStore) Allow(key string) bool {
	now := s.now()

	s.mu.Lock()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{Limiter: rate.NewLimiter(s.limit, s.burst)}
		s.buckets[key] = b
	}
	b.used = now
	s.mu.Unlock()

	return b.AllowN(now, 1)
}
