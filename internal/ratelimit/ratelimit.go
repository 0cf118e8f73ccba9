// Package ratelimit provides per-remote-address request shedding for the
// relay's POST /hop endpoint (spec §4.5 note on scheduled/operator-tuned
// behavior; this is additive to the spec's 400/502/200 contract, never a
// replacement for it).
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter hands out one token-bucket rate.Limiter per remote address,
// grounded on the teacher's per-entity-map-with-mutex shape
// (internal/routing/manager.go, internal/peer/manager.go): a single
// Mutex-guarded map, lazily populated. The map only shrinks when the
// owner calls Prune periodically; left unpruned it grows with the number
// of distinct source addresses ever seen.
type Limiter struct {
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	visitors map[string]*rate.Limiter
}

// New creates a Limiter allowing rps sustained requests per second with the
// given burst, per source address.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether a request from addr may proceed right now,
// consuming a token if so.
func (l *Limiter) Allow(addr string) bool {
	return l.visitorFor(addr).Allow()
}

func (l *Limiter) visitorFor(addr string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[addr]
	if !ok {
		v = rate.NewLimiter(l.rps, l.burst)
		l.visitors[addr] = v
	}
	return v
}

// Prune removes visitor entries that have been idle since before cutoff,
// bounding memory growth on a long-running relay. The caller is expected
// to invoke this periodically from its own ticker goroutine.
func (l *Limiter) Prune(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for addr, v := range l.visitors {
		if v.TokensAt(cutoff) >= float64(l.burst) {
			delete(l.visitors, addr)
		}
	}
}

// VisitorCount returns the number of tracked source addresses, for tests
// and metrics.
func (l *Limiter) VisitorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}
