package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// tokenLimiter rate-limits requests per bearer token, replacing the
// teacher's webhook package's hand-rolled fixed-window bucket
// (internal/ruriko/webhook/ratelimit.go) with the ecosystem's token-bucket
// limiter: it tolerates short bursts instead of clamping hard at a window
// boundary, and refills continuously rather than resetting all at once.
type tokenLimiter struct {
	mu       sync.Mutex
	perSec   rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// newTokenLimiter builds a limiter allowing perSec requests/second per token
// with bursts up to burst.
func newTokenLimiter(perSec float64, burst int) *tokenLimiter {
	return &tokenLimiter{
		perSec:   rate.Limit(perSec),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// allow reports whether a request bearing token may proceed, minting a
// fresh bucket for tokens seen for the first time. Safe for concurrent use.
func (l *tokenLimiter) allow(token string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[token]
	if !ok {
		lim = rate.NewLimiter(l.perSec, l.burst)
		l.limiters[token] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
