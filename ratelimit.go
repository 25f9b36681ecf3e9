package reactorcore

import (
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
)

// rateLimiter wraps a catrate.Limiter with suppressed-occurrence counting
// per category, so a caller that gets denied can fold the count of
// everything it didn't log into the next entry it does log, instead of
// silently dropping them.
type rateLimiter struct {
	limiter *catrate.Limiter

	mu          sync.Mutex
	suppressed  map[any]int
}

func newRateLimiter(rates map[time.Duration]int) *rateLimiter {
	return &rateLimiter{
		limiter:    catrate.NewLimiter(rates),
		suppressed: make(map[any]int),
	}
}

// allow reports whether an event in category may proceed right now. When it
// may, it also returns the number of prior calls for the same category that
// were suppressed since the last time allow returned true, so the caller
// can report "N occurrences suppressed" alongside the one it does log.
func (r *rateLimiter) allow(category any) (ok bool, suppressedSinceLast int) {
	_, ok = r.limiter.Allow(category)
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		suppressedSinceLast = r.suppressed[category]
		delete(r.suppressed, category)
		return true, suppressedSinceLast
	}
	r.suppressed[category]++
	return false, 0
}
