package fetcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/canary-data/docharvester/internal/metrics"
)

// hostLimiter serializes requests to the same host with a minimum spacing.
// The limiter is shared across institutions because some institutions live
// on the same host.
type hostLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	interval  time.Duration
	overrides map[string]time.Duration
}

// newHostLimiter builds a limiter with a default inter-request interval and
// optional per-host overrides (keyed by lowercase host).
func newHostLimiter(delay time.Duration, overrides map[string]time.Duration) *hostLimiter {
	return &hostLimiter{
		limiters:  make(map[string]*rate.Limiter),
		interval:  delay,
		overrides: overrides,
	}
}

// Wait blocks until the host's next request slot is available.
func (l *hostLimiter) Wait(ctx context.Context, host string) error {
	key := strings.ToLower(host)
	interval := l.interval
	if d, ok := l.overrides[key]; ok {
		interval = d
	}
	if interval <= 0 {
		return nil
	}

	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		// Burst of 1 forces full spacing between consecutive requests.
		limiter = rate.NewLimiter(rate.Every(interval), 1)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("politeness wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObservePolitenessDelay(key, waited)
	}
	return nil
}
