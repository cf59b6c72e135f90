// Package retry wraps fallible operations with bounded exponential backoff.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/canary-data/docharvester/internal/harvest"
)

// ErrRetriesExhausted tags the last error once every attempt has failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Policy controls attempt count and backoff shape.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy mirrors the configured defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Do invokes op until it succeeds, the error is permanent, or MaxAttempts is
// exhausted. The wrapped operation must be idempotent; fetches are read-only
// and satisfy this. Backoff before attempt n (n >= 2) is
// BaseDelay * 2^(n-2), jittered by up to ±20%.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, p.Backoff(attempt)); err != nil {
				return zero, err
			}
		}
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !Retryable(err) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}

// Retryable reports whether the error is transient. Classified fetch errors
// decide for themselves; context errors never retry; bare network timeouts
// retry.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var fe *harvest.FetchError
	if errors.As(err, &fe) {
		return fe.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Backoff returns the wait duration before the given attempt (attempt >= 2).
func (p Policy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 2; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return jitter(delay)
}

// jitter spreads the delay by ±20% to avoid thundering-herd alignment
// across concurrently retried hosts.
func jitter(d time.Duration) time.Duration {
	span := d / 5
	if span <= 0 {
		return d
	}
	bound := big.NewInt(int64(2 * span))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return d
	}
	return d - span + time.Duration(n.Int64())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
