package client

import (
	"context"
	"time"

	"github.com/operon-dev/operon/pkg/schema"
)

// retryableStatuses are the HTTP statuses classified as likely transient.
// Every other status (all 2xx and 4xx except 408/429) is terminal.
var retryableStatuses = map[int]struct{}{
	408: {},
	429: {},
	500: {},
	502: {},
	503: {},
	504: {},
}

// Policy holds the backoff configuration for one client.
type Policy struct {
	MaxRetries int
	RetryDelay time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// RetryableStatus reports whether an HTTP status is eligible for another attempt.
func RetryableStatus(status int) bool {
	_, ok := retryableStatuses[status]
	return ok
}

// ShouldRetry decides whether a failed attempt may be retried.
// Network and timeout failures are always retryable; HTTP failures only for
// the statuses in retryableStatuses. Once attempt >= maxRetries the answer is
// false regardless of outcome kind.
func ShouldRetry(attempt, maxRetries int, outcome *schema.Error) bool {
	if attempt >= maxRetries {
		return false
	}
	if outcome == nil {
		return false
	}
	switch {
	case outcome.Code == schema.ErrCodeNetwork || outcome.Code == schema.ErrCodeTimeout:
		return true
	case outcome.Status != 0:
		// HTTP failure. The body may have overridden the taxonomy code, so
		// classify by status.
		return RetryableStatus(outcome.Status)
	default:
		return false
	}
}

// NextDelay advances the backoff: min(current * multiplier, maxDelay).
// The very first delay used by a call is the configured base RetryDelay.
func (p Policy) NextDelay(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * p.Multiplier)
	if p.MaxDelay > 0 && next > p.MaxDelay {
		next = p.MaxDelay
	}
	return next
}

// waitBackoff sleeps for the computed backoff duration or returns early if the
// context is cancelled. The delay fully elapses before the next attempt starts.
func waitBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
