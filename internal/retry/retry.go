// Package retry wraps gateway and store calls that can fail transiently
// with a bounded retry loop. The loop carries remaining-attempts and sleep
// state explicitly and returns a wrapped error once attempts are exhausted.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"tradebot/internal/ports"
)

// Policy applies bounded retry with exponential backoff and jitter.
// The zero value is unusable; construct with New.
type Policy struct {
	attempts int
	min      time.Duration
	max      time.Duration
	logger   ports.Logger
}

// New creates a retry policy. attempts is the total number of tries
// (not re-tries); values below 1 are clamped to 1.
func New(attempts int, min, max time.Duration, logger ports.Logger) Policy {
	if attempts < 1 {
		attempts = 1
	}
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = 10 * min
	}
	return Policy{attempts: attempts, min: min, max: max, logger: logger}
}

// Do runs fn until it succeeds, fails permanently, or attempts are
// exhausted. Only errors classified as temporary by ports.IsTemporary are
// retried; anything else is returned immediately.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := &backoff.Backoff{Min: p.min, Max: p.max, Factor: 2, Jitter: true}

	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !ports.IsTemporary(err) {
			return err
		}
		if attempt == p.attempts {
			break
		}
		d := b.Duration()
		if p.logger != nil {
			p.logger.Warn(ctx, "Transient failure, retrying", map[string]interface{}{
				"operation": op,
				"attempt":   attempt,
				"of":        p.attempts,
				"sleep":     d.String(),
				"error":     err.Error(),
			})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", op, p.attempts, err)
}
