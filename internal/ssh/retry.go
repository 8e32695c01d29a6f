package ssh

import (
	"context"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"k8s.io/utils/clock"
)

var ErrRetriesExhausted = fmt.Errorf("connection attempts exhausted")

const (
	DefaultAttempts = 10
	DefaultDelay    = 5 * time.Second
)

// Retry runs an operation up to 'Attempts' times, sleeping a fixed 'Delay'
// between attempts. There is no backoff and no sleep after the final
// attempt, so N failures cost (N-1) x Delay.
type Retry struct {
	// Attempts defaults to DefaultAttempts when zero or negative.
	Attempts int
	// Delay defaults to DefaultDelay when zero; negative means no delay.
	Delay time.Duration
	// Clock drives the sleeps between attempts. Nil means the real clock.
	Clock clock.Clock
}

// Do calls fn until it returns nil, the attempts run out or ctx is done.
//
// On exhaustion the returned error wraps both ErrRetriesExhausted and the
// error from the final attempt.
func (r Retry) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	log := clog.FromContext(ctx)
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	delay := r.Delay
	switch {
	case delay == 0:
		delay = DefaultDelay
	case delay < 0:
		delay = 0
	}
	clk := r.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	var last error
	cancelled := func(err error) error {
		if last != nil {
			return fmt.Errorf("%w: %w", err, last)
		}
		return err
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}
		last = fn(ctx, attempt)
		if last == nil {
			return nil
		}
		log.Debug("attempt failed",
			"attempt", attempt,
			"max_attempts", attempts,
			"error", last,
		)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return cancelled(ctx.Err())
		case <-clk.After(delay):
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, last)
}
