package turn

import (
	"context"
	"time"
)

// RetryPolicy is a bounded-retry combinator: at most MaxAttempts calls,
// with a fixed pause between them. It carries no per-error policy —
// every failure short of context cancellation is retried until the
// attempt budget runs out.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls allowed, including the
	// first. Values below 1 behave as 1.
	MaxAttempts int

	// Backoff is the fixed pause between attempts. Zero retries
	// immediately.
	Backoff time.Duration
}

// Do calls fn until it succeeds or the attempt budget is exhausted. It
// returns the number of calls made and the last error. Context
// cancellation stops retrying immediately and returns the context
// error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (attempts int, err error) {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}

	for attempt := 0; attempt < max; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return attempts, cerr
		}

		attempts++
		if err = fn(ctx, attempt); err == nil {
			return attempts, nil
		}

		if attempt+1 < max && p.Backoff > 0 {
			timer := time.NewTimer(p.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempts, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return attempts, err
}
