// Package backoff holds the retry policy shared by attachment uploads and
// workflow webhook delivery: a bounded number of attempts with linear delay.
package backoff

import (
	"context"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Linear returns a go-retry backoff that waits step, 2*step, 3*step ... and
// allows at most attempts calls in total.
func Linear(step time.Duration, attempts int) retry.Backoff {
	if attempts < 1 {
		attempts = 1
	}
	var (
		mu sync.Mutex
		n  int
	)
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return time.Duration(n) * step, false
	})
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempt
// bound is reached. fn marks transient failures with Retryable. The attempt
// number passed to fn starts at 1.
func Do(ctx context.Context, step time.Duration, attempts int, fn func(ctx context.Context, attempt int) error) error {
	attempt := 0
	return retry.Do(ctx, Linear(step, attempts), func(ctx context.Context) error {
		attempt++
		return fn(ctx, attempt)
	})
}

// Retryable marks err as transient.
func Retryable(err error) error {
	return retry.RetryableError(err)
}
