package app

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"inventory-ledger/internal/core"
)

// RetryPolicy bounds how often a posting that hit a lock timeout is retried.
// Attempts counts the first try; values below 1 are treated as 1.
type RetryPolicy struct {
	Attempts  uint64
	BaseDelay time.Duration
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	retries := uint64(0)
	if p.Attempts > 1 {
		retries = p.Attempts - 1
	}
	return retry.WithJitterPercent(20, retry.WithMaxRetries(retries, retry.NewExponential(base)))
}

// withRetry runs fn until it succeeds, fails with a non-retriable error or the
// policy is exhausted. Only core.IsRetriable errors are retried.
func withRetry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			if core.IsRetriable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		out = v
		return nil
	})
	return out, err
}
