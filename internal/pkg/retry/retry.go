// Package retry provides the bounded-retry helper used for chain and indexer
// lookups. Freshly broadcast transactions are often not yet visible to an RPC
// node, so reads are retried a fixed number of times at a fixed interval.
package retry

import (
	"context"
	"time"
)

// Do invokes fn up to attempts times, sleeping delay between failures. The
// last error is returned when all attempts fail. ctx cancellation aborts the
// wait early.
func Do[T any](ctx context.Context, attempts int, delay time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return zero, lastErr
}
