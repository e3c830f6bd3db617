package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBusyRetryBackoff returns a short exponential backoff tuned for
// SQLITE_BUSY contention between a reader and the single writer.
func newBusyRetryBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	return b
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withBusyRetry retries op while it fails with a transient busy error,
// recording the number of extra attempts as a metric.
func withBusyRetry(ctx context.Context, op func() error) error {
	attempts := 0
	bo := newBusyRetryBackoff()
	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err != nil && isBusyError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if attempts > 1 {
		backendMetrics.retryCount.Add(ctx, int64(attempts-1))
	}
	return err
}
