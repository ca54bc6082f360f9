package helper

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultRetryAttempts bounds retries against transient collaborator
// failures (embedding provider, store connectivity).
const DefaultRetryAttempts = 3

// Retry runs op with exponential backoff. Only transient failures
// (errors matching ErrUnavailable) are retried, everything else is
// returned immediately. At most maxAttempts calls of op are made.
func Retry(ctx context.Context, maxAttempts uint64, op func() error) error {
	if maxAttempts == 0 {
		maxAttempts = DefaultRetryAttempts
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 2 * time.Second

	wrapped := backoff.WithContext(backoff.WithMaxRetries(policy, maxAttempts-1), ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}, wrapped)
}
