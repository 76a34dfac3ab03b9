package services

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/yungbote/fulfillment-backend/internal/data/repos"
)

const storeMaxTries = 4

// withStoreRetry re-runs op while it fails with a transient store error.
// Any other error is returned on the first attempt.
func withStoreRetry(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 25 * time.Millisecond
	eb.MaxInterval = 500 * time.Millisecond
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := op(); err != nil {
			if repos.IsRetryable(err) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(storeMaxTries))
	return err
}
