package collab

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// withBackoff retries fn with bounded exponential backoff for both
// collaborators. maxElapsed caps the total time spent retrying; no
// per-attempt timeout is applied — each attempt runs until fn returns or
// ctx is done. Cancellation of an in-flight attempt is not attempted
// mid-call — the operation is idempotent and simply gets retried by
// whoever re-delivers it.
func withBackoff(ctx context.Context, maxElapsed time.Duration, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = maxElapsed
	return backoff.Retry(fn, backoff.WithContext(b, ctx))
}
