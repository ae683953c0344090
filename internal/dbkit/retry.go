package dbkit

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newRetryBackoff builds the bounded exponential back-off policy used
// for transient busy/timeout errors, mirroring the teacher's
// newServerRetryBackoff in internal/storage/dolt/store.go: a capped
// MaxElapsedTime so a stuck lock eventually surfaces as a real error
// instead of retrying forever.
func newRetryBackoff(ctx context.Context, maxElapsed time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = maxElapsed
	return backoff.WithContext(b, ctx)
}

// Retry runs fn, retrying with bounded exponential back-off whenever
// fn's error satisfies IsRetryable, up to maxElapsed total, the Go
// equivalent of the teacher's retry wrapping around dolt server calls.
// No package in this module calls it: entrywriter, txrun and newest run
// each write statement once.
func Retry(ctx context.Context, maxElapsed time.Duration, fn func() error) error {
	policy := newRetryBackoff(ctx, maxElapsed)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
