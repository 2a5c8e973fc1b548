package invite

import (
	"context"
	"errors"
	"time"
)

var errNotConverged = errors.New("not converged")

// retry runs fn until it reports done, at most attempts times, sleeping delay
// between attempts. The returned error is nil on success, the context error
// if ctx ends while waiting, or the last error of fn (errNotConverged when fn
// never failed but never finished either).
func retry(ctx context.Context, attempts int, delay time.Duration, fn func(attempt int) (done bool, err error)) error {
	lastErr := errNotConverged
	for attempt := 1; attempt <= attempts; attempt++ {
		done, err := fn(attempt)
		if err == nil && done {
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = errNotConverged
		}
		retryAttempts.Inc()

		if attempt == attempts {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
