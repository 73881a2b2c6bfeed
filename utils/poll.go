package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned by WaitFor when the condition did not hold in time.
var ErrTimeout = errors.New("timed out")

// WaitFor calls check every interval until it reports done, fails, or the
// timeout passes. Context cancellation returns ctx.Err(); an expired timeout
// returns an error wrapping ErrTimeout.
func WaitFor(ctx context.Context, timeout, interval time.Duration, check func() (done bool, err error)) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		case <-ticker.C:
		}
	}
}
