package supervisor

import (
	"context"
	"sync/atomic"
)

// completion is a one-shot signal created per stop cycle.
type completion struct {
	done  chan struct{}
	fired atomic.Bool
}

func newCompletion() *completion {
	return &completion{done: make(chan struct{})}
}

// Signal completes c. Only the first call has an effect; it reports whether this call fired.
func (c *completion) Signal() bool {
	if !c.fired.CompareAndSwap(false, true) {
		return false
	}
	close(c.done)
	return true
}

// Wait blocks until c is signaled or ctx ends.
func (c *completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
