package lock

import (
	"context"
	"errors"
)

// Locker provides mutual exclusion with context support.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	TryLock(ctx context.Context) (bool, error)
}

// WithLock runs fn while holding l. An unlock failure is joined to fn's error.
func WithLock(ctx context.Context, l Locker, fn func() error) error {
	if err := l.Lock(ctx); err != nil {
		return err
	}
	err := fn()
	return errors.Join(err, l.Unlock(ctx))
}
