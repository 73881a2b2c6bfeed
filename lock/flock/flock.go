package flock

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"github.com/projecteru2/appslot/lock"
)

const retryDelay = 100 * time.Millisecond

// compile-time interface check.
var _ lock.Locker = (*Lock)(nil)

// Lock guards a file path across goroutines and processes. A one-slot
// channel token serializes holders inside the process, and flock(2) on a
// fresh fd per acquisition excludes other processes. A host, the slot
// instance index and gc all lock this way.
type Lock struct {
	path  string
	token chan struct{}
	// held is the flock of the current holder, nil when unlocked.
	held *flock.Flock
}

// New creates a Lock on path. The file is created on first acquisition.
func New(path string) *Lock {
	return &Lock{path: path, token: make(chan struct{}, 1)}
}

// Lock blocks until the lock is held or ctx ends.
func (l *Lock) Lock(ctx context.Context) error {
	select {
	case l.token <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("acquire lock %s: %w", l.path, ctx.Err())
	}
	ok, err := l.acquire(func(fl *flock.Flock) (bool, error) {
		return fl.TryLockContext(ctx, retryDelay)
	})
	switch {
	case err != nil:
		return fmt.Errorf("acquire flock %s: %w", l.path, err)
	case !ok:
		return fmt.Errorf("acquire flock %s: %w", l.path, ctx.Err())
	}
	return nil
}

// TryLock acquires the lock without waiting. (false, nil) means another
// holder, in this process or another one, has it.
func (l *Lock) TryLock(_ context.Context) (bool, error) {
	select {
	case l.token <- struct{}{}:
	default:
		return false, nil
	}
	return l.acquire((*flock.Flock).TryLock)
}

// Unlock releases the lock. Unlocking an unheld Lock is a no-op.
func (l *Lock) Unlock(_ context.Context) error {
	fl := l.held
	l.held = nil
	var err error
	if fl != nil {
		err = fl.Unlock()
	}
	select {
	case <-l.token:
	default:
	}
	if err != nil {
		return fmt.Errorf("release flock %s: %w", l.path, err)
	}
	return nil
}

// acquire takes the file lock with a fresh fd while the token is held.
// On failure the token is handed back so Lock/TryLock and Unlock stay paired.
func (l *Lock) acquire(take func(*flock.Flock) (bool, error)) (bool, error) {
	fl := flock.New(l.path)
	ok, err := take(fl)
	if err != nil || !ok {
		<-l.token
		return false, err
	}
	l.held = fl
	return true, nil
}
