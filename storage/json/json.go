package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/projecteru2/appslot/lock"
	"github.com/projecteru2/appslot/storage"
	"github.com/projecteru2/appslot/utils"
)

// compile-time interface check.
var _ storage.Store[struct{}] = (*Store[struct{}])(nil)

// Store keeps a T as a JSON document on disk. Every access holds locker, so
// concurrent host processes and goroutines see consistent read-modify-write
// cycles. A *T implementing storage.Initer is initialized after each load.
type Store[T any] struct {
	path   string
	locker lock.Locker
}

// New returns a Store for the document at path, guarded by locker.
func New[T any](path string, locker lock.Locker) *Store[T] {
	return &Store[T]{path: path, locker: locker}
}

// With passes the current document to fn while holding the lock. A missing
// file reads as the zero T.
func (s *Store[T]) With(ctx context.Context, fn func(*T) error) error {
	return lock.WithLock(ctx, s.locker, func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		return fn(data)
	})
}

// Update is With followed by an atomic write-back when fn succeeds.
func (s *Store[T]) Update(ctx context.Context, fn func(*T) error) error {
	return s.With(ctx, func(data *T) error {
		if err := fn(data); err != nil {
			return err
		}
		return utils.AtomicWriteJSON(s.path, data)
	})
}

func (s *Store[T]) load() (*T, error) {
	data := new(T)
	raw, err := os.ReadFile(s.path) //nolint:gosec // slot runtime file
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	default:
		if err := json.Unmarshal(raw, data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", s.path, err)
		}
	}
	if initer, ok := any(data).(storage.Initer); ok {
		initer.Init()
	}
	return data, nil
}
