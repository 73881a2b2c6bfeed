package gc

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/appslot/lock/flock"
)

type snap struct {
	ids []string
}

func TestRunCollectsResolvedIDs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	var collected []string
	var sawOther bool
	o := New()
	Register(o, Module[snap]{
		Name:   "slots",
		Locker: flock.New(filepath.Join(dir, "a.lock")),
		ReadDB: func(context.Context) (snap, error) { return snap{ids: []string{"a", "b"}}, nil },
		Resolve: func(s snap, others map[string]any) []string {
			_, sawOther = others["pins"].([]string)
			return s.ids[:1]
		},
		Collect: func(_ context.Context, ids []string) error {
			collected = append(collected, ids...)
			return nil
		},
	})
	Register(o, Module[[]string]{
		Name:    "pins",
		Locker:  flock.New(filepath.Join(dir, "b.lock")),
		ReadDB:  func(context.Context) ([]string, error) { return []string{"b"}, nil },
		Resolve: func([]string, map[string]any) []string { return nil },
		Collect: func(context.Context, []string) error { t.Fatal("nothing to collect"); return nil },
	})

	n, err := o.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a"}, collected)
	assert.True(t, sawOther)
}

func TestRunAbortsOnBusyModule(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "busy.lock")
	holder := flock.New(path)
	require.NoError(t, holder.Lock(ctx))
	defer holder.Unlock(ctx) //nolint:errcheck

	o := New()
	Register(o, Module[snap]{
		Name:    "slots",
		Locker:  flock.New(path),
		ReadDB:  func(context.Context) (snap, error) { t.Fatal("must not snapshot"); return snap{}, nil },
		Resolve: func(snap, map[string]any) []string { return nil },
		Collect: func(context.Context, []string) error { return nil },
	})
	_, err := o.Run(ctx)
	assert.ErrorContains(t, err, "busy")
}

func TestRunJoinsCollectErrors(t *testing.T) {
	o := New()
	Register(o, Module[snap]{
		Name:    "slots",
		Locker:  flock.New(filepath.Join(t.TempDir(), "a.lock")),
		ReadDB:  func(context.Context) (snap, error) { return snap{ids: []string{"x"}}, nil },
		Resolve: func(s snap, _ map[string]any) []string { return s.ids },
		Collect: func(context.Context, []string) error { return errors.New("boom") },
	})
	n, err := o.Run(context.Background())
	assert.Zero(t, n)
	assert.ErrorContains(t, err, "slots: boom")
}
