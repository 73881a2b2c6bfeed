package gc

import (
	"context"

	"github.com/projecteru2/appslot/lock"
)

// Module describes one participant in a GC cycle. S is the snapshot type
// ReadDB produces and Resolve consumes.
type Module[S any] struct {
	Name string

	// Locker guards the module's state against live operations for the
	// whole cycle. A busy lock aborts the cycle.
	Locker lock.Locker

	// ReadDB captures the module's state. Called with Locker held.
	ReadDB func(ctx context.Context) (S, error)

	// Resolve picks the ids to collect. others holds the snapshots of every
	// other module keyed by name.
	Resolve func(snap S, others map[string]any) []string

	// Collect removes the resolved ids. Called with Locker held.
	Collect func(ctx context.Context, ids []string) error
}

func (m Module[S]) getName() string        { return m.Name }
func (m Module[S]) getLocker() lock.Locker { return m.Locker }

func (m Module[S]) readSnapshot(ctx context.Context) (any, error) {
	return m.ReadDB(ctx)
}

func (m Module[S]) resolveTargets(snap any, others map[string]any) []string {
	s, _ := snap.(S)
	return m.Resolve(s, others)
}

func (m Module[S]) collect(ctx context.Context, ids []string) error {
	return m.Collect(ctx, ids)
}
