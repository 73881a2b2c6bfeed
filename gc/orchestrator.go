package gc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/projecteru2/core/log"
)

// Orchestrator runs GC across all registered modules.
type Orchestrator struct {
	modules []runner
}

// New creates an empty Orchestrator.
func New() *Orchestrator { return &Orchestrator{} }

// Register adds a typed Module to the Orchestrator.
// A package-level function because methods cannot take type parameters.
func Register[S any](o *Orchestrator, m Module[S]) {
	o.modules = append(o.modules, m)
}

// Run executes one GC cycle:
//
//  1. TryLock every module; a busy module aborts the cycle.
//  2. Snapshot each module.
//  3. Resolve targets per module, with the other snapshots at hand.
//  4. Collect the targets and unlock.
//
// Locks are held for the whole cycle so every phase sees the same state.
// It returns the number of collected ids.
func (o *Orchestrator) Run(ctx context.Context) (int, error) {
	logger := log.WithFunc("gc.Run")

	var locked []runner
	var skipped []string
	for _, m := range o.modules {
		ok, err := m.getLocker().TryLock(ctx)
		switch {
		case err != nil:
			logger.Warnf(ctx, "skip %s: TryLock error: %v", m.getName(), err)
			skipped = append(skipped, m.getName())
		case !ok:
			logger.Warnf(ctx, "skip %s: lock held by another operation", m.getName())
			skipped = append(skipped, m.getName())
		default:
			locked = append(locked, m)
		}
	}
	defer func() {
		for _, m := range locked {
			m.getLocker().Unlock(ctx) //nolint:errcheck,gosec
		}
	}()

	if len(skipped) > 0 {
		return 0, fmt.Errorf("gc aborted: modules busy: %s", strings.Join(skipped, ", "))
	}

	snapshots := make(map[string]any, len(locked))
	for _, m := range locked {
		snap, err := m.readSnapshot(ctx)
		if err != nil {
			return 0, fmt.Errorf("gc aborted: snapshot %s: %w", m.getName(), err)
		}
		snapshots[m.getName()] = snap
	}

	targets := make(map[string][]string)
	for _, m := range locked {
		others := make(map[string]any, len(snapshots)-1)
		for name, snap := range snapshots {
			if name != m.getName() {
				others[name] = snap
			}
		}
		if ids := m.resolveTargets(snapshots[m.getName()], others); len(ids) > 0 {
			targets[m.getName()] = ids
		}
	}

	var errs []error
	collected := 0
	for _, m := range locked {
		ids := targets[m.getName()]
		if len(ids) == 0 {
			continue
		}
		if err := m.collect(ctx, ids); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.getName(), err))
			continue
		}
		collected += len(ids)
		logger.Infof(ctx, "%s: collected %s", m.getName(), strings.Join(ids, ", "))
	}
	return collected, errors.Join(errs...)
}
