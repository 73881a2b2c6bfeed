package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/appslot/isolation"
	"github.com/projecteru2/appslot/metrics"
	"github.com/projecteru2/appslot/recycle"
	"github.com/projecteru2/appslot/types"
)

// CollectStatus returns the instance's status snapshot and runs the recycle
// triggers against it. Without a usable instance snapshot it returns the
// not-running fallback and evaluates nothing.
func (s *Supervisor) CollectStatus(ctx context.Context) *types.StatusSnapshot {
	s.mu.Lock()
	inst, state := s.instance, s.state
	s.mu.Unlock()
	if inst == nil {
		return s.idleStatus()
	}

	snap, err := s.collect(ctx, inst)
	switch {
	case errors.Is(err, isolation.ErrExited):
		s.instanceExited(ctx, inst)
		return s.idleStatus()
	case err != nil:
		s.report(ctx, fmt.Errorf("collect status: %w", err))
		return s.idleStatus()
	case snap == nil:
		return s.idleStatus()
	}

	if state == types.StateRunning {
		s.runRecycleTriggers(ctx, inst, snap)
	}
	return snap
}

func (s *Supervisor) collect(ctx context.Context, inst isolation.Instance) (snap *types.StatusSnapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			snap, err = nil, panicError("collect status", r)
		}
	}()
	return inst.CollectStatus(ctx)
}

// idleStatus returns a copy of the cached not-running snapshot, built on first
// use, with its timestamp refreshed. Setup drops the cache.
func (s *Supervisor) idleStatus() *types.StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idle == nil {
		s.idle = types.NewStatusSnapshot(s.identity.Name)
		s.idle.Set(types.StatusKeyIsRunning, false)
	}
	s.idle.CollectedAt = time.Now()
	return s.idle.Clone()
}

// runRecycleTriggers evaluates triggers in order. A failing trigger is
// reported and skipped. The first trigger that wants a recycle of an
// instance that agrees to it schedules one restart and ends the sweep.
func (s *Supervisor) runRecycleTriggers(ctx context.Context, inst isolation.Instance, status *types.StatusSnapshot) {
	logger := log.WithFunc("supervisor.runRecycleTriggers")
	name := s.Name()
	for _, t := range s.RecycleTriggers() {
		need, err := s.evaluate(ctx, t, status)
		if err != nil {
			metrics.RecordTriggerError(name, t.Name())
			s.report(ctx, fmt.Errorf("recycle trigger %s: %w", t.Name(), err))
			continue
		}
		if !need {
			continue
		}
		logger.Infof(ctx, "app %s will be recycled because of the trigger %s", name, t.Name())
		metrics.RecordRestart(name, t.Name())
		s.scheduleRestart(ctx, inst, "trigger "+t.Name())
		return
	}
}

func (s *Supervisor) evaluate(ctx context.Context, t recycle.Trigger, status *types.StatusSnapshot) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, panicError("trigger", r)
		}
	}()
	need, err := t.NeedRecycle(ctx, s, status)
	if err != nil || !need {
		return false, err
	}
	return s.canBeRecycled(ctx)
}

// CanBeRecycled asks the instance whether it may be recycled now.
// False without an instance or when the instance cannot answer.
func (s *Supervisor) CanBeRecycled(ctx context.Context) bool {
	ok, err := s.canBeRecycled(ctx)
	if err != nil {
		s.report(ctx, fmt.Errorf("can be recycled: %w", err))
		return false
	}
	return ok
}

func (s *Supervisor) canBeRecycled(ctx context.Context) (ok bool, err error) {
	inst := s.currentInstance()
	if inst == nil {
		return false, nil
	}
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, panicError("can be recycled", r)
		}
	}()
	return inst.CanBeRecycled(ctx)
}

// ReportPotentialConfigChange forwards cfg to the running instance, if any.
func (s *Supervisor) ReportPotentialConfigChange(ctx context.Context, cfg *types.ServerConfig) {
	inst := s.currentInstance()
	if inst == nil {
		return
	}
	if err := s.reportConfigChange(ctx, inst, cfg); err != nil {
		s.report(ctx, fmt.Errorf("report config change: %w", err))
	}
}

func (s *Supervisor) reportConfigChange(ctx context.Context, inst isolation.Instance, cfg *types.ServerConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError("report config change", r)
		}
	}()
	return inst.ReportConfigChange(ctx, cfg)
}
