package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/appslot/isolation"
	"github.com/projecteru2/appslot/metrics"
	"github.com/projecteru2/appslot/types"
)

// Start creates and starts the hosted instance. It only acts from
// NotStarted and reports whether an instance is now running.
func (s *Supervisor) Start(ctx context.Context) bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.start(ctx)
}

func (s *Supervisor) start(ctx context.Context) bool {
	logger := log.WithFunc("supervisor.Start")

	s.mu.Lock()
	if s.state != types.StateNotStarted {
		name, state := s.identity.Name, s.state
		s.mu.Unlock()
		logger.Warnf(ctx, "app %s cannot start from state %s", name, state)
		return false
	}
	s.setState(types.StateStarting)
	id, cfg := s.identity, s.config.Clone()
	s.mu.Unlock()

	inst, err := s.createAndStart(ctx, id, cfg)
	if err != nil {
		s.report(ctx, fmt.Errorf("start: %w", err))
		inst = nil
	}
	if inst == nil {
		metrics.RecordStartFailure(id.Name)
		s.mu.Lock()
		s.setState(types.StateNotStarted)
		s.mu.Unlock()
		logger.Warnf(ctx, "app %s failed to start", id.Name)
		return false
	}

	us, err := s.opts.UpdateState(ctx, id.WorkingDir)
	if err != nil {
		s.report(ctx, fmt.Errorf("track updates in %s: %w", id.WorkingDir, err))
		us = nil
	}

	s.mu.Lock()
	s.instance = inst
	s.update = us
	s.setState(types.StateRunning)
	s.mu.Unlock()

	logger.Infof(ctx, "app %s started", id.Name)
	return true
}

func (s *Supervisor) createAndStart(ctx context.Context, id types.AppIdentity, cfg *types.ServerConfig) (inst isolation.Instance, err error) {
	defer func() {
		if r := recover(); r != nil {
			inst, err = nil, panicError("create instance", r)
		}
	}()
	return s.backend.CreateAndStart(ctx, id, cfg)
}

// Stop stops the running instance and blocks until its teardown completed.
// Without an instance it returns at once. A Stop issued while another one
// is pending waits on the same teardown.
// The wait ends early, leaving the slot Stopping, when ctx ends or
// Options.StopWait elapses; a later Stop resumes waiting.
func (s *Supervisor) Stop(ctx context.Context) {
	s.mu.Lock()
	pending := s.stopping
	s.mu.Unlock()
	if pending != nil {
		s.await(ctx, pending)
		return
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stop(ctx)
}

func (s *Supervisor) stop(ctx context.Context) {
	s.mu.Lock()
	inst := s.instance
	if inst == nil {
		s.mu.Unlock()
		return
	}
	if pending := s.stopping; pending != nil {
		s.mu.Unlock()
		s.await(ctx, pending)
		return
	}
	us := s.update
	s.update = nil
	s.setState(types.StateStopping)
	sig := newCompletion()
	s.stopping = sig
	s.stopBegan = time.Now()
	name := s.identity.Name
	s.mu.Unlock()

	log.WithFunc("supervisor.Stop").Infof(ctx, "app %s is stopping", name)
	s.closeUpdateState(ctx, us)
	if err := s.requestStop(ctx, inst); err != nil && !errors.Is(err, isolation.ErrExited) {
		s.report(ctx, fmt.Errorf("request stop: %w", err))
	}
	s.teardown(ctx, inst, s.OnStopped)
	s.await(ctx, sig)
}

func (s *Supervisor) requestStop(ctx context.Context, inst isolation.Instance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError("instance stop", r)
		}
	}()
	return inst.Stop(ctx)
}

// teardown hands inst to the backend. A panicking backend can no longer be
// trusted to call done, so done is called here instead.
func (s *Supervisor) teardown(ctx context.Context, inst isolation.Instance, done func()) {
	defer func() {
		if r := recover(); r != nil {
			s.report(ctx, panicError("teardown", r))
			done()
		}
	}()
	s.backend.Teardown(ctx, inst, done)
}

func (s *Supervisor) await(ctx context.Context, sig *completion) {
	if s.opts.StopWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.StopWait)
		defer cancel()
	}
	if err := sig.Wait(ctx); err != nil {
		log.WithFunc("supervisor.Stop").Warnf(ctx, "app %s still stopping: %v", s.Name(), err)
	}
}

// OnStopped is the teardown-complete notification. It moves the slot to
// NotStarted, drops the instance handle and releases every waiting Stop.
// Without a pending stop it does nothing.
func (s *Supervisor) OnStopped() {
	s.mu.Lock()
	sig := s.stopping
	if sig == nil {
		s.mu.Unlock()
		return
	}
	s.stopping = nil
	s.instance = nil
	s.setState(types.StateNotStarted)
	name, began := s.identity.Name, s.stopBegan
	s.mu.Unlock()

	metrics.ObserveStop(name, time.Since(began))
	log.WithFunc("supervisor.OnStopped").Infof(context.TODO(), "app %s stopped", name)
	sig.Signal()
}

// Restart stops the app and starts it again as one serialized transition.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.restart(ctx)
}

func (s *Supervisor) restart(ctx context.Context) error {
	logger := log.WithFunc("supervisor.Restart")
	name := s.Name()
	logger.Infof(ctx, "app %s is restarting", name)
	s.stop(ctx)
	if state := s.State(); state != types.StateNotStarted {
		return fmt.Errorf("app %s is %s after stop: %w", name, state, ErrRestartFailed)
	}
	if !s.start(ctx) {
		return fmt.Errorf("app %s did not start: %w", name, ErrRestartFailed)
	}
	logger.Infof(ctx, "app %s restarted successfully", name)
	return nil
}

// recycle restarts the app only while inst is still its running instance
// with no stop pending. An instance replaced or stopped since it was judged
// is left alone.
func (s *Supervisor) recycle(ctx context.Context, inst isolation.Instance) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	stale := s.instance != inst || s.stopping != nil
	name := s.identity.Name
	s.mu.Unlock()
	if stale {
		log.WithFunc("supervisor.recycle").Infof(ctx, "app %s: recycled instance is gone, skip restart", name)
		return nil
	}
	return s.restart(ctx)
}

// scheduleRestart recycles inst in the background. Overlapping requests
// share one restart. Failures go to report.
func (s *Supervisor) scheduleRestart(ctx context.Context, inst isolation.Instance, reason string) {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, err, _ := s.restarts.Do("restart", func() (_ any, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = panicError("restart", r)
				}
			}()
			return nil, s.recycle(ctx, inst)
		})
		if err != nil {
			s.report(ctx, fmt.Errorf("restart for %s: %w", reason, err))
		}
	}()
}

// instanceExited drops a handle whose instance died on its own and releases
// what the backend still holds for it. It backs off when a transition is in
// flight, since that transition owns the handle.
func (s *Supervisor) instanceExited(ctx context.Context, inst isolation.Instance) {
	if !s.opMu.TryLock() {
		return
	}
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.instance != inst || s.stopping != nil || s.state != types.StateRunning {
		s.mu.Unlock()
		return
	}
	s.instance = nil
	us := s.update
	s.update = nil
	s.setState(types.StateNotStarted)
	name := s.identity.Name
	s.mu.Unlock()

	log.WithFunc("supervisor.instanceExited").Warnf(ctx, "app %s exited unexpectedly", name)
	s.closeUpdateState(ctx, us)

	released := newCompletion()
	s.teardown(ctx, inst, func() { released.Signal() })
	if err := released.Wait(ctx); err != nil {
		s.report(ctx, fmt.Errorf("release exited instance: %w", err))
	}
}
