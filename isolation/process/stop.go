package process

import (
	"context"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/appslot/config"
	"github.com/projecteru2/appslot/isolation"
	"github.com/projecteru2/appslot/utils"
)

// Teardown waits in the background for the instance process to exit after a
// shutdown request, terminating it once the stop timeout passes, then
// releases its runtime files and calls done.
func (p *Process) Teardown(ctx context.Context, inst isolation.Instance, done func()) {
	pi, ok := inst.(*instance)
	if !ok {
		log.WithFunc("process.Teardown").Warnf(ctx, "foreign instance %T, nothing to tear down", inst)
		done()
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer done()
		p.stopOne(ctx, pi)
	}()
}

func (p *Process) stopOne(ctx context.Context, inst *instance) {
	logger := log.WithFunc("process.stopOne")
	defer p.cleanupRuntimeFiles(ctx, inst)

	state := isolation.InstanceStateStopped
	if !inst.alive() && !inst.stopRequested.Load() {
		state = isolation.InstanceStateExited
	}

	timeout := p.conf.StopTimeout()
	if err := utils.WaitFor(ctx, timeout, exitPollInterval, func() (bool, error) {
		return !inst.alive(), nil
	}); err != nil {
		// App did not exit in time, escalate.
		logger.Warnf(ctx, "app %s pid %d did not exit within %s, terminating", inst.name, inst.pid, timeout)
		if err := utils.TerminateProcess(ctx, inst.pid, p.terminateGrace, inst.alive); err != nil {
			logger.Warnf(ctx, "terminate app %s pid %d: %v", inst.name, inst.pid, err)
			state = isolation.InstanceStateError
		}
		select {
		case <-inst.exited:
		case <-time.After(p.terminateGrace):
			logger.Warnf(ctx, "app %s pid %d not reaped", inst.name, inst.pid)
			state = isolation.InstanceStateError
		}
	}

	if err := p.updateState(ctx, inst.workDir, inst.id, state); err != nil {
		logger.Warnf(ctx, "record state of instance %s: %v", inst.id, err)
	}
	logger.Infof(ctx, "app %s instance %s %s", inst.name, inst.id, state)
}

// cleanupRuntimeFiles removes the socket and PID file, unless a newer
// instance of the slot has taken them over.
func (p *Process) cleanupRuntimeFiles(ctx context.Context, inst *instance) {
	rec, err := p.Inspect(ctx, inst.workDir)
	if err == nil && rec.ID != inst.id {
		return
	}
	utils.RemoveFiles(ctx, inst.socketPath, config.SlotPIDFile(inst.workDir))
}

// updateState transitions an instance record to a new state.
func (p *Process) updateState(ctx context.Context, workDir, id string, state isolation.InstanceState) error {
	now := time.Now()
	return p.store(workDir).Update(ctx, func(idx *isolation.InstanceIndex) error {
		r := idx.Instances[id]
		if r == nil {
			return nil
		}
		r.State = state
		r.UpdatedAt = now
		if state != isolation.InstanceStateRunning {
			r.StoppedAt = &now
		}
		return nil
	})
}
