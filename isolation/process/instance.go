package process

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync/atomic"

	"github.com/projecteru2/appslot/isolation"
	"github.com/projecteru2/appslot/types"
)

// compile-time interface check.
var _ isolation.Instance = (*instance)(nil)

// instance is one launched child process. exited closes once the child has been reaped.
type instance struct {
	id         string
	name       string
	workDir    string
	command    string
	socketPath string
	pid        int

	cmd           *exec.Cmd
	exited        chan struct{}
	exitErr       error
	stopRequested atomic.Bool
}

func (i *instance) alive() bool {
	select {
	case <-i.exited:
		return false
	default:
		return true
	}
}

// kill sends SIGKILL and waits for the reaper. Used to unwind a failed start.
func (i *instance) kill() {
	if i.alive() {
		_ = i.cmd.Process.Kill()
	}
	<-i.exited
}

func (i *instance) Stop(ctx context.Context) error {
	i.stopRequested.Store(true)
	if !i.alive() {
		return isolation.ErrExited
	}
	return isolation.DoWithRetry(ctx, func() error {
		return isolation.DoPUT(ctx, i.socketPath, isolation.PathShutdown, nil)
	})
}

func (i *instance) CollectStatus(ctx context.Context) (*types.StatusSnapshot, error) {
	if !i.alive() {
		return nil, isolation.ErrExited
	}
	var snap types.StatusSnapshot
	if err := isolation.DoWithRetry(ctx, func() error {
		return isolation.DoGET(ctx, i.socketPath, isolation.PathStatus, &snap)
	}); err != nil {
		if !i.alive() {
			return nil, isolation.ErrExited
		}
		return nil, err
	}
	snap.Set(types.StatusKeyPID, i.pid)
	snap.Set(types.StatusKeyInstanceID, i.id)
	return &snap, nil
}

func (i *instance) CanBeRecycled(ctx context.Context) (bool, error) {
	if !i.alive() {
		return false, isolation.ErrExited
	}
	var resp isolation.RecyclableResponse
	if err := isolation.DoWithRetry(ctx, func() error {
		return isolation.DoGET(ctx, i.socketPath, isolation.PathRecyclable, &resp)
	}); err != nil {
		return false, err
	}
	return resp.Recyclable, nil
}

func (i *instance) ReportConfigChange(ctx context.Context, cfg *types.ServerConfig) error {
	if !i.alive() {
		return isolation.ErrExited
	}
	body, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return isolation.DoWithRetry(ctx, func() error {
		return isolation.DoPUT(ctx, i.socketPath, isolation.PathConfig, body)
	})
}
