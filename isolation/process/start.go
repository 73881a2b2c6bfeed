package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/appslot/config"
	"github.com/projecteru2/appslot/isolation"
	"github.com/projecteru2/appslot/types"
	"github.com/projecteru2/appslot/utils"
)

// CreateAndStart launches the configured command for the app, waits for its
// control socket, and records the instance. Any failure leaves nothing running.
func (p *Process) CreateAndStart(ctx context.Context, id types.AppIdentity, cfg *types.ServerConfig) (isolation.Instance, error) {
	logger := log.WithFunc("process.CreateAndStart")
	if cfg == nil || cfg.Command == "" {
		return nil, fmt.Errorf("app %s: no command configured", id.Name)
	}
	if err := config.EnsureSlotDirs(id.WorkingDir); err != nil {
		return nil, fmt.Errorf("ensure dirs: %w", err)
	}

	p.reapStale(ctx, id.WorkingDir)

	socketPath := config.SlotSocketPath(id.WorkingDir)
	// Clean up stale socket and PID file from any previous run.
	utils.RemoveFiles(ctx, socketPath, config.SlotPIDFile(id.WorkingDir))

	inst, err := p.launchProcess(ctx, id, cfg, socketPath)
	if err != nil {
		return nil, fmt.Errorf("launch app %s: %w", id.Name, err)
	}

	now := time.Now()
	if err := p.store(id.WorkingDir).Update(ctx, func(idx *isolation.InstanceIndex) error {
		idx.Instances[inst.id] = &isolation.InstanceRecord{
			ID:         inst.id,
			AppName:    id.Name,
			State:      isolation.InstanceStateRunning,
			PID:        inst.pid,
			Command:    inst.command,
			SocketPath: socketPath,
			StartedAt:  now,
			UpdatedAt:  now,
		}
		idx.Current = inst.id
		idx.Prune()
		return nil
	}); err != nil {
		inst.kill()
		utils.RemoveFiles(ctx, socketPath, config.SlotPIDFile(id.WorkingDir))
		return nil, fmt.Errorf("persist instance: %w", err)
	}

	logger.Infof(ctx, "app %s instance %s running as pid %d", id.Name, inst.id, inst.pid)
	return inst, nil
}

// launchProcess starts the app, writes the PID file and waits for the control
// socket. The child is kept attached so it can be reaped and its exit observed.
func (p *Process) launchProcess(ctx context.Context, id types.AppIdentity, cfg *types.ServerConfig, socketPath string) (*instance, error) {
	command := cfg.Command
	if !filepath.IsAbs(command) && strings.ContainsRune(command, filepath.Separator) {
		command = filepath.Join(id.WorkingDir, command)
	}

	logFile, err := os.OpenFile(config.SlotProcessLog(id.WorkingDir), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("open process log: %w", err)
	}

	cmd := exec.Command(command, cfg.Args...) //nolint:gosec
	cmd.Dir = id.WorkingDir
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Env = append(cmd.Env,
		isolation.EnvSocket+"="+socketPath,
		isolation.EnvAppName+"="+id.Name,
		isolation.EnvWorkingDir+"="+id.WorkingDir,
		isolation.EnvConfigFile+"="+id.ConfigFile,
	)
	// Own process group: signals aimed at the host do not reach the app directly.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("exec %s: %w", command, err)
	}

	inst := &instance{
		id:         isolation.GenerateID(),
		name:       id.Name,
		workDir:    id.WorkingDir,
		command:    filepath.Base(command),
		socketPath: socketPath,
		pid:        cmd.Process.Pid,
		cmd:        cmd,
		exited:     make(chan struct{}),
	}
	go func() {
		inst.exitErr = cmd.Wait()
		_ = logFile.Close()
		close(inst.exited)
	}()

	if err := utils.WritePIDFile(config.SlotPIDFile(id.WorkingDir), inst.pid); err != nil {
		inst.kill()
		return nil, fmt.Errorf("write PID file: %w", err)
	}

	if err := p.waitForSocket(ctx, inst); err != nil {
		inst.kill()
		utils.RemoveFiles(ctx, socketPath, config.SlotPIDFile(id.WorkingDir))
		return nil, err
	}
	return inst, nil
}

// waitForSocket polls until the control socket is connectable, the process
// exits, or the timeout/context fires.
func (p *Process) waitForSocket(ctx context.Context, inst *instance) error {
	err := utils.WaitFor(ctx, p.conf.SocketWait(), socketPollInterval, func() (bool, error) {
		if !inst.alive() {
			return false, fmt.Errorf("process exited before socket was ready: %v", inst.exitErr)
		}
		return isolation.CheckSocket(inst.socketPath) == nil, nil
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("context canceled waiting for socket: %w", err)
	default:
		return fmt.Errorf("wait for socket %s: %w", inst.socketPath, err)
	}
}

// reapStale terminates a process left running by a previous host process and
// marks its record exited. Best-effort.
func (p *Process) reapStale(ctx context.Context, workDir string) {
	logger := log.WithFunc("process.reapStale")
	rec, err := p.Inspect(ctx, workDir)
	if err != nil || rec.State != isolation.InstanceStateRunning {
		return
	}
	if utils.VerifyProcess(rec.PID, rec.Command) {
		logger.Warnf(ctx, "terminating stale instance %s (pid %d) of app %s", rec.ID, rec.PID, rec.AppName)
		if err := utils.TerminateProcess(ctx, rec.PID, p.terminateGrace, nil); err != nil {
			logger.Warnf(ctx, "terminate stale pid %d: %v", rec.PID, err)
		}
	}
	if err := p.updateState(ctx, workDir, rec.ID, isolation.InstanceStateExited); err != nil {
		logger.Warnf(ctx, "mark stale instance %s: %v", rec.ID, err)
	}
}
