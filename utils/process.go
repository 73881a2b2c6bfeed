package utils

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const processPollInterval = 100 * time.Millisecond

// WritePIDFile atomically writes pid to path with 0600 permissions.
func WritePIDFile(path string, pid int) error {
	return AtomicWriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

// ReadPIDFile reads a PID integer from path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // internal runtime path
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse PID from %s: %w", path, err)
	}
	return pid, nil
}

// IsProcessAlive returns true if a process with the given PID currently exists.
// Uses kill(pid, 0): no signal is sent, only existence is checked.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// TerminateProcess sends SIGTERM to pid, waits up to gracePeriod for it to
// exit, then falls back to SIGKILL. alive decides whether the process is still
// around; pass nil to use IsProcessAlive. Callers that own the child and reap
// it elsewhere pass their own check, since an unreaped zombie still answers kill(pid, 0).
func TerminateProcess(ctx context.Context, pid int, gracePeriod time.Duration, alive func() bool) error {
	if alive == nil {
		alive = func() bool { return IsProcessAlive(pid) }
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil // already gone
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if !alive() {
			return nil
		}
		return proc.Kill()
	}
	if err := WaitFor(ctx, gracePeriod, processPollInterval, func() (bool, error) {
		return !alive(), nil
	}); err == nil {
		return nil
	}
	if !alive() {
		return nil
	}
	if err := proc.Kill(); err != nil && alive() {
		return fmt.Errorf("kill %d: %w", pid, err)
	}
	return nil
}
