package utils

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.json")
	require.NoError(t, AtomicWriteJSON(path, map[string]int{"pid": 42}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pid":42}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not linger")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWaitFor(t *testing.T) {
	ctx := context.Background()
	n := 0
	err := WaitFor(ctx, time.Second, time.Millisecond, func() (bool, error) {
		n++
		return n == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	err = WaitFor(ctx, 20*time.Millisecond, 5*time.Millisecond, func() (bool, error) { return false, nil })
	assert.ErrorIs(t, err, ErrTimeout)

	boom := errors.New("boom")
	err = WaitFor(ctx, time.Second, time.Millisecond, func() (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err = WaitFor(cctx, time.Second, time.Millisecond, func() (bool, error) { return false, nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.pid")
	require.NoError(t, WritePIDFile(path, 1234))
	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, pid)

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	_, err = ReadPIDFile(path)
	assert.Error(t, err)
}

func TestIsProcessAlive(t *testing.T) {
	assert.True(t, IsProcessAlive(os.Getpid()))
	assert.False(t, IsProcessAlive(0))
	assert.False(t, IsProcessAlive(-1))
}

func TestTerminateProcess(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	alive := func() bool {
		select {
		case <-exited:
			return false
		default:
			return true
		}
	}

	require.NoError(t, TerminateProcess(context.Background(), cmd.Process.Pid, time.Second, alive))
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("process still running")
	}
}

func TestFileHelpers(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, EnsureDirs(nested))
	assert.DirExists(t, nested)
	assert.False(t, FileExists(nested))

	f := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(f, nil, 0o600))
	assert.True(t, FileExists(f))

	RemoveFiles(context.Background(), f, filepath.Join(dir, "missing"))
	assert.False(t, FileExists(f))
}

func TestScanAndFilter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EnsureDirs(filepath.Join(dir, "a"), filepath.Join(dir, "b"), filepath.Join(dir, "c")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file"), nil, 0o600))

	names := ScanSubdirs(dir)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, names)
	assert.Empty(t, ScanSubdirs(filepath.Join(dir, "missing")))

	got := FilterUnreferenced(names, map[string]struct{}{"a": {}}, map[string]struct{}{"c": {}})
	assert.Equal(t, []string{"b"}, got)
}
