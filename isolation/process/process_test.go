package process

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/appslot/agent"
	"github.com/projecteru2/appslot/config"
	"github.com/projecteru2/appslot/gc"
	"github.com/projecteru2/appslot/isolation"
	"github.com/projecteru2/appslot/types"
	"github.com/projecteru2/appslot/utils"
)

// The test binary doubles as the hosted app: with envAgentMode set it serves
// the control API instead of running tests.
const envAgentMode = "APPSLOT_PROCESS_TEST_AGENT"

func TestMain(m *testing.M) {
	if mode := os.Getenv(envAgentMode); mode != "" {
		os.Exit(runTestAgent(mode))
	}
	os.Exit(m.Run())
}

type testApp struct {
	mode string
}

func (a *testApp) Run(ctx context.Context) error {
	switch a.mode {
	case "crash":
		time.Sleep(500 * time.Millisecond)
		return errors.New("crashed")
	case "stubborn":
		for {
			time.Sleep(time.Hour)
		}
	default:
		<-ctx.Done()
		return nil
	}
}

func (a *testApp) Status(context.Context) (*types.StatusSnapshot, error) {
	s := types.NewStatusSnapshot("")
	s.Set("mode", a.mode)
	return s, nil
}

func (a *testApp) CanBeRecycled(context.Context) bool { return a.mode == "normal" }

func runTestAgent(mode string) int {
	if mode == "stubborn" {
		signal.Ignore(syscall.SIGTERM)
	}
	if err := agent.Run(context.Background(), &testApp{mode: mode}); err != nil {
		return 1
	}
	return 0
}

func newBackend(t *testing.T) (*Process, types.AppIdentity) {
	t.Helper()
	conf := config.DefaultConfig()
	conf.RootDir = t.TempDir()
	conf.StopTimeoutSeconds = 1
	conf.SocketWaitSeconds = 10
	p := New(conf)
	p.terminateGrace = 500 * time.Millisecond

	dir, err := os.MkdirTemp("", "slot")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return p, types.AppIdentity{Name: "echo", WorkingDir: dir, ConfigFile: filepath.Join(dir, "App.config")}
}

func agentConfig(mode string) *types.ServerConfig {
	exe, _ := os.Executable()
	return &types.ServerConfig{
		Name:    "echo",
		Command: exe,
		Env:     []string{envAgentMode + "=" + mode},
	}
}

func teardown(t *testing.T, p *Process, inst isolation.Instance) {
	t.Helper()
	done := make(chan struct{})
	p.Teardown(context.Background(), inst, func() { close(done) })
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("teardown did not complete")
	}
}

func TestCreateAndStartStop(t *testing.T) {
	ctx := context.Background()
	p, id := newBackend(t)

	inst, err := p.CreateAndStart(ctx, id, agentConfig("normal"))
	require.NoError(t, err)
	require.NotNil(t, inst)
	pi := inst.(*instance)

	rec, err := p.Inspect(ctx, id.WorkingDir)
	require.NoError(t, err)
	assert.Equal(t, isolation.InstanceStateRunning, rec.State)
	assert.Equal(t, pi.pid, rec.PID)
	pid, err := utils.ReadPIDFile(config.SlotPIDFile(id.WorkingDir))
	require.NoError(t, err)
	assert.Equal(t, pi.pid, pid)

	snap, err := inst.CollectStatus(ctx)
	require.NoError(t, err)
	assert.True(t, snap.IsRunning())
	mode, _ := snap.Get("mode")
	assert.Equal(t, "normal", mode)
	gotPID, _ := snap.Get(types.StatusKeyPID)
	assert.Equal(t, pi.pid, gotPID)

	ok, err := inst.CanBeRecycled(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, inst.ReportConfigChange(ctx, &types.ServerConfig{Name: "echo"}))

	require.NoError(t, inst.Stop(ctx))
	teardown(t, p, inst)

	assert.False(t, pi.alive())
	rec, err = p.Inspect(ctx, id.WorkingDir)
	require.NoError(t, err)
	assert.Equal(t, isolation.InstanceStateStopped, rec.State)
	assert.NotNil(t, rec.StoppedAt)
	assert.NoFileExists(t, config.SlotPIDFile(id.WorkingDir))
	assert.NoFileExists(t, config.SlotSocketPath(id.WorkingDir))
	assert.FileExists(t, config.SlotProcessLog(id.WorkingDir))
}

func TestTeardownTerminatesStubbornApp(t *testing.T) {
	ctx := context.Background()
	p, id := newBackend(t)

	inst, err := p.CreateAndStart(ctx, id, agentConfig("stubborn"))
	require.NoError(t, err)
	require.NoError(t, inst.Stop(ctx))
	teardown(t, p, inst)

	assert.False(t, inst.(*instance).alive())
	_, err = inst.CollectStatus(ctx)
	assert.ErrorIs(t, err, isolation.ErrExited)
}

func TestCrashedInstanceReportsExited(t *testing.T) {
	ctx := context.Background()
	p, id := newBackend(t)

	inst, err := p.CreateAndStart(ctx, id, agentConfig("crash"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := inst.CollectStatus(ctx)
		return errors.Is(err, isolation.ErrExited)
	}, 10*time.Second, 50*time.Millisecond)

	teardown(t, p, inst)
	rec, err := p.Inspect(ctx, id.WorkingDir)
	require.NoError(t, err)
	assert.Equal(t, isolation.InstanceStateExited, rec.State)
}

func TestCreateAndStartFailures(t *testing.T) {
	ctx := context.Background()
	p, id := newBackend(t)

	_, err := p.CreateAndStart(ctx, id, &types.ServerConfig{Name: "echo"})
	assert.Error(t, err)

	_, err = p.CreateAndStart(ctx, id, &types.ServerConfig{Name: "echo", Command: filepath.Join(id.WorkingDir, "missing")})
	assert.Error(t, err)

	// A process that never opens its socket.
	_, err = p.CreateAndStart(ctx, id, &types.ServerConfig{Name: "echo", Command: "true"})
	assert.Error(t, err)
	assert.NoFileExists(t, config.SlotPIDFile(id.WorkingDir))

	_, err = p.Inspect(ctx, id.WorkingDir)
	assert.ErrorIs(t, err, isolation.ErrNotFound)
}

func TestGCRemovesOrphanRuntimeDirs(t *testing.T) {
	ctx := context.Background()
	p, _ := newBackend(t)
	p.conf.Apps = []types.ServerConfig{{Name: "kept"}}

	for _, name := range []string{"kept", "orphan"} {
		require.NoError(t, config.EnsureSlotDirs(config.AppWorkingDir(p.conf.RootDir, name)))
	}
	require.NoError(t, utils.EnsureDirs(config.AppWorkingDir(p.conf.RootDir, "plain")))

	orch := gc.New()
	p.RegisterGC(orch)
	n, err := orch.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.DirExists(t, config.SlotRunDir(config.AppWorkingDir(p.conf.RootDir, "kept")))
	assert.NoDirExists(t, config.SlotRunDir(config.AppWorkingDir(p.conf.RootDir, "orphan")))
	assert.DirExists(t, config.AppWorkingDir(p.conf.RootDir, "orphan"))
}
