package host

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/appslot/config"
	"github.com/projecteru2/appslot/isolation"
	"github.com/projecteru2/appslot/recycle"
	"github.com/projecteru2/appslot/supervisor"
	"github.com/projecteru2/appslot/types"
)

type fakeInstance struct {
	name   string
	exited atomic.Bool

	mu      sync.Mutex
	configs []*types.ServerConfig
}

func (i *fakeInstance) Stop(context.Context) error { return nil }

func (i *fakeInstance) CollectStatus(context.Context) (*types.StatusSnapshot, error) {
	if i.exited.Load() {
		return nil, isolation.ErrExited
	}
	s := types.NewStatusSnapshot(i.name)
	s.Set(types.StatusKeyIsRunning, true)
	return s, nil
}

func (i *fakeInstance) CanBeRecycled(context.Context) (bool, error) { return true, nil }

func (i *fakeInstance) ReportConfigChange(_ context.Context, cfg *types.ServerConfig) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.configs = append(i.configs, cfg)
	return nil
}

type fakeBackend struct {
	fail bool

	mu      sync.Mutex
	created map[string][]*fakeInstance
}

func (b *fakeBackend) Type() string { return "fake" }

func (b *fakeBackend) CreateAndStart(_ context.Context, id types.AppIdentity, _ *types.ServerConfig) (isolation.Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return nil, errors.New("no luck")
	}
	if b.created == nil {
		b.created = map[string][]*fakeInstance{}
	}
	inst := &fakeInstance{name: id.Name}
	b.created[id.Name] = append(b.created[id.Name], inst)
	return inst, nil
}

func (b *fakeBackend) Teardown(_ context.Context, _ isolation.Instance, done func()) {
	go done()
}

func (b *fakeBackend) instances(name string) []*fakeInstance {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*fakeInstance(nil), b.created[name]...)
}

type noUpdates struct{}

func (noUpdates) Changed() bool         { return false }
func (noUpdates) LastChange() time.Time { return time.Time{} }
func (noUpdates) Close() error          { return nil }

func newHost(t *testing.T, backend isolation.Isolation, apps ...types.ServerConfig) *Host {
	t.Helper()
	conf := config.DefaultConfig()
	conf.RootDir = t.TempDir()
	conf.PollIntervalSeconds = 1
	conf.PoolSize = 2
	conf.Apps = apps
	h := New(conf, backend, nil, supervisor.Options{
		UpdateState: func(context.Context, string) (types.UpdateState, error) { return noUpdates{}, nil },
	})
	require.NoError(t, h.Setup(context.Background()))
	return h
}

func states(h *Host) []types.LifecycleState {
	var out []types.LifecycleState
	for _, sup := range h.Slots() {
		out = append(out, sup.State())
	}
	return out
}

func TestSetupErrors(t *testing.T) {
	conf := config.DefaultConfig()
	conf.RootDir = t.TempDir()

	conf.Apps = []types.ServerConfig{{Name: "a"}, {Name: "a"}}
	err := New(conf, &fakeBackend{}, nil, supervisor.Options{}).Setup(context.Background())
	assert.ErrorIs(t, err, ErrDuplicateApp)

	conf.Apps = []types.ServerConfig{{Name: "a", RecycleTriggers: []types.TriggerConfig{{Type: "nope"}}}}
	err = New(conf, &fakeBackend{}, nil, supervisor.Options{}).Setup(context.Background())
	assert.ErrorIs(t, err, recycle.ErrUnknownTrigger)
}

func TestSetupBuildsSlots(t *testing.T) {
	h := newHost(t, &fakeBackend{},
		types.ServerConfig{Name: "a", RecycleTriggers: []types.TriggerConfig{{Type: recycle.MemoryType, Options: map[string]string{"maxMemoryUsage": "1G"}}}},
		types.ServerConfig{Name: "b"},
	)
	sups := h.Slots()
	require.Len(t, sups, 2)
	assert.Equal(t, "a", sups[0].Name())
	assert.Equal(t, "b", sups[1].Name())
	assert.Len(t, sups[0].RecycleTriggers(), 1)
	assert.Equal(t, config.AppWorkingDir(h.conf.RootDir, "a"), sups[0].Identity().WorkingDir)
	assert.Equal(t, []types.LifecycleState{types.StateNotStarted, types.StateNotStarted}, states(h))
}

func TestRunKeepsAppsAlive(t *testing.T) {
	off := false
	backend := &fakeBackend{}
	h := newHost(t, backend, types.ServerConfig{Name: "a"}, types.ServerConfig{Name: "b", AutoStart: &off})

	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan error, 1)
	go func() { ran <- h.Run(ctx) }()

	require.Eventually(t, func() bool { return h.Slots()[0].State() == types.StateRunning }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, types.StateNotStarted, h.Slots()[1].State())

	// A second host on the same root must not start.
	other := New(h.conf, backend, nil, supervisor.Options{})
	require.NoError(t, other.Setup(context.Background()))
	assert.ErrorIs(t, other.Run(context.Background()), ErrHostBusy)

	backend.instances("a")[0].exited.Store(true)
	require.Eventually(t, func() bool { return len(backend.instances("a")) == 2 }, 5*time.Second, 50*time.Millisecond)
	require.Eventually(t, func() bool { return h.Slots()[0].State() == types.StateRunning }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-ran:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("host did not shut down")
	}
	assert.Equal(t, []types.LifecycleState{types.StateNotStarted, types.StateNotStarted}, states(h))
	assert.Empty(t, backend.instances("b"))
}

func TestAttemptStartBackoff(t *testing.T) {
	h := newHost(t, &fakeBackend{fail: true}, types.ServerConfig{Name: "a"})
	now := time.Unix(1000, 0)
	h.now = func() time.Time { return now }
	s := h.snapshot()[0]

	var got []time.Duration
	for range 7 {
		h.attemptStart(context.Background(), s)
		got = append(got, s.backoff)
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, got)
	assert.Equal(t, now.Add(30*time.Second), s.nextAttempt)

	h.backend.(*fakeBackend).fail = false
	h.attemptStart(context.Background(), s)
	assert.Zero(t, s.backoff)
	assert.True(t, s.nextAttempt.IsZero())
	assert.Equal(t, types.StateRunning, s.sup.State())
	h.Shutdown(context.Background())
}

func TestReportConfigChange(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	h := newHost(t, backend, types.ServerConfig{Name: "a"}, types.ServerConfig{Name: "b"})
	for _, sup := range h.Slots() {
		require.True(t, sup.Start(ctx))
	}
	defer h.Shutdown(ctx)

	h.ReportConfigChange(ctx, []types.ServerConfig{
		{Name: "a", Args: []string{"-v"}},
		{Name: "b"},
		{Name: "ghost"},
	})
	h.ReportConfigChange(ctx, []types.ServerConfig{{Name: "a", Args: []string{"-v"}}})

	a := backend.instances("a")[0]
	a.mu.Lock()
	require.Len(t, a.configs, 1)
	assert.Equal(t, []string{"-v"}, a.configs[0].Args)
	a.mu.Unlock()
	assert.Empty(t, backend.instances("b")[0].configs)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	h := newHost(t, backend, types.ServerConfig{Name: "a"}, types.ServerConfig{Name: "b"})
	require.True(t, h.Slots()[1].Start(ctx))
	defer h.Shutdown(ctx)

	snaps := h.Status(ctx)
	require.Len(t, snaps, 2)
	assert.False(t, snaps[0].IsRunning())
	assert.True(t, snaps[1].IsRunning())
	assert.Equal(t, "b", snaps[1].Name)
}
