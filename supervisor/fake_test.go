package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/projecteru2/appslot/isolation"
	"github.com/projecteru2/appslot/recycle"
	"github.com/projecteru2/appslot/types"
)

type fakeInstance struct {
	id         int
	stops      atomic.Int32
	recyclable atomic.Bool
	exited     atomic.Bool
	statusErr  error
	recycleErr error

	mu      sync.Mutex
	configs []*types.ServerConfig
}

func (i *fakeInstance) Stop(context.Context) error {
	i.stops.Add(1)
	return nil
}

func (i *fakeInstance) CollectStatus(context.Context) (*types.StatusSnapshot, error) {
	if i.exited.Load() {
		return nil, isolation.ErrExited
	}
	if i.statusErr != nil {
		return nil, i.statusErr
	}
	s := types.NewStatusSnapshot("echo")
	s.Set(types.StatusKeyIsRunning, true)
	s.Set("instance", i.id)
	return s, nil
}

func (i *fakeInstance) CanBeRecycled(context.Context) (bool, error) {
	return i.recyclable.Load(), i.recycleErr
}

func (i *fakeInstance) ReportConfigChange(_ context.Context, cfg *types.ServerConfig) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.configs = append(i.configs, cfg)
	return nil
}

// fakeBackend creates fakeInstances. With manual set, Teardown parks done
// callbacks until release is called; otherwise done runs on a goroutine.
type fakeBackend struct {
	manual bool
	// failFrom makes every CreateAndStart from the n-th call on (1-based) fail. Zero never fails.
	failFrom   int
	recyclable bool
	withError  bool

	mu        sync.Mutex
	created   []*fakeInstance
	teardowns int
	parked    []func()
}

func (b *fakeBackend) Type() string { return "fake" }

func (b *fakeBackend) CreateAndStart(context.Context, types.AppIdentity, *types.ServerConfig) (isolation.Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.created) + 1
	if b.failFrom > 0 && n >= b.failFrom {
		if b.withError {
			return nil, errors.New("launch failed")
		}
		return nil, nil
	}
	inst := &fakeInstance{id: n}
	inst.recyclable.Store(b.recyclable)
	b.created = append(b.created, inst)
	return inst, nil
}

func (b *fakeBackend) Teardown(_ context.Context, _ isolation.Instance, done func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.teardowns++
	if b.manual {
		b.parked = append(b.parked, done)
		return
	}
	go done()
}

func (b *fakeBackend) release() {
	b.mu.Lock()
	parked := b.parked
	b.parked = nil
	b.mu.Unlock()
	for _, done := range parked {
		done()
	}
}

func (b *fakeBackend) createdCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.created)
}

func (b *fakeBackend) teardownCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.teardowns
}

func (b *fakeBackend) last() *fakeInstance {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.created) == 0 {
		return nil
	}
	return b.created[len(b.created)-1]
}

type fakeUpdate struct {
	closed atomic.Bool
}

func (u *fakeUpdate) Changed() bool         { return false }
func (u *fakeUpdate) LastChange() time.Time { return time.Time{} }
func (u *fakeUpdate) Close() error {
	u.closed.Store(true)
	return nil
}

type updates struct {
	mu    sync.Mutex
	made  []*fakeUpdate
	fails bool
}

func (u *updates) factory(context.Context, string) (types.UpdateState, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fails {
		return nil, errors.New("watch failed")
	}
	fu := &fakeUpdate{}
	u.made = append(u.made, fu)
	return fu, nil
}

func (u *updates) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.made)
}

type errSink struct {
	mu   sync.Mutex
	errs []error
}

func (e *errSink) record(_ context.Context, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

func (e *errSink) all() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]error(nil), e.errs...)
}

type baseDir string

func (b baseDir) BaseDir() string { return string(b) }

// countingTrigger returns a fixed answer and counts evaluations.
type countingTrigger struct {
	name  string
	need  bool
	err   error
	panic bool
	calls atomic.Int32
}

func (t *countingTrigger) Name() string { return t.name }

func (t *countingTrigger) NeedRecycle(context.Context, recycle.App, *types.StatusSnapshot) (bool, error) {
	t.calls.Add(1)
	if t.panic {
		panic("trigger blew up")
	}
	return t.need, t.err
}
