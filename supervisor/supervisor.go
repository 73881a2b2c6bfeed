package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/projecteru2/core/log"
	"golang.org/x/sync/singleflight"

	"github.com/projecteru2/appslot/assembly"
	"github.com/projecteru2/appslot/isolation"
	"github.com/projecteru2/appslot/metrics"
	"github.com/projecteru2/appslot/recycle"
	"github.com/projecteru2/appslot/types"
)

var (
	// ErrAlreadySetup is returned by Setup on any call after the first successful one.
	ErrAlreadySetup = errors.New("already set up")
	// ErrInvalidConfig is returned by Setup for a missing config or app name.
	ErrInvalidConfig = errors.New("invalid server config")
	// ErrRestartFailed is returned by Restart when the app is not running afterwards.
	ErrRestartFailed = errors.New("restart failed")
)

// compile-time interface check.
var _ recycle.App = (*Supervisor)(nil)

// Bootstrap is the host environment a slot is set up under.
type Bootstrap interface {
	// BaseDir is the process-wide base directory default working directories live under.
	BaseDir() string
}

// UpdateStateFactory creates the update tracker of a freshly started instance.
type UpdateStateFactory func(ctx context.Context, dir string) (types.UpdateState, error)

// Options tunes a Supervisor. The zero value is usable.
type Options struct {
	// StartupConfigFile is the config file handed to the app when its working
	// directory carries no override.
	StartupConfigFile string
	// StopWait bounds how long Stop blocks for teardown. Zero waits forever.
	StopWait time.Duration
	// UpdateState defaults to assembly.Factory.
	UpdateState UpdateStateFactory
	// OnError observes every reported error after it has been logged.
	OnError func(ctx context.Context, err error)
}

// Supervisor owns the lifecycle of one app slot: it starts the hosted
// instance through an isolation backend, turns the backend's asynchronous
// teardown into a blocking Stop, and recycles the instance when a trigger asks.
type Supervisor struct {
	backend isolation.Isolation
	opts    Options

	// opMu serializes Setup, Start, Stop and Restart. It is held across
	// instance creation and the stop wait.
	opMu sync.Mutex

	// mu guards the fields below. It is never held across a backend call.
	mu        sync.Mutex
	state     types.LifecycleState
	config    *types.ServerConfig
	identity  types.AppIdentity
	instance  isolation.Instance
	stopping  *completion
	stopBegan time.Time
	update    types.UpdateState
	triggers  []recycle.Trigger
	idle      *types.StatusSnapshot

	restarts singleflight.Group
	wg       sync.WaitGroup
}

// New returns a supervisor in the NotInitialized state.
func New(backend isolation.Isolation, opts Options) *Supervisor {
	if opts.UpdateState == nil {
		opts.UpdateState = assembly.Factory
	}
	return &Supervisor{backend: backend, opts: opts, state: types.StateNotInitialized}
}

// Name returns the app name, empty before Setup.
func (s *Supervisor) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity.Name
}

// Identity returns the resolved identity. Fixed once Setup has completed.
func (s *Supervisor) Identity() types.AppIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// State returns the current lifecycle state.
func (s *Supervisor) State() types.LifecycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns a copy of the server config given to Setup.
func (s *Supervisor) Config() *types.ServerConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Clone()
}

// UpdateState returns the update tracker of the running instance, nil if none.
func (s *Supervisor) UpdateState() types.UpdateState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update
}

// SetRecycleTriggers replaces the ordered trigger list used by CollectStatus.
func (s *Supervisor) SetRecycleTriggers(triggers []recycle.Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append([]recycle.Trigger(nil), triggers...)
}

// RecycleTriggers returns a copy of the trigger list in evaluation order.
func (s *Supervisor) RecycleTriggers() []recycle.Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recycle.Trigger(nil), s.triggers...)
}

// Wait blocks until every background restart has finished.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// setState must be called with mu held.
func (s *Supervisor) setState(state types.LifecycleState) {
	s.state = state
	metrics.SetState(s.identity.Name, state)
}

func (s *Supervisor) currentInstance() isolation.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instance
}

// report is the single sink for errors that are not returned to a caller.
// Must not be called with mu held.
func (s *Supervisor) report(ctx context.Context, err error) {
	name := s.Name()
	log.WithFunc("supervisor.report").Errorf(ctx, err, "app %s", name)
	metrics.RecordError(name)
	if s.opts.OnError != nil {
		s.opts.OnError(ctx, err)
	}
}

func (s *Supervisor) closeUpdateState(ctx context.Context, us types.UpdateState) {
	if us == nil {
		return
	}
	if err := us.Close(); err != nil {
		s.report(ctx, fmt.Errorf("close update state: %w", err))
	}
}

func panicError(what string, r any) error {
	return fmt.Errorf("%s panicked: %v", what, r)
}
