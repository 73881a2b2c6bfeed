package host

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/projecteru2/core/log"
	"golang.org/x/sync/errgroup"

	"github.com/projecteru2/appslot/config"
	"github.com/projecteru2/appslot/isolation"
	"github.com/projecteru2/appslot/lock"
	"github.com/projecteru2/appslot/lock/flock"
	"github.com/projecteru2/appslot/metrics"
	"github.com/projecteru2/appslot/recycle"
	"github.com/projecteru2/appslot/supervisor"
	"github.com/projecteru2/appslot/types"
	"github.com/projecteru2/appslot/utils"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

var (
	// ErrHostBusy is returned by Run when another host process owns the root directory.
	ErrHostBusy = errors.New("root directory in use by another host")
	// ErrDuplicateApp is returned by Setup when two apps share a name.
	ErrDuplicateApp = errors.New("duplicate app name")
)

// slot pairs a supervisor with its keepalive bookkeeping.
type slot struct {
	sup       *supervisor.Supervisor
	autoStart bool
	config    *types.ServerConfig

	backoff     time.Duration
	nextAttempt time.Time
}

// Host runs one supervisor per configured app: it starts them, polls their
// status, brings crashed ones back and stops them all on shutdown.
type Host struct {
	conf     *config.Config
	backend  isolation.Isolation
	registry *recycle.Registry
	locker   lock.Locker
	opts     supervisor.Options

	mu    sync.Mutex
	slots []*slot
	now   func() time.Time
}

// New creates a Host. opts is the template for every supervisor; StopWait
// defaults to the configured value.
func New(conf *config.Config, backend isolation.Isolation, registry *recycle.Registry, opts supervisor.Options) *Host {
	if registry == nil {
		registry = recycle.NewRegistry()
	}
	if opts.StopWait == 0 {
		opts.StopWait = conf.StopWait()
	}
	return &Host{
		conf:     conf,
		backend:  backend,
		registry: registry,
		locker:   flock.New(conf.HostLock()),
		opts:     opts,
		now:      time.Now,
	}
}

// Setup creates and sets up a supervisor for every configured app.
func (h *Host) Setup(ctx context.Context) error {
	logger := log.WithFunc("host.Setup")
	seen := make(map[string]struct{}, len(h.conf.Apps))
	var slots []*slot
	for i := range h.conf.Apps {
		app := h.conf.Apps[i].Clone()
		if _, dup := seen[app.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateApp, app.Name)
		}
		seen[app.Name] = struct{}{}

		triggers, err := h.registry.Build(app.RecycleTriggers)
		if err != nil {
			return fmt.Errorf("app %s: %w", app.Name, err)
		}
		sup := supervisor.New(h.backend, h.opts)
		if err := sup.Setup(ctx, h.conf, app); err != nil {
			return fmt.Errorf("set up app %s: %w", app.Name, err)
		}
		sup.SetRecycleTriggers(triggers)
		slots = append(slots, &slot{sup: sup, autoStart: app.ShouldAutoStart(), config: app})
	}

	h.mu.Lock()
	h.slots = slots
	h.mu.Unlock()
	logger.Infof(ctx, "%d app slot(s) set up under %s", len(slots), h.conf.RootDir)
	return nil
}

// Slots returns the supervisors in configuration order.
func (h *Host) Slots() []*supervisor.Supervisor {
	h.mu.Lock()
	defer h.mu.Unlock()
	sups := make([]*supervisor.Supervisor, len(h.slots))
	for i, s := range h.slots {
		sups[i] = s.sup
	}
	return sups
}

// Run owns the root directory until ctx ends: it starts the auto-start slots,
// polls every slot each PollInterval and stops everything on the way out.
func (h *Host) Run(ctx context.Context) error {
	logger := log.WithFunc("host.Run")
	if err := utils.EnsureDirs(h.conf.RootDir); err != nil {
		return err
	}
	ok, err := h.locker.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("host lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrHostBusy, h.conf.RootDir)
	}
	defer h.locker.Unlock(context.WithoutCancel(ctx)) //nolint:errcheck

	h.startAll(ctx)

	ticker := time.NewTicker(h.conf.PollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof(ctx, "host shutting down")
			h.Shutdown(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			h.poll(ctx)
		}
	}
}

// Shutdown stops every slot and waits for background restarts. A restart
// racing the first stop can bring a slot back, so slots are stopped again
// once restarts have drained.
func (h *Host) Shutdown(ctx context.Context) {
	h.stopAll(ctx)
	for _, sup := range h.Slots() {
		sup.Wait()
	}
	h.stopAll(ctx)
}

func (h *Host) startAll(ctx context.Context) {
	g := h.group()
	for _, s := range h.snapshot() {
		if !s.autoStart {
			continue
		}
		g.Go(func() error {
			h.attemptStart(ctx, s)
			return nil
		})
	}
	_ = g.Wait()
}

func (h *Host) stopAll(ctx context.Context) {
	g := h.group()
	for _, s := range h.snapshot() {
		g.Go(func() error {
			s.sup.Stop(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

// poll collects every slot's status, which also drives recycling, then
// restarts auto-start slots that fell back to NotStarted.
func (h *Host) poll(ctx context.Context) {
	h.Status(ctx)

	now := h.now()
	g := h.group()
	for _, s := range h.snapshot() {
		if !s.autoStart || s.sup.State() != types.StateNotStarted || now.Before(s.nextAttempt) {
			continue
		}
		g.Go(func() error {
			log.WithFunc("host.keepalive").Warnf(ctx, "app %s is not running, starting it", s.sup.Name())
			metrics.RecordRestart(s.sup.Name(), "keepalive")
			h.attemptStart(ctx, s)
			return nil
		})
	}
	_ = g.Wait()
}

// attemptStart starts the slot and maintains its keepalive backoff.
// A slot only ever has one attempt in flight, from startAll or poll.
func (h *Host) attemptStart(ctx context.Context, s *slot) {
	if s.sup.Start(ctx) {
		s.backoff = 0
		s.nextAttempt = time.Time{}
		return
	}
	switch {
	case s.backoff == 0:
		s.backoff = minBackoff
	case s.backoff < maxBackoff:
		s.backoff = min(2*s.backoff, maxBackoff)
	}
	s.nextAttempt = h.now().Add(s.backoff)
	log.WithFunc("host.attemptStart").Warnf(ctx, "app %s failed to start, next attempt in %s", s.sup.Name(), s.backoff)
}

// Status collects the snapshot of every slot in configuration order.
func (h *Host) Status(ctx context.Context) []*types.StatusSnapshot {
	slots := h.snapshot()
	out := make([]*types.StatusSnapshot, len(slots))
	g := h.group()
	for i, s := range slots {
		g.Go(func() error {
			out[i] = s.sup.CollectStatus(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// ReportConfigChange forwards each app config that differs from the last one
// seen to the slot of the same name. Unknown apps are ignored: adding or
// removing slots needs a host restart.
func (h *Host) ReportConfigChange(ctx context.Context, apps []types.ServerConfig) {
	logger := log.WithFunc("host.ReportConfigChange")
	h.mu.Lock()
	byName := make(map[string]*slot, len(h.slots))
	for _, s := range h.slots {
		byName[s.config.Name] = s
	}
	var changed []*slot
	var configs []*types.ServerConfig
	for i := range apps {
		s, ok := byName[apps[i].Name]
		if !ok {
			logger.Warnf(ctx, "app %s is not hosted here, ignoring", apps[i].Name)
			continue
		}
		if reflect.DeepEqual(s.config, &apps[i]) {
			continue
		}
		cfg := apps[i].Clone()
		s.config = cfg
		changed = append(changed, s)
		configs = append(configs, cfg)
	}
	h.mu.Unlock()

	for i, s := range changed {
		logger.Infof(ctx, "app %s config changed", s.sup.Name())
		s.sup.ReportPotentialConfigChange(ctx, configs[i])
	}
}

func (h *Host) snapshot() []*slot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*slot(nil), h.slots...)
}

func (h *Host) group() *errgroup.Group {
	g := &errgroup.Group{}
	g.SetLimit(max(h.conf.PoolSize, 1))
	return g
}
