package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/projecteru2/appslot/config"
	"github.com/projecteru2/appslot/gc"
	"github.com/projecteru2/appslot/isolation"
	"github.com/projecteru2/appslot/lock/flock"
	"github.com/projecteru2/appslot/utils"
)

type slotSnapshot struct {
	slots      []string            // app dirs under AppRoot that carry runtime state
	configured map[string]struct{} // app names in the host config
	live       map[string]struct{} // app dirs whose recorded process is still running
}

// GCModule returns the GC module removing the runtime state of default
// working directories that no configured app owns and no process uses.
// It shares the host lock, so it never runs beside a live host.
func (p *Process) GCModule() gc.Module[slotSnapshot] {
	root := p.conf.AppRoot()
	return gc.Module[slotSnapshot]{
		Name:   typ,
		Locker: flock.New(p.conf.HostLock()),
		ReadDB: func(ctx context.Context) (slotSnapshot, error) {
			snap := slotSnapshot{
				configured: make(map[string]struct{}, len(p.conf.Apps)),
				live:       make(map[string]struct{}),
			}
			for _, app := range p.conf.Apps {
				snap.configured[app.Name] = struct{}{}
			}
			for _, name := range utils.ScanSubdirs(root) {
				workDir := filepath.Join(root, name)
				if _, err := os.Stat(config.SlotRunDir(workDir)); err != nil {
					continue
				}
				snap.slots = append(snap.slots, name)
				rec, err := p.Inspect(ctx, workDir)
				switch {
				case errors.Is(err, isolation.ErrNotFound):
				case err != nil:
					return snap, fmt.Errorf("inspect %s: %w", workDir, err)
				case rec.State == isolation.InstanceStateRunning && utils.VerifyProcess(rec.PID, rec.Command):
					snap.live[name] = struct{}{}
				}
			}
			return snap, nil
		},
		Resolve: func(snap slotSnapshot, _ map[string]any) []string {
			return utils.FilterUnreferenced(snap.slots, snap.configured, snap.live)
		},
		Collect: func(_ context.Context, names []string) error {
			var errs []error
			for _, name := range names {
				if err := os.RemoveAll(config.SlotRunDir(filepath.Join(root, name))); err != nil {
					errs = append(errs, fmt.Errorf("remove runtime dir of %s: %w", name, err))
				}
			}
			return errors.Join(errs...)
		},
	}
}

// RegisterGC registers the process backend GC module with the given Orchestrator.
func (p *Process) RegisterGC(orch *gc.Orchestrator) {
	gc.Register(orch, p.GCModule())
}
