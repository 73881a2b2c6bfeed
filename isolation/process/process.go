package process

import (
	"context"
	"time"

	"github.com/projecteru2/appslot/config"
	"github.com/projecteru2/appslot/isolation"
	"github.com/projecteru2/appslot/lock/flock"
	"github.com/projecteru2/appslot/storage"
	storejson "github.com/projecteru2/appslot/storage/json"
	"github.com/projecteru2/appslot/utils"
)

const (
	typ = "process"

	// socketPollInterval is how often a fresh process is checked for its control socket.
	socketPollInterval = 50 * time.Millisecond
	// exitPollInterval is how often a stopping process is checked for exit.
	exitPollInterval = 100 * time.Millisecond
	// terminateGracePeriod is the SIGTERM->SIGKILL window.
	terminateGracePeriod = 5 * time.Second
)

// compile-time interface check.
var _ isolation.Isolation = (*Process)(nil)

// Process implements isolation.Isolation by running each app as a child
// process in its own process group, controlled over a Unix socket.
type Process struct {
	conf           *config.Config
	terminateGrace time.Duration
}

// New creates a Process backend.
func New(conf *config.Config) *Process {
	return &Process{conf: conf, terminateGrace: terminateGracePeriod}
}

func (p *Process) Type() string { return typ }

// Inspect returns the record of the latest instance launched in workDir.
// Returns isolation.ErrNotFound if none was ever launched.
func (p *Process) Inspect(ctx context.Context, workDir string) (*isolation.InstanceRecord, error) {
	if !utils.FileExists(config.SlotIndexFile(workDir)) {
		return nil, isolation.ErrNotFound
	}
	var result *isolation.InstanceRecord
	err := p.store(workDir).With(ctx, func(idx *isolation.InstanceIndex) error {
		rec := idx.Instances[idx.Current]
		if rec == nil {
			return isolation.ErrNotFound
		}
		cp := *rec
		result = &cp
		return nil
	})
	return result, err
}

func (p *Process) store(workDir string) storage.Store[isolation.InstanceIndex] {
	return storejson.New[isolation.InstanceIndex](config.SlotIndexFile(workDir), flock.New(config.SlotIndexLock(workDir)))
}
