package recycle

import (
	"context"
	"fmt"

	units "github.com/docker/go-units"
	"github.com/projecteru2/core/log"

	"github.com/projecteru2/appslot/types"
)

const (
	// MemoryType is the registry name of MemoryTrigger.
	MemoryType = "memory"

	optMaxMemoryUsage = "maxMemoryUsage"
)

// MemoryTrigger recycles an app whose reported memory usage exceeds a limit.
type MemoryTrigger struct {
	limit int64
}

// NewMemoryTrigger returns a trigger firing above limit bytes.
func NewMemoryTrigger(limit int64) *MemoryTrigger {
	return &MemoryTrigger{limit: limit}
}

// newMemoryTrigger builds a MemoryTrigger from options; maxMemoryUsage takes
// human sizes such as 512M or 2G.
func newMemoryTrigger(options map[string]string) (Trigger, error) {
	raw := types.LookupOption(options, optMaxMemoryUsage)
	if raw == "" {
		return nil, fmt.Errorf("%s: %s is required", MemoryType, optMaxMemoryUsage)
	}
	limit, err := units.RAMInBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid %s %q: %w", MemoryType, optMaxMemoryUsage, raw, err)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%s: %s must be positive", MemoryType, optMaxMemoryUsage)
	}
	return NewMemoryTrigger(limit), nil
}

func (t *MemoryTrigger) Name() string { return MemoryType }

func (t *MemoryTrigger) NeedRecycle(ctx context.Context, app App, status *types.StatusSnapshot) (bool, error) {
	used, ok := status.Float(types.StatusKeyMemoryUsage)
	if !ok {
		return false, nil
	}
	if used <= float64(t.limit) {
		return false, nil
	}
	log.WithFunc("recycle.MemoryTrigger").Infof(ctx, "app %s uses %s, over the %s limit",
		app.Name(), units.BytesSize(used), units.BytesSize(float64(t.limit)))
	return true, nil
}
