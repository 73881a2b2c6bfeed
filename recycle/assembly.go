package recycle

import (
	"context"
	"fmt"
	"time"

	"github.com/projecteru2/appslot/types"
)

const (
	// AssemblyUpdatedType is the registry name of AssemblyUpdatedTrigger.
	AssemblyUpdatedType = "assemblyUpdated"

	optRestartDelay     = "restartDelay"
	defaultRestartDelay = time.Minute
)

// AssemblyUpdatedTrigger recycles an app after its deployed files changed and
// then stayed quiet for the restart delay, so a deploy in progress is not cut short.
type AssemblyUpdatedTrigger struct {
	delay time.Duration
	now   func() time.Time
}

// NewAssemblyUpdatedTrigger returns a trigger with the given quiet period.
func NewAssemblyUpdatedTrigger(delay time.Duration) *AssemblyUpdatedTrigger {
	return &AssemblyUpdatedTrigger{delay: delay, now: time.Now}
}

func newAssemblyUpdatedTrigger(options map[string]string) (Trigger, error) {
	delay := defaultRestartDelay
	if raw := types.LookupOption(options, optRestartDelay); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid %s %q: %w", AssemblyUpdatedType, optRestartDelay, raw, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("%s: %s must not be negative", AssemblyUpdatedType, optRestartDelay)
		}
		delay = d
	}
	return NewAssemblyUpdatedTrigger(delay), nil
}

func (t *AssemblyUpdatedTrigger) Name() string { return AssemblyUpdatedType }

func (t *AssemblyUpdatedTrigger) NeedRecycle(_ context.Context, app App, _ *types.StatusSnapshot) (bool, error) {
	us := app.UpdateState()
	if us == nil || !us.Changed() {
		return false, nil
	}
	return t.now().Sub(us.LastChange()) >= t.delay, nil
}
