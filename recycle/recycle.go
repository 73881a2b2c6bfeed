package recycle

import (
	"context"

	"github.com/projecteru2/appslot/types"
)

// App is the view of a supervised slot a trigger evaluates against.
type App interface {
	Name() string
	Identity() types.AppIdentity
	// UpdateState returns the update tracker of the running instance, nil if none.
	UpdateState() types.UpdateState
}

// Trigger decides whether a running app should be recycled.
// Triggers are shared and must not mutate the snapshot.
type Trigger interface {
	Name() string
	NeedRecycle(ctx context.Context, app App, status *types.StatusSnapshot) (bool, error)
}

// Func adapts a function to Trigger.
type Func struct {
	TriggerName string
	Fn          func(ctx context.Context, app App, status *types.StatusSnapshot) (bool, error)
}

func (f Func) Name() string { return f.TriggerName }

func (f Func) NeedRecycle(ctx context.Context, app App, status *types.StatusSnapshot) (bool, error) {
	return f.Fn(ctx, app, status)
}
