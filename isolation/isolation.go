package isolation

import (
	"context"
	"errors"

	"github.com/projecteru2/appslot/types"
)

var (
	// ErrNotFound is returned when no instance record exists for a slot.
	ErrNotFound = errors.New("instance not found")
	// ErrExited is returned by Instance calls once the hosted app is gone.
	ErrExited = errors.New("instance exited")
)

// Instance is the control surface of an app living behind an isolation boundary.
// Every call may fail on its own; a failure never implies the others fail.
type Instance interface {
	// Stop asks the app to shut down. It returns once the request is delivered,
	// not when the app has stopped.
	Stop(ctx context.Context) error
	CollectStatus(ctx context.Context) (*types.StatusSnapshot, error)
	CanBeRecycled(ctx context.Context) (bool, error)
	ReportConfigChange(ctx context.Context, cfg *types.ServerConfig) error
}

// Isolation creates and tears down instances. Each backend (e.g. process) implements this interface.
type Isolation interface {
	Type() string

	// CreateAndStart brings up a new instance. A nil Instance or a non-nil error
	// means no instance is running.
	CreateAndStart(ctx context.Context, id types.AppIdentity, cfg *types.ServerConfig) (Instance, error)
	// Teardown starts the asynchronous release of inst and returns immediately.
	// done must be called exactly once, after the instance is fully gone.
	Teardown(ctx context.Context, inst Instance, done func())
}
