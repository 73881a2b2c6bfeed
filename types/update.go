package types

import "time"

// UpdateState tracks changes to an app's deployed files since the instance started.
// The supervisor only creates and drops it; recycle triggers interpret it.
type UpdateState interface {
	Changed() bool
	LastChange() time.Time
	Close() error
}
