package isolation

import (
	"time"

	"github.com/google/uuid"
)

// InstanceState is the backend-side state of one launched instance.
type InstanceState string

const (
	InstanceStateRunning InstanceState = "running" // process alive, control socket up
	InstanceStateStopped InstanceState = "stopped" // process gone after teardown
	InstanceStateExited  InstanceState = "exited"  // process died without a teardown
	InstanceStateError   InstanceState = "error"   // launch failed
)

// InstanceRecord is the persisted record of one launched instance.
type InstanceRecord struct {
	ID      string        `json:"id"`
	AppName string        `json:"app_name"`
	State   InstanceState `json:"state"`
	PID     int           `json:"pid,omitempty"`
	// Command is the base name of the launched program, used to verify
	// a PID still belongs to it before signaling.
	Command    string `json:"command"`
	SocketPath string `json:"socket_path"`

	StartedAt time.Time  `json:"started_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}

// InstanceIndex is the per-slot record store. Only the latest instance is
// considered live; older records are kept as a short history.
type InstanceIndex struct {
	Current   string                     `json:"current,omitempty"`
	Instances map[string]*InstanceRecord `json:"instances"`
}

// MaxHistory bounds the number of finished records kept per slot.
const MaxHistory = 10

// Init implements storage.Initer.
func (idx *InstanceIndex) Init() {
	if idx.Instances == nil {
		idx.Instances = make(map[string]*InstanceRecord)
	}
}

// Prune drops the oldest finished records beyond MaxHistory. The current record is always kept.
func (idx *InstanceIndex) Prune() {
	for len(idx.Instances) > MaxHistory {
		var oldest *InstanceRecord
		for id, r := range idx.Instances {
			if id == idx.Current {
				continue
			}
			if oldest == nil || r.StartedAt.Before(oldest.StartedAt) {
				oldest = r
			}
		}
		if oldest == nil {
			return
		}
		delete(idx.Instances, oldest.ID)
	}
}

// GenerateID returns a new random instance ID.
func GenerateID() string {
	return uuid.NewString()
}
