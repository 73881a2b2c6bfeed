package types

// LifecycleState is the supervisor-side view of an app slot.
// The cycle NotStarted -> Starting -> Running -> Stopping -> NotStarted repeats
// for the whole life of the slot; there is no terminal state.
type LifecycleState string

const (
	StateNotInitialized LifecycleState = "not_initialized" // Setup has not run
	StateInitializing   LifecycleState = "initializing"    // Setup in progress
	StateNotStarted     LifecycleState = "not_started"     // idle, ready to start
	StateStarting       LifecycleState = "starting"        // instance being created
	StateRunning        LifecycleState = "running"         // instance active
	StateStopping       LifecycleState = "stopping"        // teardown pending
)

// LifecycleStates lists every state in cycle order.
var LifecycleStates = []LifecycleState{
	StateNotInitialized,
	StateInitializing,
	StateNotStarted,
	StateStarting,
	StateRunning,
	StateStopping,
}

func (s LifecycleState) String() string { return string(s) }

// Settled reports whether s is a resting state, one not in the middle of a transition.
func (s LifecycleState) Settled() bool {
	switch s {
	case StateNotInitialized, StateNotStarted, StateRunning:
		return true
	default:
		return false
	}
}
