package recycle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/projecteru2/appslot/types"
)

// ErrUnknownTrigger is returned by Build for an unregistered trigger type.
var ErrUnknownTrigger = errors.New("unknown recycle trigger")

// Factory builds a trigger from its configured options.
type Factory func(options map[string]string) (Trigger, error)

// Registry maps trigger type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry preloaded with the built-in triggers.
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]Factory{}}
	r.Register(MemoryType, newMemoryTrigger)
	r.Register(AssemblyUpdatedType, newAssemblyUpdatedTrigger)
	return r
}

// Register adds or replaces the factory for typ.
func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

// Build instantiates triggers in configuration order.
func (r *Registry) Build(cfgs []types.TriggerConfig) ([]Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	triggers := make([]Trigger, 0, len(cfgs))
	for i, c := range cfgs {
		f, ok := r.factories[c.Type]
		if !ok {
			return nil, fmt.Errorf("trigger #%d %q: %w", i, c.Type, ErrUnknownTrigger)
		}
		t, err := f(c.Options)
		if err != nil {
			return nil, fmt.Errorf("trigger #%d: %w", i, err)
		}
		triggers = append(triggers, t)
	}
	return triggers, nil
}
