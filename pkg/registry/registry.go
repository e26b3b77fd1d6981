// Package registry maintains the process-wide mapping from action-type
// string to action factory. It is the only mechanism by which actions
// become callable — the executor never imports actions directly, mirroring
// the teacher's chain/agent registries in pkg/config.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/arpanauts/biomapper-sub014/pkg/action"
	"github.com/arpanauts/biomapper-sub014/pkg/model"
)

// Factory constructs a new Action instance for an action type. Factories
// are cheap and stateless; any per-execution state belongs on the Action
// value they return.
type Factory func() action.Action

// Registry is a thread-safe action-type -> factory map.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under type_name. Re-registering a type name that
// is already present fails with DUPLICATE_ACTION_TYPE, even when the same
// factory is passed again.
func (r *Registry) Register(typeName string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.factories[typeName]; ok {
		if !sameFactory(existing, factory) {
			return model.NewError(model.KindDuplicateActionType, "", typeName,
				fmt.Sprintf("action type %q already registered", typeName))
		}
		return nil
	}
	r.factories[typeName] = factory
	return nil
}

// MustRegister panics on registration failure. Intended for package init().
func (r *Registry) MustRegister(typeName string, factory Factory) {
	if err := r.Register(typeName, factory); err != nil {
		panic(err)
	}
}

// Lookup returns a new Action instance for typeName, or UNKNOWN_ACTION_TYPE.
func (r *Registry) Lookup(typeName string) (action.Action, error) {
	r.mu.RLock()
	factory, ok := r.factories[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, model.NewError(model.KindUnknownActionType, "", typeName,
			fmt.Sprintf("no action registered for type %q", typeName))
	}
	return factory(), nil
}

// Has reports whether typeName is registered.
func (r *Registry) Has(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[typeName]
	return ok
}

// List returns all registered type names in stable (sorted) order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sameFactory always reports false. Go does not allow comparing func
// values directly, and whether two factories produce equal actions is not
// decidable in general, so any second registration is treated as a
// duplicate. This mirrors the
// teacher's config registries, which also never allow silent overwrite.
func sameFactory(_, _ Factory) bool {
	return false
}

// Default is the process-wide registry actions self-register into at
// package init time, mirroring the teacher's module-init registration
// pattern but without relying on unreferenced import side effects: the
// application entrypoint explicitly imports pkg/actions to trigger it.
var Default = New()
