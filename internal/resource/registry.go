package resource

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps resource names to resources. Lookups ignore case and
// underscores, so "MpAttribute" and "mp_attribute" name the same resource.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Resource
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Resource)}
}

func registryKey(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}

// Register adds res. Registering a second resource under an equivalent name
// is an error.
func (r *Registry) Register(res Resource) error {
	key := registryKey(res.Name())
	if key == "" {
		return errors.New("resource with empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byName[key]; ok {
		return fmt.Errorf("resource %s already registered as %s", res.Name(), prev.Name())
	}
	r.byName[key] = res
	return nil
}

// Lookup returns the resource registered as name.
func (r *Registry) Lookup(name string) (Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.byName[registryKey(name)]
	if !ok {
		return nil, fmt.Errorf("resource %q: %w", name, ErrNotFound)
	}
	return res, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for _, res := range r.byName {
		names = append(names, res.Name())
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered resources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
