package integration

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Entry pairs an integration descriptor with its live runner handle.
// Exactly one entry exists per registered integration.
type Entry struct {
	Descriptor Descriptor
	Runner     *Runner
}

// Registry holds all registered integrations. It is built once at startup
// and read concurrently thereafter; all operations are safe for concurrent
// use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
	}
}

// Register adds an integration to the registry.
// Returns an error if an integration with the same name already exists.
func (r *Registry) Register(entry *Entry) error {
	if entry == nil || entry.Runner == nil {
		return errors.New("cannot register nil entry")
	}

	name := entry.Descriptor.Name
	if name == "" {
		return errors.New("integration name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return errors.Errorf("integration %q already registered", name)
	}

	r.entries[name] = entry
	return nil
}

// Get retrieves an entry by integration name.
// Returns nil if no integration with that name is registered.
func (r *Registry) Get(name string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.entries[name]
}

// List returns all registered entries, sorted by name for stable output.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Descriptor.Name < entries[j].Descriptor.Name
	})

	return entries
}

// Names returns the names of all registered integrations, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Count returns the number of registered integrations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// StopAll stops every registered runner. Runners are stopped after the lock
// is released so a slow shutdown cannot block registry reads. Returns the
// first error encountered but keeps stopping the rest.
func (r *Registry) StopAll() error {
	r.mu.RLock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	var firstErr error
	for _, entry := range entries {
		if err := entry.Runner.Stop(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to stop runner for %s", entry.Descriptor.Name)
		}
	}

	return firstErr
}
