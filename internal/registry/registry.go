// Package registry holds the set of tools currently offered to the agent.
package registry

import (
	"context"
	"sort"
	"sync"
)

// Kind distinguishes built-in tools from synthesized ones.
type Kind string

const (
	KindBuiltin   Kind = "builtin"
	KindGenerated Kind = "generated"
)

// InvokeFunc runs a tool. arg is nil when the caller supplied no input.
type InvokeFunc func(ctx context.Context, arg *string) (string, error)

// ToolRecord is one named, described, invocable tool.
type ToolRecord struct {
	Name        string
	Description string
	Kind        Kind
	Invoke      InvokeFunc
}

// Snapshot is an immutable copy of registry contents in registration order.
type Snapshot []ToolRecord

// Names returns the snapshot's tool names in registration order.
func (s Snapshot) Names() []string {
	names := make([]string, len(s))
	for i, r := range s {
		names[i] = r.Name
	}
	return names
}

// Registry is a name-keyed set of tools. The first record registered under a
// name wins until the registry is restored from a snapshot.
type Registry struct {
	mu          sync.RWMutex
	order       []string
	records     map[string]ToolRecord
	subscribers []func()
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{records: make(map[string]ToolRecord)}
}

// RegisterAll adds records whose names are not yet present and returns the
// names that were added, in input order.
func (r *Registry) RegisterAll(records ...ToolRecord) []string {
	r.mu.Lock()
	var added []string
	for _, rec := range records {
		if rec.Name == "" {
			continue
		}
		if _, ok := r.records[rec.Name]; ok {
			continue
		}
		r.records[rec.Name] = rec
		r.order = append(r.order, rec.Name)
		added = append(added, rec.Name)
	}
	r.mu.Unlock()

	if len(added) > 0 {
		r.notify()
	}
	return added
}

// Snapshot returns a copy of the current contents.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := make(Snapshot, len(r.order))
	for i, name := range r.order {
		snap[i] = r.records[name]
	}
	return snap
}

// RestoreFrom replaces the contents with snap.
func (r *Registry) RestoreFrom(snap Snapshot) {
	r.mu.Lock()
	r.order = make([]string, 0, len(snap))
	r.records = make(map[string]ToolRecord, len(snap))
	for _, rec := range snap {
		if _, ok := r.records[rec.Name]; ok {
			continue
		}
		r.records[rec.Name] = rec
		r.order = append(r.order, rec.Name)
	}
	r.mu.Unlock()

	r.notify()
}

// Get returns the record registered under name.
func (r *Registry) Get(name string) (ToolRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[name]
	return rec, ok
}

// List returns all records sorted by name.
func (r *Registry) List() []ToolRecord {
	r.mu.RLock()
	list := make([]ToolRecord, 0, len(r.records))
	for _, rec := range r.records {
		list = append(list, rec)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Names returns all tool names sorted.
func (r *Registry) Names() []string {
	list := r.List()
	names := make([]string, len(list))
	for i, rec := range list {
		names[i] = rec.Name
	}
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Subscribe registers fn to run after every change. fn runs without the
// registry lock held and may read the registry.
func (r *Registry) Subscribe(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

func (r *Registry) notify() {
	r.mu.RLock()
	subs := append([]func(){}, r.subscribers...)
	r.mu.RUnlock()

	for _, fn := range subs {
		fn()
	}
}
