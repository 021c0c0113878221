package nav

import (
	"slices"

	"pkt.systems/crmdesk/schema"
)

// Registry is the ordered set of open tabs in one workspace.
// Paths are unique and tabs keep their insertion order. The home path can
// be opened like any other tab but never closed.
//
// Registry is not safe for concurrent use; Workspace serializes access.
type Registry struct {
	home schema.Path
	tabs []schema.Tab
}

// NewRegistry returns an empty registry with the given permanent home path.
func NewRegistry(home schema.Path) *Registry {
	return &Registry{home: home}
}

// Open appends a tab for path unless one exists. Repeat opens keep the
// original label. It reports whether a tab was added.
func (r *Registry) Open(path schema.Path, label string) bool {
	if path == "" || r.Has(path) {
		return false
	}
	if label == "" {
		label = string(path)
	}
	r.tabs = append(r.tabs, schema.Tab{Path: path, Label: label})
	return true
}

// Close removes the tab for path. Closing the home tab or an unknown path is
// a no-op. It reports whether a tab was removed.
func (r *Registry) Close(path schema.Path) bool {
	if !r.Closable(path) {
		return false
	}
	i := r.index(path)
	if i < 0 {
		return false
	}
	r.tabs = slices.Delete(r.tabs, i, i+1)
	return true
}

// Closable reports whether the tab for path may be closed.
func (r *Registry) Closable(path schema.Path) bool {
	return path != "" && path != r.home
}

// List returns a snapshot of the open tabs in insertion order.
func (r *Registry) List() []schema.Tab {
	out := make([]schema.Tab, len(r.tabs))
	copy(out, r.tabs)
	return out
}

// Get returns the tab for path.
func (r *Registry) Get(path schema.Path) (schema.Tab, bool) {
	i := r.index(path)
	if i < 0 {
		return schema.Tab{}, false
	}
	return r.tabs[i], true
}

// Has reports whether a tab for path is open.
func (r *Registry) Has(path schema.Path) bool {
	return r.index(path) >= 0
}

// Last returns the most recently appended tab.
func (r *Registry) Last() (schema.Tab, bool) {
	if len(r.tabs) == 0 {
		return schema.Tab{}, false
	}
	return r.tabs[len(r.tabs)-1], true
}

// Len returns the number of open tabs.
func (r *Registry) Len() int {
	return len(r.tabs)
}

// Home returns the permanent home path.
func (r *Registry) Home() schema.Path {
	return r.home
}

func (r *Registry) index(path schema.Path) int {
	return slices.IndexFunc(r.tabs, func(tab schema.Tab) bool { return tab.Path == path })
}
