package session

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/psantana5/excel-host/pkg/binding"
)

// Entry tracks one open document. Owned means this session opened the
// document and is responsible for closing it; an unowned document was
// already open in the host when first observed and must never be closed
// by this session except under an explicit force flag.
type Entry struct {
	Path  string
	Doc   binding.DocHandle
	Owned bool

	// ReadOnly records the mode this session opened the document in, so a
	// later writable lease knows the cached handle cannot serve it. Always
	// false for unowned documents; their mode is the user's business.
	ReadOnly bool
}

// registry is pure bookkeeping: a map from normalized document path to its
// entry. It performs no I/O of its own; all mutation happens through the
// session so ownership decisions stay centralized. Keys are case-folded to
// collapse equivalent path spellings.
type registry struct {
	entries map[string]*Entry
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*Entry)}
}

// normalizePath resolves a path to its absolute, cleaned, case-folded form
// used as the registry key. Host paths on the automation side use native
// separators; filepath handles both spellings.
func normalizePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return strings.ToLower(abs)
}

func (r *registry) get(key string) (*Entry, bool) {
	e, ok := r.entries[key]
	return e, ok
}

func (r *registry) put(e *Entry) {
	r.entries[normalizePath(e.Path)] = e
}

func (r *registry) remove(key string) {
	delete(r.entries, key)
}

func (r *registry) clear() {
	r.entries = make(map[string]*Entry)
}

func (r *registry) len() int {
	return len(r.entries)
}

// contains reports whether a document at path is tracked.
func (r *registry) contains(path string) bool {
	_, ok := r.entries[normalizePath(path)]
	return ok
}

// isOwned reports whether the tracked document at path is owned by this
// session. Untracked paths are not owned.
func (r *registry) isOwned(path string) bool {
	e, ok := r.entries[normalizePath(path)]
	return ok && e.Owned
}

// paths returns the tracked document paths in stable order.
func (r *registry) paths() []string {
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Path)
	}
	sort.Strings(out)
	return out
}

// all returns every entry. Callers must not mutate entries outside the
// session lock.
func (r *registry) all() []*Entry {
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}
