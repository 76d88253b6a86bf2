package routine

import (
	"sort"
	"strings"
	"sync"
)

// Registry tracks the routine names in use. Names are unique per registry,
// compared exactly after trimming surrounding whitespace.
type Registry struct {
	mu    sync.Mutex
	names map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{names: map[string]struct{}{}}
}

// Add claims name. It fails with ErrDuplicateTaskName if the name is taken.
func (r *Registry) Add(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyTaskName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.names == nil {
		r.names = map[string]struct{}{}
	}
	if _, ok := r.names[name]; ok {
		return ErrDuplicateTaskName
	}
	r.names[name] = struct{}{}
	return nil
}

func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.names[strings.TrimSpace(name)]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.names))
	for n := range r.names {
		out = append(out, n)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}
