package segment

import (
	"fmt"
	"sync"
)

// Registry is the ordered list of closed segment files of one session.
// Entries are only ever appended; Finalize is the one place that collapses it.
type Registry struct {
	mu    sync.Mutex
	paths []string
}

func NewRegistry(paths ...string) *Registry {
	return &Registry{paths: append([]string(nil), paths...)}
}

// Register appends a closed segment. Registering the current last segment
// again is a no-op so a close observed twice is recorded once.
func (r *Registry) Register(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.paths); n > 0 && r.paths[n-1] == path {
		return nil
	}
	for _, p := range r.paths {
		if p == path {
			return fmt.Errorf("segment %s already registered", path)
		}
	}
	r.paths = append(r.paths, path)
	return nil
}

// Paths returns a copy of the registered segments in order.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

// Last returns the most recently registered segment, or "".
func (r *Registry) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.paths) == 0 {
		return ""
	}
	return r.paths[len(r.paths)-1]
}

func (r *Registry) collapse(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = []string{path}
}
