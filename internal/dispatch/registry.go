package dispatch

import (
	"net"
	"sync"
)

// Registry tracks every open listening socket so termination can close all
// of them.
type Registry struct {
	mu     sync.Mutex
	closed bool
	lns    []net.Listener
}

func NewRegistry() *Registry { return &Registry{} }

// Add records ln. After CloseAll it closes ln instead and returns false.
func (r *Registry) Add(ln net.Listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = ln.Close()
		return false
	}
	r.lns = append(r.lns, ln)
	return true
}

// Remove forgets ln without closing it. A nil Registry is a no-op.
func (r *Registry) Remove(ln net.Listener) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, l := range r.lns {
		if l == ln {
			r.lns = append(r.lns[:i], r.lns[i+1:]...)
			return
		}
	}
}

// CloseAll closes every recorded listener and returns how many there were.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	lns := r.lns
	r.lns = nil
	r.closed = true
	r.mu.Unlock()
	for _, ln := range lns {
		_ = ln.Close()
	}
	return len(lns)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lns)
}

// Addrs returns the local addresses of the recorded listeners.
func (r *Registry) Addrs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.lns))
	for _, ln := range r.lns {
		out = append(out, ln.Addr().String())
	}
	return out
}
