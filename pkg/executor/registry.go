// Package executor drives the two external CLI scanners: sqlmap for SQL
// injection and dalfox for XSS. Executors spawn supervised child processes,
// stream-parse their output into findings, and report through the scan
// logger and event bus.
package executor

import (
	"sync"
	"time"

	"github.com/easyinjection/scand/pkg/spawn"
)

// Registry tracks the live child processes of one scan so stop() can kill
// them all. Owned by the orchestrator task; executors register processes as
// they spawn them.
type Registry struct {
	mu    sync.Mutex
	procs map[string]*spawn.Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[string]*spawn.Handle)}
}

// Track registers a started process under its name.
func (r *Registry) Track(h *spawn.Handle) {
	r.mu.Lock()
	r.procs[h.Name()] = h
	r.mu.Unlock()
}

// Untrack removes a process after it exits.
func (r *Registry) Untrack(name string) {
	r.mu.Lock()
	delete(r.procs, name)
	r.mu.Unlock()
}

// Len returns the number of tracked processes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// KillAll terminates every tracked process and empties the registry.
func (r *Registry) KillAll(grace time.Duration) {
	r.mu.Lock()
	procs := make([]*spawn.Handle, 0, len(r.procs))
	for _, h := range r.procs {
		procs = append(procs, h)
	}
	r.procs = make(map[string]*spawn.Handle)
	r.mu.Unlock()

	for _, h := range procs {
		h.Terminate(grace)
	}
}

// WaitAll blocks until every tracked process has exited or the timeout
// elapses, polling cooperatively. It returns the names of stragglers still
// alive at the deadline and untracks everything that exited.
func (r *Registry) WaitAll(timeout time.Duration) []string {
	deadline := time.Now().Add(timeout)
	for {
		stragglers := r.sweep()
		if len(stragglers) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return stragglers
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func (r *Registry) sweep() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var alive []string
	for name, h := range r.procs {
		if h.Alive() {
			alive = append(alive, name)
		} else {
			delete(r.procs, name)
		}
	}
	return alive
}
