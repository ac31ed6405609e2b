package proc

import (
	"errors"
	"sync"
	"time"
)

// ErrUnknownSession is returned when no process is registered under a session.
var ErrUnknownSession = errors.New("unknown session")

// Registry maps session tokens to running processes. One instance is created
// per server process and passed to whoever handles cancellation.
type Registry struct {
	mu    sync.Mutex
	procs map[string]Process
}

func NewRegistry() *Registry {
	return &Registry{procs: map[string]Process{}}
}

func (r *Registry) Add(session string, p Process) {
	r.mu.Lock()
	r.procs[session] = p
	r.mu.Unlock()
}

func (r *Registry) Remove(session string) {
	r.mu.Lock()
	delete(r.procs, session)
	r.mu.Unlock()
}

func (r *Registry) Lookup(session string) (Process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procs[session]
	return p, ok
}

// Len reports how many sessions are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// Kill stops the process registered under session: SIGTERM, then SIGKILL
// after grace. The entry is removed by the owner once the process exits.
func (r *Registry) Kill(session string, grace time.Duration) error {
	p, ok := r.Lookup(session)
	if !ok {
		return ErrUnknownSession
	}
	return p.Stop(grace)
}
