// Package sessionregistry keeps one *workflowsession.Session alive per
// (instance, model, Host-session) triple for the lifetime of the
// process, so repeated turns in the same Host conversation reuse the
// same Service workflow and socket instead of reconnecting each time.
package sessionregistry

import (
	"sync"

	"github.com/duo-workflow-bridge/bridge/pkg/workflowsession"
)

// Factory builds a new session for key on first Resolve.
type Factory func(key workflowsession.Key) *workflowsession.Session

// Registry is a process-wide, create-on-first-use map of session key to
// *workflowsession.Session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[workflowsession.Key]*workflowsession.Session
	factory  Factory
}

// New creates an empty Registry. factory is invoked at most once per
// key while that key stays registered; a Resolve after Dispose invokes it
// again.
func New(factory Factory) *Registry {
	return &Registry{
		sessions: make(map[workflowsession.Key]*workflowsession.Session),
		factory:  factory,
	}
}

// Resolve returns the session for key, creating it via the registry's
// factory if this is the first time key has been seen.
func (r *Registry) Resolve(key workflowsession.Key) *workflowsession.Session {
	r.mu.RLock()
	sess, ok := r.sessions[key]
	r.mu.RUnlock()
	if ok {
		return sess
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[key]; ok {
		return sess
	}
	sess = r.factory(key)
	r.sessions[key] = sess
	return sess
}

// Dispose removes key's session from the registry. The caller is
// responsible for aborting the session first; Dispose does not close
// anything itself.
func (r *Registry) Dispose(key workflowsession.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, key)
}

// Count returns the number of live sessions, for metrics reporting.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Keys returns a snapshot of every currently registered key.
func (r *Registry) Keys() []workflowsession.Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]workflowsession.Key, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	return keys
}
