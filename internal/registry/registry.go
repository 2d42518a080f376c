// Package registry maps logical actor IDs (user or driver) to their live
// transport session. It is volatile by design: entries are rebuilt when
// clients reconnect and nothing here is ever persisted.
package registry

import (
	"sync"
)

// Session is the send side of a live connection. Implementations must be
// safe for concurrent Send calls.
type Session interface {
	Send(event string, data any) error
}

// Registry is the actor -> session map. A new registration for the same
// actor overwrites the previous session; it never queues behind it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func New() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// Register upserts the session for an actor. Idempotent; no error conditions.
func (r *Registry) Register(actorID string, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[actorID] = s
}

// Lookup returns the actor's current session, if any.
func (r *Registry) Lookup(actorID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[actorID]
	return s, ok
}

// Remove evicts every actor currently mapped to the given session. A session
// may back more than one actor transiently during a reconnect race, so this
// scans the whole map rather than trusting a reverse index.
func (r *Registry) Remove(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, cur := range r.sessions {
		if cur == s {
			delete(r.sessions, id)
		}
	}
}

// Size reports the number of live entries, for metrics.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Notify sends an event to the actor's session if one is live. Returns false
// when the actor has no session; that is expected steady-state, not an error.
func (r *Registry) Notify(actorID, event string, data any) bool {
	s, ok := r.Lookup(actorID)
	if !ok {
		return false
	}
	return s.Send(event, data) == nil
}
