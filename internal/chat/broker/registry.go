package broker

import "sync"

// Registry - insertion-ordered set of Active sessions keyed by identity id.
// A session is kept by registry only while it is in Active state:
// registry itself performs Connecting->Active and Active->Closing transitions
// under its mutex, and traversal skips sessions removed before they are visited.
// Remove does not wait for in-flight writes, a write already past its Active check
// may complete after removal. No write happens once the session is Closed.
// Registry does not own connections, closing is the session's business.
type Registry struct {
	mu    sync.Mutex
	order []*Session
	index map[uint64]*Session
}

// NewRegistry - builds empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[uint64]*Session)}
}

// Add - registers session and makes it Active.
// Returns false if session is not in Connecting state or its id is taken.
func (r *Registry) Add(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[s.identity.ID]; ok {
		return false
	}
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
		return false
	}
	r.index[s.identity.ID] = s
	r.order = append(r.order, s)
	return true
}

// Remove - forgets session and moves it to Closing state.
// Returns false if session was not registered.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if kept, ok := r.index[s.identity.ID]; !ok || kept != s {
		return false
	}
	delete(r.index, s.identity.ID)
	for i, kept := range r.order {
		if kept == s {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	s.state.CompareAndSwap(int32(StateActive), int32(StateClosing))
	return true
}

// Len - returns number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Snapshot - returns registered sessions in order of registration.
func (r *Registry) Snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make([]*Session, len(r.order))
	copy(snapshot, r.order)
	return snapshot
}

// ForEach - visits registered sessions in order of registration until visit returns false.
// The mutex is held only to take a snapshot, so visit may block on IO
// and may remove the current or any other session. Sessions which left
// Active state after the snapshot are skipped.
func (r *Registry) ForEach(visit func(s *Session) bool) {
	for _, s := range r.Snapshot() {
		if s.State() != StateActive {
			continue
		}
		if !visit(s) {
			return
		}
	}
}
