package memory

import (
	"sort"
	"sync"

	"sfulink/internal/core/domain"
	"sfulink/internal/core/session"
)

// SessionRegistry owns the live sessions keyed by stream id.
// The connected stream set is always derived from its keys.
type SessionRegistry struct {
	sessions map[domain.StreamID]*session.PeerSession
	mu       sync.RWMutex
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[domain.StreamID]*session.PeerSession),
	}
}

// Create adds a session; a second session for the same stream is rejected.
func (r *SessionRegistry) Create(s *session.PeerSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.StreamID]; exists {
		return domain.ErrSessionExists
	}

	r.sessions[s.StreamID] = s
	return nil
}

// Replace swaps the session of an existing stream for a fresh attempt
func (r *SessionRegistry) Replace(s *session.PeerSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.StreamID]; !exists {
		return domain.ErrSessionNotFound
	}

	r.sessions[s.StreamID] = s
	return nil
}

func (r *SessionRegistry) Get(id domain.StreamID) (*session.PeerSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.sessions[id]
	return s, exists
}

func (r *SessionRegistry) Destroy(id domain.StreamID) (*session.PeerSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	delete(r.sessions, id)
	return s, nil
}

// Keys returns the connected stream set in sorted order
func (r *SessionRegistry) Keys() []domain.StreamID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]domain.StreamID, 0, len(r.sessions))
	for id := range r.sessions {
		keys = append(keys, id)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// All returns the sessions ordered by stream id
func (r *SessionRegistry) All() []*session.PeerSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*session.PeerSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StreamID < all[j].StreamID })
	return all
}

// CountByRole returns how many sessions have the given role
func (r *SessionRegistry) CountByRole(role domain.Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, s := range r.sessions {
		if s.Role == role {
			n++
		}
	}
	return n
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
