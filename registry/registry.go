// Package registry holds the in-memory table of live preview sessions.
//
// The store is the single source of truth for which sessions exist. It is
// written by the orchestrator (insert on successful launch), read by the
// proxy router on every forwarded request, and swept by the reaper. All
// operations are safe under concurrent invocation; atomicity is per key,
// with no ordering guarantee across sessions.
package registry

import (
	"os"
	"sync"
	"time"
)

// PreviewSession is one live, proxied instance of a project's dev server.
//
// The ID is an opaque, unguessable capability: holding it is the only way
// to route to or stop the session. Port and ProjectDir are exclusively
// owned while the session is alive. Fields are immutable after insert; the
// reaper destroys the whole record exactly once.
type PreviewSession struct {
	ID         string
	Port       int
	ProjectDir string

	// OwnsDir marks ProjectDir as session-private (extracted from an
	// upload); the reaper removes it on teardown. Previews started from
	// an existing directory leave it in place.
	OwnsDir bool

	Proc      *os.Process
	PID       int
	Framework string
	Strategy  string
	LogPath   string
	CreatedAt time.Time
}

// Age returns how long the session has been alive.
func (s *PreviewSession) Age() time.Duration {
	return time.Since(s.CreatedAt)
}

// Store is a mutex-guarded map of session id to session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*PreviewSession
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*PreviewSession)}
}

// Put inserts a session. Session ids are generated fresh per launch and
// never reused, so Put never observes an existing key in practice; a
// duplicate insert overwrites, which keeps the operation idempotent for
// retried registrations.
func (st *Store) Put(sess *PreviewSession) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[sess.ID] = sess
}

// Get returns the session for an id, or nil if unknown.
func (st *Store) Get(id string) *PreviewSession {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sessions[id]
}

// Remove evicts a session and reports whether it was present. The reaper
// uses the return value to claim teardown exactly once: whichever caller
// observes true owns the kill/delete work.
func (st *Store) Remove(id string) (*PreviewSession, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	return sess, ok
}

// ListExpired returns every session older than ttl.
func (st *Store) ListExpired(ttl time.Duration) []*PreviewSession {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var expired []*PreviewSession
	cutoff := time.Now().Add(-ttl)
	for _, s := range st.sessions {
		if s.CreatedAt.Before(cutoff) {
			expired = append(expired, s)
		}
	}
	return expired
}

// List returns a snapshot of all sessions.
func (st *Store) List() []*PreviewSession {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]*PreviewSession, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
