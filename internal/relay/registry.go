package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/bhandras/delight/relay/internal/clock"
)

// AnonymousPrincipal is the principal recorded when a connection presents
// none.
const AnonymousPrincipal = "anonymous"

// Session is the bookkeeping record for one connected agent.
type Session struct {
	ID             string
	PrincipalID    string
	Transport      string
	ConnectedAt    time.Time
	LastActivityAt time.Time
	RequestCount   int64
}

// Registry tracks one Session per open agent connection. All operations are
// serialized by a single mutex; callers only ever see copies.
type Registry struct {
	clock clock.Clock

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry using clk for timestamps.
func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Registry{
		clock:    clk,
		sessions: make(map[string]*Session),
	}
}

// Open registers a new session. It fails if id is already present.
func (r *Registry) Open(id, principalID, transport string) (Session, error) {
	if principalID == "" {
		principalID = AnonymousPrincipal
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return Session{}, ErrSessionExists
	}
	now := r.clock.Now()
	s := &Session{
		ID:             id,
		PrincipalID:    principalID,
		Transport:      transport,
		ConnectedAt:    now,
		LastActivityAt: now,
	}
	r.sessions[id] = s
	return *s, nil
}

// Touch records request activity on a session. Touching a closed session is a
// no-op and reports false.
func (r *Registry) Touch(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.RequestCount++
	s.LastActivityAt = r.clock.Now()
	return true
}

// Close removes a session and returns its final state. A second Close for the
// same id returns ErrSessionNotFound.
func (r *Registry) Close(id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	delete(r.sessions, id)
	return *s, nil
}

// Get returns a copy of the session for id.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// List returns copies of all live sessions ordered by connect time.
func (r *Registry) List() []Session {
	r.mu.Lock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SweepIdle closes and returns every session whose last activity is older
// than threshold.
func (r *Registry) SweepIdle(threshold time.Duration) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var swept []Session
	for id, s := range r.sessions {
		if now.Sub(s.LastActivityAt) > threshold {
			swept = append(swept, *s)
			delete(r.sessions, id)
		}
	}
	return swept
}
