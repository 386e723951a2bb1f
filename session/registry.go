package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"voicebot-qa/logger"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// Registry holds the live sessions and provides lookup by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	seq      uint64
	model    string
	log      logger.Logger
}

// NewRegistry creates an empty registry. model is the default chat model
// for new sessions.
func NewRegistry(model string, log logger.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		model:    model,
		log:      log,
	}
}

// Create adds a session seeded with the demo call, reference script and
// default checks.
func (r *Registry) Create() *Session {
	return r.add(InitialState(r.model))
}

func (r *Registry) add(st State) *Session {
	id := "sess-" + uuid.New().String()[:8]
	s := newSession(id, st, r.log)

	r.mu.Lock()
	r.seq++
	s.seq = r.seq
	r.sessions[id] = s
	r.mu.Unlock()

	r.log.Info("session.created", logger.String("session_id", id))
	return s
}

// Lookup returns the session for id, or ErrNotFound.
func (r *Registry) Lookup(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Exists returns true if the session id is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// Delete removes a session. Deleting an unknown id is a no-op.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All returns every session, oldest first.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
