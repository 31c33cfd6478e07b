// Package registry is the in-memory authoritative store of live session
// state. Each session is guarded by its own lock so unrelated sessions
// never contend; no operation holds more than one session lock at a time.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caremesh/telecare/internal/models"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrDuplicateSession = errors.New("session already registered")
)

type entry struct {
	mu      sync.Mutex
	session *models.Session
}

type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entry
}

func New() *Registry {
	return &Registry{
		entries: make(map[uuid.UUID]*entry),
	}
}

// Put registers a new session. Fails if the ID is already present.
func (r *Registry) Put(s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[s.ID]; exists {
		return ErrDuplicateSession
	}
	r.entries[s.ID] = &entry{session: s}
	return nil
}

// Snapshot returns a deep copy of the session's current state.
func (r *Registry) Snapshot(id uuid.UUID) (*models.Session, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// Update runs fn against the live session under its lock. If fn returns
// an error the mutation is considered rejected and nothing else happens;
// fn must validate before mutating. On success a deep copy of the
// updated session is returned.
func (r *Registry) Update(id uuid.UUID, fn func(*models.Session) error) (*models.Session, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := fn(e.session); err != nil {
		return nil, err
	}
	e.session.UpdatedAt = time.Now()
	return e.session.Clone(), nil
}

// Remove drops the session from the live registry.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// InProgressIDs lists sessions currently being monitored.
func (r *Registry) InProgressIDs() []uuid.UUID {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var ids []uuid.UUID
	for _, e := range entries {
		e.mu.Lock()
		if e.session.Status == models.SessionStatusInProgress {
			ids = append(ids, e.session.ID)
		}
		e.mu.Unlock()
	}
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) entry(id uuid.UUID) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return e, nil
}
