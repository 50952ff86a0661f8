package chat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-scene/backend/internal/apperr"
	"github.com/zhouzirui/z-scene/backend/internal/model/scene"
)

// Registry maps session ids to their immutable session descriptors.
type Registry struct {
	state *State
	newID func() string
}

// NewRegistry creates a registry over state. Ids are random UUIDv4 values.
func NewRegistry(state *State) *Registry {
	return &Registry{state: state, newID: uuid.NewString}
}

// Create stores session under a fresh id and persists the document. When the
// save fails the session is removed again, before any other save can see it,
// and the store error is returned.
func (r *Registry) Create(ctx context.Context, session scene.Session) (string, error) {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	// Holding saveMu from insert to rollback keeps any other save from
	// snapshotting a session whose creation failed.
	r.state.saveMu.Lock()
	defer r.state.saveMu.Unlock()

	r.state.mu.Lock()
	id := r.newID()
	for {
		if _, taken := r.state.doc.Sessions[id]; !taken {
			break
		}
		id = r.newID()
	}
	r.state.doc.Sessions[id] = session
	r.state.mu.Unlock()

	if err := r.state.persistLocked(ctx, "create-session", id); err != nil {
		r.state.mu.Lock()
		delete(r.state.doc.Sessions, id)
		r.state.mu.Unlock()
		return "", err
	}
	return id, nil
}

// Get returns the session for id or apperr.ErrSessionNotFound.
func (r *Registry) Get(_ context.Context, id string) (scene.Session, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	session, ok := r.state.doc.Sessions[id]
	if !ok {
		return scene.Session{}, apperr.ErrSessionNotFound
	}
	return session, nil
}

// Count returns the number of known sessions.
func (r *Registry) Count() int {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()
	return len(r.state.doc.Sessions)
}
