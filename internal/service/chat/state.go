package chat

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/zhouzirui/z-scene/backend/internal/metrics"
	"github.com/zhouzirui/z-scene/backend/internal/store"
)

// State owns the in-memory document, the single source of truth while the
// process runs, and writes it through to the Store after every mutation.
type State struct {
	mu      sync.RWMutex
	doc     *store.Document
	backend store.Store
	metrics *metrics.Metrics

	// saveMu orders snapshots with writes so an older snapshot never lands
	// after a newer one.
	saveMu sync.Mutex
}

// NewState wraps an already loaded document.
func NewState(doc *store.Document, backend store.Store, m *metrics.Metrics) *State {
	if doc == nil {
		doc = store.NewDocument()
	}
	return &State{
		doc:     doc.Normalize(),
		backend: backend,
		metrics: m,
	}
}

// LoadState reads the document once from backend. Any failure is fatal to startup.
func LoadState(ctx context.Context, backend store.Store, m *metrics.Metrics) (*State, error) {
	doc, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load conversation document: %w", err)
	}
	log.Printf("[store] loaded %d sessions, %d conversations", len(doc.Sessions), len(doc.Histories))
	return NewState(doc, backend, m), nil
}

// Snapshot returns a deep copy of the current document.
func (s *State) Snapshot() *store.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Clone()
}

// persist writes the whole current document. The save is detached from the
// request's cancellation so a client hanging up does not drop a completed turn.
func (s *State) persist(ctx context.Context, op, sessionID string) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.persistLocked(ctx, op, sessionID)
}

// persistLocked is persist for callers that already hold saveMu.
func (s *State) persistLocked(ctx context.Context, op, sessionID string) error {
	snapshot := s.Snapshot()
	err := s.backend.Save(context.WithoutCancel(ctx), snapshot)
	s.metrics.ObserveStoreWrite(err)
	if err != nil {
		log.Printf("[store] PERSIST FAILED op=%s session=%s: %v", op, sessionID, err)
		return err
	}
	return nil
}
