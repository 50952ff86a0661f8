package chat

import (
	"context"

	"github.com/zhouzirui/z-scene/backend/internal/apperr"
	"github.com/zhouzirui/z-scene/backend/internal/model/chat"
	"github.com/zhouzirui/z-scene/backend/internal/model/scene"
)

// SeedFunc renders the system instruction that opens a new ledger.
type SeedFunc func(scene.Session) string

// Ledger is the append-only turn history of each session. The first turn is
// always the system seed, synthesized once and never rewritten.
type Ledger struct {
	state *State
	seed  SeedFunc
}

// NewLedger creates a ledger over state using seed for first-use synthesis.
func NewLedger(state *State, seed SeedFunc) *Ledger {
	return &Ledger{state: state, seed: seed}
}

// GetOrInit returns the session's turns, creating the ledger with its seed
// turn when it does not exist yet.
func (l *Ledger) GetOrInit(ctx context.Context, sessionID string, session scene.Session) ([]chat.Turn, error) {
	l.state.mu.Lock()
	if _, ok := l.state.doc.Sessions[sessionID]; !ok {
		l.state.mu.Unlock()
		return nil, apperr.ErrSessionNotFound
	}
	if turns, ok := l.state.doc.Histories[sessionID]; ok && len(turns) > 0 {
		copied := append([]chat.Turn(nil), turns...)
		l.state.mu.Unlock()
		return copied, nil
	}

	seeded := []chat.Turn{l.seedTurn(session)}
	l.state.doc.Histories[sessionID] = seeded
	l.state.mu.Unlock()

	if err := l.state.persist(ctx, "init-ledger", sessionID); err != nil {
		return append([]chat.Turn(nil), seeded...), err
	}
	return append([]chat.Turn(nil), seeded...), nil
}

// AppendUser appends a user turn.
func (l *Ledger) AppendUser(ctx context.Context, sessionID, content string) error {
	return l.append(ctx, sessionID, chat.RoleUser, content)
}

// AppendAssistant appends an assistant turn spoken as the session's character.
func (l *Ledger) AppendAssistant(ctx context.Context, sessionID, content string) error {
	return l.append(ctx, sessionID, chat.RoleAssistant, content)
}

// Turns returns a copy of the session's ledger.
func (l *Ledger) Turns(sessionID string) ([]chat.Turn, bool) {
	l.state.mu.RLock()
	defer l.state.mu.RUnlock()

	turns, ok := l.state.doc.Histories[sessionID]
	if !ok {
		return nil, false
	}
	return append([]chat.Turn(nil), turns...), true
}

func (l *Ledger) append(ctx context.Context, sessionID string, role chat.Role, content string) error {
	l.state.mu.Lock()
	session, ok := l.state.doc.Sessions[sessionID]
	if !ok {
		l.state.mu.Unlock()
		return apperr.ErrSessionNotFound
	}

	turns := l.state.doc.Histories[sessionID]
	if len(turns) == 0 {
		turns = []chat.Turn{l.seedTurn(session)}
	}

	speaker := session.SpeakerLabel()
	if role == chat.RoleUser {
		speaker = chat.UserLabel
	}
	l.state.doc.Histories[sessionID] = append(turns, chat.NewTurn(role, speaker, content))
	l.state.mu.Unlock()

	return l.state.persist(ctx, "append-"+string(role), sessionID)
}

// seedTurn carries the rendered instruction as content and the character's
// opening line as its display string.
func (l *Ledger) seedTurn(session scene.Session) chat.Turn {
	return chat.Turn{
		Role:    chat.RoleSystem,
		Content: l.seed(session),
		Message: chat.DisplayString(session.SpeakerLabel(), session.InitialMessage),
	}
}
