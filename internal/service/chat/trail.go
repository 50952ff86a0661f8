package chat

import (
	"context"

	"github.com/zhouzirui/z-scene/backend/internal/apperr"
)

// ImageTrail keeps the ordered image prompts synthesized for each session.
type ImageTrail struct {
	state *State
}

// NewImageTrail creates an image prompt trail over state.
func NewImageTrail(state *State) *ImageTrail {
	return &ImageTrail{state: state}
}

// Append records prompt as the session's newest image prompt.
func (t *ImageTrail) Append(ctx context.Context, sessionID, prompt string) error {
	t.state.mu.Lock()
	if _, ok := t.state.doc.Sessions[sessionID]; !ok {
		t.state.mu.Unlock()
		return apperr.ErrSessionNotFound
	}
	t.state.doc.Images[sessionID] = append(t.state.doc.Images[sessionID], prompt)
	t.state.mu.Unlock()

	return t.state.persist(ctx, "append-image-prompt", sessionID)
}

// Latest returns the most recent prompt for the session.
func (t *ImageTrail) Latest(sessionID string) (string, bool) {
	t.state.mu.RLock()
	defer t.state.mu.RUnlock()

	prompts := t.state.doc.Images[sessionID]
	if len(prompts) == 0 {
		return "", false
	}
	return prompts[len(prompts)-1], true
}
