// Package roleplay sequences the session, ledger and provider components for
// each client operation.
package roleplay

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/zhouzirui/z-scene/backend/internal/apperr"
	"github.com/zhouzirui/z-scene/backend/internal/model/chat"
	"github.com/zhouzirui/z-scene/backend/internal/model/scene"
	"github.com/zhouzirui/z-scene/backend/internal/service/ai"
	chatsvc "github.com/zhouzirui/z-scene/backend/internal/service/chat"
	"github.com/zhouzirui/z-scene/backend/internal/service/image"
)

// ChatCompleter produces the assistant reply for a turn history.
type ChatCompleter interface {
	Complete(ctx context.Context, turns []chat.Turn) (string, error)
}

// ImageGenerator produces an image for a prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (*image.Result, error)
}

// CreateSessionInput carries the attributes of a new session.
type CreateSessionInput struct {
	Character          scene.Attribute `json:"character"`
	CharacterQualities scene.Attribute `json:"characterQualities"`
	Scene              scene.Attribute `json:"scene"`
	InitialMessage     string          `json:"initialMessage"`
}

// ChatTurnInput is one user message for a session.
type ChatTurnInput struct {
	SessionID   string `json:"sessionId"`
	UserMessage string `json:"userMessage"`
}

// Service is the session orchestrator.
type Service struct {
	registry *chatsvc.Registry
	ledger   *chatsvc.Ledger
	trail    *chatsvc.ImageTrail
	locks    *chatsvc.SessionLocks
	chat     ChatCompleter
	images   ImageGenerator
}

// NewService wires the orchestrator over a loaded state.
func NewService(state *chatsvc.State, completer ChatCompleter, images ImageGenerator) *Service {
	return &Service{
		registry: chatsvc.NewRegistry(state),
		ledger:   chatsvc.NewLedger(state, ai.RenderSeedInstruction),
		trail:    chatsvc.NewImageTrail(state),
		locks:    chatsvc.NewSessionLocks(),
		chat:     completer,
		images:   images,
	}
}

// CreateSession validates the attributes, registers the session and seeds
// its image prompt trail.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (string, error) {
	session := scene.Session{
		Character:          in.Character,
		CharacterQualities: in.CharacterQualities,
		Scene:              in.Scene,
		InitialMessage:     in.InitialMessage,
	}
	if missing := session.MissingFields(); len(missing) > 0 {
		return "", apperr.Missing(missing...)
	}

	id, err := s.registry.Create(ctx, session)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	if err := s.trail.Append(ctx, id, ai.RenderImagePrompt(session, nil)); err != nil {
		log.Printf("[roleplay] session=%s seed image prompt not persisted: %v", id, err)
	}

	log.Printf("[roleplay] created session=%s character=%q", id, session.SpeakerLabel())
	return id, nil
}

// ChatTurn appends the user message, asks the chat provider for a reply and
// records it. The user turn stays recorded even when the provider fails.
func (s *Service) ChatTurn(ctx context.Context, in ChatTurnInput) (string, error) {
	var missing []string
	if strings.TrimSpace(in.SessionID) == "" {
		missing = append(missing, "sessionId")
	}
	if strings.TrimSpace(in.UserMessage) == "" {
		missing = append(missing, "userMessage")
	}
	if len(missing) > 0 {
		return "", apperr.Missing(missing...)
	}

	// Sessions are never deleted, so an id that resolves here stays valid
	// under the lock. Unknown ids never reach the lock table.
	session, err := s.registry.Get(ctx, in.SessionID)
	if err != nil {
		return "", err
	}

	unlock, err := s.locks.Lock(ctx, in.SessionID)
	if err != nil {
		return "", err
	}
	defer unlock()

	if _, err := s.ledger.GetOrInit(ctx, in.SessionID, session); err != nil {
		return "", fmt.Errorf("init ledger: %w", err)
	}
	if err := s.ledger.AppendUser(ctx, in.SessionID, in.UserMessage); err != nil {
		return "", fmt.Errorf("append user turn: %w", err)
	}

	turns, _ := s.ledger.Turns(in.SessionID)
	reply, err := s.chat.Complete(ctx, turns)
	if err != nil {
		log.Printf("[roleplay] session=%s chat provider failed: %v", in.SessionID, err)
		return "", err
	}

	if err := s.ledger.AppendAssistant(ctx, in.SessionID, reply); err != nil {
		log.Printf("[roleplay] session=%s REPLY NOT PERSISTED, returning it anyway: %v", in.SessionID, err)
	}

	turns, _ = s.ledger.Turns(in.SessionID)
	if err := s.trail.Append(ctx, in.SessionID, ai.RenderImagePrompt(session, turns)); err != nil {
		log.Printf("[roleplay] session=%s image prompt not persisted: %v", in.SessionID, err)
	}

	return reply, nil
}

// FetchImage generates an image for the session's current scene. The caller
// must close the result body.
func (s *Service) FetchImage(ctx context.Context, sessionID string) (*image.Result, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, apperr.Missing("sessionId")
	}

	session, err := s.registry.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	prompt, ok := s.trail.Latest(sessionID)
	if !ok {
		turns, _ := s.ledger.Turns(sessionID)
		prompt = ai.RenderImagePrompt(session, turns)
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, &apperr.ValidationError{Field: "sessionId", Message: "no image prompt available"}
	}

	result, err := s.images.GenerateImage(ctx, prompt)
	if err != nil {
		log.Printf("[roleplay] session=%s image generation failed: %v", sessionID, err)
		return nil, err
	}
	return result, nil
}

// Transcript returns the session's turns. A session that has not chatted yet
// has an empty transcript.
func (s *Service) Transcript(ctx context.Context, sessionID string) ([]chat.Turn, error) {
	if _, err := s.registry.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	turns, _ := s.ledger.Turns(sessionID)
	if turns == nil {
		turns = []chat.Turn{}
	}
	return turns, nil
}
