package scene

import (
	"strings"
	"time"
)

// Session captures the fixed parameters of one roleplay conversation. It is
// written once at creation and never mutated afterwards.
type Session struct {
	Character          Attribute `json:"character"`
	CharacterQualities Attribute `json:"characterQualities"`
	Scene              Attribute `json:"scene"`
	InitialMessage     string    `json:"initialMessage"`
	CreatedAt          time.Time `json:"createdAt"`
}

// MissingFields lists the required attributes that are empty, in request order.
func (s Session) MissingFields() []string {
	var missing []string
	if s.Character.IsZero() {
		missing = append(missing, "character")
	}
	if s.Scene.IsZero() {
		missing = append(missing, "scene")
	}
	if s.CharacterQualities.IsZero() {
		missing = append(missing, "characterQualities")
	}
	if strings.TrimSpace(s.InitialMessage) == "" {
		missing = append(missing, "initialMessage")
	}
	return missing
}

// SpeakerLabel is the name the character speaks under in display strings.
func (s Session) SpeakerLabel() string {
	return s.Character.Label()
}
