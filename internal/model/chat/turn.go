package chat

import "fmt"

// Role tags who authored a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// UserLabel is the speaker label used for user turns in display strings.
const UserLabel = "user"

// Turn is one message event in a conversation. Message is the display form
// "<speaker>: <content>" and is always derived from Content.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Message string `json:"message,omitempty"`
}

// NewTurn builds a turn whose display string matches its content.
func NewTurn(role Role, speaker, content string) Turn {
	return Turn{
		Role:    role,
		Content: content,
		Message: DisplayString(speaker, content),
	}
}

// DisplayString renders the speaker-prefixed form of a turn.
func DisplayString(speaker, content string) string {
	return fmt.Sprintf("%s: %s", speaker, content)
}
