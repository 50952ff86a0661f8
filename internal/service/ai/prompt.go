package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/z-scene/backend/internal/model/chat"
	"github.com/zhouzirui/z-scene/backend/internal/model/scene"
)

// SeedTemplate holds the fixed parts of the system instruction that opens
// every conversation.
type SeedTemplate struct {
	Framing      string
	StyleHints   []string
	ContextRules []string
}

// DefaultSeedTemplate is the romantic scene-partner framing used for every session.
var DefaultSeedTemplate = SeedTemplate{
	Framing: "You are a conversation partner, speaking on behalf of the character %s, in a romantic dialogue between two people: you (%s) and the user who is chatting with you.",
	StyleHints: []string{
		"Make the dialogue rich in emotional expression",
		"Respond with natural and engaging language so the conversation feels authentic and lively",
		"Start with pleasantries and gradually build up playful, emotionally charged interactions",
		"Describe actions, facial expressions and body language to make the conversation vivid",
	},
	ContextRules: []string{
		"Stay in character at all times",
		"Only write your own character's reply",
		"Never decide or write the user's lines",
	},
}

// RenderSeedInstruction builds the system instruction for session. The output
// depends only on the session attributes.
func RenderSeedInstruction(session scene.Session) string {
	return DefaultSeedTemplate.Render(session)
}

// Render fills the template with the session attributes.
func (t SeedTemplate) Render(session scene.Session) string {
	character := session.Character.Label()

	var b strings.Builder
	fmt.Fprintf(&b, "*Scene: %s*. ", session.Scene.Label())
	fmt.Fprintf(&b, t.Framing, character, character)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Character qualities: %s\n\n", session.CharacterQualities.Label())

	b.WriteString("Style:\n- ")
	b.WriteString(strings.Join(t.StyleHints, "\n- "))
	b.WriteString("\n\nRules:\n- ")
	b.WriteString(strings.Join(t.ContextRules, "\n- "))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Your first line in this dialogue was: %s\n", session.InitialMessage)
	fmt.Fprintf(&b, "Strictly generate %s's reply and do not decide the user's reply.", character)
	return b.String()
}

// RenderImagePrompt describes the current scene for the image provider: the
// character, its qualities, the setting and a digest of the conversation so far.
// It never fails; missing attributes render as empty text.
func RenderImagePrompt(session scene.Session, turns []chat.Turn) string {
	prompt := fmt.Sprintf("Generate a image of %s (with qualities %s) image at %s. convo history is %s",
		session.Character.Label(),
		session.CharacterQualities.Label(),
		session.Scene.Label(),
		conversationDigest(turns),
	)
	return foldNewlines(prompt)
}

func conversationDigest(turns []chat.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		lines = append(lines, turn.Message)
	}
	return strings.Join(lines, "; ")
}

func foldNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}
