package ai

import "github.com/zhouzirui/z-scene/backend/internal/model/chat"

// ContextWindow selects which ledger turns are sent to the chat model.
type ContextWindow interface {
	Select(turns []chat.Turn) []chat.Turn
}

// FullHistory sends the entire ledger.
type FullHistory struct{}

func (FullHistory) Select(turns []chat.Turn) []chat.Turn {
	return turns
}

// RecentTurns keeps the system seed plus the last Limit turns after it.
// A Limit of zero or less behaves like FullHistory.
type RecentTurns struct {
	Limit int
}

func (w RecentTurns) Select(turns []chat.Turn) []chat.Turn {
	if w.Limit <= 0 || len(turns) == 0 {
		return turns
	}

	var seed []chat.Turn
	rest := turns
	if turns[0].Role == chat.RoleSystem {
		seed, rest = turns[:1], turns[1:]
	}
	if len(rest) <= w.Limit {
		return turns
	}

	selected := make([]chat.Turn, 0, len(seed)+w.Limit)
	selected = append(selected, seed...)
	return append(selected, rest[len(rest)-w.Limit:]...)
}

// WindowFor returns RecentTurns for a positive limit and FullHistory otherwise.
func WindowFor(limit int) ContextWindow {
	if limit > 0 {
		return RecentTurns{Limit: limit}
	}
	return FullHistory{}
}
