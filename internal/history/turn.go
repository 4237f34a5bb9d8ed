package history

import (
	"encoding/json"
	"strings"
	"time"
)

// Role tags who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one message in a session's history. Turns are immutable once
// stored; they are appended and possibly evicted, never edited or reordered.
type Turn struct {
	SessionID string          `json:"session_id"`
	Seq       int64           `json:"seq"`
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Tokens    int             `json:"tokens"`
	Truncated bool            `json:"truncated"`
	CreatedAt time.Time       `json:"created_at"`
}

// Session is the stored header row for one conversation.
type Session struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	TokenCount   int       `json:"token_count"`
}

// SessionInfo is a Session plus the aggregates the listing endpoint shows.
type SessionInfo struct {
	Session
	TurnCount int    `json:"message_count"`
	FirstUser string `json:"-"`
	Title     string `json:"title"`
}

// SessionView summarizes a session right after an append.
type SessionView struct {
	SessionID  string
	TokenCount int
	TurnCount  int
	LastSeq    int64
}

// TitleFromUtterance derives a short session title from the first user
// message: up to five words, ellipsized.
func TitleFromUtterance(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return "New conversation"
	}
	if len(words) <= 5 {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:5], " ") + "..."
}
