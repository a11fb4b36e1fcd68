package domain

import (
	"encoding/json"
	"time"
)

// ConversationTurn represents one completed user/assistant exchange.
// Turns are immutable once written; a session's turns are ordered by
// CreatedAt with insertion order breaking ties.
type ConversationTurn struct {
	ID          string
	SessionID   string
	UserMessage string
	AIMessage   string
	Embedding   []float32
	CreatedAt   time.Time
}

// EmbeddingText serializes the turn into the text that gets embedded.
func (t *ConversationTurn) EmbeddingText() string {
	b, _ := json.Marshal(map[string]string{
		"user_message": t.UserMessage,
		"ai_message":   t.AIMessage,
	})
	return string(b)
}
