package domain

import (
	"context"
	"time"
)

// Message is a single chat message. Messages are immutable once the store
// has assigned their ID and CreatedAt.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Before reports whether m sorts before other in a conversation's timeline.
// Messages are ordered by creation time, with the store-assigned ID as the
// tie-break.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// Conversation is a chat thread messages belong to.
type Conversation struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// MessageStore is the durable, append-only store of messages keyed by
// conversation.
type MessageStore interface {
	// ListConversations returns all conversations ordered by ID.
	ListConversations(ctx context.Context) ([]Conversation, error)

	// ListMessages returns every message of a conversation ordered by
	// CreatedAt ascending.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)

	// InsertMessage stores a new message. The store assigns ID and CreatedAt.
	InsertMessage(ctx context.Context, conversationID, sender, content string) (*Message, error)
}
