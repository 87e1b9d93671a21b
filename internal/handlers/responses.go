package handlers

import (
	"time"

	"github.com/nfrund/periskope/internal/domain"
)

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConversationResponse is the API view of a conversation.
type ConversationResponse struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// MessageResponse is the API view of a message.
type MessageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewConversationResponses converts domain conversations for the API.
func NewConversationResponses(convs []domain.Conversation) []ConversationResponse {
	out := make([]ConversationResponse, len(convs))
	for i, c := range convs {
		out[i] = ConversationResponse{ID: c.ID, Title: c.Title}
	}
	return out
}

// NewMessageResponses converts domain messages for the API.
func NewMessageResponses(msgs []domain.Message) []MessageResponse {
	out := make([]MessageResponse, len(msgs))
	for i, m := range msgs {
		out[i] = MessageResponse{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			Sender:         m.Sender,
			Content:        m.Content,
			CreatedAt:      m.CreatedAt.UTC(),
		}
	}
	return out
}
