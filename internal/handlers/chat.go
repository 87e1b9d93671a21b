package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/periskope/internal/domain"
	"github.com/nfrund/periskope/internal/middleware"
	"github.com/nfrund/periskope/internal/view"
)

// ChatHandler serves the chat page and the read-only JSON API.
type ChatHandler struct {
	store domain.MessageStore
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(store domain.MessageStore) *ChatHandler {
	return &ChatHandler{store: store}
}

// ChatsGet renders the chat page (GET /chats).
func (h *ChatHandler) ChatsGet(c echo.Context) error {
	sess := middleware.CurrentSession(c)
	flashes := view.GetFlashData(c)

	convs, err := h.store.ListConversations(c.Request().Context())
	if err != nil {
		middleware.FromContext(c.Request().Context()).Error("Failed to list conversations", "error", err)
		flashes.Error = append(flashes.Error, "Conversations could not be loaded.")
	}
	return render(c, http.StatusOK, view.ChatPage(sess.Label, convs, flashes))
}

// Conversations lists all conversations ordered by ID
// (GET /api/conversations).
func (h *ChatHandler) Conversations(c echo.Context) error {
	convs, err := h.store.ListConversations(c.Request().Context())
	if err != nil {
		middleware.FromContext(c.Request().Context()).Error("Failed to list conversations", "error", err)
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Code:    "fetch_failed",
			Message: "conversations could not be loaded",
		})
	}
	return c.JSON(http.StatusOK, NewConversationResponses(convs))
}

// Messages lists a conversation's history, oldest first
// (GET /api/conversations/:id/messages).
func (h *ChatHandler) Messages(c echo.Context) error {
	var req MessagesRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: "invalid_input", Message: err.Error()})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: "invalid_input", Message: "conversation id is required"})
	}

	msgs, err := h.store.ListMessages(c.Request().Context(), req.ConversationID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Code: "invalid_input", Message: "invalid conversation id"})
		}
		middleware.FromContext(c.Request().Context()).Error("Failed to list messages", "conversation_id", req.ConversationID, "error", err)
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Code:    "fetch_failed",
			Message: "messages could not be loaded",
		})
	}
	return c.JSON(http.StatusOK, NewMessageResponses(msgs))
}
