package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nfrund/periskope/internal/domain"
	"github.com/nfrund/periskope/internal/metrics"
	"github.com/surrealdb/surrealdb.go"
)

const chatsTable = "chats"

// MessageStore is the SurrealDB implementation of domain.MessageStore.
type MessageStore struct {
	conn DBConnection
}

var _ domain.MessageStore = (*MessageStore)(nil)

// NewMessageStore creates a message store on top of a managed connection.
func NewMessageStore(conn DBConnection) *MessageStore {
	return &MessageStore{conn: conn}
}

func (s *MessageStore) query(ctx context.Context, op, query string, params map[string]any) ([]map[string]any, error) {
	ctx, cancel := readContext(ctx, s.conn)
	defer cancel()
	defer observe(op)()

	var rows []map[string]any
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = Query[map[string]any](ctx, db, query, params)
		return err
	})
	if err != nil {
		return nil, opError(op, err)
	}
	return rows, nil
}

// ListConversations returns every chat ordered by ID.
func (s *MessageStore) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	rows, err := s.query(ctx, "list_conversations", "SELECT id, title FROM chats ORDER BY id ASC", nil)
	if err != nil {
		return nil, err
	}

	conversations := make([]domain.Conversation, 0, len(rows))
	for _, row := range rows {
		c, err := decodeConversation(row)
		if err != nil {
			return nil, opError("list_conversations", err)
		}
		conversations = append(conversations, c)
	}
	return conversations, nil
}

// ListMessages returns a chat's messages, oldest first.
func (s *MessageStore) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, fmt.Errorf("%w: conversation id is required", ErrInvalidInput)
	}

	rows, err := s.query(ctx, "list_messages",
		"SELECT * FROM messages WHERE chat_id = $chat_id ORDER BY created_at ASC, id ASC",
		map[string]any{"chat_id": conversationID})
	if err != nil {
		return nil, err
	}

	messages := make([]domain.Message, 0, len(rows))
	for _, row := range rows {
		m, err := decodeMessage(row)
		if err != nil {
			return nil, opError("list_messages", err)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// InsertMessage appends a message. The record ID is a ULID and created_at is
// stamped by the database, so IDs sort in insertion order.
func (s *MessageStore) InsertMessage(ctx context.Context, conversationID, sender, content string) (*domain.Message, error) {
	if strings.TrimSpace(conversationID) == "" || strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: conversation id and content are required", ErrInvalidInput)
	}

	ctx, cancel := writeContext(ctx, s.conn)
	defer cancel()
	defer observe("insert_message")()

	query := `CREATE messages:ulid() SET chat_id = $chat_id, sender = $sender, content = $content, created_at = time::now()`
	params := map[string]any{
		"chat_id": conversationID,
		"sender":  sender,
		"content": content,
	}

	// Not routed through WithConnection: a retried CREATE could store the
	// message twice under different IDs.
	db, err := s.conn.DB()
	if err != nil {
		return nil, opError("insert_message", err)
	}
	row, err := QueryOne[map[string]any](ctx, db, query, params)
	if err != nil {
		return nil, opError("insert_message", err)
	}
	if row == nil {
		return nil, &StoreError{Op: "insert_message", Query: query, Err: fmt.Errorf("%w: no record returned", ErrUnexpectedResult)}
	}

	msg, err := decodeMessage(*row)
	if err != nil {
		return nil, opError("insert_message", err)
	}
	return &msg, nil
}

// CreateConversation creates a chat, or updates its title if it exists.
func (s *MessageStore) CreateConversation(ctx context.Context, id, title string) (*domain.Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: conversation id is required", ErrInvalidInput)
	}

	rows, err := s.query(ctx, "create_conversation",
		"UPSERT type::thing('chats', $id) SET title = $title",
		map[string]any{"id": id, "title": title})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &StoreError{Op: "create_conversation", Err: fmt.Errorf("%w: no record returned", ErrUnexpectedResult)}
	}
	c, err := decodeConversation(rows[0])
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func observe(op string) func() {
	start := time.Now()
	return func() {
		metrics.StoreLatency.WithLabelValues("surreal", op).Observe(time.Since(start).Seconds())
	}
}
