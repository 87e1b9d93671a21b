package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/nfrund/periskope/internal/domain"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// Rows arrive as generic maps both from queries and from live notifications,
// with record IDs and datetimes in whichever representation the driver
// decoded them to. These helpers normalise them.

func getString(row map[string]any, key string) string {
	switch v := row[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case models.RecordID:
		return fmt.Sprint(v.ID)
	case *models.RecordID:
		if v == nil {
			return ""
		}
		return fmt.Sprint(v.ID)
	default:
		return fmt.Sprint(v)
	}
}

// recordKey returns the key part of a record ID such as messages:01J...,
// stripping the table prefix.
func recordKey(v any, table string) (string, error) {
	switch id := v.(type) {
	case models.RecordID:
		return fmt.Sprint(id.ID), nil
	case *models.RecordID:
		if id == nil {
			return "", fmt.Errorf("%w: nil record id", ErrUnexpectedResult)
		}
		return fmt.Sprint(id.ID), nil
	case string:
		key := strings.TrimPrefix(id, table+":")
		// SurrealDB wraps complex keys in angle brackets.
		key = strings.TrimSuffix(strings.TrimPrefix(key, "⟨"), "⟩")
		if key == "" {
			return "", fmt.Errorf("%w: empty record id", ErrUnexpectedResult)
		}
		return key, nil
	default:
		return "", fmt.Errorf("%w: record id of type %T", ErrUnexpectedResult, v)
	}
}

func decodeTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case models.CustomDateTime:
		return t.Time.UTC(), nil
	case *models.CustomDateTime:
		if t == nil {
			return time.Time{}, fmt.Errorf("%w: nil datetime", ErrUnexpectedResult)
		}
		return t.Time.UTC(), nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrUnexpectedResult, err)
		}
		return parsed.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: datetime of type %T", ErrUnexpectedResult, v)
	}
}

func decodeMessage(data any) (domain.Message, error) {
	row, ok := data.(map[string]any)
	if !ok {
		return domain.Message{}, fmt.Errorf("%w: message row of type %T", ErrUnexpectedResult, data)
	}

	id, err := recordKey(row["id"], domain.MessagesTable)
	if err != nil {
		return domain.Message{}, err
	}
	createdAt, err := decodeTime(row["created_at"])
	if err != nil {
		return domain.Message{}, fmt.Errorf("message %s: %w", id, err)
	}

	return domain.Message{
		ID:             id,
		ConversationID: getString(row, "chat_id"),
		Sender:         getString(row, "sender"),
		Content:        getString(row, "content"),
		CreatedAt:      createdAt,
	}, nil
}

func decodeConversation(row map[string]any) (domain.Conversation, error) {
	id, err := recordKey(row["id"], chatsTable)
	if err != nil {
		return domain.Conversation{}, err
	}
	title := getString(row, "title")
	if title == "" {
		title = id
	}
	return domain.Conversation{ID: id, Title: title}, nil
}

func decodeLoginRequest(row map[string]any) (*domain.LoginRequest, error) {
	id, err := recordKey(row["id"], loginRequestTable)
	if err != nil {
		return nil, err
	}
	expiresAt, err := decodeTime(row["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("login request %s: %w", id, err)
	}

	req := &domain.LoginRequest{
		ID:        id,
		Email:     getString(row, "email"),
		Status:    domain.LoginStatus(getString(row, "status")),
		ExpiresAt: expiresAt,
	}
	if raw, ok := row["confirmed_at"]; ok && raw != nil {
		if at, err := decodeTime(raw); err == nil {
			req.ConfirmedAt = &at
		}
	}
	return req, nil
}
