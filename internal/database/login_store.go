package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nfrund/periskope/internal/domain"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

const loginRequestTable = "login_request"

// LoginRequestStore persists magic link requests in SurrealDB.
type LoginRequestStore struct {
	conn DBConnection
}

var _ domain.LoginRequestRepository = (*LoginRequestStore)(nil)

// NewLoginRequestStore creates a login request store.
func NewLoginRequestStore(conn DBConnection) *LoginRequestStore {
	return &LoginRequestStore{conn: conn}
}

func (s *LoginRequestStore) exec(ctx context.Context, op, query string, params map[string]any) ([]map[string]any, error) {
	ctx, cancel := writeContext(ctx, s.conn)
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

// Create stores a new pending request under req.ID.
func (s *LoginRequestStore) Create(ctx context.Context, req *domain.LoginRequest) error {
	if req == nil || strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Email) == "" {
		return fmt.Errorf("%w: login request id and email are required", ErrInvalidInput)
	}

	_, err := s.exec(ctx, "create_login_request",
		"CREATE type::thing('login_request', $id) CONTENT { email: $email, status: $status, expires_at: $expires_at }",
		map[string]any{
			"id":         req.ID,
			"email":      req.Email,
			"status":     string(domain.LoginPending),
			"expires_at": models.CustomDateTime{Time: req.ExpiresAt.UTC()},
		})
	return err
}

// Get loads a request. Pending requests past their deadline are reported as
// expired.
func (s *LoginRequestStore) Get(ctx context.Context, id string) (*domain.LoginRequest, error) {
	rows, err := s.exec(ctx, "get_login_request",
		"SELECT * FROM type::thing('login_request', $id)",
		map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("login request %s: %w", id, ErrNotFound)
	}

	req, err := decodeLoginRequest(rows[0])
	if err != nil {
		return nil, err
	}
	if req.Expired(time.Now()) {
		req.Status = domain.LoginExpired
	}
	return req, nil
}

// Confirm flips a pending, unexpired request to confirmed. The WHERE clause
// makes the transition happen at most once.
func (s *LoginRequestStore) Confirm(ctx context.Context, id string, at time.Time) (*domain.LoginRequest, error) {
	rows, err := s.exec(ctx, "confirm_login_request",
		`UPDATE type::thing('login_request', $id)
			SET status = $confirmed, confirmed_at = $at
			WHERE status = $pending AND expires_at > $at
			RETURN AFTER`,
		map[string]any{
			"id":        id,
			"confirmed": string(domain.LoginConfirmed),
			"pending":   string(domain.LoginPending),
			"at":        models.CustomDateTime{Time: at.UTC()},
		})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.ErrInvalidToken
	}
	return decodeLoginRequest(rows[0])
}
