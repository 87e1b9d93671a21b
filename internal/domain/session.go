package domain

import (
	"context"
	"time"
)

// Session is an authenticated user identity established by following a
// magic link.
type Session struct {
	Email    string    `json:"email"`
	Label    string    `json:"label"`
	IssuedAt time.Time `json:"issued_at"`
}

// LoginStatus tracks a magic link from issue to confirmation.
type LoginStatus string

const (
	LoginPending   LoginStatus = "pending"
	LoginConfirmed LoginStatus = "confirmed"
	LoginExpired   LoginStatus = "expired"
)

// LoginRequest is a single issued magic link.
type LoginRequest struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	Status      LoginStatus `json:"status"`
	ExpiresAt   time.Time   `json:"expires_at"`
	ConfirmedAt *time.Time  `json:"confirmed_at,omitempty"`
}

// Expired reports whether a still-pending request has passed its deadline.
func (r *LoginRequest) Expired(now time.Time) bool {
	return r.Status == LoginPending && !now.Before(r.ExpiresAt)
}

// LoginRequestRepository persists login requests so a link can be confirmed
// exactly once, possibly from a different device than the one that asked
// for it.
type LoginRequestRepository interface {
	Create(ctx context.Context, req *LoginRequest) error
	Get(ctx context.Context, id string) (*LoginRequest, error)

	// Confirm moves a pending, unexpired request to confirmed. It returns
	// ErrInvalidToken if the request is unknown, expired or already used.
	Confirm(ctx context.Context, id string, at time.Time) (*LoginRequest, error)
}

// SessionProvider issues passwordless sessions through emailed magic links.
type SessionProvider interface {
	RequestMagicLink(ctx context.Context, email string) (*LoginRequest, error)
	ConfirmMagicLink(ctx context.Context, token string) (*Session, error)
	LoginStatus(ctx context.Context, requestID string) (*LoginRequest, error)

	// WaitForConfirmation blocks until the request is confirmed, expires, or
	// ctx is done.
	WaitForConfirmation(ctx context.Context, requestID string) (*Session, error)
}
