// Package auth issues and confirms passwordless magic links.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/nfrund/periskope/internal/domain"
	"github.com/nfrund/periskope/internal/metrics"
	"github.com/nfrund/periskope/internal/pubsub"
)

// LoginConfirmedPayload is published when a magic link is followed.
type LoginConfirmedPayload struct {
	RequestID   string    `json:"request_id"`
	Email       string    `json:"email"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// LoginConfirmed fires once per confirmed login request, keyed by request ID.
var LoginConfirmed = pubsub.NewEvent[LoginConfirmedPayload](
	"auth.login.confirmed",
	"A magic link was followed and its login request confirmed",
)

// Config holds the settings of a Service.
type Config struct {
	Secret  []byte
	TTL     time.Duration
	BaseURL string

	// PollInterval bounds how long WaitForConfirmation trusts the event bus
	// before re-reading the request. Confirmations made by another process
	// are only seen this way.
	PollInterval time.Duration
}

// Service implements domain.SessionProvider with signed, single-use links.
type Service struct {
	logins   domain.LoginRequestRepository
	emailer  domain.EmailSender
	bus      pubsub.PubSub
	cfg      Config
	validate *validator.Validate
	now      func() time.Time
}

var _ domain.SessionProvider = (*Service)(nil)

// NewService creates a Service.
func NewService(logins domain.LoginRequestRepository, emailer domain.EmailSender, bus pubsub.PubSub, cfg Config) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Service{
		logins:   logins,
		emailer:  emailer,
		bus:      bus,
		cfg:      cfg,
		validate: validator.New(),
		now:      time.Now,
	}, nil
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RequestMagicLink records a pending login request and emails its link.
func (s *Service) RequestMagicLink(ctx context.Context, email string) (*domain.LoginRequest, error) {
	email = NormalizeEmail(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		metrics.MagicLinksRequested.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %w: not a valid email address", domain.ErrAuthRequestFailed, domain.ErrInvalidInput)
	}

	now := s.now()
	req := &domain.LoginRequest{
		ID:        uuid.NewString(),
		Email:     email,
		Status:    domain.LoginPending,
		ExpiresAt: now.Add(s.cfg.TTL).UTC(),
	}
	if err := s.logins.Create(ctx, req); err != nil {
		metrics.MagicLinksRequested.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthRequestFailed, err)
	}

	token, err := issueToken(s.cfg.Secret, req, now)
	if err != nil {
		metrics.MagicLinksRequested.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthRequestFailed, err)
	}

	link := s.cfg.BaseURL + "/auth/verify?token=" + url.QueryEscape(token)
	body, err := magicLinkEmail(link, s.cfg.TTL)
	if err == nil {
		err = s.emailer.Send(ctx, email, magicLinkSubject, body)
	}
	if err != nil {
		metrics.MagicLinksRequested.WithLabelValues("failed").Inc()
		slog.ErrorContext(ctx, "Failed to deliver magic link", "event", "magic_link_delivery_failure", "request_id", req.ID, "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthRequestFailed, err)
	}

	metrics.MagicLinksRequested.WithLabelValues("ok").Inc()
	slog.InfoContext(ctx, "Magic link issued", "event", "magic_link_issued", "request_id", req.ID)
	return req, nil
}

// ConfirmMagicLink validates token, confirms its login request exactly once
// and returns the new session.
func (s *Service) ConfirmMagicLink(ctx context.Context, token string) (*domain.Session, error) {
	now := s.now()
	claims, err := parseToken(s.cfg.Secret, token, now)
	if err != nil {
		metrics.MagicLinksConfirmed.WithLabelValues("invalid").Inc()
		return nil, err
	}

	req, err := s.logins.Confirm(ctx, claims.ID, now)
	if err != nil {
		metrics.MagicLinksConfirmed.WithLabelValues("invalid").Inc()
		if errors.Is(err, domain.ErrInvalidToken) {
			return nil, err
		}
		return nil, fmt.Errorf("confirm login request: %w", err)
	}
	if req.Email != claims.Subject {
		metrics.MagicLinksConfirmed.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: token subject mismatch", domain.ErrInvalidToken)
	}

	confirmedAt := now.UTC()
	if req.ConfirmedAt != nil {
		confirmedAt = *req.ConfirmedAt
	}
	if s.bus != nil {
		payload := LoginConfirmedPayload{RequestID: req.ID, Email: req.Email, ConfirmedAt: confirmedAt}
		if err := pubsub.Publish(ctx, s.bus, LoginConfirmed, req.ID, payload); err != nil {
			// Waiters fall back to polling.
			slog.WarnContext(ctx, "Failed to publish login confirmation", "request_id", req.ID, "error", err)
		}
	}

	metrics.MagicLinksConfirmed.WithLabelValues("ok").Inc()
	slog.InfoContext(ctx, "Magic link confirmed", "event", "magic_link_confirmed", "request_id", req.ID)
	return newSession(req.Email, confirmedAt), nil
}

// LoginStatus reports the current state of a login request.
func (s *Service) LoginStatus(ctx context.Context, requestID string) (*domain.LoginRequest, error) {
	return s.logins.Get(ctx, requestID)
}

// WaitForConfirmation blocks until requestID is confirmed, has expired, or
// ctx is done. It listens for LoginConfirmed and re-reads the request every
// PollInterval.
func (s *Service) WaitForConfirmation(ctx context.Context, requestID string) (*domain.Session, error) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	confirmed := make(chan struct{}, 1)
	if s.bus != nil {
		// Subscribe before the first read so a confirmation in between is not missed.
		err := pubsub.Subscribe(waitCtx, s.bus, LoginConfirmed, func(_ context.Context, key string, _ LoginConfirmedPayload) error {
			if key == requestID {
				select {
				case confirmed <- struct{}{}:
				default:
				}
			}
			return nil
		})
		if err != nil {
			slog.WarnContext(ctx, "Login confirmation events unavailable, polling only", "request_id", requestID, "error", err)
		}
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		req, err := s.logins.Get(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if req.Expired(s.now()) {
			req.Status = domain.LoginExpired
		}
		switch req.Status {
		case domain.LoginConfirmed:
			at := s.now().UTC()
			if req.ConfirmedAt != nil {
				at = *req.ConfirmedAt
			}
			return newSession(req.Email, at), nil
		case domain.LoginExpired:
			return nil, fmt.Errorf("%w: login request expired", domain.ErrInvalidToken)
		}

		expiry := time.NewTimer(time.Until(req.ExpiresAt))
		select {
		case <-ctx.Done():
			expiry.Stop()
			return nil, ctx.Err()
		case <-confirmed:
		case <-ticker.C:
		case <-expiry.C:
		}
		expiry.Stop()
	}
}

func newSession(email string, issuedAt time.Time) *domain.Session {
	return &domain.Session{
		Email:    email,
		Label:    LabelFor(email),
		IssuedAt: issuedAt,
	}
}
