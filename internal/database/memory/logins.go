package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nfrund/periskope/internal/domain"
)

// LoginRequests is an in-memory domain.LoginRequestRepository.
type LoginRequests struct {
	mu   sync.Mutex
	reqs map[string]domain.LoginRequest
}

var _ domain.LoginRequestRepository = (*LoginRequests)(nil)

// NewLoginRequests creates an empty repository.
func NewLoginRequests() *LoginRequests {
	return &LoginRequests{reqs: make(map[string]domain.LoginRequest)}
}

func (l *LoginRequests) Create(_ context.Context, req *domain.LoginRequest) error {
	if req == nil || strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Email) == "" {
		return fmt.Errorf("%w: login request id and email are required", domain.ErrInvalidInput)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.reqs[req.ID]; exists {
		return fmt.Errorf("%w: login request %s already exists", domain.ErrInvalidInput, req.ID)
	}
	stored := *req
	stored.Status = domain.LoginPending
	stored.ConfirmedAt = nil
	l.reqs[req.ID] = stored
	return nil
}

func (l *LoginRequests) Get(_ context.Context, id string) (*domain.LoginRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	req, ok := l.reqs[id]
	if !ok {
		return nil, fmt.Errorf("login request %s: %w", id, domain.ErrNotFound)
	}
	if req.Expired(time.Now()) {
		req.Status = domain.LoginExpired
	}
	return &req, nil
}

func (l *LoginRequests) Confirm(_ context.Context, id string, at time.Time) (*domain.LoginRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	req, ok := l.reqs[id]
	if !ok || req.Status != domain.LoginPending || !at.Before(req.ExpiresAt) {
		return nil, domain.ErrInvalidToken
	}
	at = at.UTC()
	req.Status = domain.LoginConfirmed
	req.ConfirmedAt = &at
	l.reqs[id] = req
	return &req, nil
}
