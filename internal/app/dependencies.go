// Package app assembles the services shared by the server and the CLI from
// configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nfrund/periskope/internal/auth"
	"github.com/nfrund/periskope/internal/config"
	"github.com/nfrund/periskope/internal/domain"
	"github.com/nfrund/periskope/internal/email"
	"github.com/nfrund/periskope/internal/pubsub"
)

// ConversationStore is a MessageStore that can also create conversations.
type ConversationStore interface {
	domain.MessageStore
	CreateConversation(ctx context.Context, id, title string) (*domain.Conversation, error)
}

// Dependencies holds the core services required by the application.
type Dependencies struct {
	Config   config.Provider
	Store    ConversationStore
	Feed     domain.ChangeFeed
	Logins   domain.LoginRequestRepository
	Bus      pubsub.PubSub
	Emailer  domain.EmailSender
	Sessions domain.SessionProvider

	// Healthy reports whether the store backend is reachable.
	Healthy func() bool

	closers []func(context.Context) error
}

// Build opens the configured store and wires every service on top of it.
// The caller must Close the result.
func Build(ctx context.Context, cfg config.Provider) (*Dependencies, error) {
	deps := &Dependencies{Config: cfg}

	if err := deps.openBackend(ctx); err != nil {
		return nil, err
	}

	bus := pubsub.NewBus(pubsub.WithBusLogger(slog.Default()))
	deps.Bus = bus
	deps.onClose(func(context.Context) error { return bus.Close() })

	emailer, err := email.NewEmailService(cfg)
	if err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("email service: %w", err)
	}
	deps.Emailer = emailer

	sessions, err := auth.NewService(deps.Logins, emailer, bus, auth.Config{
		Secret:  []byte(cfg.GetMagicLinkSecret()),
		TTL:     cfg.GetMagicLinkTTL(),
		BaseURL: cfg.GetAppBaseURL(),
	})
	if err != nil {
		_ = deps.Close(ctx)
		return nil, err
	}
	deps.Sessions = sessions

	slog.Info("Application services ready", "store", cfg.GetStoreDriver(), "email", cfg.GetEmailProvider())
	return deps, nil
}

func (d *Dependencies) onClose(fn func(context.Context) error) {
	d.closers = append(d.closers, fn)
}

// Close releases everything Build opened, newest first.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
