// Package chatws bridges a browser websocket to a chatsync.Synchronizer.
// Each connection owns exactly one Synchronizer for its lifetime.
package chatws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/periskope/internal/backoff"
	"github.com/nfrund/periskope/internal/chatsync"
	"github.com/nfrund/periskope/internal/domain"
	"github.com/nfrund/periskope/internal/middleware"
)

const (
	writeTimeout = 10 * time.Second
	sendTimeout  = 15 * time.Second
	maxFrameSize = 16 << 10
)

// Command is a client to server message. htmx's ws-send also includes a
// HEADERS object, which is ignored.
type Command struct {
	Type           string `json:"type" validate:"required,oneof=select send"`
	ConversationID string `json:"conversation_id" validate:"max=128"`
	Content        string `json:"content" validate:"max=4000"`
}

// Option configures a Handler.
type Option func(*Handler)

// WithRetryer supplies the backoff for each connection's feed resubscription.
func WithRetryer(newRetryer func() backoff.Retryer) Option {
	return func(h *Handler) { h.newRetryer = newRetryer }
}

// WithOriginPatterns restricts cross-origin upgrades to the given hosts.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.originPatterns = patterns }
}

// WithPingInterval sets how often idle connections are pinged.
func WithPingInterval(d time.Duration) Option {
	return func(h *Handler) { h.pingInterval = d }
}

// Handler serves GET /ws/chat.
type Handler struct {
	store          domain.MessageStore
	feed           domain.ChangeFeed
	newRetryer     func() backoff.Retryer
	originPatterns []string
	pingInterval   time.Duration
	validate       *validator.Validate
}

// NewHandler creates a Handler backed by store and feed.
func NewHandler(store domain.MessageStore, feed domain.ChangeFeed, opts ...Option) *Handler {
	h := &Handler{
		store: store,
		feed:  feed,
		newRetryer: func() backoff.Retryer {
			return backoff.NewExponentialBackoffRetryer()
		},
		pingInterval: 30 * time.Second,
		validate:     validator.New(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve upgrades the request and runs the connection until either side
// closes it. It must be behind middleware.Auth.
func (h *Handler) Serve(c echo.Context) error {
	sess := middleware.CurrentSession(c)
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "login required")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		middleware.FromContext(c.Request().Context()).Warn("Failed to upgrade connection to WebSocket", "error", err)
		return nil
	}
	conn.SetReadLimit(maxFrameSize)

	id := uuid.NewString()
	logger := middleware.FromContext(c.Request().Context()).With("client_id", id, "identity", sess.Label)
	cl := newClient(id, sess.Label, conn, logger)
	syncer := chatsync.New(h.store, h.feed, sess.Label,
		chatsync.WithListener(cl),
		chatsync.WithLogger(logger),
		chatsync.WithRetryer(h.newRetryer()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Chat client connected")
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- cl.writePump(ctx, h.pingInterval)
		cancel()
	}()

	// Initial render of the empty pane.
	cl.StateChanged(chatsync.StateIdle)

	readErr := h.readLoop(ctx, conn, syncer, cl, logger)
	cancel()
	_ = syncer.Close()
	werr := <-writeErr

	if status := websocket.CloseStatus(readErr); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		logger.Info("Chat client disconnected")
	} else if werr != nil && !errors.Is(werr, context.Canceled) {
		logger.Warn("WebSocket write error", "error", werr)
	} else {
		logger.Warn("WebSocket read error", "error", readErr)
	}
	conn.Close(websocket.StatusNormalClosure, "")
	return nil
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, syncer *chatsync.Synchronizer, cl *client, logger *slog.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			logger.Debug("Ignoring malformed command", "error", err)
			continue
		}
		if err := h.validate.Struct(cmd); err != nil {
			logger.Debug("Ignoring invalid command", "type", cmd.Type, "error", err)
			continue
		}

		switch cmd.Type {
		case "select":
			// The switch is immediate; history loads in the background.
			done := syncer.SelectAsync(ctx, cmd.ConversationID)
			go func(conversationID string) {
				if err := <-done; err != nil && !errors.Is(err, chatsync.ErrClosed) && ctx.Err() == nil {
					logger.Debug("Select finished with error", "conversation_id", conversationID, "error", err)
				}
			}(cmd.ConversationID)
		case "send":
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			err := syncer.Send(sendCtx, cmd.Content)
			cancel()
			switch {
			case err == nil:
				cl.sent()
			case errors.Is(err, domain.ErrSendFailed):
				cl.restore(cmd.Content)
			}
		}
	}
}
