package chatws_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/periskope/internal/backoff"
	"github.com/nfrund/periskope/internal/chatws"
	"github.com/nfrund/periskope/internal/database/memory"
	"github.com/nfrund/periskope/internal/domain"
	"github.com/nfrund/periskope/internal/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, store *memory.Store, label string) *httptest.Server {
	t.Helper()
	h := chatws.NewHandler(store, store,
		chatws.WithRetryer(func() backoff.Retryer {
			return backoff.NewExponentialBackoffRetryer(backoff.WithBaseDelay(time.Millisecond))
		}),
		chatws.WithPingInterval(time.Hour),
	)

	e := echo.New()
	withSession := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(middleware.SessionContextKey, &domain.Session{Email: strings.ToLower(label) + "@example.com", Label: label})
			return next(c)
		}
	}
	e.GET("/ws/chat", h.Serve, withSession)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, cmd map[string]any) {
	t.Helper()
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// readUntil reads frames until one contains want.
func readUntil(t *testing.T, conn *websocket.Conn, want string) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %q", want)
		if strings.Contains(string(data), want) {
			return string(data)
		}
	}
}

func TestServe_SelectAndSend(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	_, err := store.CreateConversation(ctx, "general", "General")
	require.NoError(t, err)
	_, err = store.InsertMessage(ctx, "general", "Bob", "hello from history")
	require.NoError(t, err)

	srv := newTestServer(t, store, "Alice")
	conn := dial(t, srv)

	readUntil(t, conn, "state-idle")

	send(t, conn, map[string]any{"type": "select", "conversation_id": "general", "HEADERS": map[string]string{"HX-Request": "true"}})
	frame := readUntil(t, conn, "hello from history")
	assert.Contains(t, frame, `hx-swap-oob="true"`)

	send(t, conn, map[string]any{"type": "send", "content": "hi bob"})
	readUntil(t, conn, "hi bob")

	msgs, err := store.ListMessages(ctx, "general")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Alice", msgs[1].Sender)
}

// collectUntil reads frames until one contains want and returns every frame
// read on the way, joined.
func collectUntil(t *testing.T, conn *websocket.Conn, want string) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var seen strings.Builder
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %q", want)
		seen.Write(data)
		if strings.Contains(string(data), want) {
			return seen.String()
		}
	}
}

func TestServe_SendFailureShowsBanner(t *testing.T) {
	store := memory.NewStore()
	_, err := store.CreateConversation(context.Background(), "general", "General")
	require.NoError(t, err)

	srv := newTestServer(t, store, "Alice")
	conn := dial(t, srv)

	send(t, conn, map[string]any{"type": "select", "conversation_id": "general"})
	readUntil(t, conn, "No messages yet.")

	store.FailInserts(assert.AnError)
	send(t, conn, map[string]any{"type": "send", "content": "lost"})
	frames := collectUntil(t, conn, `value="lost"`)
	assert.Contains(t, frames, "Your message could not be sent.")
	assert.Contains(t, frames, `id="composer"`)
}

func TestServe_SuccessfulSendLeavesComposerEmpty(t *testing.T) {
	store := memory.NewStore()
	_, err := store.CreateConversation(context.Background(), "general", "General")
	require.NoError(t, err)

	srv := newTestServer(t, store, "Alice")
	conn := dial(t, srv)

	send(t, conn, map[string]any{"type": "select", "conversation_id": "general"})
	readUntil(t, conn, "No messages yet.")

	send(t, conn, map[string]any{"type": "send", "content": "kept"})
	frames := collectUntil(t, conn, `id="msg-`)
	assert.NotContains(t, frames, `value="kept"`)
}

func TestServe_IgnoresInvalidCommands(t *testing.T) {
	store := memory.NewStore()
	_, err := store.CreateConversation(context.Background(), "general", "General")
	require.NoError(t, err)

	srv := newTestServer(t, store, "Alice")
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	send(t, conn, map[string]any{"type": "delete", "conversation_id": "general"})
	send(t, conn, map[string]any{"type": "select", "conversation_id": "general"})

	readUntil(t, conn, `data-conversation="general"`)
}

func TestServe_ClosingReleasesTheFeed(t *testing.T) {
	store := memory.NewStore()
	_, err := store.CreateConversation(context.Background(), "general", "General")
	require.NoError(t, err)

	srv := newTestServer(t, store, "Alice")
	conn := dial(t, srv)

	send(t, conn, map[string]any{"type": "select", "conversation_id": "general"})
	readUntil(t, conn, "No messages yet.")
	require.Eventually(t, func() bool { return store.Subscribers() == 1 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	assert.Eventually(t, func() bool { return store.Subscribers() == 0 }, 3*time.Second, 10*time.Millisecond)
}
