package view_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nfrund/periskope/internal/chatsync"
	"github.com/nfrund/periskope/internal/domain"
	"github.com/nfrund/periskope/internal/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cmp "maragu.dev/gomponents"
)

func render(t *testing.T, n cmp.Node) string {
	t.Helper()
	var b strings.Builder
	require.NoError(t, n.Render(&b))
	return b.String()
}

func TestPageTitle(t *testing.T) {
	assert.Equal(t, "Chats - Periskope", view.PageTitle("Chats"))
	assert.Equal(t, "Periskope", view.PageTitle(""))
}

func TestLoginPage(t *testing.T) {
	html := render(t, view.LoginPage(view.LoginData{Email: "alice@example.com"}, view.FlashData{Error: []string{"Nope"}}))

	assert.True(t, strings.HasPrefix(html, "<!doctype html>"))
	assert.Contains(t, html, `action="/auth/login"`)
	assert.Contains(t, html, `value="alice@example.com"`)
	assert.Contains(t, html, "Nope")
	assert.Contains(t, html, "<title>Log in - Periskope</title>")
}

func TestLoginPendingPage_PollsStatus(t *testing.T) {
	html := render(t, view.LoginPendingPage("alice@example.com", time.Now().Add(time.Minute), view.FlashData{}))

	assert.Contains(t, html, `hx-get="/auth/status"`)
	assert.Contains(t, html, `hx-trigger="every 2s"`)
	assert.Contains(t, html, "alice@example.com")
}

func TestChatPage(t *testing.T) {
	convs := []domain.Conversation{{ID: "general", Title: "General"}, {ID: "random", Title: "Random"}}
	html := render(t, view.ChatPage("Alice", convs, view.FlashData{}))

	assert.Contains(t, html, `ws-connect="/ws/chat"`)
	assert.Contains(t, html, `value="general"`)
	assert.Contains(t, html, "Random")
	assert.Contains(t, html, `id="messages"`)
	assert.Contains(t, html, `id="composer"`)
	assert.Contains(t, html, "Signed in as ")
}

func TestMessages(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	msgs := []domain.Message{
		{ID: "m1", ConversationID: "general", Sender: "Bob", Content: "<b>hi</b>", CreatedAt: at},
		{ID: "m2", ConversationID: "general", Sender: "Alice", Content: "hello", CreatedAt: at.Add(time.Second)},
	}
	html := render(t, view.Messages("general", msgs, "Alice"))

	assert.Contains(t, html, `hx-swap-oob="true"`)
	assert.Contains(t, html, "&lt;b&gt;hi&lt;/b&gt;", "content must be escaped")
	assert.Less(t, strings.Index(html, `id="msg-m1"`), strings.Index(html, `id="msg-m2"`))
	assert.Contains(t, html, `class="message own"`)

	assert.Contains(t, render(t, view.Messages("", nil, "Alice")), "Select a conversation.")
	assert.Contains(t, render(t, view.Messages("general", nil, "Alice")), "No messages yet.")
}

func TestComposer(t *testing.T) {
	assert.Contains(t, render(t, view.Composer("")), "disabled")
	assert.NotContains(t, render(t, view.Composer("general")), "disabled")
	assert.Contains(t, render(t, view.Composer("general")), `hx-on::ws-after-send="this.reset()"`)
	assert.Equal(t, 1, strings.Count(render(t, view.Composer("general")), "value="), "only the hidden type input carries a value")

	html := render(t, view.ComposerDraft("general", `say "hi" <b>`))
	assert.Contains(t, html, `value="say &#34;hi&#34; &lt;b&gt;"`)
}

func TestSyncStateAndBanner(t *testing.T) {
	assert.Contains(t, render(t, view.SyncState(chatsync.StateReconnecting)), "state-reconnecting")
	assert.NotContains(t, render(t, view.Banner("")), "alert")
	assert.Contains(t, render(t, view.Banner("Oops")), "Oops")
}

func TestNoticeText(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("%w: timeout", domain.ErrSendFailed), "Your message could not be sent. Please try again."},
		{fmt.Errorf("%w: timeout", domain.ErrFetchFailed), "Messages could not be loaded."},
		{fmt.Errorf("%w: reset", domain.ErrSubscriptionDropped), "Live updates were interrupted."},
		{errors.New("other"), "Something went wrong."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, view.NoticeText(tt.err))
	}
}
