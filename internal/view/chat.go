package view

import (
	"errors"

	"github.com/nfrund/periskope/internal/chatsync"
	"github.com/nfrund/periskope/internal/domain"
	cmp "maragu.dev/gomponents"
	hx "maragu.dev/gomponents-htmx"
	g "maragu.dev/gomponents/html"
)

// ChatPage is the conversation list plus the live message pane. The pane is
// driven over the /ws/chat websocket.
func ChatPage(identity string, convs []domain.Conversation, flashes FlashData) cmp.Node {
	return Page("Chats", flashes,
		g.Header(
			g.Class("topbar"),
			g.Span(g.Class("brand"), cmp.Text("Periskope")),
			g.Span(g.Class("identity"), cmp.Text("Signed in as "), g.Strong(cmp.Text(identity))),
			g.Form(
				g.Method("post"),
				g.Action("/auth/logout"),
				g.Button(g.Type("submit"), g.Class("link"), cmp.Text("Log out")),
			),
		),
		g.Div(
			g.Class("chat"),
			hx.Ext("ws"),
			cmp.Attr("ws-connect", "/ws/chat"),
			g.Aside(
				g.Class("conversations"),
				g.H2(cmp.Text("Conversations")),
				ConversationList(convs),
			),
			g.Section(
				g.Class("pane"),
				SyncState(chatsync.StateIdle),
				Banner(""),
				Messages("", nil, identity),
				Composer(""),
			),
		),
	)
}

// ConversationList renders one select button per conversation.
func ConversationList(convs []domain.Conversation) cmp.Node {
	if len(convs) == 0 {
		return g.P(g.Class("muted"), cmp.Text("No conversations yet."))
	}
	return g.Ul(
		cmp.Map(convs, func(c domain.Conversation) cmp.Node {
			return g.Li(
				g.Form(
					cmp.Attr("ws-send"),
					g.Input(g.Type("hidden"), g.Name("type"), g.Value("select")),
					g.Input(g.Type("hidden"), g.Name("conversation_id"), g.Value(c.ID)),
					g.Button(g.Type("submit"), cmp.Text(c.Title)),
				),
			)
		}),
	)
}

// SyncState shows whether the pane is live.
func SyncState(state chatsync.State) cmp.Node {
	return g.Div(
		g.ID("sync-state"),
		hx.SwapOOB("true"),
		g.Class("sync-state state-"+state.String()),
		cmp.Text(stateLabel(state)),
	)
}

func stateLabel(state chatsync.State) string {
	switch state {
	case chatsync.StateLoading:
		return "Loading…"
	case chatsync.StateLive:
		return "Live"
	case chatsync.StateReconnecting:
		return "Reconnecting…"
	case chatsync.StateStalled:
		return "Live updates stopped. Select the conversation again to retry."
	case chatsync.StateClosed:
		return "Disconnected"
	default:
		return ""
	}
}

// Banner shows a non-blocking error notice. An empty text clears it.
func Banner(text string) cmp.Node {
	return g.Div(
		g.ID("banner"),
		hx.SwapOOB("true"),
		cmp.If(text != "", g.Div(g.Class("flash flash-error"), cmp.Attr("role", "alert"), cmp.Text(text))),
	)
}

// NoticeText turns a synchronizer notice into a sentence for the banner.
func NoticeText(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrSendFailed):
		return "Your message could not be sent. Please try again."
	case errors.Is(err, domain.ErrFetchFailed):
		return "Messages could not be loaded."
	case errors.Is(err, domain.ErrSubscriptionDropped):
		return "Live updates were interrupted."
	case errors.Is(err, domain.ErrAuthRequestFailed):
		return "The login link could not be sent."
	default:
		return "Something went wrong."
	}
}

// Messages replaces the message list. Messages sent as identity are marked
// as own messages.
func Messages(conversationID string, msgs []domain.Message, identity string) cmp.Node {
	var body cmp.Node
	switch {
	case conversationID == "":
		body = g.P(g.Class("muted"), cmp.Text("Select a conversation."))
	case len(msgs) == 0:
		body = g.P(g.Class("muted"), cmp.Text("No messages yet."))
	default:
		body = g.Ol(
			g.Class("messages"),
			cmp.Map(msgs, func(m domain.Message) cmp.Node {
				return MessageItem(m, m.Sender == identity)
			}),
		)
	}
	return g.Div(
		g.ID("messages"),
		hx.SwapOOB("true"),
		cmp.If(conversationID != "", cmp.Attr("data-conversation", conversationID)),
		body,
	)
}

// MessageItem renders one message.
func MessageItem(m domain.Message, own bool) cmp.Node {
	class := "message"
	if own {
		class += " own"
	}
	return g.Li(
		g.ID("msg-"+m.ID),
		g.Class(class),
		g.Div(
			g.Class("meta"),
			g.Span(g.Class("sender"), cmp.Text(m.Sender)),
			g.Span(g.Class("time"), cmp.Attr("title", m.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST")), cmp.Text(m.CreatedAt.Local().Format("15:04"))),
		),
		g.P(g.Class("content"), cmp.Text(m.Content)),
	)
}

// Composer is the message input. It is disabled until a conversation is
// selected. The browser clears it as soon as the frame is sent.
func Composer(conversationID string) cmp.Node {
	return ComposerDraft(conversationID, "")
}

// ComposerDraft renders the composer with draft put back into the input,
// used when a send fails after the browser already cleared it.
func ComposerDraft(conversationID, draft string) cmp.Node {
	disabled := conversationID == ""
	return g.Form(
		g.ID("composer"),
		hx.SwapOOB("true"),
		cmp.Attr("ws-send"),
		cmp.Attr("hx-on::ws-after-send", "this.reset()"),
		g.Input(g.Type("hidden"), g.Name("type"), g.Value("send")),
		g.Input(
			g.Type("text"),
			g.Name("content"),
			g.Placeholder("Write a message"),
			cmp.Attr("autocomplete", "off"),
			cmp.If(draft != "", g.Value(draft)),
			cmp.If(disabled, g.Disabled()),
		),
		g.Button(g.Type("submit"), cmp.If(disabled, g.Disabled()), cmp.Text("Send")),
	)
}
