package chatws

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/nfrund/periskope/internal/chatsync"
	"github.com/nfrund/periskope/internal/view"
	cmp "maragu.dev/gomponents"
)

// Fragment slots, in the order they are written within a frame.
const (
	slotState = iota
	slotBanner
	slotMessages
	slotComposer
	slotCount
)

// client is one websocket connection. It implements chatsync.Listener by
// rendering fragments into per-slot buffers; the write pump flushes whatever
// is pending as one frame. A newer fragment replaces an unsent one in the
// same slot, so the listener never blocks and the latest state always wins.
type client struct {
	id       string
	identity string
	conn     *websocket.Conn
	logger   *slog.Logger

	mu        sync.Mutex
	pending   [slotCount][]byte
	dirty     bool
	convID    string
	lastState chatsync.State
	wake      chan struct{}
}

var _ chatsync.Listener = (*client)(nil)

func newClient(id, identity string, conn *websocket.Conn, logger *slog.Logger) *client {
	return &client{
		id:       id,
		identity: identity,
		conn:     conn,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
}

func (c *client) SequenceChanged(conversationID string, messages []chatsync.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conversationID != c.convID {
		c.convID = conversationID
		c.setLocked(slotComposer, view.Composer(conversationID))
		c.setLocked(slotBanner, view.Banner(""))
	}
	c.setLocked(slotMessages, view.Messages(conversationID, messages, c.identity))
}

func (c *client) StateChanged(state chatsync.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastState == chatsync.StateReconnecting && state == chatsync.StateLive {
		c.setLocked(slotBanner, view.Banner(""))
	}
	c.lastState = state
	c.setLocked(slotState, view.SyncState(state))
}

func (c *client) Notice(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(slotBanner, view.Banner(view.NoticeText(err)))
}

// sent clears the composer after a successful send.
func (c *client) sent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(slotComposer, view.Composer(c.convID))
}

// restore puts draft back into the composer after a failed send.
func (c *client) restore(draft string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(slotComposer, view.ComposerDraft(c.convID, draft))
}

func (c *client) setLocked(slot int, n cmp.Node) {
	var b bytes.Buffer
	if err := n.Render(&b); err != nil {
		c.logger.Error("Failed to render fragment", "client_id", c.id, "error", err)
		return
	}
	c.pending[slot] = b.Bytes()
	c.dirty = true
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// takeFrame returns the pending fragments joined in slot order.
func (c *client) takeFrame() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	var frame []byte
	for i := range c.pending {
		frame = append(frame, c.pending[i]...)
		c.pending[i] = nil
	}
	c.dirty = false
	return frame
}

// writePump flushes pending fragments and pings the peer until ctx is done
// or a write fails.
func (c *client) writePump(ctx context.Context, pingInterval time.Duration) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		case <-c.wake:
			frame := c.takeFrame()
			if len(frame) == 0 {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
