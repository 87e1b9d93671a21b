// Package memory provides in-process implementations of the message store,
// change feed and login request repository. They back the "memory" store
// driver and the end-to-end tests.
package memory

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nfrund/periskope/internal/domain"
	"github.com/nfrund/periskope/internal/metrics"
	"github.com/oklog/ulid/v2"
)

// Store is an in-memory domain.MessageStore and domain.ChangeFeed. Inserts
// are announced to matching feed subscribers in insertion order.
type Store struct {
	mu            sync.Mutex
	conversations map[string]domain.Conversation
	messages      map[string][]domain.Message
	entropy       *ulid.MonotonicEntropy
	now           func() time.Time

	subs   map[string]*subscription
	nextID int

	insertErr error
	listErr   error
}

var (
	_ domain.MessageStore = (*Store)(nil)
	_ domain.ChangeFeed   = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithConversations seeds the store.
func WithConversations(convs ...domain.Conversation) Option {
	return func(s *Store) {
		for _, c := range convs {
			s.conversations[c.ID] = c
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]domain.Message),
		entropy:       ulid.Monotonic(rand.Reader, 0),
		now:           time.Now,
		subs:          make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateConversation adds a conversation or renames an existing one.
func (s *Store) CreateConversation(_ context.Context, id, title string) (*domain.Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: conversation id is required", domain.ErrInvalidInput)
	}
	if title == "" {
		title = id
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := domain.Conversation{ID: id, Title: title}
	s.conversations[id] = c
	return &c, nil
}

// ListConversations returns all conversations ordered by ID.
func (s *Store) ListConversations(_ context.Context) ([]domain.Conversation, error) {
	defer observe("list_conversations")()
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListMessages returns a copy of a conversation's messages, oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	defer observe("list_messages")()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(conversationID) == "" {
		return nil, fmt.Errorf("%w: conversation id is required", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	msgs := s.messages[conversationID]
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// InsertMessage stores a message with a fresh ULID and announces it.
func (s *Store) InsertMessage(ctx context.Context, conversationID, sender, content string) (*domain.Message, error) {
	defer observe("insert_message")()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(conversationID) == "" || strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: conversation id and content are required", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return nil, s.insertErr
	}

	now := s.now().UTC()
	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	msg := domain.Message{
		ID:             id.String(),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		CreatedAt:      now,
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)

	for _, sub := range s.subs {
		if sub.matches(msg) {
			sub.enqueue(msg)
		}
	}
	return &msg, nil
}

// FailInserts makes every InsertMessage return err until called with nil.
func (s *Store) FailInserts(err error) {
	s.mu.Lock()
	s.insertErr = err
	s.mu.Unlock()
}

// FailLists makes every ListMessages return err until called with nil.
func (s *Store) FailLists(err error) {
	s.mu.Lock()
	s.listErr = err
	s.mu.Unlock()
}

func observe(op string) func() {
	start := time.Now()
	return func() {
		metrics.StoreLatency.WithLabelValues("memory", op).Observe(time.Since(start).Seconds())
	}
}
