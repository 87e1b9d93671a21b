package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/periskope/internal/backoff"
	"github.com/nfrund/periskope/internal/domain"
	"github.com/stretchr/testify/assert"
)

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func msg(id, conversationID string, second int) domain.Message {
	return domain.Message{
		ID:             id,
		ConversationID: conversationID,
		Sender:         "someone",
		Content:        "content of " + id,
		CreatedAt:      base.Add(time.Duration(second) * time.Second),
	}
}

func ids(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func fastRetryer(maxRetries int) backoff.Retryer {
	return backoff.NewExponentialBackoffRetryer(
		backoff.WithMaxRetries(maxRetries),
		backoff.WithBaseDelay(time.Millisecond),
		backoff.WithMaxDelay(5*time.Millisecond),
	)
}

// scriptedStore lets a test decide when each history fetch completes.
// Gated fetches ignore context cancellation, like a store that already
// sent its response.
type scriptedStore struct {
	mu        sync.Mutex
	history   map[string][]domain.Message
	gates     map[string]chan struct{}
	listErr   error
	insertErr error
	inserts   []domain.Message
	lists     int
}

func newScriptedStore() *scriptedStore {
	return &scriptedStore{
		history: make(map[string][]domain.Message),
		gates:   make(map[string]chan struct{}),
	}
}

func (f *scriptedStore) gate(conversationID string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := make(chan struct{})
	f.gates[conversationID] = g
	return g
}

func (f *scriptedStore) ListConversations(context.Context) ([]domain.Conversation, error) {
	return nil, nil
}

func (f *scriptedStore) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	f.mu.Lock()
	g := f.gates[conversationID]
	f.lists++
	f.mu.Unlock()
	if g != nil {
		<-g
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := append([]domain.Message(nil), f.history[conversationID]...)
	return out, nil
}

func (f *scriptedStore) InsertMessage(_ context.Context, conversationID, sender, content string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	m := domain.Message{
		ID:             fmt.Sprintf("sent-%d", len(f.inserts)+1),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		CreatedAt:      base.Add(time.Hour),
	}
	f.inserts = append(f.inserts, m)
	return &m, nil
}

func (f *scriptedStore) insertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserts)
}

// scriptedFeed records subscriptions; tests deliver and drop by hand.
type scriptedFeed struct {
	mu       sync.Mutex
	subs     []*scriptedSub
	failures int
}

type scriptedSub struct {
	id      string
	filter  domain.FeedFilter
	handler domain.InsertHandler

	mu           sync.Mutex
	done         chan struct{}
	err          error
	unsubscribed bool
}

func (f *scriptedFeed) Subscribe(_ context.Context, filter domain.FeedFilter, handler domain.InsertHandler) (domain.FeedSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return nil, errors.New("feed unavailable")
	}
	sub := &scriptedSub{
		id:      fmt.Sprintf("sub-%d", len(f.subs)+1),
		filter:  filter,
		handler: handler,
		done:    make(chan struct{}),
	}
	f.subs = append(f.subs, sub)
	return sub, nil
}

// failNext makes the next n subscribes fail; -1 fails all of them.
func (f *scriptedFeed) failNext(n int) {
	f.mu.Lock()
	f.failures = n
	f.mu.Unlock()
}

func (f *scriptedFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *scriptedFeed) sub(i int) *scriptedSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[i]
}

func (f *scriptedFeed) last() *scriptedSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[len(f.subs)-1]
}

func (s *scriptedSub) deliver(msgs ...domain.Message) {
	for _, m := range msgs {
		s.handler(context.Background(), m)
	}
}

func (s *scriptedSub) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
	default:
		s.err = fmt.Errorf("%w: connection reset", domain.ErrSubscriptionDropped)
		close(s.done)
	}
}

func (s *scriptedSub) isUnsubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed
}

func (s *scriptedSub) ID() string            { return s.id }
func (s *scriptedSub) Done() <-chan struct{} { return s.done }

func (s *scriptedSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *scriptedSub) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = true
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}

// recorder is a Listener that keeps everything it is told.
type recorder struct {
	mu        sync.Mutex
	sequences [][]domain.Message
	states    []State
	notices   []error
}

func (r *recorder) SequenceChanged(_ string, messages []domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequences = append(r.sequences, messages)
}

func (r *recorder) StateChanged(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recorder) Notice(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, err)
}

func (r *recorder) stateLog() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *recorder) noticeLog() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.notices...)
}

func (r *recorder) hasNotice(target error) bool {
	for _, err := range r.noticeLog() {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// assertEverySequenceValid checks that no emitted sequence was ever out of
// order or contained a duplicate.
func (r *recorder) assertEverySequenceValid(t *testing.T) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, seq := range r.sequences {
		seen := make(map[string]bool, len(seq))
		for _, m := range seq {
			assert.False(t, seen[m.ID], "sequence %d contains %s twice", i, m.ID)
			seen[m.ID] = true
		}
		assert.True(t, sort.SliceIsSorted(seq, func(a, b int) bool { return seq[a].Before(seq[b]) }),
			"sequence %d is not ordered: %v", i, ids(seq))
	}
}

// selectAsync runs Select in the background and returns its result channel.
func selectAsync(s *Synchronizer, conversationID string) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Select(context.Background(), conversationID) }()
	return done
}
