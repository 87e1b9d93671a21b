// Package chatsync keeps a locally displayed, ordered, duplicate-free list of
// a conversation's messages in step with the message store, by merging a
// one-shot history fetch with a live insert feed.
package chatsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nfrund/periskope/internal/backoff"
	"github.com/nfrund/periskope/internal/domain"
	"github.com/nfrund/periskope/internal/metrics"
)

// Message is the unit the synchronizer orders.
type Message = domain.Message

// ErrClosed is returned by Select after Close.
var ErrClosed = errors.New("synchronizer closed")

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithListener registers the observer of sequence, state and notices.
func WithListener(l Listener) Option {
	return func(s *Synchronizer) { s.listener = l }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) { s.logger = l }
}

// WithRetryer sets the backoff used to re-establish a dropped feed.
func WithRetryer(r backoff.Retryer) Option {
	return func(s *Synchronizer) { s.retryer = r }
}

// Synchronizer maintains the displayed sequence of the selected
// conversation. All mutations happen under one lock and are tagged with the
// selection epoch they belong to; anything from an older epoch is dropped.
type Synchronizer struct {
	store    domain.MessageStore
	feed     domain.ChangeFeed
	identity string
	listener Listener
	logger   *slog.Logger
	retryer  backoff.Retryer

	mu             sync.Mutex
	epoch          uint64
	conversationID string
	state          State
	seq            *sequence
	sub            domain.FeedSubscription
	cancel         context.CancelFunc
	closed         bool
}

// New creates a Synchronizer that sends as identity.
func New(store domain.MessageStore, feed domain.ChangeFeed, identity string, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:    store,
		feed:     feed,
		identity: identity,
		listener: nopListener{},
		logger:   slog.Default(),
		retryer:  backoff.NewExponentialBackoffRetryer(),
		state:    StateIdle,
		seq:      newSequence(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "chatsync", "identity", identity)
	metrics.ActiveSynchronizers.Inc()
	return s
}

// Identity returns the sender label used by Send.
func (s *Synchronizer) Identity() string { return s.identity }

// Snapshot returns the selected conversation, the state and a copy of the
// displayed sequence.
func (s *Synchronizer) Snapshot() (string, State, []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID, s.state, s.seq.snapshot()
}

// Select makes conversationID the current conversation, or clears the
// selection when it is empty. The previous sequence and subscription are
// always discarded, even when re-selecting the same conversation.
//
// Select subscribes to the feed first and then fetches history, and blocks
// until that fetch settles. It returns nil when a later Select superseded
// this one, and an error wrapping domain.ErrFetchFailed when the fetch failed.
func (s *Synchronizer) Select(ctx context.Context, conversationID string) error {
	epoch, selCtx, err := s.begin(conversationID)
	if err != nil || selCtx == nil {
		return err
	}
	return s.load(ctx, epoch, conversationID, selCtx)
}

// SelectAsync switches the selection before it returns and loads the
// history in the background. The channel receives what Select would have
// returned. Calls made in order take effect in that order.
func (s *Synchronizer) SelectAsync(ctx context.Context, conversationID string) <-chan error {
	done := make(chan error, 1)
	epoch, selCtx, err := s.begin(conversationID)
	if err != nil || selCtx == nil {
		done <- err
		return done
	}
	go func() { done <- s.load(ctx, epoch, conversationID, selCtx) }()
	return done
}

// begin tears down the current selection and installs the new one. It
// returns a nil context when the selection was cleared.
func (s *Synchronizer) begin(conversationID string) (uint64, context.Context, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, nil, ErrClosed
	}
	s.epoch++
	epoch := s.epoch
	old := s.teardownLocked()
	s.conversationID = conversationID

	if conversationID == "" {
		s.setStateLocked(StateIdle)
		s.listener.SequenceChanged("", nil)
		s.mu.Unlock()
		s.release(old)
		return epoch, nil, nil
	}

	selCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.setStateLocked(StateLoading)
	s.listener.SequenceChanged(conversationID, s.seq.snapshot())
	s.mu.Unlock()
	s.release(old)
	return epoch, selCtx, nil
}

// load subscribes and fetches for the selection started by begin.
func (s *Synchronizer) load(ctx context.Context, epoch uint64, conversationID string, selCtx context.Context) error {
	// The load is bounded by both the caller and the selection's lifetime.
	loadCtx, stop := context.WithCancel(ctx)
	defer stop()
	unlink := context.AfterFunc(selCtx, stop)
	defer unlink()

	log := s.logger.With("conversation_id", conversationID, "epoch", epoch)
	log.DebugContext(ctx, "Selecting conversation")

	sub, subErr := s.feed.Subscribe(loadCtx, s.filter(conversationID), s.handlerFor(epoch, conversationID))

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.release(sub)
		metrics.StaleEventsDiscarded.WithLabelValues("subscribe").Inc()
		return nil
	}
	if subErr != nil {
		log.WarnContext(ctx, "Change feed subscription failed, retrying in background", "error", subErr)
		s.noticeLocked(dropped(subErr))
		s.setStateLocked(StateReconnecting)
		go s.resubscribe(selCtx, epoch, conversationID)
	} else {
		s.sub = sub
		go s.watch(selCtx, epoch, conversationID, sub)
	}
	s.mu.Unlock()

	history, fetchErr := s.store.ListMessages(loadCtx, conversationID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		metrics.StaleEventsDiscarded.WithLabelValues("fetch").Inc()
		log.DebugContext(ctx, "Discarding history of superseded selection")
		return nil
	}
	if s.state == StateLoading {
		s.setStateLocked(StateLive)
	}
	if fetchErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if fetchErr != nil {
		err := fmt.Errorf("%w: %w", domain.ErrFetchFailed, fetchErr)
		log.WarnContext(ctx, "Failed to fetch conversation history", "error", fetchErr)
		s.noticeLocked(err)
		return err
	}
	s.mergeLocked(history, "fetch")
	return nil
}

// Send stores text as a new message from this synchronizer's identity in
// the selected conversation. Blank text and sending with nothing selected
// are no-ops. The message is not added locally; it arrives through the feed.
func (s *Synchronizer) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		metrics.Sends.WithLabelValues("ignored").Inc()
		return nil
	}

	s.mu.Lock()
	conversationID := s.conversationID
	s.mu.Unlock()
	if conversationID == "" {
		metrics.Sends.WithLabelValues("ignored").Inc()
		return nil
	}

	if _, err := s.store.InsertMessage(ctx, conversationID, s.identity, text); err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrSendFailed, err)
		metrics.Sends.WithLabelValues("failed").Inc()
		s.logger.WarnContext(ctx, "Failed to send message", "conversation_id", conversationID, "error", err)
		s.mu.Lock()
		if !s.closed {
			s.noticeLocked(err)
		}
		s.mu.Unlock()
		return err
	}
	metrics.Sends.WithLabelValues("ok").Inc()
	return nil
}

// Close releases the subscription and moves to StateClosed. It is safe to
// call more than once.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.epoch++
	old := s.teardownLocked()
	s.conversationID = ""
	s.setStateLocked(StateClosed)
	s.mu.Unlock()

	metrics.ActiveSynchronizers.Dec()
	if old != nil {
		return old.Unsubscribe()
	}
	return nil
}

func (s *Synchronizer) filter(conversationID string) domain.FeedFilter {
	return domain.FeedFilter{
		Table:          domain.MessagesTable,
		Event:          domain.EventInsert,
		ConversationID: conversationID,
	}
}

// handlerFor returns the feed callback of one selection.
func (s *Synchronizer) handlerFor(epoch uint64, conversationID string) domain.InsertHandler {
	return func(_ context.Context, m domain.Message) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.epoch != epoch || m.ConversationID != conversationID {
			metrics.StaleEventsDiscarded.WithLabelValues("feed").Inc()
			return
		}
		s.mergeLocked([]domain.Message{m}, "feed")
	}
}

// watch waits for sub to end and starts resubscribing if it dropped.
func (s *Synchronizer) watch(ctx context.Context, epoch uint64, conversationID string, sub domain.FeedSubscription) {
	select {
	case <-ctx.Done():
		return
	case <-sub.Done():
	}

	err := sub.Err()
	if err == nil {
		return
	}

	s.mu.Lock()
	if s.epoch != epoch || s.sub != sub {
		s.mu.Unlock()
		return
	}
	s.sub = nil
	s.logger.Warn("Change feed dropped", "conversation_id", conversationID, "error", err)
	s.noticeLocked(dropped(err))
	s.setStateLocked(StateReconnecting)
	s.mu.Unlock()

	s.resubscribe(ctx, epoch, conversationID)
}

// resubscribe re-establishes the feed with backoff, then re-runs the history
// fetch so rows inserted during the outage are merged.
func (s *Synchronizer) resubscribe(ctx context.Context, epoch uint64, conversationID string) {
	var sub domain.FeedSubscription
	err := s.retryer.Retry(ctx, func() error {
		next, err := s.feed.Subscribe(ctx, s.filter(conversationID), s.handlerFor(epoch, conversationID))
		if err != nil {
			metrics.Resubscribes.WithLabelValues("failed").Inc()
			return err
		}
		sub = next
		return nil
	})

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		if s.epoch == epoch {
			s.logger.Error("Giving up on change feed", "conversation_id", conversationID, "error", err)
			s.noticeLocked(dropped(err))
			s.setStateLocked(StateStalled)
		}
		s.mu.Unlock()
		return
	}
	metrics.Resubscribes.WithLabelValues("ok").Inc()

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.release(sub)
		return
	}
	s.sub = sub
	s.mu.Unlock()
	go s.watch(ctx, epoch, conversationID, sub)

	history, fetchErr := s.store.ListMessages(ctx, conversationID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		metrics.StaleEventsDiscarded.WithLabelValues("fetch").Inc()
		return
	}
	if fetchErr != nil {
		s.noticeLocked(fmt.Errorf("%w: %w", domain.ErrFetchFailed, fetchErr))
	} else {
		s.mergeLocked(history, "fetch")
	}
	if s.state == StateReconnecting {
		s.setStateLocked(StateLive)
	}
	s.logger.Info("Change feed re-established", "conversation_id", conversationID)
}

// teardownLocked drops the current selection and returns its subscription
// for the caller to release once the lock is released.
func (s *Synchronizer) teardownLocked() domain.FeedSubscription {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	old := s.sub
	s.sub = nil
	s.seq = newSequence()
	return old
}

func (s *Synchronizer) release(sub domain.FeedSubscription) {
	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		s.logger.Debug("Failed to release feed subscription", "subscription_id", sub.ID(), "error", err)
	}
}

func (s *Synchronizer) mergeLocked(msgs []domain.Message, source string) {
	added := 0
	for _, m := range msgs {
		if m.ConversationID != "" && m.ConversationID != s.conversationID {
			continue
		}
		if s.seq.insert(m) {
			added++
		} else {
			metrics.DuplicatesDropped.Inc()
		}
	}
	if added == 0 {
		return
	}
	metrics.MessagesMerged.WithLabelValues(source).Add(float64(added))
	s.listener.SequenceChanged(s.conversationID, s.seq.snapshot())
}

func (s *Synchronizer) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.state = state
	s.listener.StateChanged(state)
}

func (s *Synchronizer) noticeLocked(err error) {
	s.listener.Notice(err)
}

func dropped(err error) error {
	if errors.Is(err, domain.ErrSubscriptionDropped) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrSubscriptionDropped, err)
}
