package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/nfrund/periskope/internal/domain"
)

type subscription struct {
	id      string
	filter  domain.FeedFilter
	handler domain.InsertHandler
	store   *Store

	mu    sync.Mutex
	queue []domain.Message
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
	err   error
}

// Subscribe registers handler for inserts matching filter. Each
// subscription delivers from its own goroutine, one message at a time.
func (s *Store) Subscribe(ctx context.Context, filter domain.FeedFilter, handler domain.InsertHandler) (domain.FeedSubscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: handler cannot be nil", domain.ErrInvalidInput)
	}
	if filter.Event != "" && filter.Event != domain.EventInsert {
		return nil, fmt.Errorf("%w: unsupported feed event %q", domain.ErrInvalidInput, filter.Event)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.nextID++
	sub := &subscription{
		id:      fmt.Sprintf("mem-%d", s.nextID),
		filter:  filter,
		handler: handler,
		store:   s,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	s.subs[sub.id] = sub
	s.mu.Unlock()

	go sub.run()
	return sub, nil
}

// Drop ends every active subscription as if the feed connection was lost.
func (s *Store) Drop() {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[string]*subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.stop(fmt.Errorf("%w: feed connection lost", domain.ErrSubscriptionDropped))
	}
}

// Subscribers reports how many subscriptions are active.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (sub *subscription) matches(m domain.Message) bool {
	if sub.filter.Table != "" && sub.filter.Table != domain.MessagesTable {
		return false
	}
	return sub.filter.ConversationID == "" || sub.filter.ConversationID == m.ConversationID
}

// enqueue is called with the store lock held.
func (sub *subscription) enqueue(m domain.Message) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, m)
	sub.mu.Unlock()
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscription) run() {
	ctx := context.Background()
	for {
		select {
		case <-sub.done:
			return
		case <-sub.wake:
		}

		for {
			sub.mu.Lock()
			if len(sub.queue) == 0 {
				sub.mu.Unlock()
				break
			}
			m := sub.queue[0]
			sub.queue = sub.queue[1:]
			sub.mu.Unlock()

			select {
			case <-sub.done:
				return
			default:
			}
			sub.handler(ctx, m)
		}
	}
}

func (sub *subscription) stop(err error) {
	sub.once.Do(func() {
		sub.mu.Lock()
		sub.err = err
		sub.mu.Unlock()
		close(sub.done)
	})
}

func (sub *subscription) ID() string { return sub.id }

func (sub *subscription) Done() <-chan struct{} { return sub.done }

func (sub *subscription) Err() error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.err
}

func (sub *subscription) Unsubscribe() error {
	sub.store.mu.Lock()
	delete(sub.store.subs, sub.id)
	sub.store.mu.Unlock()
	sub.stop(nil)
	return nil
}
