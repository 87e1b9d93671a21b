package domain

import "context"

// FeedEvent is the kind of row change a feed subscription listens for.
type FeedEvent string

const (
	EventInsert FeedEvent = "INSERT"
)

// MessagesTable is the table chat messages live in.
const MessagesTable = "messages"

// FeedFilter selects the change notifications a subscription receives.
type FeedFilter struct {
	Table          string
	Event          FeedEvent
	ConversationID string
}

// InsertHandler is called once per delivered row. Deliveries for one
// subscription are sequential and follow the store's insertion order, but a
// row may be delivered more than once.
type InsertHandler func(ctx context.Context, msg Message)

// FeedSubscription is a handle on an active change feed subscription.
type FeedSubscription interface {
	ID() string

	// Done is closed when the subscription stops delivering, either because
	// Unsubscribe was called or because the feed connection was lost.
	Done() <-chan struct{}

	// Err returns nil after Unsubscribe, or the reason the subscription
	// dropped. It is only meaningful once Done is closed.
	Err() error

	Unsubscribe() error
}

// ChangeFeed delivers "row inserted" notifications matching a filter,
// at-least-once, with no ordering guarantee relative to MessageStore queries.
type ChangeFeed interface {
	Subscribe(ctx context.Context, filter FeedFilter, handler InsertHandler) (FeedSubscription, error)
}
