// Package pubsub is the in-process event bus. Components publish domain
// events to named topics and other components react to them without a
// direct dependency.
package pubsub

import (
	"context"
)

// Message is the structure passed between components on the bus.
type Message struct {
	// Topic identifies the channel the message belongs to (e.g., "auth.login.confirmed").
	Topic string
	// Key correlates a message with the entity it is about, such as a login request ID.
	Key string
	// Payload contains the raw message data, usually JSON.
	Payload []byte
	// Metadata can contain arbitrary key-value pairs for context.
	Metadata map[string]string
}

// Handler processes a received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends messages to the bus.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber receives messages from the bus.
type Subscriber interface {
	// Subscribe starts delivering messages on topic to handler in the
	// background. Delivery stops when ctx is canceled.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// PubSub is both ends of the bus.
type PubSub interface {
	Publisher
	Subscriber
}
