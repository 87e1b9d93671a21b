package pubsub

import (
	"context"
	"log/slog"
	"maps"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// keyMetadata carries Message.Key through watermill. The topic needs no
// slot since watermill routes by it.
const keyMetadata = "periskope.key"

// Bus is the in-process PubSub, backed by a watermill GoChannel. A message
// published while its topic has no subscriber is dropped.
type Bus struct {
	ch  *gochannel.GoChannel
	log *slog.Logger
}

var _ PubSub = (*Bus)(nil)

// BusOption configures NewBus.
type BusOption func(*busConfig)

type busConfig struct {
	buffer int64
	logger *slog.Logger
}

// WithBuffer sets how many undelivered messages each subscriber may queue.
func WithBuffer(n int64) BusOption {
	return func(c *busConfig) { c.buffer = n }
}

// WithBusLogger routes watermill's own logging and handler failures to l.
func WithBusLogger(l *slog.Logger) BusOption {
	return func(c *busConfig) { c.logger = l }
}

// NewBus starts an empty bus.
func NewBus(opts ...BusOption) *Bus {
	cfg := busConfig{buffer: 64, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger.With("component", "pubsub")
	return &Bus{
		ch:  gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: cfg.buffer}, slogAdapter{logger}),
		log: logger,
	}
}

// Publish hands msg to every current subscriber of msg.Topic.
func (b *Bus) Publish(ctx context.Context, msg Message) error {
	wm := message.NewMessage(watermill.NewUUID(), msg.Payload)
	maps.Copy(wm.Metadata, msg.Metadata)
	wm.Metadata.Set(keyMetadata, msg.Key)
	wm.SetContext(ctx)
	return b.ch.Publish(msg.Topic, wm)
}

// Subscribe registers handler for topic and returns once messages published
// afterwards are guaranteed to reach it.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	deliveries, err := b.ch.Subscribe(ctx, topic)
	if err != nil {
		return err
	}
	go b.deliver(ctx, topic, deliveries, handler)
	return nil
}

func (b *Bus) deliver(ctx context.Context, topic string, deliveries <-chan *message.Message, handler Handler) {
	for wm := range deliveries {
		msg := Message{
			Topic:    topic,
			Key:      wm.Metadata.Get(keyMetadata),
			Payload:  wm.Payload,
			Metadata: make(map[string]string, len(wm.Metadata)),
		}
		for k, v := range wm.Metadata {
			if k != keyMetadata {
				msg.Metadata[k] = v
			}
		}

		// GoChannel redelivers nacked messages forever, so failures are
		// logged and acked.
		if err := handler(ctx, msg); err != nil {
			b.log.Error("Event handler failed, dropping message", "topic", topic, "key", msg.Key, "error", err)
		}
		wm.Ack()
	}
}

// Close ends every subscription.
func (b *Bus) Close() error {
	return b.ch.Close()
}

// slogAdapter lets watermill log through slog.
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) attrs(fields watermill.LogFields) []any {
	args := make([]any, 0, 2*len(fields))
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

func (a slogAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.l.Error(msg, append(a.attrs(fields), "error", err)...)
}

func (a slogAdapter) Info(msg string, fields watermill.LogFields) {
	a.l.Info(msg, a.attrs(fields)...)
}

func (a slogAdapter) Debug(msg string, fields watermill.LogFields) {
	a.l.Debug(msg, a.attrs(fields)...)
}

func (a slogAdapter) Trace(msg string, fields watermill.LogFields) {
	a.l.Debug(msg, a.attrs(fields)...)
}

func (a slogAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return slogAdapter{a.l.With(a.attrs(fields)...)}
}
