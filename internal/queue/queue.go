package queue

import (
	"context"
)

const (
	// FactsExchange receives every notification.* and webhook.* fact with
	// the event name as routing key.
	FactsExchange = "notify.facts"

	// PlatformExchange is where the rest of the platform publishes external
	// events (onchain.event, signal.created, ...).
	PlatformExchange = "platform.events"

	// EventsQueue is the durable queue bound to PlatformExchange with "#".
	EventsQueue = "notify.platform-events"

	// EventsDLQ collects platform events that could not be decoded.
	EventsDLQ = "dlq.notify.platform-events"
)

// Publisher publishes messages to an exchange.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg Message) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg Message) error

// Consumer consumes messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}
