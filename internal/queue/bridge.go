package queue

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"github.com/kursadbilgin/signal-notifier/internal/eventbus"
	"go.uber.org/zap"
)

// Subscriber is the part of the event bus the bridges register with.
type Subscriber interface {
	Subscribe(pattern string, handler eventbus.Handler)
}

// FactPublisher forwards the engine's own facts to FactsExchange.
type FactPublisher struct {
	publisher Publisher
	logger    *zap.Logger
}

func NewFactPublisher(publisher Publisher, logger *zap.Logger) (*FactPublisher, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FactPublisher{publisher: publisher, logger: logger}, nil
}

// Register subscribes to notification.* and webhook.* facts.
func (p *FactPublisher) Register(bus Subscriber) {
	bus.Subscribe("notification.*", p.HandleFact)
	bus.Subscribe("webhook.*", p.HandleFact)
}

func (p *FactPublisher) HandleFact(ctx context.Context, e eventbus.Event) error {
	msg, err := MessageFromEvent(e)
	if err != nil {
		return err
	}
	if err := p.publisher.Publish(ctx, FactsExchange, e.Name, msg); err != nil {
		return fmt.Errorf("failed to forward %s: %w", e.Name, err)
	}
	return nil
}

// EventConsumer republishes platform events from EventsQueue into the bus.
type EventConsumer struct {
	consumer Consumer
	bus      eventbus.Publisher
	logger   *zap.Logger
}

func NewEventConsumer(consumer Consumer, bus eventbus.Publisher, logger *zap.Logger) (*EventConsumer, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventConsumer{consumer: consumer, bus: bus, logger: logger}, nil
}

// Run blocks until ctx is cancelled.
func (c *EventConsumer) Run(ctx context.Context) error {
	c.logger.Info("platform event consumer started", zap.String("queue", EventsQueue))
	return c.consumer.Consume(ctx, EventsQueue, c.handle)
}

// handle republishes a platform event. Internal fact names are owned by this
// service and are refused from the outside.
func (c *EventConsumer) handle(ctx context.Context, msg Message) error {
	if domain.IsInternalEvent(msg.Event) {
		return fmt.Errorf("%w: external publisher used internal event %q", ErrPoison, msg.Event)
	}

	c.logger.Debug("platform event received",
		zap.String("event", msg.Event),
		zap.String("messageId", msg.ID),
	)
	return c.bus.Publish(ctx, msg.Event, msg.Data)
}
