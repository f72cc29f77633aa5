package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/kursadbilgin/signal-notifier/internal/eventbus"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type ackCall struct {
	kind    string
	requeue bool
}

type fakeAcknowledger struct {
	mu    sync.Mutex
	calls []ackCall
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.record(ackCall{kind: "ack"})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.record(ackCall{kind: "nack", requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.record(ackCall{kind: "reject", requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) record(c ackCall) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, c)
}

func (a *fakeAcknowledger) only(t *testing.T) ackCall {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.calls) != 1 {
		t.Fatalf("acknowledger calls = %+v, want exactly one", a.calls)
	}
	return a.calls[0]
}

func TestHandleDelivery(t *testing.T) {
	t.Parallel()

	okHandler := func(ctx context.Context, msg Message) error { return nil }

	tests := []struct {
		name        string
		body        string
		routingKey  string
		redelivered bool
		handler     MessageHandler
		want        ackCall
		wantEvent   string
	}{
		{
			name:      "handled message is acked",
			body:      `{"id":"m-1","event":"onchain.event","data":{"eventType":"STAKE"}}`,
			handler:   okHandler,
			want:      ackCall{kind: "ack"},
			wantEvent: "onchain.event",
		},
		{
			name:       "routing key names a bare event",
			body:       `{"data":{"signalId":"s-1"}}`,
			routingKey: "signal.created",
			handler:    okHandler,
			want:       ackCall{kind: "ack"},
			wantEvent:  "signal.created",
		},
		{
			name:    "invalid json is dead-lettered",
			body:    `{"event":`,
			handler: okHandler,
			want:    ackCall{kind: "reject"},
		},
		{
			name:    "missing event is dead-lettered",
			body:    `{"id":"m-1"}`,
			handler: okHandler,
			want:    ackCall{kind: "reject"},
		},
		{
			name:    "first failure is requeued",
			body:    `{"event":"signal.created"}`,
			handler: func(ctx context.Context, msg Message) error { return errors.New("db down") },
			want:    ackCall{kind: "nack", requeue: true},
		},
		{
			name:        "second failure is dead-lettered",
			body:        `{"event":"signal.created"}`,
			redelivered: true,
			handler:     func(ctx context.Context, msg Message) error { return errors.New("db down") },
			want:        ackCall{kind: "nack", requeue: false},
		},
		{
			name:    "poison is never requeued",
			body:    `{"event":"signal.created"}`,
			handler: func(ctx context.Context, msg Message) error { return fmt.Errorf("%w: bad", ErrPoison) },
			want:    ackCall{kind: "nack", requeue: false},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			acks := &fakeAcknowledger{}
			var gotEvent string
			handler := func(ctx context.Context, msg Message) error {
				gotEvent = msg.Event
				return tt.handler(ctx, msg)
			}

			consumer := NewRabbitMQConsumer(nil, 1, zap.NewNop())
			err := consumer.handleDelivery(context.Background(), amqp.Delivery{
				Acknowledger: acks,
				DeliveryTag:  1,
				RoutingKey:   tt.routingKey,
				Redelivered:  tt.redelivered,
				Body:         []byte(tt.body),
			}, handler)
			if err != nil {
				t.Fatalf("handleDelivery() error = %v", err)
			}

			if got := acks.only(t); got != tt.want {
				t.Fatalf("acknowledgement = %+v, want %+v", got, tt.want)
			}
			if tt.wantEvent != "" && gotEvent != tt.wantEvent {
				t.Fatalf("event = %q, want %q", gotEvent, tt.wantEvent)
			}
		})
	}
}

func TestEventConsumerRefusesInternalEvents(t *testing.T) {
	t.Parallel()

	bus := eventbus.New(zap.NewNop())
	bus.Subscribe("notification.*", func(ctx context.Context, e eventbus.Event) error {
		t.Error("internal fact must not be republished from outside")
		return nil
	})

	var handleErr error
	consumer := &fakeConsumer{consumeFn: func(ctx context.Context, queue string, handler MessageHandler) error {
		handleErr = handler(ctx, Message{Event: "notification.delivered"})
		return nil
	}}

	events, err := NewEventConsumer(consumer, bus, nil)
	if err != nil {
		t.Fatalf("NewEventConsumer() error = %v", err)
	}
	_ = events.Run(context.Background())
	bus.Wait()

	if !errors.Is(handleErr, ErrPoison) {
		t.Fatalf("handle error = %v, want ErrPoison", handleErr)
	}
}

func TestNextBackoff(t *testing.T) {
	t.Parallel()

	if got := nextBackoff(reconnectBackoff); got != 2*reconnectBackoff {
		t.Fatalf("nextBackoff(1s) = %v, want 2s", got)
	}
	if got := nextBackoff(maxBackoff); got != maxBackoff {
		t.Fatalf("nextBackoff(max) = %v, want %v", got, maxBackoff)
	}
}
