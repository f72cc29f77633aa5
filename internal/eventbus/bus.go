package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"go.uber.org/zap"
)

const wildcard = "*"

// Event is one fact or external event travelling through the bus.
type Event struct {
	ID         string    `json:"id"`
	Name       string    `json:"event"`
	Payload    any       `json:"data"`
	OccurredAt time.Time `json:"createdAt"`
}

// Decode converts the payload into v. Payloads arriving from the broker are
// raw JSON; in-process payloads are re-encoded first.
func (e Event) Decode(v any) error {
	var raw []byte
	switch p := e.Payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		encoded, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to encode %s payload: %w", e.Name, err)
		}
		raw = encoded
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Name, err)
	}
	return nil
}

type Handler func(ctx context.Context, e Event) error

type Publisher interface {
	Publish(ctx context.Context, name string, payload any) error
}

type subscription struct {
	pattern string
	handler Handler
}

// Bus is an in-process publish/subscribe hub. Patterns are an exact event
// name, a namespace prefix such as "webhook.*", or "*". Internal events
// (webhook.*, notification.*) never reach "*" subscribers.
type Bus struct {
	mu            sync.RWMutex
	subscriptions []subscription
	inflight      sync.WaitGroup
	logger        *zap.Logger
	now           func() time.Time
}

var _ Publisher = (*Bus)(nil)

func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger, now: time.Now}
}

func (b *Bus) Subscribe(pattern string, handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = append(b.subscriptions, subscription{pattern: strings.TrimSpace(pattern), handler: handler})
}

// Publish hands the event to every matching handler on its own goroutine and
// returns without waiting for them.
func (b *Bus) Publish(ctx context.Context, name string, payload any) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: event name is required", domain.ErrValidation)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	event := Event{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    payload,
		OccurredAt: b.now().UTC(),
	}
	internal := domain.IsInternalEvent(name)

	b.mu.RLock()
	matched := make([]Handler, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		if matches(sub.pattern, name, internal) {
			matched = append(matched, sub.handler)
		}
	}
	b.mu.RUnlock()

	handlerCtx := context.WithoutCancel(ctx)
	for _, handler := range matched {
		b.inflight.Add(1)
		go func(h Handler) {
			defer b.inflight.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						zap.String("event", event.Name),
						zap.String("eventId", event.ID),
						zap.Any("panic", r),
					)
				}
			}()
			if err := h(handlerCtx, event); err != nil {
				b.logger.Error("event handler failed",
					zap.String("event", event.Name),
					zap.String("eventId", event.ID),
					zap.Error(err),
				)
			}
		}(handler)
	}

	return nil
}

// Wait blocks until every handler started so far has returned.
func (b *Bus) Wait() {
	b.inflight.Wait()
}

func matches(pattern, name string, internal bool) bool {
	switch {
	case pattern == wildcard:
		return !internal
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == name
	}
}
