package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/signal-notifier/internal/eventbus"
)

// Message is the broker payload for facts and platform events. It mirrors
// the webhook envelope so consumers see one shape everywhere.
type Message struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	CreatedAt time.Time       `json:"createdAt"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.Event) == "" {
		return fmt.Errorf("event is required")
	}
	if len(m.Data) > 0 && !json.Valid(m.Data) {
		return fmt.Errorf("data must be valid JSON")
	}
	return nil
}

// MessageFromEvent encodes a bus event for the broker.
func MessageFromEvent(e eventbus.Event) (Message, error) {
	msg := Message{
		ID:        e.ID,
		Event:     e.Name,
		CreatedAt: e.OccurredAt.UTC(),
	}
	if e.Payload == nil {
		return msg, nil
	}

	switch p := e.Payload.(type) {
	case json.RawMessage:
		msg.Data = p
	case []byte:
		msg.Data = p
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return Message{}, fmt.Errorf("failed to encode %s payload: %w", e.Name, err)
		}
		msg.Data = data
	}
	return msg, nil
}
