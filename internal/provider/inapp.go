package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/kursadbilgin/signal-notifier/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const inAppChannelPrefix = "notifications:user:"

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

type inAppFrame struct {
	ID        string         `json:"id"`
	Title     *string        `json:"title,omitempty"`
	Content   string         `json:"content"`
	Priority  string         `json:"priority"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// InAppProvider announces a stored notification to realtime gateways over
// Redis pub/sub. The notification row itself is the inbox entry.
type InAppProvider struct {
	client redisPublisher
}

func NewInAppProvider(client *goredis.Client) (*InAppProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &InAppProvider{client: client}, nil
}

func InAppChannel(recipientID string) string {
	return inAppChannelPrefix + recipientID
}

func (p *InAppProvider) Deliver(ctx context.Context, notification domain.Notification) (*DeliveryOutcome, error) {
	frame, err := json.Marshal(inAppFrame{
		ID:        notification.ID,
		Title:     notification.Title,
		Content:   notification.Content,
		Priority:  notification.Priority.String(),
		Metadata:  notification.Metadata,
		CreatedAt: notification.CreatedAt,
	})
	if err != nil {
		return nil, Permanent("failed to encode in-app frame", err)
	}

	receivers, err := p.client.Publish(ctx, InAppChannel(notification.RecipientID), frame).Result()
	if err != nil {
		return nil, Transient("redis publish failed", err)
	}

	return &DeliveryOutcome{Body: strconv.FormatInt(receivers, 10)}, nil
}
