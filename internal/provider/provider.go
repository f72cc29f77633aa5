package provider

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/signal-notifier/internal/domain"
)

// Provider delivers a notification over one channel. Implementations make a
// single attempt; retry policy belongs to the delivery tracker.
type Provider interface {
	Deliver(ctx context.Context, notification domain.Notification) (*DeliveryOutcome, error)
}

// DeliveryOutcome stores provider call metadata for the delivery record.
type DeliveryOutcome struct {
	ExternalID string
	StatusCode int
	Body       string
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, notification domain.Notification) (*DeliveryOutcome, error)

func (f ProviderFunc) Deliver(ctx context.Context, notification domain.Notification) (*DeliveryOutcome, error) {
	return f(ctx, notification)
}

// Set holds one provider per channel.
type Set struct {
	Email   Provider
	Push    Provider
	InApp   Provider
	Webhook Provider
}

// For returns the provider registered for channel. A missing provider is a
// permanent error so the record fails instead of retrying forever.
func (s Set) For(channel domain.Channel) (Provider, error) {
	var p Provider
	switch channel {
	case domain.ChannelEmail:
		p = s.Email
	case domain.ChannelPush:
		p = s.Push
	case domain.ChannelInApp:
		p = s.InApp
	case domain.ChannelWebhook:
		p = s.Webhook
	default:
		return nil, &ProviderError{Message: fmt.Sprintf("unsupported channel %q", channel)}
	}
	if p == nil {
		return nil, &ProviderError{Message: fmt.Sprintf("no provider configured for channel %s", channel)}
	}
	return p, nil
}
