package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"github.com/kursadbilgin/signal-notifier/internal/eventbus"
	"github.com/kursadbilgin/signal-notifier/internal/observability"
	"github.com/kursadbilgin/signal-notifier/internal/ratelimit"
	"github.com/kursadbilgin/signal-notifier/internal/repository"
	"go.uber.org/zap"
)

const (
	emailEventLimit    = 10
	emailEventWindow   = time.Hour
	webhookEventLimit  = 5
	webhookEventWindow = time.Minute
)

// OnChainEvent is the payload of onchain.event.
type OnChainEvent struct {
	EventType domain.OnChainEventType `json:"eventType"`
	EventData map[string]any          `json:"eventData"`
	Timestamp time.Time               `json:"timestamp"`
}

// NotificationCreator is the creation boundary used by event routing.
type NotificationCreator interface {
	Create(ctx context.Context, input CreateNotificationInput) (*domain.Notification, error)
}

// EventNotificationService turns platform on-chain events into notifications
// for every user with an enabled preference for the event type.
type EventNotificationService struct {
	preferences   repository.PreferenceRepository
	notifications NotificationCreator
	limiter       ratelimit.RateLimiter
	logger        *zap.Logger
	metrics       *observability.Metrics
}

func NewEventNotificationService(
	preferences repository.PreferenceRepository,
	notifications NotificationCreator,
	limiter ratelimit.RateLimiter,
	logger *zap.Logger,
) (*EventNotificationService, error) {
	if preferences == nil {
		return nil, fmt.Errorf("preference repository is required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("notification creator is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventNotificationService{
		preferences:   preferences,
		notifications: notifications,
		limiter:       limiter,
		logger:        logger,
	}, nil
}

func (s *EventNotificationService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// HandleOnChainEvent is subscribed to onchain.event. Failures for one user
// or channel are logged and do not stop the rest.
func (s *EventNotificationService) HandleOnChainEvent(ctx context.Context, e eventbus.Event) error {
	var event OnChainEvent
	if err := e.Decode(&event); err != nil {
		return err
	}
	if strings.TrimSpace(string(event.EventType)) == "" {
		return fmt.Errorf("%w: onchain event without eventType", domain.ErrValidation)
	}

	preferences, err := s.preferences.ListEnabledForEvent(ctx, string(event.EventType))
	if err != nil {
		return fmt.Errorf("failed to load preferences for %s: %w", event.EventType, err)
	}

	for i := range preferences {
		preference := preferences[i]
		for _, channel := range domain.UniqueChannels(preference.Channels) {
			if err := s.notify(ctx, preference, channel, event); err != nil {
				s.logger.Error("failed to create on-chain notification",
					zap.String("userId", preference.UserID),
					zap.String("eventType", string(event.EventType)),
					zap.String("channel", channel.String()),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}

func (s *EventNotificationService) notify(
	ctx context.Context,
	preference domain.NotificationPreference,
	channel domain.Channel,
	event OnChainEvent,
) error {
	switch channel {
	case domain.ChannelEmail:
		if preference.EmailAddress == nil || strings.TrimSpace(*preference.EmailAddress) == "" {
			return nil
		}
		key := fmt.Sprintf("email:%s:%s", preference.UserID, event.EventType)
		if !s.allow(ctx, key, emailEventLimit, emailEventWindow, preference.UserID, event.EventType, channel) {
			return nil
		}
	case domain.ChannelWebhook:
		key := fmt.Sprintf("webhook:%s:%s", preference.UserID, event.EventType)
		if !s.allow(ctx, key, webhookEventLimit, webhookEventWindow, preference.UserID, event.EventType, channel) {
			return nil
		}
	case domain.ChannelInApp, domain.ChannelPush:
	default:
		return fmt.Errorf("%w: unsupported channel %q", domain.ErrValidation, channel)
	}

	title := fmt.Sprintf("On-chain Event: %s", event.EventType)
	_, err := s.notifications.Create(ctx, CreateNotificationInput{
		RecipientID: preference.UserID,
		Title:       &title,
		Content:     FormatOnChainContent(event.EventType, event.EventData),
		Channels:    []domain.Channel{channel},
		Metadata: map[string]any{
			"eventType": string(event.EventType),
			"eventData": event.EventData,
		},
		PreferencesResolved: true,
	})
	return err
}

func (s *EventNotificationService) allow(
	ctx context.Context,
	key string,
	limit int,
	window time.Duration,
	userID string,
	eventType domain.OnChainEventType,
	channel domain.Channel,
) bool {
	allowed, err := s.limiter.CheckAndConsume(ctx, key, limit, window)
	if err != nil {
		s.logger.Warn("rate limiter unavailable, allowing notification",
			zap.String("key", key),
			zap.Error(err),
		)
		return true
	}
	if !allowed {
		s.metrics.IncRateLimited(strings.ToLower(channel.String()))
		s.logger.Warn("rate limit exceeded, skipping notification",
			zap.String("userId", userID),
			zap.String("eventType", string(eventType)),
			zap.String("channel", channel.String()),
		)
	}
	return allowed
}

// FormatOnChainContent renders the human readable line for an on-chain event.
func FormatOnChainContent(eventType domain.OnChainEventType, data map[string]any) string {
	v := func(key string) string {
		value, ok := data[key]
		if !ok || value == nil {
			return ""
		}
		return fmt.Sprint(value)
	}

	switch eventType {
	case domain.OnChainSignalRegistered:
		return "New signal registered: " + v("signalId")
	case domain.OnChainVoteResolved:
		return fmt.Sprintf("Vote resolved: %s - Result: %s", v("voteId"), v("result"))
	case domain.OnChainReputationChanged:
		return fmt.Sprintf("Reputation changed: %s - New value: %s", v("userId"), v("newValue"))
	case domain.OnChainStake:
		return "Stake added: " + v("amount")
	case domain.OnChainUnstake:
		return "Stake removed: " + v("amount")
	case domain.OnChainRewardClaimed:
		return "Reward claimed: " + v("amount")
	case domain.OnChainSignalExpired:
		return "Signal expired: " + v("signalId")
	case domain.OnChainSignalFlagged:
		return fmt.Sprintf("Signal flagged: %s - Reason: %s", v("signalId"), v("reason"))
	default:
		return fmt.Sprintf("Event occurred: %s", eventType)
	}
}
