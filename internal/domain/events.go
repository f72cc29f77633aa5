package domain

import "strings"

// Event names published on the internal bus.
const (
	EventNotificationCreated    = "notification.created"
	EventNotificationDelivered  = "notification.delivered"
	EventNotificationFailed     = "notification.failed"
	EventNotificationExpired    = "notification.expired"
	EventDeliveryDelivered      = "notification.delivery.delivered"
	EventDeliveryFailed         = "notification.delivery.failed"
	EventDeliveryRetryScheduled = "notification.delivery.retry_scheduled"
	EventWebhookVerification    = "webhook.verification"
	EventWebhookTest            = "webhook.test"
	EventWebhookDeliveryFailed  = "webhook.delivery.failed"
	EventOnChain                = "onchain.event"
)

const defaultWebhookNotificationEvent = "notification"

var internalEventPrefixes = []string{"webhook.", "notification."}

// IsInternalEvent reports whether the event belongs to the engine's own
// namespaces and therefore must not fan out to webhook subscribers.
func IsInternalEvent(name string) bool {
	for _, prefix := range internalEventPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// WebhookEventName is the envelope event used when a notification is sent
// over the webhook channel.
func WebhookEventName(n *Notification) string {
	if et := n.EventType(); et != "" {
		return et
	}
	return defaultWebhookNotificationEvent
}

// OnChainEventType enumerates platform contract events routed to users.
type OnChainEventType string

const (
	OnChainSignalRegistered  OnChainEventType = "SIGNAL_REGISTERED"
	OnChainVoteResolved      OnChainEventType = "VOTE_RESOLVED"
	OnChainReputationChanged OnChainEventType = "REPUTATION_CHANGED"
	OnChainStake             OnChainEventType = "STAKE"
	OnChainUnstake           OnChainEventType = "UNSTAKE"
	OnChainRewardClaimed     OnChainEventType = "REWARD_CLAIMED"
	OnChainSignalExpired     OnChainEventType = "SIGNAL_EXPIRED"
	OnChainSignalFlagged     OnChainEventType = "SIGNAL_FLAGGED"
)
