package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"github.com/kursadbilgin/signal-notifier/internal/eventbus"
	"github.com/kursadbilgin/signal-notifier/internal/observability"
	"github.com/kursadbilgin/signal-notifier/internal/provider"
	"github.com/kursadbilgin/signal-notifier/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultMaxRetries        = 3
	defaultRetryInitialDelay = 30 * time.Second
	defaultBackoffMultiplier = 2
)

// RetryPolicy is the exponential backoff applied to failed channel deliveries.
type RetryPolicy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	BackoffMultiplier int
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = defaultMaxRetries
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaultRetryInitialDelay
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = defaultBackoffMultiplier
	}
	return p
}

// Delay returns initialDelay × multiplier^(retryCount-1).
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	factor := math.Pow(float64(p.BackoffMultiplier), float64(retryCount-1))
	return time.Duration(float64(p.InitialDelay) * factor)
}

// DeliveryTracker owns the per-channel delivery records of a notification
// and folds their outcomes into the notification's final status.
type DeliveryTracker struct {
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	events        eventbus.Publisher
	policy        RetryPolicy
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
	newID         func() string
}

func NewDeliveryTracker(
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	events eventbus.Publisher,
	policy RetryPolicy,
	logger *zap.Logger,
) (*DeliveryTracker, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryTracker{
		notifications: notifications,
		deliveries:    deliveries,
		events:        events,
		policy:        policy.withDefaults(),
		logger:        logger,
		now:           time.Now,
		newID:         uuid.NewString,
	}, nil
}

func (t *DeliveryTracker) SetMetrics(metrics *observability.Metrics) {
	if t == nil {
		return
	}
	t.metrics = metrics
}

// StartDelivery returns the channel's record in SENDING state, creating it
// when the channel has never been attempted.
func (t *DeliveryTracker) StartDelivery(ctx context.Context, notificationID string, channel domain.Channel) (*domain.DeliveryRecord, error) {
	if _, err := t.notifications.GetByID(ctx, notificationID); err != nil {
		return nil, err
	}

	existing, err := t.deliveries.GetByNotificationAndChannel(ctx, notificationID, channel)
	switch {
	case err == nil:
		return t.resumeRecord(ctx, existing)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("failed to load delivery record: %w", err)
	}

	now := t.now().UTC()
	record := &domain.DeliveryRecord{
		ID:             t.newID(),
		NotificationID: notificationID,
		Channel:        channel,
		Status:         domain.DeliveryStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := t.deliveries.Create(ctx, record); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Another dispatcher created the record between the lookup and the insert.
			existing, getErr := t.deliveries.GetByNotificationAndChannel(ctx, notificationID, channel)
			if getErr != nil {
				return nil, getErr
			}
			return t.resumeRecord(ctx, existing)
		}
		return nil, fmt.Errorf("failed to create delivery record: %w", err)
	}

	return t.resumeRecord(ctx, record)
}

func (t *DeliveryTracker) resumeRecord(ctx context.Context, record *domain.DeliveryRecord) (*domain.DeliveryRecord, error) {
	switch record.Status {
	case domain.DeliveryStatusSending:
		return record, nil
	case domain.DeliveryStatusPending:
		won, err := t.deliveries.Transition(ctx, record.ID, domain.DeliveryStatusPending, domain.DeliveryStatusSending)
		if err != nil {
			return nil, fmt.Errorf("failed to start delivery: %w", err)
		}
		if !won {
			return nil, fmt.Errorf("%w: delivery record %s changed state", domain.ErrConflict, record.ID)
		}
		record.Status = domain.DeliveryStatusSending
		return record, nil
	default:
		return nil, fmt.Errorf("%w: delivery record %s is %s", domain.ErrConflict, record.ID, record.Status)
	}
}

func (t *DeliveryTracker) RecordSuccess(ctx context.Context, recordID string, outcome *provider.DeliveryOutcome) error {
	record, err := t.sendingRecord(ctx, recordID)
	if err != nil {
		return err
	}

	var externalID *string
	if outcome != nil && strings.TrimSpace(outcome.ExternalID) != "" {
		value := outcome.ExternalID
		externalID = &value
	}

	won, err := t.deliveries.MarkDelivered(ctx, record.ID, externalID, t.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark delivery delivered: %w", err)
	}
	if !won {
		return fmt.Errorf("%w: delivery record %s is no longer sending", domain.ErrConflict, record.ID)
	}

	t.metrics.IncDelivery(record.Channel.String(), "delivered")
	t.publish(ctx, domain.EventDeliveryDelivered, deliveryFact(record, map[string]any{
		"externalId": externalID,
	}))

	return t.Reconcile(ctx, record.NotificationID)
}

// RecordFailure consumes one retry. The record is rescheduled while the
// retry budget lasts and fails permanently after that.
func (t *DeliveryTracker) RecordFailure(ctx context.Context, recordID string, errorMessage string) error {
	return t.recordFailure(ctx, recordID, errorMessage, true)
}

// RecordPermanentFailure fails the record without scheduling a retry. Used for
// provider errors that another attempt cannot fix.
func (t *DeliveryTracker) RecordPermanentFailure(ctx context.Context, recordID string, errorMessage string) error {
	return t.recordFailure(ctx, recordID, errorMessage, false)
}

func (t *DeliveryTracker) recordFailure(ctx context.Context, recordID string, errorMessage string, retryable bool) error {
	record, err := t.sendingRecord(ctx, recordID)
	if err != nil {
		return err
	}

	retryCount := record.RetryCount + 1
	if retryable && retryCount <= t.policy.MaxRetries {
		nextRetryAt := t.now().UTC().Add(t.policy.Delay(retryCount))
		won, err := t.deliveries.ScheduleRetry(ctx, record.ID, retryCount, nextRetryAt, errorMessage)
		if err != nil {
			return fmt.Errorf("failed to schedule delivery retry: %w", err)
		}
		if !won {
			return fmt.Errorf("%w: delivery record %s is no longer sending", domain.ErrConflict, record.ID)
		}

		t.metrics.IncDelivery(record.Channel.String(), "retry_scheduled")
		t.publish(ctx, domain.EventDeliveryRetryScheduled, deliveryFact(record, map[string]any{
			"retryCount":  retryCount,
			"nextRetryAt": nextRetryAt,
			"error":       errorMessage,
		}))
		return nil
	}

	won, err := t.deliveries.MarkFailed(ctx, record.ID, retryCount, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to mark delivery failed: %w", err)
	}
	if !won {
		return fmt.Errorf("%w: delivery record %s is no longer sending", domain.ErrConflict, record.ID)
	}

	t.metrics.IncDelivery(record.Channel.String(), "failed")
	t.publish(ctx, domain.EventDeliveryFailed, deliveryFact(record, map[string]any{
		"retryCount": retryCount,
		"error":      errorMessage,
	}))

	return t.Reconcile(ctx, record.NotificationID)
}

// Requeue is the explicit retry command for a permanently failed record. The
// record restarts with a fresh retry budget and its notification reopens.
func (t *DeliveryTracker) Requeue(ctx context.Context, recordID string) (*domain.DeliveryRecord, error) {
	record, err := t.deliveries.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.Status != domain.DeliveryStatusFailed {
		return nil, fmt.Errorf("%w: only failed deliveries can be retried, record is %s", domain.ErrConflict, record.Status)
	}

	won, err := t.deliveries.Requeue(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to requeue delivery: %w", err)
	}
	if !won {
		return nil, fmt.Errorf("%w: delivery record %s changed state", domain.ErrConflict, record.ID)
	}

	if err := t.notifications.Reopen(ctx, record.NotificationID); err != nil {
		return nil, fmt.Errorf("failed to reopen notification: %w", err)
	}

	record.Status = domain.DeliveryStatusSending
	record.RetryCount = 0
	record.NextRetryAt = nil
	return record, nil
}

// Reconcile finalizes the notification once none of its channels is
// outstanding: DELIVERED if any channel delivered, FAILED otherwise.
func (t *DeliveryTracker) Reconcile(ctx context.Context, notificationID string) error {
	notification, err := t.notifications.GetByID(ctx, notificationID)
	if err != nil {
		return fmt.Errorf("failed to load notification for aggregation: %w", err)
	}
	if notification.Status.IsTerminal() {
		return nil
	}

	records, err := t.deliveries.ListByNotification(ctx, notificationID)
	if err != nil {
		return fmt.Errorf("failed to load delivery records: %w", err)
	}

	byChannel := make(map[domain.Channel]domain.DeliveryRecord, len(records))
	for _, r := range records {
		byChannel[r.Channel] = r
	}

	anyDelivered := false
	for _, ch := range domain.UniqueChannels(notification.Channels) {
		r, ok := byChannel[ch]
		if !ok || !r.Status.IsTerminal() {
			return nil
		}
		if r.Status == domain.DeliveryStatusDelivered {
			anyDelivered = true
		}
	}

	final := domain.StatusFailed
	event := domain.EventNotificationFailed
	if anyDelivered {
		final = domain.StatusDelivered
		event = domain.EventNotificationDelivered
	}

	won, err := t.notifications.Finalize(ctx, notificationID, final)
	if err != nil {
		return fmt.Errorf("failed to finalize notification: %w", err)
	}
	if !won {
		return nil
	}

	t.logger.Info("notification finalized",
		zap.String("notificationId", notificationID),
		zap.String("status", final.String()),
	)
	t.metrics.IncNotificationFinalized(final.String())
	t.publish(ctx, event, map[string]any{
		"notificationId": notificationID,
		"recipientId":    notification.RecipientID,
		"status":         final,
	})
	return nil
}

func (t *DeliveryTracker) sendingRecord(ctx context.Context, recordID string) (*domain.DeliveryRecord, error) {
	record, err := t.deliveries.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.Status != domain.DeliveryStatusSending {
		return nil, fmt.Errorf("%w: delivery record %s is %s, not SENDING", domain.ErrConflict, record.ID, record.Status)
	}
	return record, nil
}

func (t *DeliveryTracker) publish(ctx context.Context, name string, payload map[string]any) {
	if err := t.events.Publish(ctx, name, payload); err != nil {
		t.logger.Warn("failed to publish delivery fact",
			zap.String("event", name),
			zap.Error(err),
		)
	}
}

func deliveryFact(record *domain.DeliveryRecord, extra map[string]any) map[string]any {
	fact := map[string]any{
		"notificationId":   record.NotificationID,
		"deliveryRecordId": record.ID,
		"channel":          record.Channel,
	}
	for k, v := range extra {
		fact[k] = v
	}
	return fact
}
