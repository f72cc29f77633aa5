package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"github.com/kursadbilgin/signal-notifier/internal/eventbus"
	"github.com/kursadbilgin/signal-notifier/internal/observability"
	"github.com/kursadbilgin/signal-notifier/internal/provider"
	"github.com/kursadbilgin/signal-notifier/internal/repository"
	"go.uber.org/zap"
)

const defaultDeliveryTimeout = 5 * time.Second

// Dispatcher processes notifications popped by the PriorityScheduler: it
// claims the notification, opens a delivery record per channel and hands
// each one to the channel's provider.
type Dispatcher struct {
	notifications repository.NotificationRepository
	tracker       *DeliveryTracker
	providers     provider.Set
	expirer       *expirer
	logger        *zap.Logger
	metrics       *observability.Metrics
	timeout       time.Duration
	now           func() time.Time
}

var _ Processor = (*Dispatcher)(nil)

func NewDispatcher(
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	tracker *DeliveryTracker,
	providers provider.Set,
	events eventbus.Publisher,
	timeout time.Duration,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("delivery tracker is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event publisher is required")
	}
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		notifications: notifications,
		tracker:       tracker,
		providers:     providers,
		expirer: &expirer{
			notifications: notifications,
			deliveries:    deliveries,
			events:        events,
			logger:        logger,
		},
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
	d.expirer.metrics = metrics
}

func (d *Dispatcher) Process(ctx context.Context, queued domain.Notification) error {
	claimed, err := d.notifications.ClaimForProcessing(ctx, queued.ID)
	if err != nil {
		return fmt.Errorf("failed to claim notification: %w", err)
	}
	if !claimed {
		d.logger.Debug("notification already claimed or finalized, skipping",
			zap.String("notificationId", queued.ID),
		)
		return nil
	}

	// Once claimed, store writes must land even if ctx is cancelled, or the
	// notification stays PROCESSING until the reaper releases it. Only the
	// provider calls follow ctx.
	store := context.WithoutCancel(ctx)

	notification, err := d.notifications.GetByID(store, queued.ID)
	if err != nil {
		return fmt.Errorf("failed to reload claimed notification: %w", err)
	}

	if notification.IsExpired(d.now().UTC()) {
		_, err := d.expirer.expire(store, *notification, func(ctx context.Context, id string) (bool, error) {
			return d.notifications.Finalize(ctx, id, domain.StatusFailed)
		})
		return err
	}

	sending := make([]*domain.DeliveryRecord, 0, len(notification.Channels))
	for _, channel := range domain.UniqueChannels(notification.Channels) {
		record, err := d.tracker.StartDelivery(store, notification.ID, channel)
		if errors.Is(err, domain.ErrConflict) {
			// Delivered, failed or waiting on a scheduled retry.
			continue
		}
		if err != nil {
			d.logger.Error("failed to start delivery",
				zap.String("notificationId", notification.ID),
				zap.String("channel", channel.String()),
				zap.Error(err),
			)
			continue
		}
		sending = append(sending, record)
	}

	if len(sending) == 0 {
		return d.tracker.Reconcile(store, notification.ID)
	}

	for _, record := range sending {
		if err := d.deliver(ctx, store, *notification, record); err != nil {
			d.logger.Error("failed to record delivery outcome",
				zap.String("notificationId", notification.ID),
				zap.String("deliveryRecordId", record.ID),
				zap.String("channel", record.Channel.String()),
				zap.Error(err),
			)
		}
	}

	return nil
}

func (d *Dispatcher) deliver(ctx, store context.Context, notification domain.Notification, record *domain.DeliveryRecord) error {
	p, err := d.providers.For(record.Channel)
	if err != nil {
		return d.tracker.RecordPermanentFailure(store, record.ID, err.Error())
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	start := d.now()
	outcome, sendErr := p.Deliver(callCtx, notification)
	cancel()
	d.metrics.ObserveDeliveryDuration(record.Channel.String(), d.now().Sub(start))

	if sendErr == nil {
		return d.tracker.RecordSuccess(store, record.ID, outcome)
	}

	d.logger.Warn("channel delivery failed",
		zap.String("notificationId", notification.ID),
		zap.String("deliveryRecordId", record.ID),
		zap.String("channel", record.Channel.String()),
		zap.Bool("transient", provider.IsTransient(sendErr)),
		zap.Error(sendErr),
	)

	if ctx.Err() != nil {
		// Shutting down: keep the attempt retryable.
		return d.tracker.RecordFailure(store, record.ID, sendErr.Error())
	}
	if !provider.IsTransient(sendErr) {
		return d.tracker.RecordPermanentFailure(store, record.ID, sendErr.Error())
	}
	return d.tracker.RecordFailure(store, record.ID, sendErr.Error())
}
