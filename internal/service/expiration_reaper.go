package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"github.com/kursadbilgin/signal-notifier/internal/eventbus"
	"github.com/kursadbilgin/signal-notifier/internal/observability"
	"github.com/kursadbilgin/signal-notifier/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultExpirationInterval = 24 * time.Hour
	defaultExpirationLimit    = 100
)

// expirer fails a notification whose expiry passed together with every
// delivery record still outstanding for it.
type expirer struct {
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	events        eventbus.Publisher
	logger        *zap.Logger
	metrics       *observability.Metrics
}

// expire runs claim and, when it wins, fails the open records and emits
// notification.expired. It reports whether this caller expired it.
func (e *expirer) expire(
	ctx context.Context,
	notification domain.Notification,
	claim func(ctx context.Context, id string) (bool, error),
) (bool, error) {
	won, err := claim(ctx, notification.ID)
	if err != nil {
		return false, fmt.Errorf("failed to expire notification: %w", err)
	}
	if !won {
		return false, nil
	}

	failed, err := e.deliveries.FailOpenForNotification(ctx, notification.ID, domain.ExpiredDeliveryMessage)
	if err != nil {
		return true, fmt.Errorf("failed to fail open delivery records: %w", err)
	}

	e.logger.Info("notification expired",
		zap.String("notificationId", notification.ID),
		zap.Int64("failedDeliveries", failed),
	)
	e.metrics.IncNotificationExpired()

	payload := map[string]any{
		"notificationId": notification.ID,
		"recipientId":    notification.RecipientID,
		"expiresAt":      notification.ExpiresAt,
	}
	if err := e.events.Publish(ctx, domain.EventNotificationExpired, payload); err != nil {
		e.logger.Warn("failed to publish expiration fact",
			zap.String("notificationId", notification.ID),
			zap.Error(err),
		)
	}
	return true, nil
}

// ExpirationReaper periodically fails PENDING notifications past their expiry.
type ExpirationReaper struct {
	notifications repository.NotificationRepository
	expirer       *expirer
	logger        *zap.Logger
	interval      time.Duration
	limit         int
	now           func() time.Time
}

func NewExpirationReaper(
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	events eventbus.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*ExpirationReaper, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event publisher is required")
	}
	if interval <= 0 {
		interval = defaultExpirationInterval
	}
	if limit <= 0 {
		limit = defaultExpirationLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ExpirationReaper{
		notifications: notifications,
		expirer: &expirer{
			notifications: notifications,
			deliveries:    deliveries,
			events:        events,
			logger:        logger,
		},
		logger:   logger,
		interval: interval,
		limit:    limit,
		now:      time.Now,
	}, nil
}

func (r *ExpirationReaper) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.expirer.metrics = metrics
}

func (r *ExpirationReaper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("expiration reaper initial pass failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("expiration reaper pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce expires one batch and returns how many notifications it expired.
func (r *ExpirationReaper) RunOnce(ctx context.Context) (int, error) {
	expired, err := r.notifications.GetExpiredPending(ctx, r.now().UTC(), r.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch expired notifications: %w", err)
	}

	count := 0
	for i := range expired {
		won, err := r.expirer.expire(ctx, expired[i], r.notifications.ExpireIfPending)
		if err != nil {
			r.logger.Error("failed to expire notification",
				zap.String("notificationId", expired[i].ID),
				zap.Error(err),
			)
		}
		if won {
			count++
		}
	}

	return count, nil
}
