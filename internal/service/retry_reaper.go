package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"github.com/kursadbilgin/signal-notifier/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetryReapInterval = time.Minute
	defaultRetryReapLimit    = 100
	// defaultStaleClaimAfter must stay above the longest dispatch of one
	// notification across all of its channels.
	defaultStaleClaimAfter = 5 * time.Minute

	finalizedDeliveryMessage = "notification already finalized"
)

// RetryReaper periodically claims due RETRY_SCHEDULED records and re-enqueues
// their notifications at the original priority. Each pass first releases
// claims abandoned by a crash or shutdown.
type RetryReaper struct {
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	scheduler     Enqueuer
	logger        *zap.Logger
	interval      time.Duration
	limit         int
	staleAfter    time.Duration
	now           func() time.Time
}

func NewRetryReaper(
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	scheduler Enqueuer,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryReaper, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if interval <= 0 {
		interval = defaultRetryReapInterval
	}
	if limit <= 0 {
		limit = defaultRetryReapLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryReaper{
		notifications: notifications,
		deliveries:    deliveries,
		scheduler:     scheduler,
		logger:        logger,
		interval:      interval,
		limit:         limit,
		staleAfter:    defaultStaleClaimAfter,
		now:           time.Now,
	}, nil
}

// SetStaleAfter sets how long a PROCESSING notification or SENDING record
// may go without an update before its claim is released.
func (r *RetryReaper) SetStaleAfter(d time.Duration) {
	if r == nil || d <= 0 {
		return
	}
	r.staleAfter = d
}

func (r *RetryReaper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial pass so retries that came due while stopped do not wait for the first tick.
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("retry reaper initial pass failed", zap.Error(err))
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
				r.logger.Error("retry reaper pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce releases stale claims, then requeues one batch of due retries. It
// returns how many notifications it enqueued.
func (r *RetryReaper) RunOnce(ctx context.Context) (int, error) {
	now := r.now().UTC()

	enqueued, err := r.releaseStale(ctx, now)
	if err != nil {
		if ctx.Err() != nil {
			return enqueued, err
		}
		r.logger.Error("failed to release stale claims", zap.Error(err))
	}

	due, err := r.deliveries.GetDueRetries(ctx, now, r.limit)
	if err != nil {
		return enqueued, fmt.Errorf("failed to fetch due retries: %w", err)
	}

	for i := range due {
		ok, err := r.requeue(ctx, due[i], now)
		if err != nil {
			r.logger.Error("failed to requeue delivery retry",
				zap.String("deliveryRecordId", due[i].ID),
				zap.String("notificationId", due[i].NotificationID),
				zap.Error(err),
			)
			continue
		}
		if ok {
			enqueued++
		}
	}

	return enqueued, nil
}

// releaseStale hands SENDING records that stopped moving back to the retry
// path, then reopens PROCESSING notifications with no outstanding record and
// enqueues them. Expired ones are failed by the dispatcher on the next claim.
func (r *RetryReaper) releaseStale(ctx context.Context, now time.Time) (int, error) {
	before := now.Add(-r.staleAfter)

	released, err := r.deliveries.ReleaseStale(ctx, before, now)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale deliveries: %w", err)
	}
	if released > 0 {
		r.logger.Warn("released stale delivery claims", zap.Int64("count", released))
	}

	stale, err := r.notifications.ListStaleProcessing(ctx, before, r.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch stale notifications: %w", err)
	}

	enqueued := 0
	for i := range stale {
		ok, err := r.reopen(ctx, stale[i], before)
		if err != nil {
			r.logger.Error("failed to release stale notification",
				zap.String("notificationId", stale[i].ID),
				zap.Error(err),
			)
			continue
		}
		if ok {
			enqueued++
		}
	}
	return enqueued, nil
}

func (r *RetryReaper) reopen(ctx context.Context, notification domain.Notification, before time.Time) (bool, error) {
	records, err := r.deliveries.ListByNotification(ctx, notification.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load delivery records: %w", err)
	}
	for _, record := range records {
		// A scheduled or in-flight retry will bring the notification back.
		if record.Status == domain.DeliveryStatusRetryScheduled || record.Status == domain.DeliveryStatusSending {
			return false, nil
		}
	}

	released, err := r.notifications.ReleaseStale(ctx, notification.ID, before)
	if err != nil {
		return false, err
	}
	if !released {
		return false, nil
	}

	r.logger.Warn("released stale notification claim", zap.String("notificationId", notification.ID))
	notification.Status = domain.StatusPending
	r.scheduler.Enqueue(notification)
	return true, nil
}

func (r *RetryReaper) requeue(ctx context.Context, record domain.DeliveryRecord, now time.Time) (bool, error) {
	// The status transition is the claim; a concurrent pass loses here.
	claimed, err := r.deliveries.Transition(ctx, record.ID, domain.DeliveryStatusRetryScheduled, domain.DeliveryStatusSending)
	if err != nil {
		return false, fmt.Errorf("failed to claim retry: %w", err)
	}
	if !claimed {
		return false, nil
	}
	// Past the claim the record is ours; finish even if the pass is cancelled.
	ctx = context.WithoutCancel(ctx)

	reset, err := r.notifications.ResetForRetry(ctx, record.NotificationID, now)
	if err != nil {
		return false, fmt.Errorf("failed to reset notification for retry: %w", err)
	}
	if !reset {
		// The notification was finalized (expired) while the retry waited.
		if _, err := r.deliveries.MarkFailed(ctx, record.ID, record.RetryCount, finalizedDeliveryMessage); err != nil {
			return false, fmt.Errorf("failed to fail orphaned retry: %w", err)
		}
		return false, nil
	}

	notification, err := r.notifications.GetByID(ctx, record.NotificationID)
	if err != nil {
		return false, fmt.Errorf("failed to load notification for retry: %w", err)
	}

	r.scheduler.Enqueue(*notification)
	return true, nil
}
