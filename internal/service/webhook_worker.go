package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"github.com/kursadbilgin/signal-notifier/internal/eventbus"
	"github.com/kursadbilgin/signal-notifier/internal/observability"
	"github.com/kursadbilgin/signal-notifier/internal/ratelimit"
	"github.com/kursadbilgin/signal-notifier/internal/repository"
	"github.com/kursadbilgin/signal-notifier/internal/webhook"
	"go.uber.org/zap"
)

const (
	defaultWebhookPollInterval = 5 * time.Second
	defaultWebhookBatchSize    = 100
	defaultWebhookStaleAfter   = 5 * time.Minute

	webhookRateWindow    = time.Minute
	webhookRateDeferral  = 60 * time.Second
	webhookRateKeyPrefix = "webhook-registration:"

	cancelledWebhookMessage = "webhook registration inactive or unverified"
	removedWebhookMessage   = "webhook registration removed"
)

// WebhookWorker fans external events out to subscribed registrations and
// drains the persisted webhook delivery queue.
type WebhookWorker struct {
	webhooks   repository.WebhookRepository
	deliveries repository.WebhookDeliveryRepository
	manager    *WebhookManager
	limiter    ratelimit.RateLimiter
	events     eventbus.Publisher
	logger     *zap.Logger
	metrics    *observability.Metrics
	interval   time.Duration
	limit      int
	staleAfter time.Duration
	kick       chan struct{}
	now        func() time.Time
	newID      func() string
}

func NewWebhookWorker(
	webhooks repository.WebhookRepository,
	deliveries repository.WebhookDeliveryRepository,
	manager *WebhookManager,
	limiter ratelimit.RateLimiter,
	events eventbus.Publisher,
	interval time.Duration,
	logger *zap.Logger,
) (*WebhookWorker, error) {
	if webhooks == nil {
		return nil, fmt.Errorf("webhook repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("webhook delivery repository is required")
	}
	if manager == nil {
		return nil, fmt.Errorf("webhook manager is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event publisher is required")
	}
	if interval <= 0 {
		interval = defaultWebhookPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebhookWorker{
		webhooks:   webhooks,
		deliveries: deliveries,
		manager:    manager,
		limiter:    limiter,
		events:     events,
		logger:     logger,
		interval:   interval,
		limit:      defaultWebhookBatchSize,
		staleAfter: defaultWebhookStaleAfter,
		kick:       make(chan struct{}, 1),
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

func (w *WebhookWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// HandleEvent is subscribed to "*": it only sees external events and queues
// one delivery per active, verified registration listing the event.
func (w *WebhookWorker) HandleEvent(ctx context.Context, event eventbus.Event) error {
	registrations, err := w.webhooks.ListSubscribed(ctx, event.Name)
	if err != nil {
		return fmt.Errorf("failed to load subscribed webhooks: %w", err)
	}
	if len(registrations) == 0 {
		return nil
	}

	body, err := webhook.NewEnvelope(event.ID, event.Name, event.OccurredAt, event.Payload).Encode()
	if err != nil {
		return err
	}

	now := w.now().UTC()
	queued := 0
	for i := range registrations {
		delivery := &domain.WebhookDelivery{
			ID:            w.newID(),
			WebhookID:     registrations[i].ID,
			EventID:       event.ID,
			EventName:     event.Name,
			Payload:       body,
			Status:        domain.WebhookDeliveryPending,
			NextAttemptAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := w.deliveries.Create(ctx, delivery); err != nil {
			w.logger.Error("failed to queue webhook delivery",
				zap.String("webhookId", registrations[i].ID),
				zap.String("event", event.Name),
				zap.Error(err),
			)
			continue
		}
		queued++
	}

	if queued > 0 {
		w.wake()
	}
	return nil
}

func (w *WebhookWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error("webhook worker initial pass failed", zap.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-w.kick:
		}

		if _, err := w.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("webhook worker pass failed", zap.Error(err))
		}
	}
}

// RunOnce releases stale claims, then attempts every due delivery and
// returns how many it attempted.
func (w *WebhookWorker) RunOnce(ctx context.Context) (int, error) {
	now := w.now().UTC()

	released, err := w.deliveries.ReleaseStale(ctx, now.Add(-w.staleAfter))
	if err != nil {
		return 0, fmt.Errorf("failed to release stale webhook deliveries: %w", err)
	}
	if released > 0 {
		w.logger.Warn("released stale webhook deliveries", zap.Int64("count", released))
	}

	due, err := w.deliveries.GetDue(ctx, now, w.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch due webhook deliveries: %w", err)
	}

	attempted := 0
	for i := range due {
		ok, err := w.process(ctx, due[i])
		if err != nil {
			w.logger.Error("failed to process webhook delivery",
				zap.String("deliveryId", due[i].ID),
				zap.String("webhookId", due[i].WebhookID),
				zap.Error(err),
			)
			continue
		}
		if ok {
			attempted++
		}
	}

	return attempted, nil
}

func (w *WebhookWorker) process(ctx context.Context, delivery domain.WebhookDelivery) (bool, error) {
	now := w.now().UTC()
	claimed, err := w.deliveries.Claim(ctx, delivery.ID, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim webhook delivery: %w", err)
	}
	if !claimed {
		return false, nil
	}

	registration, err := w.webhooks.GetByID(ctx, delivery.WebhookID)
	if errors.Is(err, domain.ErrNotFound) {
		w.metrics.IncWebhookDelivery("cancelled")
		return false, w.deliveries.MarkFailed(ctx, delivery.ID, removedWebhookMessage, nil)
	}
	if err != nil {
		if deferErr := w.deliveries.Defer(ctx, delivery.ID, now); deferErr != nil {
			w.logger.Error("failed to release webhook delivery claim",
				zap.String("webhookDeliveryId", delivery.ID),
				zap.Error(deferErr),
			)
		}
		return false, fmt.Errorf("failed to load webhook registration: %w", err)
	}
	if !registration.Deliverable() {
		w.metrics.IncWebhookDelivery("cancelled")
		return false, w.deliveries.MarkFailed(ctx, delivery.ID, cancelledWebhookMessage, nil)
	}

	cfg := registration.Configuration.WithDefaults()
	allowed, err := w.limiter.CheckAndConsume(ctx, webhookRateKeyPrefix+registration.ID, cfg.RateLimit.MaxPerMinute, webhookRateWindow)
	if err != nil {
		w.logger.Warn("webhook rate limiter unavailable, delivering anyway",
			zap.String("webhookId", registration.ID),
			zap.Error(err),
		)
		allowed = true
	}
	if !allowed {
		w.metrics.IncRateLimited("webhook")
		return false, w.deliveries.Defer(ctx, delivery.ID, now.Add(webhookRateDeferral))
	}

	resp, failures, sendErr := w.manager.attempt(ctx, registration, delivery.Payload)
	// The attempt's outcome must be persisted even if shutdown began mid-call.
	ctx = context.WithoutCancel(ctx)
	if sendErr == nil {
		code := resp.StatusCode
		w.metrics.IncWebhookDelivery("delivered")
		return true, w.deliveries.MarkDelivered(ctx, delivery.ID, &code, w.now().UTC())
	}

	var statusCode *int
	if code := statusCodeOf(sendErr); code > 0 {
		statusCode = &code
	}

	if failures <= cfg.RetryStrategy.MaxRetries {
		next := w.now().UTC().Add(webhookRetryDelay(cfg.RetryStrategy, failures))
		w.metrics.IncWebhookDelivery("retry_scheduled")
		return true, w.deliveries.ScheduleRetry(ctx, delivery.ID, next, sendErr.Error(), statusCode)
	}

	if err := w.deliveries.MarkFailed(ctx, delivery.ID, sendErr.Error(), statusCode); err != nil {
		return true, err
	}
	w.metrics.IncWebhookDelivery("failed")
	if err := w.events.Publish(ctx, domain.EventWebhookDeliveryFailed, map[string]any{
		"webhookId":    registration.ID,
		"deliveryId":   delivery.ID,
		"eventId":      delivery.EventID,
		"event":        delivery.EventName,
		"failureCount": failures,
		"error":        sendErr.Error(),
	}); err != nil {
		w.logger.Warn("failed to publish webhook failure fact",
			zap.String("webhookId", registration.ID),
			zap.Error(err),
		)
	}
	return true, nil
}

func (w *WebhookWorker) wake() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// webhookRetryDelay returns initialDelay × multiplier^(failureCount-1).
func webhookRetryDelay(strategy domain.RetryStrategy, failureCount int) time.Duration {
	if failureCount < 1 {
		failureCount = 1
	}
	ms := float64(strategy.InitialDelayMs) * math.Pow(strategy.BackoffMultiplier, float64(failureCount-1))
	return time.Duration(ms) * time.Millisecond
}
