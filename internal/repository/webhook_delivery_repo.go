package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"gorm.io/gorm"
)

// WebhookDeliveryRepository is the durable queue behind webhook fan-out.
type WebhookDeliveryRepository interface {
	Create(ctx context.Context, d *domain.WebhookDelivery) error
	GetByID(ctx context.Context, id string) (*domain.WebhookDelivery, error)
	GetDue(ctx context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error)
	// Claim moves a due PENDING row to SENDING and counts the attempt.
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	// Defer returns a SENDING row to PENDING without consuming its attempt.
	Defer(ctx context.Context, id string, next time.Time) error
	ScheduleRetry(ctx context.Context, id string, next time.Time, message string, statusCode *int) error
	MarkDelivered(ctx context.Context, id string, statusCode *int, at time.Time) error
	MarkFailed(ctx context.Context, id string, message string, statusCode *int) error
	ListByWebhook(ctx context.Context, webhookID string, page, pageSize int) ([]domain.WebhookDelivery, int64, error)
	// ReleaseStale returns rows stuck in SENDING since before the cutoff.
	ReleaseStale(ctx context.Context, before time.Time) (int64, error)
}

type GormWebhookDeliveryRepo struct {
	db *gorm.DB
}

func NewGormWebhookDeliveryRepo(db *gorm.DB) *GormWebhookDeliveryRepo {
	return &GormWebhookDeliveryRepo{db: db}
}

func (r *GormWebhookDeliveryRepo) Create(ctx context.Context, d *domain.WebhookDelivery) error {
	model := webhookDeliveryModelFromDomain(d)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if d != nil {
		*d = *webhookDeliveryModelToDomain(model)
	}
	return nil
}

func (r *GormWebhookDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.WebhookDelivery, error) {
	var model WebhookDeliveryModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return webhookDeliveryModelToDomain(&model), nil
}

func (r *GormWebhookDeliveryRepo) GetDue(ctx context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error) {
	var models []WebhookDeliveryModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", domain.WebhookDeliveryPending, now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toWebhookDeliveries(models), nil
}

func (r *GormWebhookDeliveryRepo) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&WebhookDeliveryModel{}).
		Where("id = ? AND status = ? AND next_attempt_at <= ?", id, domain.WebhookDeliveryPending, now).
		Updates(map[string]any{
			"status":   domain.WebhookDeliverySending,
			"attempts": gorm.Expr("attempts + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormWebhookDeliveryRepo) Defer(ctx context.Context, id string, next time.Time) error {
	return r.db.WithContext(ctx).
		Model(&WebhookDeliveryModel{}).
		Where("id = ? AND status = ?", id, domain.WebhookDeliverySending).
		Updates(map[string]any{
			"status":          domain.WebhookDeliveryPending,
			"attempts":        gorm.Expr("GREATEST(attempts - 1, 0)"),
			"next_attempt_at": next,
		}).Error
}

func (r *GormWebhookDeliveryRepo) ScheduleRetry(
	ctx context.Context,
	id string,
	next time.Time,
	message string,
	statusCode *int,
) error {
	return r.db.WithContext(ctx).
		Model(&WebhookDeliveryModel{}).
		Where("id = ? AND status = ?", id, domain.WebhookDeliverySending).
		Updates(map[string]any{
			"status":           domain.WebhookDeliveryPending,
			"next_attempt_at":  next,
			"last_error":       message,
			"last_status_code": statusCode,
		}).Error
}

func (r *GormWebhookDeliveryRepo) MarkDelivered(ctx context.Context, id string, statusCode *int, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&WebhookDeliveryModel{}).
		Where("id = ? AND status = ?", id, domain.WebhookDeliverySending).
		Updates(map[string]any{
			"status":           domain.WebhookDeliveryDelivered,
			"delivered_at":     at,
			"last_error":       nil,
			"last_status_code": statusCode,
		}).Error
}

func (r *GormWebhookDeliveryRepo) MarkFailed(ctx context.Context, id string, message string, statusCode *int) error {
	return r.db.WithContext(ctx).
		Model(&WebhookDeliveryModel{}).
		Where("id = ? AND status = ?", id, domain.WebhookDeliverySending).
		Updates(map[string]any{
			"status":           domain.WebhookDeliveryFailed,
			"last_error":       message,
			"last_status_code": statusCode,
		}).Error
}

func (r *GormWebhookDeliveryRepo) ListByWebhook(
	ctx context.Context,
	webhookID string,
	page, pageSize int,
) ([]domain.WebhookDelivery, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&WebhookDeliveryModel{}).
		Where("webhook_id = ?", webhookID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize = ListParams{Page: page, PageSize: pageSize}.Normalized()

	var models []WebhookDeliveryModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}
	return toWebhookDeliveries(models), total, nil
}

func (r *GormWebhookDeliveryRepo) ReleaseStale(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&WebhookDeliveryModel{}).
		Where("status = ? AND updated_at < ?", domain.WebhookDeliverySending, before).
		Update("status", domain.WebhookDeliveryPending)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func toWebhookDeliveries(models []WebhookDeliveryModel) []domain.WebhookDelivery {
	deliveries := make([]domain.WebhookDelivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *webhookDeliveryModelToDomain(&models[i]))
	}
	return deliveries
}
