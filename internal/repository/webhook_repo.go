package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WebhookRepository interface {
	Create(ctx context.Context, w *domain.WebhookRegistration) error
	GetByID(ctx context.Context, id string) (*domain.WebhookRegistration, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.WebhookRegistration, error)
	// ListSubscribed returns active, verified registrations listing the event.
	ListSubscribed(ctx context.Context, eventName string) ([]domain.WebhookRegistration, error)
	ListDeliverableByOwner(ctx context.Context, ownerID string) ([]domain.WebhookRegistration, error)
	Save(ctx context.Context, w *domain.WebhookRegistration) error
	GetByVerificationToken(ctx context.Context, token string) (*domain.WebhookRegistration, error)
	SetVerificationToken(ctx context.Context, id, token string, expiresAt time.Time) error
	MarkVerified(ctx context.Context, id string) error
	RecordSuccess(ctx context.Context, id string, at time.Time) error
	// RecordFailure increments the failure counter and returns its new value.
	RecordFailure(ctx context.Context, id string, at time.Time) (int, error)
}

type GormWebhookRepo struct {
	db *gorm.DB
}

func NewGormWebhookRepo(db *gorm.DB) *GormWebhookRepo {
	return &GormWebhookRepo{db: db}
}

func (r *GormWebhookRepo) Create(ctx context.Context, w *domain.WebhookRegistration) error {
	model, err := webhookModelFromDomain(w)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if w != nil {
		*w = *webhookModelToDomain(model)
	}
	return nil
}

func (r *GormWebhookRepo) GetByID(ctx context.Context, id string) (*domain.WebhookRegistration, error) {
	var model WebhookModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return webhookModelToDomain(&model), nil
}

func (r *GormWebhookRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.WebhookRegistration, error) {
	var models []WebhookModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toWebhooks(models), nil
}

func (r *GormWebhookRepo) ListSubscribed(ctx context.Context, eventName string) ([]domain.WebhookRegistration, error) {
	filter, err := encodeJSON([]string{eventName})
	if err != nil {
		return nil, err
	}

	var models []WebhookModel
	err = r.db.WithContext(ctx).
		Where("active = ? AND verified = ?", true, true).
		Where("event_types @> ?::jsonb", string(filter)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toWebhooks(models), nil
}

func (r *GormWebhookRepo) ListDeliverableByOwner(ctx context.Context, ownerID string) ([]domain.WebhookRegistration, error) {
	var models []WebhookModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND active = ? AND verified = ?", ownerID, true, true).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toWebhooks(models), nil
}

// Save writes the mutable settings of a registration. Delivery counters are
// owned by RecordSuccess and RecordFailure and are not touched here.
func (r *GormWebhookRepo) Save(ctx context.Context, w *domain.WebhookRegistration) error {
	model, err := webhookModelFromDomain(w)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Model(&WebhookModel{}).
		Where("id = ?", w.ID).
		Updates(map[string]any{
			"name":          model.Name,
			"url":           model.URL,
			"method":        model.Method,
			"headers":       model.Headers,
			"event_types":   model.EventTypes,
			"active":        model.Active,
			"verified":      model.Verified,
			"configuration": model.Configuration,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormWebhookRepo) GetByVerificationToken(ctx context.Context, token string) (*domain.WebhookRegistration, error) {
	var model WebhookModel
	err := r.db.WithContext(ctx).
		Where("verification_token = ?", token).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return webhookModelToDomain(&model), nil
}

func (r *GormWebhookRepo) SetVerificationToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&WebhookModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"verification_token":      token,
			"verification_expires_at": expiresAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormWebhookRepo) MarkVerified(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&WebhookModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"verified":                true,
			"verification_token":      nil,
			"verification_expires_at": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormWebhookRepo) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&WebhookModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"failure_count":   0,
			"last_success_at": at,
		}).Error
}

func (r *GormWebhookRepo) RecordFailure(ctx context.Context, id string, at time.Time) (int, error) {
	var model WebhookModel
	result := r.db.WithContext(ctx).
		Model(&model).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "failure_count"}}}).
		Where("id = ?", id).
		Updates(map[string]any{
			"failure_count":   gorm.Expr("failure_count + 1"),
			"last_failure_at": at,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, domain.ErrNotFound
	}
	return model.FailureCount, nil
}

func toWebhooks(models []WebhookModel) []domain.WebhookRegistration {
	webhooks := make([]domain.WebhookRegistration, 0, len(models))
	for i := range models {
		webhooks = append(webhooks, *webhookModelToDomain(&models[i]))
	}
	return webhooks
}
