package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PreferenceRepository interface {
	ListByUser(ctx context.Context, userID string) ([]domain.NotificationPreference, error)
	Get(ctx context.Context, userID, eventType string) (*domain.NotificationPreference, error)
	Upsert(ctx context.Context, p *domain.NotificationPreference) error
	Delete(ctx context.Context, userID, eventType string) error
	ListEnabledForEvent(ctx context.Context, eventType string) ([]domain.NotificationPreference, error)
	// FindEmailAddress returns any email address the user stored on a preference.
	FindEmailAddress(ctx context.Context, userID string) (string, error)
}

type GormPreferenceRepo struct {
	db *gorm.DB
}

func NewGormPreferenceRepo(db *gorm.DB) *GormPreferenceRepo {
	return &GormPreferenceRepo{db: db}
}

func (r *GormPreferenceRepo) ListByUser(ctx context.Context, userID string) ([]domain.NotificationPreference, error) {
	var models []PreferenceModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("event_type ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toPreferences(models), nil
}

func (r *GormPreferenceRepo) Get(ctx context.Context, userID, eventType string) (*domain.NotificationPreference, error) {
	var model PreferenceModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND event_type = ?", userID, eventType).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return preferenceModelToDomain(&model), nil
}

func (r *GormPreferenceRepo) Upsert(ctx context.Context, p *domain.NotificationPreference) error {
	model, err := preferenceModelFromDomain(p)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "event_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"enabled", "channels", "email_address", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}

	stored, err := r.Get(ctx, p.UserID, p.EventType)
	if err != nil {
		return err
	}
	*p = *stored
	return nil
}

func (r *GormPreferenceRepo) Delete(ctx context.Context, userID, eventType string) error {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND event_type = ?", userID, eventType).
		Delete(&PreferenceModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormPreferenceRepo) ListEnabledForEvent(ctx context.Context, eventType string) ([]domain.NotificationPreference, error) {
	var models []PreferenceModel
	err := r.db.WithContext(ctx).
		Where("event_type = ? AND enabled = ?", eventType, true).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toPreferences(models), nil
}

func (r *GormPreferenceRepo) FindEmailAddress(ctx context.Context, userID string) (string, error) {
	var model PreferenceModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND email_address IS NOT NULL AND email_address <> ''", userID).
		Order("updated_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return *model.EmailAddress, nil
}

func toPreferences(models []PreferenceModel) []domain.NotificationPreference {
	preferences := make([]domain.NotificationPreference, 0, len(models))
	for i := range models {
		preferences = append(preferences, *preferenceModelToDomain(&models[i]))
	}
	return preferences
}
