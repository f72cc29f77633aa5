package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"gorm.io/gorm"
)

var openDeliveryStatuses = []domain.DeliveryStatus{
	domain.DeliveryStatusPending,
	domain.DeliveryStatusSending,
	domain.DeliveryStatusRetryScheduled,
}

// DeliveryRepository persists per-channel delivery records. Every state
// change is a conditional update keyed on the expected current status so
// concurrent callers cannot both win a transition.
type DeliveryRepository interface {
	Create(ctx context.Context, record *domain.DeliveryRecord) error
	GetByID(ctx context.Context, id string) (*domain.DeliveryRecord, error)
	GetByNotificationAndChannel(ctx context.Context, notificationID string, channel domain.Channel) (*domain.DeliveryRecord, error)
	ListByNotification(ctx context.Context, notificationID string) ([]domain.DeliveryRecord, error)
	Transition(ctx context.Context, id string, from, to domain.DeliveryStatus) (bool, error)
	MarkDelivered(ctx context.Context, id string, externalID *string, at time.Time) (bool, error)
	ScheduleRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, message string) (bool, error)
	MarkFailed(ctx context.Context, id string, retryCount int, message string) (bool, error)
	Requeue(ctx context.Context, id string) (bool, error)
	GetDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryRecord, error)
	FailOpenForNotification(ctx context.Context, notificationID, message string) (int64, error)
	// ReleaseStale reschedules records stuck in SENDING since before, due at
	// now, without consuming a retry.
	ReleaseStale(ctx context.Context, before, now time.Time) (int64, error)
}

type GormDeliveryRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db}
}

func (r *GormDeliveryRepo) Create(ctx context.Context, record *domain.DeliveryRecord) error {
	model := deliveryModelFromDomain(record)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return err
	}
	if record != nil {
		*record = *deliveryModelToDomain(model)
	}
	return nil
}

func (r *GormDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.DeliveryRecord, error) {
	var model DeliveryRecordModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

func (r *GormDeliveryRepo) GetByNotificationAndChannel(
	ctx context.Context,
	notificationID string,
	channel domain.Channel,
) (*domain.DeliveryRecord, error) {
	var model DeliveryRecordModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ? AND channel = ?", notificationID, channel).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

func (r *GormDeliveryRepo) ListByNotification(ctx context.Context, notificationID string) ([]domain.DeliveryRecord, error) {
	var models []DeliveryRecordModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toDeliveryRecords(models), nil
}

func (r *GormDeliveryRepo) Transition(ctx context.Context, id string, from, to domain.DeliveryStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormDeliveryRepo) MarkDelivered(ctx context.Context, id string, externalID *string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("id = ? AND status = ?", id, domain.DeliveryStatusSending).
		Updates(map[string]any{
			"status":        domain.DeliveryStatusDelivered,
			"external_id":   externalID,
			"delivered_at":  at,
			"error_message": nil,
			"next_retry_at": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormDeliveryRepo) ScheduleRetry(
	ctx context.Context,
	id string,
	retryCount int,
	nextRetryAt time.Time,
	message string,
) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("id = ? AND status = ?", id, domain.DeliveryStatusSending).
		Updates(map[string]any{
			"status":        domain.DeliveryStatusRetryScheduled,
			"retry_count":   retryCount,
			"next_retry_at": nextRetryAt,
			"error_message": message,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormDeliveryRepo) MarkFailed(ctx context.Context, id string, retryCount int, message string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("id = ? AND status = ?", id, domain.DeliveryStatusSending).
		Updates(map[string]any{
			"status":        domain.DeliveryStatusFailed,
			"retry_count":   retryCount,
			"next_retry_at": nil,
			"error_message": message,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormDeliveryRepo) Requeue(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("id = ? AND status = ?", id, domain.DeliveryStatusFailed).
		Updates(map[string]any{
			"status":        domain.DeliveryStatusSending,
			"retry_count":   0,
			"next_retry_at": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormDeliveryRepo) GetDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryRecord, error) {
	var models []DeliveryRecordModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", domain.DeliveryStatusRetryScheduled, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toDeliveryRecords(models), nil
}

func (r *GormDeliveryRepo) FailOpenForNotification(ctx context.Context, notificationID, message string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("notification_id = ? AND status IN ?", notificationID, openDeliveryStatuses).
		Updates(map[string]any{
			"status":        domain.DeliveryStatusFailed,
			"next_retry_at": nil,
			"error_message": message,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormDeliveryRepo) ReleaseStale(ctx context.Context, before, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("status = ? AND updated_at < ?", domain.DeliveryStatusSending, before).
		Updates(map[string]any{
			"status":        domain.DeliveryStatusRetryScheduled,
			"next_retry_at": now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func toDeliveryRecords(models []DeliveryRecordModel) []domain.DeliveryRecord {
	records := make([]domain.DeliveryRecord, 0, len(models))
	for i := range models {
		records = append(records, *deliveryModelToDomain(&models[i]))
	}
	return records
}
