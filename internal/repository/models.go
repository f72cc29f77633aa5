package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"gorm.io/datatypes"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID           string          `gorm:"type:uuid;primaryKey"`
	RecipientID  string          `gorm:"type:varchar(64);not null"`
	Title        *string         `gorm:"type:varchar(255)"`
	Content      string          `gorm:"type:text;not null"`
	TemplateID   *string         `gorm:"type:uuid"`
	TemplateData datatypes.JSON  `gorm:"type:jsonb"`
	Priority     domain.Priority `gorm:"type:varchar(10);not null"`
	Channels     datatypes.JSON  `gorm:"type:jsonb;not null"`
	Status       domain.Status   `gorm:"type:varchar(20);not null"`
	Metadata     datatypes.JSON  `gorm:"type:jsonb"`
	ExpiresAt    *time.Time      `gorm:"type:timestamptz"`
	RetryCount   int             `gorm:"not null;default:0"`
	LastRetryAt  *time.Time      `gorm:"type:timestamptz"`
	Read         bool            `gorm:"column:is_read;not null;default:false"`
	ReadAt       *time.Time      `gorm:"type:timestamptz"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// DeliveryRecordModel is the persistence model for delivery_records.
type DeliveryRecordModel struct {
	ID             string                `gorm:"type:uuid;primaryKey"`
	NotificationID string                `gorm:"type:uuid;not null"`
	Channel        domain.Channel        `gorm:"type:varchar(10);not null"`
	Status         domain.DeliveryStatus `gorm:"type:varchar(20);not null"`
	ExternalID     *string               `gorm:"type:varchar(255)"`
	ErrorMessage   *string               `gorm:"type:text"`
	RetryCount     int                   `gorm:"not null;default:0"`
	NextRetryAt    *time.Time            `gorm:"type:timestamptz"`
	DeliveredAt    *time.Time            `gorm:"type:timestamptz"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (DeliveryRecordModel) TableName() string {
	return "delivery_records"
}

// WebhookModel is the persistence model for webhooks.
type WebhookModel struct {
	ID                    string         `gorm:"type:uuid;primaryKey"`
	OwnerID               string         `gorm:"type:varchar(64);not null"`
	Name                  string         `gorm:"type:varchar(255);not null"`
	URL                   string         `gorm:"type:text"`
	Method                string         `gorm:"type:varchar(6);not null;default:POST"`
	Headers               datatypes.JSON `gorm:"type:jsonb"`
	EventTypes            datatypes.JSON `gorm:"type:jsonb;not null"`
	Active                bool           `gorm:"not null;default:true"`
	Verified              bool           `gorm:"not null;default:false"`
	VerificationToken     *string        `gorm:"type:varchar(64)"`
	VerificationExpiresAt *time.Time     `gorm:"type:timestamptz"`
	Configuration         datatypes.JSON `gorm:"type:jsonb;not null"`
	FailureCount          int            `gorm:"not null;default:0"`
	LastFailureAt         *time.Time     `gorm:"type:timestamptz"`
	LastSuccessAt         *time.Time     `gorm:"type:timestamptz"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (WebhookModel) TableName() string {
	return "webhooks"
}

// WebhookDeliveryModel is the persistence model for webhook_deliveries.
type WebhookDeliveryModel struct {
	ID             string                       `gorm:"type:uuid;primaryKey"`
	WebhookID      string                       `gorm:"type:uuid;not null"`
	EventID        string                       `gorm:"type:uuid;not null"`
	EventName      string                       `gorm:"type:varchar(255);not null"`
	Payload        datatypes.JSON               `gorm:"type:jsonb;not null"`
	Status         domain.WebhookDeliveryStatus `gorm:"type:varchar(20);not null"`
	Attempts       int                          `gorm:"not null;default:0"`
	NextAttemptAt  time.Time                    `gorm:"type:timestamptz;not null"`
	LastError      *string                      `gorm:"type:text"`
	LastStatusCode *int                         `gorm:"type:int"`
	DeliveredAt    *time.Time                   `gorm:"type:timestamptz"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (WebhookDeliveryModel) TableName() string {
	return "webhook_deliveries"
}

// PreferenceModel is the persistence model for notification_preferences.
type PreferenceModel struct {
	ID           string         `gorm:"type:uuid;primaryKey"`
	UserID       string         `gorm:"type:varchar(64);not null"`
	EventType    string         `gorm:"type:varchar(64);not null"`
	Enabled      bool           `gorm:"not null;default:true"`
	Channels     datatypes.JSON `gorm:"type:jsonb;not null"`
	EmailAddress *string        `gorm:"type:varchar(255)"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (PreferenceModel) TableName() string {
	return "notification_preferences"
}

// TemplateModel is the persistence model for notification_templates.
type TemplateModel struct {
	ID              string         `gorm:"type:uuid;primaryKey"`
	Name            string         `gorm:"type:varchar(255);not null"`
	EventType       string         `gorm:"type:varchar(64)"`
	TitleTemplate   string         `gorm:"type:text"`
	ContentTemplate string         `gorm:"type:text;not null"`
	DataSchema      datatypes.JSON `gorm:"type:jsonb"`
	Active          bool           `gorm:"not null;default:true"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (TemplateModel) TableName() string {
	return "notification_templates"
}

func encodeJSON(v any) (datatypes.JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}
	return datatypes.JSON(raw), nil
}

// encodeOptionalJSON stores nil maps as SQL NULL instead of the literal null.
func encodeOptionalJSON[M ~map[string]V, V any](m M) (datatypes.JSON, error) {
	if m == nil {
		return nil, nil
	}
	return encodeJSON(m)
}

func decodeJSON[T any](raw datatypes.JSON) T {
	var v T
	if len(raw) == 0 {
		return v
	}
	// Columns are only written through encodeJSON, so decode errors leave the zero value.
	_ = json.Unmarshal(raw, &v)
	return v
}

func notificationModelFromDomain(n *domain.Notification) (*NotificationModel, error) {
	if n == nil {
		return nil, nil
	}

	templateData, err := encodeOptionalJSON(n.TemplateData)
	if err != nil {
		return nil, err
	}
	metadata, err := encodeOptionalJSON(n.Metadata)
	if err != nil {
		return nil, err
	}
	channels, err := encodeJSON(n.Channels)
	if err != nil {
		return nil, err
	}

	return &NotificationModel{
		ID:           n.ID,
		RecipientID:  n.RecipientID,
		Title:        n.Title,
		Content:      n.Content,
		TemplateID:   n.TemplateID,
		TemplateData: templateData,
		Priority:     n.Priority,
		Channels:     channels,
		Status:       n.Status,
		Metadata:     metadata,
		ExpiresAt:    n.ExpiresAt,
		RetryCount:   n.RetryCount,
		LastRetryAt:  n.LastRetryAt,
		Read:         n.Read,
		ReadAt:       n.ReadAt,
		CreatedAt:    n.CreatedAt,
		UpdatedAt:    n.UpdatedAt,
	}, nil
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:           m.ID,
		RecipientID:  m.RecipientID,
		Title:        m.Title,
		Content:      m.Content,
		TemplateID:   m.TemplateID,
		TemplateData: decodeJSON[map[string]any](m.TemplateData),
		Priority:     m.Priority,
		Channels:     decodeJSON[[]domain.Channel](m.Channels),
		Status:       m.Status,
		Metadata:     decodeJSON[map[string]any](m.Metadata),
		ExpiresAt:    m.ExpiresAt,
		RetryCount:   m.RetryCount,
		LastRetryAt:  m.LastRetryAt,
		Read:         m.Read,
		ReadAt:       m.ReadAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func deliveryModelFromDomain(r *domain.DeliveryRecord) *DeliveryRecordModel {
	if r == nil {
		return nil
	}

	return &DeliveryRecordModel{
		ID:             r.ID,
		NotificationID: r.NotificationID,
		Channel:        r.Channel,
		Status:         r.Status,
		ExternalID:     r.ExternalID,
		ErrorMessage:   r.ErrorMessage,
		RetryCount:     r.RetryCount,
		NextRetryAt:    r.NextRetryAt,
		DeliveredAt:    r.DeliveredAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func deliveryModelToDomain(m *DeliveryRecordModel) *domain.DeliveryRecord {
	if m == nil {
		return nil
	}

	return &domain.DeliveryRecord{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		Channel:        m.Channel,
		Status:         m.Status,
		ExternalID:     m.ExternalID,
		ErrorMessage:   m.ErrorMessage,
		RetryCount:     m.RetryCount,
		NextRetryAt:    m.NextRetryAt,
		DeliveredAt:    m.DeliveredAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func webhookModelFromDomain(w *domain.WebhookRegistration) (*WebhookModel, error) {
	if w == nil {
		return nil, nil
	}

	headers, err := encodeOptionalJSON(w.Headers)
	if err != nil {
		return nil, err
	}
	eventTypes, err := encodeJSON(w.EventTypes)
	if err != nil {
		return nil, err
	}
	configuration, err := encodeJSON(w.Configuration)
	if err != nil {
		return nil, err
	}

	return &WebhookModel{
		ID:                    w.ID,
		OwnerID:               w.OwnerID,
		Name:                  w.Name,
		URL:                   w.URL,
		Method:                w.Method,
		Headers:               headers,
		EventTypes:            eventTypes,
		Active:                w.Active,
		Verified:              w.Verified,
		VerificationToken:     w.VerificationToken,
		VerificationExpiresAt: w.VerificationExpiresAt,
		Configuration:         configuration,
		FailureCount:          w.FailureCount,
		LastFailureAt:         w.LastFailureAt,
		LastSuccessAt:         w.LastSuccessAt,
		CreatedAt:             w.CreatedAt,
		UpdatedAt:             w.UpdatedAt,
	}, nil
}

func webhookModelToDomain(m *WebhookModel) *domain.WebhookRegistration {
	if m == nil {
		return nil
	}

	return &domain.WebhookRegistration{
		ID:                    m.ID,
		OwnerID:               m.OwnerID,
		Name:                  m.Name,
		URL:                   m.URL,
		Method:                m.Method,
		Headers:               decodeJSON[map[string]string](m.Headers),
		EventTypes:            decodeJSON[[]string](m.EventTypes),
		Active:                m.Active,
		Verified:              m.Verified,
		VerificationToken:     m.VerificationToken,
		VerificationExpiresAt: m.VerificationExpiresAt,
		Configuration:         decodeJSON[domain.WebhookConfiguration](m.Configuration),
		FailureCount:          m.FailureCount,
		LastFailureAt:         m.LastFailureAt,
		LastSuccessAt:         m.LastSuccessAt,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

func webhookDeliveryModelFromDomain(d *domain.WebhookDelivery) *WebhookDeliveryModel {
	if d == nil {
		return nil
	}

	return &WebhookDeliveryModel{
		ID:             d.ID,
		WebhookID:      d.WebhookID,
		EventID:        d.EventID,
		EventName:      d.EventName,
		Payload:        datatypes.JSON(d.Payload),
		Status:         d.Status,
		Attempts:       d.Attempts,
		NextAttemptAt:  d.NextAttemptAt,
		LastError:      d.LastError,
		LastStatusCode: d.LastStatusCode,
		DeliveredAt:    d.DeliveredAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func webhookDeliveryModelToDomain(m *WebhookDeliveryModel) *domain.WebhookDelivery {
	if m == nil {
		return nil
	}

	return &domain.WebhookDelivery{
		ID:             m.ID,
		WebhookID:      m.WebhookID,
		EventID:        m.EventID,
		EventName:      m.EventName,
		Payload:        []byte(m.Payload),
		Status:         m.Status,
		Attempts:       m.Attempts,
		NextAttemptAt:  m.NextAttemptAt,
		LastError:      m.LastError,
		LastStatusCode: m.LastStatusCode,
		DeliveredAt:    m.DeliveredAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func preferenceModelFromDomain(p *domain.NotificationPreference) (*PreferenceModel, error) {
	if p == nil {
		return nil, nil
	}

	channels := p.Channels
	if channels == nil {
		channels = []domain.Channel{}
	}
	encoded, err := encodeJSON(channels)
	if err != nil {
		return nil, err
	}

	return &PreferenceModel{
		ID:           p.ID,
		UserID:       p.UserID,
		EventType:    p.EventType,
		Enabled:      p.Enabled,
		Channels:     encoded,
		EmailAddress: p.EmailAddress,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}, nil
}

func preferenceModelToDomain(m *PreferenceModel) *domain.NotificationPreference {
	if m == nil {
		return nil
	}

	return &domain.NotificationPreference{
		ID:           m.ID,
		UserID:       m.UserID,
		EventType:    m.EventType,
		Enabled:      m.Enabled,
		Channels:     decodeJSON[[]domain.Channel](m.Channels),
		EmailAddress: m.EmailAddress,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func templateModelFromDomain(t *domain.NotificationTemplate) *TemplateModel {
	if t == nil {
		return nil
	}

	return &TemplateModel{
		ID:              t.ID,
		Name:            t.Name,
		EventType:       t.EventType,
		TitleTemplate:   t.TitleTemplate,
		ContentTemplate: t.ContentTemplate,
		DataSchema:      datatypes.JSON(t.DataSchema),
		Active:          t.Active,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func templateModelToDomain(m *TemplateModel) *domain.NotificationTemplate {
	if m == nil {
		return nil
	}

	return &domain.NotificationTemplate{
		ID:              m.ID,
		Name:            m.Name,
		EventType:       m.EventType,
		TitleTemplate:   m.TitleTemplate,
		ContentTemplate: m.ContentTemplate,
		DataSchema:      []byte(m.DataSchema),
		Active:          m.Active,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
