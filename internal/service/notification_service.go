package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"github.com/kursadbilgin/signal-notifier/internal/eventbus"
	"github.com/kursadbilgin/signal-notifier/internal/repository"
	"github.com/kursadbilgin/signal-notifier/internal/templating"
	"go.uber.org/zap"
)

const maxBulkRecipients = 1000

// CreateNotificationInput is the notification creation contract.
type CreateNotificationInput struct {
	RecipientID  string
	Title        *string
	Content      string
	Priority     domain.Priority
	Channels     []domain.Channel
	Metadata     map[string]any
	TemplateID   *string
	TemplateData map[string]any
	ExpiresAt    *time.Time

	// PreferencesResolved skips the preference lookup for callers that
	// already routed by preference.
	PreferencesResolved bool
}

type NotificationService struct {
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	templates     repository.TemplateRepository
	preferences   repository.PreferenceRepository
	tracker       *DeliveryTracker
	scheduler     Enqueuer
	events        eventbus.Publisher
	logger        *zap.Logger
	now           func() time.Time
	newID         func() string
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	templates repository.TemplateRepository,
	preferences repository.PreferenceRepository,
	tracker *DeliveryTracker,
	scheduler Enqueuer,
	events eventbus.Publisher,
	logger *zap.Logger,
) (*NotificationService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if templates == nil {
		return nil, fmt.Errorf("template repository is required")
	}
	if preferences == nil {
		return nil, fmt.Errorf("preference repository is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("delivery tracker is required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		notifications: notifications,
		deliveries:    deliveries,
		templates:     templates,
		preferences:   preferences,
		tracker:       tracker,
		scheduler:     scheduler,
		events:        events,
		logger:        logger,
		now:           time.Now,
		newID:         uuid.NewString,
	}, nil
}

// Create persists a notification and hands it to the scheduler. A disabled
// preference for the notification's event type stores it as DELIVERED
// without attempting any channel.
func (s *NotificationService) Create(ctx context.Context, input CreateNotificationInput) (*domain.Notification, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	notification, err := s.prepare(ctx, input)
	if err != nil {
		return nil, err
	}

	suppressed := false
	if !input.PreferencesResolved {
		suppressed, err = s.applyPreference(ctx, notification)
		if err != nil {
			return nil, err
		}
	}

	if err := notification.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	notification.ID = s.newID()
	notification.Status = domain.StatusPending
	if suppressed {
		notification.Status = domain.StatusDelivered
	}
	notification.CreatedAt = now
	notification.UpdatedAt = now

	if err := s.notifications.Create(ctx, notification); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	if suppressed {
		s.logger.Info("notification suppressed by preference",
			zap.String("notificationId", notification.ID),
			zap.String("recipientId", notification.RecipientID),
			zap.String("eventType", notification.EventType()),
		)
		return notification, nil
	}

	if err := s.events.Publish(ctx, domain.EventNotificationCreated, map[string]any{
		"notificationId": notification.ID,
		"recipientId":    notification.RecipientID,
		"priority":       notification.Priority,
		"channels":       notification.Channels,
	}); err != nil {
		s.logger.Warn("failed to publish notification.created",
			zap.String("notificationId", notification.ID),
			zap.Error(err),
		)
	}

	s.scheduler.Enqueue(*notification)
	return notification, nil
}

// CreateBulk creates one notification per distinct recipient. It stops at
// the first failure and returns what was created so far.
func (s *NotificationService) CreateBulk(
	ctx context.Context,
	recipientIDs []string,
	input CreateNotificationInput,
) ([]domain.Notification, error) {
	recipients := uniqueTrimmed(recipientIDs)
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", domain.ErrValidation)
	}
	if len(recipients) > maxBulkRecipients {
		return nil, fmt.Errorf("%w: bulk size exceeds %d", domain.ErrValidation, maxBulkRecipients)
	}

	created := make([]domain.Notification, 0, len(recipients))
	for _, recipientID := range recipients {
		in := input
		in.RecipientID = recipientID
		n, err := s.Create(ctx, in)
		if err != nil {
			return created, fmt.Errorf("bulk create stopped after %d of %d: %w", len(created), len(recipients), err)
		}
		created = append(created, *n)
	}
	return created, nil
}

// Get returns ErrNotFound when recipientID is set and does not own the notification.
func (s *NotificationService) Get(ctx context.Context, recipientID, id string) (*domain.Notification, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	notification, err := s.notifications.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if recipientID != "" && notification.RecipientID != recipientID {
		return nil, domain.ErrNotFound
	}
	return notification, nil
}

func (s *NotificationService) List(
	ctx context.Context,
	params repository.ListParams,
) ([]domain.Notification, int64, error) {
	if strings.TrimSpace(params.RecipientID) == "" {
		return nil, 0, fmt.Errorf("%w: recipient id is required", domain.ErrValidation)
	}
	return s.notifications.List(ctx, params)
}

func (s *NotificationService) MarkAsRead(ctx context.Context, recipientID, id string) error {
	return s.notifications.MarkRead(ctx, id, recipientID, s.now().UTC())
}

func (s *NotificationService) MarkAllAsRead(ctx context.Context, recipientID string) (int64, error) {
	return s.notifications.MarkAllRead(ctx, recipientID, s.now().UTC())
}

func (s *NotificationService) CountUnread(ctx context.Context, recipientID string) (int64, error) {
	return s.notifications.CountUnread(ctx, recipientID)
}

func (s *NotificationService) Deliveries(ctx context.Context, recipientID, notificationID string) ([]domain.DeliveryRecord, error) {
	notification, err := s.Get(ctx, recipientID, notificationID)
	if err != nil {
		return nil, err
	}
	return s.deliveries.ListByNotification(ctx, notification.ID)
}

// RetryDelivery restarts a permanently failed delivery record and schedules
// its notification again.
func (s *NotificationService) RetryDelivery(ctx context.Context, recipientID, recordID string) (*domain.DeliveryRecord, error) {
	record, err := s.deliveries.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, recipientID, record.NotificationID); err != nil {
		return nil, err
	}

	record, err = s.tracker.Requeue(ctx, record.ID)
	if err != nil {
		return nil, err
	}

	notification, err := s.notifications.GetByID(ctx, record.NotificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload notification after requeue: %w", err)
	}
	s.scheduler.Enqueue(*notification)

	s.logger.Info("delivery requeued",
		zap.String("deliveryRecordId", record.ID),
		zap.String("notificationId", record.NotificationID),
		zap.String("channel", record.Channel.String()),
	)
	return record, nil
}

func (s *NotificationService) prepare(ctx context.Context, input CreateNotificationInput) (*domain.Notification, error) {
	notification := &domain.Notification{
		RecipientID:  strings.TrimSpace(input.RecipientID),
		Title:        normalizeOptionalString(input.Title),
		Content:      strings.TrimSpace(input.Content),
		Priority:     input.Priority,
		Channels:     domain.UniqueChannels(input.Channels),
		Metadata:     input.Metadata,
		TemplateID:   normalizeOptionalString(input.TemplateID),
		TemplateData: input.TemplateData,
		ExpiresAt:    input.ExpiresAt,
	}
	if notification.Priority == "" {
		notification.Priority = domain.PriorityMedium
	}
	if len(notification.Channels) == 0 {
		notification.Channels = []domain.Channel{domain.ChannelInApp}
	}

	if notification.TemplateID != nil {
		if err := s.applyTemplate(ctx, notification); err != nil {
			return nil, err
		}
	}
	return notification, nil
}

func (s *NotificationService) applyTemplate(ctx context.Context, n *domain.Notification) error {
	tpl, err := s.templates.GetByID(ctx, *n.TemplateID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: template %s", domain.ErrNotFound, *n.TemplateID)
		}
		return fmt.Errorf("failed to load template: %w", err)
	}
	if !tpl.Active {
		return fmt.Errorf("%w: template %s is inactive", domain.ErrNotFound, tpl.ID)
	}

	if len(tpl.DataSchema) > 0 {
		if err := templating.ValidateData(tpl.DataSchema, n.TemplateData); err != nil {
			return err
		}
	}

	content, err := templating.Render(tpl.ContentTemplate, n.TemplateData)
	if err != nil {
		return err
	}
	n.Content = strings.TrimSpace(content)

	if tpl.TitleTemplate != "" {
		title, err := templating.Render(tpl.TitleTemplate, n.TemplateData)
		if err != nil {
			return err
		}
		n.Title = normalizeOptionalString(&title)
	}

	if n.EventType() == "" && tpl.EventType != "" {
		if n.Metadata == nil {
			n.Metadata = map[string]any{}
		}
		n.Metadata["eventType"] = tpl.EventType
	}
	return nil
}

// applyPreference reports whether the recipient disabled this event type and
// swaps in the preferred channels otherwise.
func (s *NotificationService) applyPreference(ctx context.Context, n *domain.Notification) (bool, error) {
	eventType := n.EventType()
	if eventType == "" {
		return false, nil
	}

	preference, err := s.preferences.Get(ctx, n.RecipientID, eventType)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load notification preference: %w", err)
	}

	if !preference.Enabled {
		return true, nil
	}
	if channels := domain.UniqueChannels(preference.Channels); len(channels) > 0 {
		n.Channels = channels
	}
	return false, nil
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func uniqueTrimmed(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
