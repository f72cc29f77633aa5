package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"github.com/kursadbilgin/signal-notifier/internal/provider"
	"github.com/kursadbilgin/signal-notifier/internal/repository"
	"github.com/kursadbilgin/signal-notifier/internal/webhook"
	"go.uber.org/zap"
)

// WebhookSender performs one signed HTTP call.
type WebhookSender interface {
	Send(ctx context.Context, req webhook.Request) (*webhook.Response, error)
}

type RegisterWebhookInput struct {
	Name          string
	URL           string
	Method        string
	Headers       map[string]string
	EventTypes    []string
	Active        *bool
	Configuration *domain.WebhookConfiguration
}

// UpdateWebhookInput carries a partial update; nil fields are left unchanged.
type UpdateWebhookInput struct {
	Name          *string
	URL           *string
	Method        *string
	Headers       map[string]string
	EventTypes    []string
	Active        *bool
	Configuration *domain.WebhookConfiguration
}

// VerificationResult reports the verification request. Transport failures
// are reported here instead of being returned as errors.
type VerificationResult struct {
	Sent       bool
	ExpiresAt  time.Time
	StatusCode int
	Error      string
}

type WebhookDeliveryPage struct {
	Items    []domain.WebhookDelivery
	Total    int64
	Page     int
	PageSize int
}

type WebhookManager struct {
	webhooks   repository.WebhookRepository
	deliveries repository.WebhookDeliveryRepository
	sender     WebhookSender
	appURL     string
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
}

func NewWebhookManager(
	webhooks repository.WebhookRepository,
	deliveries repository.WebhookDeliveryRepository,
	sender WebhookSender,
	appURL string,
	logger *zap.Logger,
) (*WebhookManager, error) {
	if webhooks == nil {
		return nil, fmt.Errorf("webhook repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("webhook delivery repository is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("webhook sender is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebhookManager{
		webhooks:   webhooks,
		deliveries: deliveries,
		sender:     sender,
		appURL:     strings.TrimRight(strings.TrimSpace(appURL), "/"),
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

func (m *WebhookManager) Register(ctx context.Context, ownerID string, input RegisterWebhookInput) (*domain.WebhookRegistration, error) {
	now := m.now().UTC()
	registration := &domain.WebhookRegistration{
		ID:         m.newID(),
		OwnerID:    strings.TrimSpace(ownerID),
		Name:       strings.TrimSpace(input.Name),
		URL:        strings.TrimSpace(input.URL),
		Method:     normalizeMethod(input.Method),
		Headers:    input.Headers,
		EventTypes: input.EventTypes,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if input.Active != nil {
		registration.Active = *input.Active
	}
	registration.Configuration = domain.DefaultWebhookConfiguration()
	if input.Configuration != nil {
		registration.Configuration = input.Configuration.WithDefaults()
	}

	if err := registration.Validate(); err != nil {
		return nil, err
	}
	if err := m.webhooks.Create(ctx, registration); err != nil {
		return nil, fmt.Errorf("failed to create webhook: %w", err)
	}

	m.logger.Info("webhook registered",
		zap.String("webhookId", registration.ID),
		zap.String("ownerId", registration.OwnerID),
	)
	return registration, nil
}

func (m *WebhookManager) List(ctx context.Context, ownerID string) ([]domain.WebhookRegistration, error) {
	return m.webhooks.ListByOwner(ctx, ownerID)
}

// Get returns ErrNotFound for registrations owned by someone else.
func (m *WebhookManager) Get(ctx context.Context, ownerID, id string) (*domain.WebhookRegistration, error) {
	registration, err := m.webhooks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if registration.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return registration, nil
}

func (m *WebhookManager) Update(ctx context.Context, ownerID, id string, input UpdateWebhookInput) (*domain.WebhookRegistration, error) {
	registration, err := m.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		registration.Name = strings.TrimSpace(*input.Name)
	}
	if input.URL != nil {
		next := strings.TrimSpace(*input.URL)
		if next != registration.URL {
			// A new endpoint has to prove ownership again.
			registration.Verified = false
			registration.VerificationToken = nil
			registration.VerificationExpiresAt = nil
		}
		registration.URL = next
	}
	if input.Method != nil {
		registration.Method = normalizeMethod(*input.Method)
	}
	if input.Headers != nil {
		registration.Headers = input.Headers
	}
	if input.EventTypes != nil {
		registration.EventTypes = input.EventTypes
	}
	if input.Active != nil {
		registration.Active = *input.Active
	}
	if input.Configuration != nil {
		cfg := input.Configuration.WithDefaults()
		if cfg.SecretKey == "" {
			cfg.SecretKey = registration.Configuration.SecretKey
		}
		registration.Configuration = cfg
	}

	if err := registration.Validate(); err != nil {
		return nil, err
	}
	if err := m.webhooks.Save(ctx, registration); err != nil {
		return nil, fmt.Errorf("failed to update webhook: %w", err)
	}
	return registration, nil
}

func (m *WebhookManager) Deactivate(ctx context.Context, ownerID, id string) error {
	registration, err := m.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if !registration.Active {
		return nil
	}

	registration.Active = false
	if err := m.webhooks.Save(ctx, registration); err != nil {
		return fmt.Errorf("failed to deactivate webhook: %w", err)
	}
	return nil
}

func (m *WebhookManager) RequestVerification(ctx context.Context, ownerID, id string) (*VerificationResult, error) {
	registration, err := m.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if registration.URL == "" {
		return nil, fmt.Errorf("%w: webhook has no url", domain.ErrConfiguration)
	}

	now := m.now().UTC()
	token := m.newID()
	expiresAt := now.Add(domain.VerificationTokenTTL)
	if err := m.webhooks.SetVerificationToken(ctx, registration.ID, token, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to store verification token: %w", err)
	}

	envelope := webhook.NewEnvelope(m.newID(), domain.EventWebhookVerification, now, map[string]any{
		"verificationUrl": m.appURL + "/webhooks/verify/" + token,
		"expiresAt":       webhook.FormatTimestamp(expiresAt),
	})
	body, err := envelope.Encode()
	if err != nil {
		return nil, err
	}

	result := &VerificationResult{ExpiresAt: expiresAt}
	resp, err := m.sender.Send(ctx, requestFor(registration, body, true))
	if err != nil {
		m.logger.Warn("webhook verification request failed",
			zap.String("webhookId", registration.ID),
			zap.Error(err),
		)
		result.Error = err.Error()
		result.StatusCode = statusCodeOf(err)
		return result, nil
	}

	result.Sent = true
	result.StatusCode = resp.StatusCode
	return result, nil
}

func (m *WebhookManager) Verify(ctx context.Context, token string) (*domain.WebhookRegistration, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrNotFound
	}

	registration, err := m.webhooks.GetByVerificationToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if registration.VerificationExpiresAt == nil || m.now().After(*registration.VerificationExpiresAt) {
		return nil, fmt.Errorf("%w: verification token expired", domain.ErrExpired)
	}

	if err := m.webhooks.MarkVerified(ctx, registration.ID); err != nil {
		return nil, fmt.Errorf("failed to mark webhook verified: %w", err)
	}

	registration.Verified = true
	registration.VerificationToken = nil
	registration.VerificationExpiresAt = nil
	return registration, nil
}

// Deliver makes one synchronous delivery of eventName to the registration
// and updates its success/failure bookkeeping.
func (m *WebhookManager) Deliver(
	ctx context.Context,
	registration *domain.WebhookRegistration,
	eventName string,
	payload any,
) (*webhook.Response, error) {
	body, err := webhook.NewEnvelope(m.newID(), eventName, m.now(), payload).Encode()
	if err != nil {
		return nil, err
	}
	resp, _, err := m.attempt(ctx, registration, body)
	return resp, err
}

// Test sends a webhook.test event regardless of verification state.
func (m *WebhookManager) Test(ctx context.Context, ownerID, id string) (*webhook.Response, error) {
	registration, err := m.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if registration.URL == "" {
		return nil, fmt.Errorf("%w: webhook has no url", domain.ErrConfiguration)
	}

	return m.Deliver(ctx, registration, domain.EventWebhookTest, map[string]any{
		"webhookId": registration.ID,
		"message":   "This is a test event",
	})
}

func (m *WebhookManager) Deliveries(ctx context.Context, ownerID, id string, page, pageSize int) (*WebhookDeliveryPage, error) {
	registration, err := m.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	items, total, err := m.deliveries.ListByWebhook(ctx, registration.ID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook deliveries: %w", err)
	}
	page, pageSize = repository.ListParams{Page: page, PageSize: pageSize}.Normalized()
	return &WebhookDeliveryPage{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// DeliverToOwner is the WEBHOOK channel: one attempt per deliverable
// registration of the recipient. It succeeds when any registration accepted
// the notification; retries stay with the delivery tracker.
func (m *WebhookManager) DeliverToOwner(ctx context.Context, notification domain.Notification) (*provider.DeliveryOutcome, error) {
	registrations, err := m.webhooks.ListDeliverableByOwner(ctx, notification.RecipientID)
	if err != nil {
		return nil, provider.Transient("failed to load webhook registrations", err)
	}
	if len(registrations) == 0 {
		return nil, provider.Permanent("recipient has no active verified webhook", nil)
	}

	payload := map[string]any{
		"notificationId": notification.ID,
		"recipientId":    notification.RecipientID,
		"title":          notification.Title,
		"content":        notification.Content,
		"priority":       notification.Priority,
		"metadata":       notification.Metadata,
	}
	eventName := domain.WebhookEventName(&notification)

	var delivered *webhook.Response
	var firstErr, transientErr error
	for i := range registrations {
		resp, err := m.Deliver(ctx, &registrations[i], eventName, payload)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if transientErr == nil && provider.IsTransient(err) {
				transientErr = err
			}
			continue
		}
		if delivered == nil {
			delivered = resp
		}
	}

	if delivered != nil {
		return &provider.DeliveryOutcome{
			ExternalID: delivered.RequestID,
			StatusCode: delivered.StatusCode,
			Body:       delivered.Body,
		}, nil
	}
	if transientErr != nil {
		return nil, transientErr
	}
	return nil, firstErr
}

// ChannelProvider exposes DeliverToOwner as the WEBHOOK channel provider.
func (m *WebhookManager) ChannelProvider() provider.Provider {
	return provider.ProviderFunc(m.DeliverToOwner)
}

// attempt sends body and returns the registration's failure count after a
// failed call.
func (m *WebhookManager) attempt(
	ctx context.Context,
	registration *domain.WebhookRegistration,
	body []byte,
) (*webhook.Response, int, error) {
	resp, sendErr := m.sender.Send(ctx, requestFor(registration, body, false))
	bookkeepingCtx := context.WithoutCancel(ctx)
	at := m.now().UTC()

	if sendErr == nil {
		if err := m.webhooks.RecordSuccess(bookkeepingCtx, registration.ID, at); err != nil {
			m.logger.Error("failed to record webhook success",
				zap.String("webhookId", registration.ID),
				zap.Error(err),
			)
		}
		registration.FailureCount = 0
		registration.LastSuccessAt = &at
		return resp, 0, nil
	}

	failures, err := m.webhooks.RecordFailure(bookkeepingCtx, registration.ID, at)
	if err != nil {
		m.logger.Error("failed to record webhook failure",
			zap.String("webhookId", registration.ID),
			zap.Error(err),
		)
		failures = registration.FailureCount + 1
	}
	registration.FailureCount = failures
	registration.LastFailureAt = &at
	return nil, failures, sendErr
}

func requestFor(registration *domain.WebhookRegistration, body []byte, verification bool) webhook.Request {
	cfg := registration.Configuration.WithDefaults()
	return webhook.Request{
		URL:          registration.URL,
		Method:       registration.Method,
		Headers:      registration.Headers,
		Body:         body,
		Secret:       cfg.SecretKey,
		Timeout:      cfg.Timeout(),
		Verification: verification,
	}
}

func normalizeMethod(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return http.MethodPost
	}
	return method
}

func statusCodeOf(err error) int {
	var providerErr *provider.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.StatusCode
	}
	return 0
}
