package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"github.com/kursadbilgin/signal-notifier/internal/service"
	"github.com/kursadbilgin/signal-notifier/internal/webhook"
)

type WebhookService interface {
	Register(ctx context.Context, ownerID string, input service.RegisterWebhookInput) (*domain.WebhookRegistration, error)
	List(ctx context.Context, ownerID string) ([]domain.WebhookRegistration, error)
	Get(ctx context.Context, ownerID, id string) (*domain.WebhookRegistration, error)
	Update(ctx context.Context, ownerID, id string, input service.UpdateWebhookInput) (*domain.WebhookRegistration, error)
	Deactivate(ctx context.Context, ownerID, id string) error
	RequestVerification(ctx context.Context, ownerID, id string) (*service.VerificationResult, error)
	Verify(ctx context.Context, token string) (*domain.WebhookRegistration, error)
	Test(ctx context.Context, ownerID, id string) (*webhook.Response, error)
	Deliveries(ctx context.Context, ownerID, id string, page, pageSize int) (*service.WebhookDeliveryPage, error)
}

type WebhookHandler struct {
	service  WebhookService
	validate *validator.Validate
}

func NewWebhookHandler(service WebhookService) (*WebhookHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("webhook service is required")
	}
	return &WebhookHandler{service: service, validate: newValidator()}, nil
}

// RegisterWebhookRoutes mounts the owner API under /v1 and the public
// verification link at /webhooks/verify/:token.
func RegisterWebhookRoutes(router fiber.Router, service WebhookService) error {
	h, err := NewWebhookHandler(service)
	if err != nil {
		return err
	}

	router.Get("/webhooks/verify/:token", h.Verify)

	v1 := router.Group("/v1")
	v1.Post("/webhooks", h.Register)
	v1.Get("/webhooks", h.List)
	v1.Get("/webhooks/:id", h.Get)
	v1.Patch("/webhooks/:id", h.Update)
	v1.Delete("/webhooks/:id", h.Deactivate)
	v1.Post("/webhooks/:id/verification", h.RequestVerification)
	v1.Post("/webhooks/:id/test", h.Test)
	v1.Get("/webhooks/:id/deliveries", h.ListDeliveries)

	return nil
}

type retryStrategyRequest struct {
	MaxRetries        *int    `json:"maxRetries" validate:"omitempty,min=0,max=10"`
	InitialDelay      int64   `json:"initialDelay" validate:"min=0"`
	BackoffMultiplier float64 `json:"backoffMultiplier" validate:"omitempty,min=1"`
}

type webhookConfigurationRequest struct {
	RetryStrategy retryStrategyRequest `json:"retryStrategy"`
	RateLimit     struct {
		MaxPerMinute int `json:"maxPerMinute" validate:"min=0"`
	} `json:"rateLimit"`
	SecretKey string `json:"secretKey"`
	Timeout   int    `json:"timeout" validate:"min=0,max=30000"`
}

type registerWebhookRequest struct {
	Name          string                       `json:"name" validate:"required,max=255"`
	URL           string                       `json:"url" validate:"omitempty,url"`
	Method        string                       `json:"method" validate:"omitempty,oneof=POST PUT post put"`
	Headers       map[string]string            `json:"headers"`
	EventTypes    []string                     `json:"eventTypes" validate:"required,min=1,dive,required"`
	Active        *bool                        `json:"active"`
	Configuration *webhookConfigurationRequest `json:"configuration"`
}

type updateWebhookRequest struct {
	Name          *string                      `json:"name" validate:"omitempty,min=1,max=255"`
	URL           *string                      `json:"url" validate:"omitempty,url"`
	Method        *string                      `json:"method" validate:"omitempty,oneof=POST PUT post put"`
	Headers       map[string]string            `json:"headers"`
	EventTypes    []string                     `json:"eventTypes" validate:"omitempty,min=1,dive,required"`
	Active        *bool                        `json:"active"`
	Configuration *webhookConfigurationRequest `json:"configuration"`
}

type webhookConfigurationResponse struct {
	RetryStrategy domain.RetryStrategy    `json:"retryStrategy"`
	RateLimit     domain.WebhookRateLimit `json:"rateLimit"`
	HasSecret     bool                    `json:"hasSecret"`
	Timeout       int                     `json:"timeout"`
}

type webhookResponse struct {
	ID            string                       `json:"id"`
	Name          string                       `json:"name"`
	URL           string                       `json:"url"`
	Method        string                       `json:"method"`
	Headers       map[string]string            `json:"headers,omitempty"`
	EventTypes    []string                     `json:"eventTypes"`
	Active        bool                         `json:"active"`
	Verified      bool                         `json:"verified"`
	Configuration webhookConfigurationResponse `json:"configuration"`
	FailureCount  int                          `json:"failureCount"`
	LastFailureAt *time.Time                   `json:"lastFailureAt,omitempty"`
	LastSuccessAt *time.Time                   `json:"lastSuccessAt,omitempty"`
	CreatedAt     time.Time                    `json:"createdAt"`
	UpdatedAt     time.Time                    `json:"updatedAt"`
}

type webhookDeliveryResponse struct {
	ID             string     `json:"id"`
	EventID        string     `json:"eventId"`
	Event          string     `json:"event"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	NextAttemptAt  time.Time  `json:"nextAttemptAt"`
	LastError      *string    `json:"lastError,omitempty"`
	LastStatusCode *int       `json:"lastStatusCode,omitempty"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func (h *WebhookHandler) Register(c *fiber.Ctx) error {
	ownerID, err := userID(c)
	if err != nil {
		return err
	}

	var req registerWebhookRequest
	if err := bindJSON(c, h.validate, &req); err != nil {
		return err
	}

	created, err := h.service.Register(requestContext(c), ownerID, service.RegisterWebhookInput{
		Name:          req.Name,
		URL:           req.URL,
		Method:        req.Method,
		Headers:       req.Headers,
		EventTypes:    req.EventTypes,
		Active:        req.Active,
		Configuration: req.Configuration.toDomain(),
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toWebhookResponse(created))
}

func (h *WebhookHandler) List(c *fiber.Ctx) error {
	ownerID, err := userID(c)
	if err != nil {
		return err
	}

	registrations, err := h.service.List(requestContext(c), ownerID)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]webhookResponse, 0, len(registrations))
	for i := range registrations {
		data = append(data, toWebhookResponse(&registrations[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *WebhookHandler) Get(c *fiber.Ctx) error {
	ownerID, err := userID(c)
	if err != nil {
		return err
	}

	registration, err := h.service.Get(requestContext(c), ownerID, strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toWebhookResponse(registration))
}

func (h *WebhookHandler) Update(c *fiber.Ctx) error {
	ownerID, err := userID(c)
	if err != nil {
		return err
	}

	var req updateWebhookRequest
	if err := bindJSON(c, h.validate, &req); err != nil {
		return err
	}

	updated, err := h.service.Update(requestContext(c), ownerID, strings.TrimSpace(c.Params("id")), service.UpdateWebhookInput{
		Name:          req.Name,
		URL:           req.URL,
		Method:        req.Method,
		Headers:       req.Headers,
		EventTypes:    req.EventTypes,
		Active:        req.Active,
		Configuration: req.Configuration.toDomain(),
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toWebhookResponse(updated))
}

func (h *WebhookHandler) Deactivate(c *fiber.Ctx) error {
	ownerID, err := userID(c)
	if err != nil {
		return err
	}

	if err := h.service.Deactivate(requestContext(c), ownerID, strings.TrimSpace(c.Params("id"))); err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *WebhookHandler) RequestVerification(c *fiber.Ctx) error {
	ownerID, err := userID(c)
	if err != nil {
		return err
	}

	result, err := h.service.RequestVerification(requestContext(c), ownerID, strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	body := fiber.Map{
		"sent":      result.Sent,
		"expiresAt": result.ExpiresAt,
	}
	if result.StatusCode > 0 {
		body["statusCode"] = result.StatusCode
	}
	if result.Error != "" {
		body["error"] = result.Error
	}
	return c.Status(fiber.StatusAccepted).JSON(body)
}

func (h *WebhookHandler) Verify(c *fiber.Ctx) error {
	registration, err := h.service.Verify(requestContext(c), c.Params("token"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"webhookId": registration.ID,
		"verified":  registration.Verified,
	})
}

// Test reports endpoint failures in the body; only lookup errors map to
// HTTP errors.
func (h *WebhookHandler) Test(c *fiber.Ctx) error {
	ownerID, err := userID(c)
	if err != nil {
		return err
	}

	id := strings.TrimSpace(c.Params("id"))
	resp, err := h.service.Test(requestContext(c), ownerID, id)
	if err != nil {
		if mapped := toHTTPError(err); mapped != err {
			return mapped
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":    true,
		"statusCode": resp.StatusCode,
		"body":       resp.Body,
	})
}

func (h *WebhookHandler) ListDeliveries(c *fiber.Ctx) error {
	ownerID, err := userID(c)
	if err != nil {
		return err
	}

	page, pageSize, err := pagination(c)
	if err != nil {
		return toHTTPError(err)
	}

	result, err := h.service.Deliveries(requestContext(c), ownerID, strings.TrimSpace(c.Params("id")), page, pageSize)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]webhookDeliveryResponse, 0, len(result.Items))
	for _, d := range result.Items {
		data = append(data, webhookDeliveryResponse{
			ID:             d.ID,
			EventID:        d.EventID,
			Event:          d.EventName,
			Status:         d.Status.String(),
			Attempts:       d.Attempts,
			NextAttemptAt:  d.NextAttemptAt,
			LastError:      d.LastError,
			LastStatusCode: d.LastStatusCode,
			DeliveredAt:    d.DeliveredAt,
			CreatedAt:      d.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": data,
		"meta": listMeta{Page: result.Page, PageSize: result.PageSize, Total: result.Total},
	})
}

func (r *webhookConfigurationRequest) toDomain() *domain.WebhookConfiguration {
	if r == nil {
		return nil
	}
	maxRetries := domain.DefaultWebhookMaxRetries
	if r.RetryStrategy.MaxRetries != nil {
		maxRetries = *r.RetryStrategy.MaxRetries
	}
	return &domain.WebhookConfiguration{
		RetryStrategy: domain.RetryStrategy{
			MaxRetries:        maxRetries,
			InitialDelayMs:    r.RetryStrategy.InitialDelay,
			BackoffMultiplier: r.RetryStrategy.BackoffMultiplier,
		},
		RateLimit: domain.WebhookRateLimit{MaxPerMinute: r.RateLimit.MaxPerMinute},
		SecretKey: strings.TrimSpace(r.SecretKey),
		TimeoutMs: r.Timeout,
	}
}

func toWebhookResponse(w *domain.WebhookRegistration) webhookResponse {
	if w == nil {
		return webhookResponse{}
	}

	cfg := w.Configuration.WithDefaults()
	return webhookResponse{
		ID:         w.ID,
		Name:       w.Name,
		URL:        w.URL,
		Method:     w.Method,
		Headers:    w.Headers,
		EventTypes: w.EventTypes,
		Active:     w.Active,
		Verified:   w.Verified,
		Configuration: webhookConfigurationResponse{
			RetryStrategy: cfg.RetryStrategy,
			RateLimit:     cfg.RateLimit,
			HasSecret:     cfg.SecretKey != "",
			Timeout:       cfg.TimeoutMs,
		},
		FailureCount:  w.FailureCount,
		LastFailureAt: w.LastFailureAt,
		LastSuccessAt: w.LastSuccessAt,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
}
