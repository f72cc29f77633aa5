package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"github.com/kursadbilgin/signal-notifier/internal/service"
)

type TemplateService interface {
	Create(ctx context.Context, input service.CreateTemplateInput) (*domain.NotificationTemplate, error)
	Get(ctx context.Context, id string) (*domain.NotificationTemplate, error)
}

type TemplateHandler struct {
	service  TemplateService
	validate *validator.Validate
}

func NewTemplateHandler(service TemplateService) (*TemplateHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("template service is required")
	}
	return &TemplateHandler{service: service, validate: newValidator()}, nil
}

func RegisterTemplateRoutes(router fiber.Router, service TemplateService) error {
	h, err := NewTemplateHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/templates", h.Create)
	v1.Get("/templates/:id", h.Get)

	return nil
}

type createTemplateRequest struct {
	Name            string          `json:"name" validate:"required,max=255"`
	EventType       string          `json:"eventType" validate:"max=255"`
	TitleTemplate   string          `json:"titleTemplate" validate:"max=255"`
	ContentTemplate string          `json:"contentTemplate" validate:"required,max=10000"`
	DataSchema      json.RawMessage `json:"dataSchema"`
	Active          *bool           `json:"active"`
}

type templateResponse struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	EventType       string          `json:"eventType,omitempty"`
	TitleTemplate   string          `json:"titleTemplate,omitempty"`
	ContentTemplate string          `json:"contentTemplate"`
	DataSchema      json.RawMessage `json:"dataSchema,omitempty"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (h *TemplateHandler) Create(c *fiber.Ctx) error {
	var req createTemplateRequest
	if err := bindJSON(c, h.validate, &req); err != nil {
		return err
	}

	tmpl, err := h.service.Create(requestContext(c), service.CreateTemplateInput{
		Name:            req.Name,
		EventType:       req.EventType,
		TitleTemplate:   req.TitleTemplate,
		ContentTemplate: req.ContentTemplate,
		DataSchema:      req.DataSchema,
		Active:          req.Active,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toTemplateResponse(tmpl))
}

func (h *TemplateHandler) Get(c *fiber.Ctx) error {
	tmpl, err := h.service.Get(requestContext(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toTemplateResponse(tmpl))
}

func toTemplateResponse(t *domain.NotificationTemplate) templateResponse {
	return templateResponse{
		ID:              t.ID,
		Name:            t.Name,
		EventType:       t.EventType,
		TitleTemplate:   t.TitleTemplate,
		ContentTemplate: t.ContentTemplate,
		DataSchema:      t.DataSchema,
		Active:          t.Active,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}
