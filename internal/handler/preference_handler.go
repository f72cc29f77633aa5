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
)

type PreferenceService interface {
	List(ctx context.Context, userID string) ([]domain.NotificationPreference, error)
	Upsert(ctx context.Context, userID, eventType string, input service.PreferenceInput) (*domain.NotificationPreference, error)
	Delete(ctx context.Context, userID, eventType string) error
}

type PreferenceHandler struct {
	service  PreferenceService
	validate *validator.Validate
}

func NewPreferenceHandler(service PreferenceService) (*PreferenceHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("preference service is required")
	}
	return &PreferenceHandler{service: service, validate: newValidator()}, nil
}

func RegisterPreferenceRoutes(router fiber.Router, service PreferenceService) error {
	h, err := NewPreferenceHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/preferences", h.List)
	v1.Put("/preferences/:eventType", h.Upsert)
	v1.Delete("/preferences/:eventType", h.Delete)

	return nil
}

type upsertPreferenceRequest struct {
	Enabled      *bool    `json:"enabled" validate:"required"`
	Channels     []string `json:"channels" validate:"omitempty,dive,required"`
	EmailAddress *string  `json:"emailAddress" validate:"omitempty,max=320"`
}

type preferenceResponse struct {
	ID           string    `json:"id"`
	EventType    string    `json:"eventType"`
	Enabled      bool      `json:"enabled"`
	Channels     []string  `json:"channels"`
	EmailAddress *string   `json:"emailAddress,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (h *PreferenceHandler) List(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}

	prefs, err := h.service.List(requestContext(c), uid)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]preferenceResponse, 0, len(prefs))
	for i := range prefs {
		data = append(data, toPreferenceResponse(&prefs[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *PreferenceHandler) Upsert(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}

	var req upsertPreferenceRequest
	if err := bindJSON(c, h.validate, &req); err != nil {
		return err
	}

	channels := make([]domain.Channel, 0, len(req.Channels))
	for _, ch := range req.Channels {
		channels = append(channels, domain.Channel(ch))
	}

	pref, err := h.service.Upsert(requestContext(c), uid, strings.TrimSpace(c.Params("eventType")), service.PreferenceInput{
		Enabled:      *req.Enabled,
		Channels:     channels,
		EmailAddress: req.EmailAddress,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toPreferenceResponse(pref))
}

func (h *PreferenceHandler) Delete(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}

	if err := h.service.Delete(requestContext(c), uid, strings.TrimSpace(c.Params("eventType"))); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func toPreferenceResponse(p *domain.NotificationPreference) preferenceResponse {
	channels := make([]string, 0, len(p.Channels))
	for _, ch := range p.Channels {
		channels = append(channels, ch.String())
	}
	return preferenceResponse{
		ID:           p.ID,
		EventType:    p.EventType,
		Enabled:      p.Enabled,
		Channels:     channels,
		EmailAddress: p.EmailAddress,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}
