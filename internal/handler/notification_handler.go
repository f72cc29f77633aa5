package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"github.com/kursadbilgin/signal-notifier/internal/repository"
	"github.com/kursadbilgin/signal-notifier/internal/service"
)

type NotificationService interface {
	Create(ctx context.Context, input service.CreateNotificationInput) (*domain.Notification, error)
	CreateBulk(ctx context.Context, recipientIDs []string, input service.CreateNotificationInput) ([]domain.Notification, error)
	Get(ctx context.Context, recipientID, id string) (*domain.Notification, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error)
	MarkAsRead(ctx context.Context, recipientID, id string) error
	MarkAllAsRead(ctx context.Context, recipientID string) (int64, error)
	CountUnread(ctx context.Context, recipientID string) (int64, error)
	Deliveries(ctx context.Context, recipientID, notificationID string) ([]domain.DeliveryRecord, error)
	RetryDelivery(ctx context.Context, recipientID, recordID string) (*domain.DeliveryRecord, error)
}

type NotificationHandler struct {
	service  NotificationService
	validate *validator.Validate
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service, validate: newValidator()}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.CreateNotification)
	v1.Post("/notifications/bulk", h.CreateBulk)
	v1.Get("/notifications", h.ListNotifications)
	v1.Get("/notifications/unread-count", h.CountUnread)
	v1.Post("/notifications/read-all", h.MarkAllAsRead)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Post("/notifications/:id/read", h.MarkAsRead)
	v1.Get("/notifications/:id/deliveries", h.ListDeliveries)
	v1.Post("/deliveries/:id/retry", h.RetryDelivery)

	return nil
}

type notificationContent struct {
	Title        *string        `json:"title" validate:"omitempty,max=255"`
	Content      string         `json:"content" validate:"required_without=TemplateID,max=10000"`
	Priority     string         `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT low medium high urgent"`
	Channels     []string       `json:"channels" validate:"omitempty,dive,required"`
	Metadata     map[string]any `json:"metadata"`
	TemplateID   *string        `json:"templateId"`
	TemplateData map[string]any `json:"templateData"`
	ExpiresAt    *time.Time     `json:"expiresAt"`
}

type createNotificationRequest struct {
	RecipientID string `json:"recipientId" validate:"required"`
	notificationContent
}

type createBulkRequest struct {
	RecipientIDs []string `json:"recipientIds" validate:"required,min=1,max=1000,dive,required"`
	notificationContent
}

type notificationResponse struct {
	ID          string         `json:"id"`
	RecipientID string         `json:"recipientId"`
	Title       *string        `json:"title,omitempty"`
	Content     string         `json:"content"`
	TemplateID  *string        `json:"templateId,omitempty"`
	Priority    string         `json:"priority"`
	Channels    []string       `json:"channels"`
	Status      string         `json:"status"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty"`
	RetryCount  int            `json:"retryCount"`
	LastRetryAt *time.Time     `json:"lastRetryAt,omitempty"`
	Read        bool           `json:"read"`
	ReadAt      *time.Time     `json:"readAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

type deliveryRecordResponse struct {
	ID             string     `json:"id"`
	NotificationID string     `json:"notificationId"`
	Channel        string     `json:"channel"`
	Status         string     `json:"status"`
	ExternalID     *string    `json:"externalId,omitempty"`
	ErrorMessage   *string    `json:"errorMessage,omitempty"`
	RetryCount     int        `json:"retryCount"`
	NextRetryAt    *time.Time `json:"nextRetryAt,omitempty"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type listNotificationsResponse struct {
	Data []notificationResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := bindJSON(c, h.validate, &req); err != nil {
		return err
	}

	input, err := req.notificationContent.toInput()
	if err != nil {
		return toHTTPError(err)
	}
	input.RecipientID = strings.TrimSpace(req.RecipientID)

	created, err := h.service.Create(requestContext(c), input)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toNotificationResponse(created))
}

func (h *NotificationHandler) CreateBulk(c *fiber.Ctx) error {
	var req createBulkRequest
	if err := bindJSON(c, h.validate, &req); err != nil {
		return err
	}

	input, err := req.notificationContent.toInput()
	if err != nil {
		return toHTTPError(err)
	}

	created, err := h.service.CreateBulk(requestContext(c), req.RecipientIDs, input)
	if err != nil {
		if len(created) == 0 {
			return toHTTPError(err)
		}
		return c.Status(fiber.StatusMultiStatus).JSON(fiber.Map{
			"data":    toNotificationResponses(created),
			"created": len(created),
			"error":   err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"data":    toNotificationResponses(created),
		"created": len(created),
	})
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	recipientID, err := userID(c)
	if err != nil {
		return err
	}

	notification, err := h.service.Get(requestContext(c), recipientID, strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	recipientID, err := userID(c)
	if err != nil {
		return err
	}

	page, pageSize, err := pagination(c)
	if err != nil {
		return toHTTPError(err)
	}
	params := repository.ListParams{
		RecipientID: recipientID,
		UnreadOnly:  c.QueryBool("unreadOnly", false),
		Page:        page,
		PageSize:    pageSize,
	}
	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return toHTTPError(err)
		}
		params.Status = &status
	}

	notifications, total, err := h.service.List(requestContext(c), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: toNotificationResponses(notifications),
		Meta: listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

func (h *NotificationHandler) CountUnread(c *fiber.Ctx) error {
	recipientID, err := userID(c)
	if err != nil {
		return err
	}

	count, err := h.service.CountUnread(requestContext(c), recipientID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"count": count})
}

func (h *NotificationHandler) MarkAsRead(c *fiber.Ctx) error {
	recipientID, err := userID(c)
	if err != nil {
		return err
	}

	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.MarkAsRead(requestContext(c), recipientID, id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"notificationId": id, "read": true})
}

func (h *NotificationHandler) MarkAllAsRead(c *fiber.Ctx) error {
	recipientID, err := userID(c)
	if err != nil {
		return err
	}

	marked, err := h.service.MarkAllAsRead(requestContext(c), recipientID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"marked": marked})
}

func (h *NotificationHandler) ListDeliveries(c *fiber.Ctx) error {
	recipientID, err := userID(c)
	if err != nil {
		return err
	}

	records, err := h.service.Deliveries(requestContext(c), recipientID, strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]deliveryRecordResponse, 0, len(records))
	for i := range records {
		data = append(data, toDeliveryRecordResponse(&records[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *NotificationHandler) RetryDelivery(c *fiber.Ctx) error {
	recipientID, err := userID(c)
	if err != nil {
		return err
	}

	record, err := h.service.RetryDelivery(requestContext(c), recipientID, strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toDeliveryRecordResponse(record))
}

func (r notificationContent) toInput() (service.CreateNotificationInput, error) {
	input := service.CreateNotificationInput{
		Title:        r.Title,
		Content:      r.Content,
		Metadata:     r.Metadata,
		TemplateID:   r.TemplateID,
		TemplateData: r.TemplateData,
		ExpiresAt:    r.ExpiresAt,
	}

	if strings.TrimSpace(r.Priority) != "" {
		priority, err := domain.ParsePriorityFromString(r.Priority)
		if err != nil {
			return service.CreateNotificationInput{}, err
		}
		input.Priority = priority
	}

	for _, raw := range r.Channels {
		channel, err := domain.ParseChannelFromString(raw)
		if err != nil {
			return service.CreateNotificationInput{}, err
		}
		input.Channels = append(input.Channels, channel)
	}

	return input, nil
}

func toNotificationResponses(notifications []domain.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for i := range notifications {
		responses = append(responses, toNotificationResponse(&notifications[i]))
	}
	return responses
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	channels := make([]string, 0, len(n.Channels))
	for _, ch := range n.Channels {
		channels = append(channels, ch.String())
	}

	return notificationResponse{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Title:       n.Title,
		Content:     n.Content,
		TemplateID:  n.TemplateID,
		Priority:    n.Priority.String(),
		Channels:    channels,
		Status:      n.Status.String(),
		Metadata:    n.Metadata,
		ExpiresAt:   n.ExpiresAt,
		RetryCount:  n.RetryCount,
		LastRetryAt: n.LastRetryAt,
		Read:        n.Read,
		ReadAt:      n.ReadAt,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
}

func toDeliveryRecordResponse(r *domain.DeliveryRecord) deliveryRecordResponse {
	if r == nil {
		return deliveryRecordResponse{}
	}

	return deliveryRecordResponse{
		ID:             r.ID,
		NotificationID: r.NotificationID,
		Channel:        r.Channel.String(),
		Status:         r.Status.String(),
		ExternalID:     r.ExternalID,
		ErrorMessage:   r.ErrorMessage,
		RetryCount:     r.RetryCount,
		NextRetryAt:    r.NextRetryAt,
		DeliveredAt:    r.DeliveredAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}
