package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"github.com/kursadbilgin/signal-notifier/internal/repository"
	"github.com/kursadbilgin/signal-notifier/internal/templating"
)

type CreateTemplateInput struct {
	Name            string
	EventType       string
	TitleTemplate   string
	ContentTemplate string
	DataSchema      []byte
	Active          *bool
}

type TemplateService struct {
	templates repository.TemplateRepository
	now       func() time.Time
}

func NewTemplateService(templates repository.TemplateRepository) (*TemplateService, error) {
	if templates == nil {
		return nil, fmt.Errorf("template repository is required")
	}
	return &TemplateService{templates: templates, now: time.Now}, nil
}

// Create rejects templates whose data schema does not compile.
func (s *TemplateService) Create(ctx context.Context, input CreateTemplateInput) (*domain.NotificationTemplate, error) {
	now := s.now().UTC()
	tpl := &domain.NotificationTemplate{
		ID:              uuid.NewString(),
		Name:            strings.TrimSpace(input.Name),
		EventType:       strings.TrimSpace(input.EventType),
		TitleTemplate:   input.TitleTemplate,
		ContentTemplate: input.ContentTemplate,
		DataSchema:      input.DataSchema,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if input.Active != nil {
		tpl.Active = *input.Active
	}

	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	if len(tpl.DataSchema) > 0 {
		if err := templating.CompileSchema(tpl.DataSchema); err != nil {
			return nil, err
		}
	}

	if err := s.templates.Create(ctx, tpl); err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}
	return tpl, nil
}

func (s *TemplateService) Get(ctx context.Context, id string) (*domain.NotificationTemplate, error) {
	return s.templates.GetByID(ctx, strings.TrimSpace(id))
}
