package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"github.com/kursadbilgin/signal-notifier/internal/repository"
)

type PreferenceInput struct {
	Enabled      bool
	Channels     []domain.Channel
	EmailAddress *string
}

type PreferenceService struct {
	preferences repository.PreferenceRepository
	now         func() time.Time
}

func NewPreferenceService(preferences repository.PreferenceRepository) (*PreferenceService, error) {
	if preferences == nil {
		return nil, fmt.Errorf("preference repository is required")
	}
	return &PreferenceService{preferences: preferences, now: time.Now}, nil
}

func (s *PreferenceService) List(ctx context.Context, userID string) ([]domain.NotificationPreference, error) {
	return s.preferences.ListByUser(ctx, userID)
}

func (s *PreferenceService) Get(ctx context.Context, userID, eventType string) (*domain.NotificationPreference, error) {
	return s.preferences.Get(ctx, userID, strings.TrimSpace(eventType))
}

// Upsert creates or replaces the preference for (userID, eventType).
func (s *PreferenceService) Upsert(ctx context.Context, userID, eventType string, input PreferenceInput) (*domain.NotificationPreference, error) {
	now := s.now().UTC()
	preference := &domain.NotificationPreference{
		ID:           uuid.NewString(),
		UserID:       strings.TrimSpace(userID),
		EventType:    strings.TrimSpace(eventType),
		Enabled:      input.Enabled,
		Channels:     domain.UniqueChannels(input.Channels),
		EmailAddress: normalizeOptionalString(input.EmailAddress),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := preference.Validate(); err != nil {
		return nil, err
	}
	if err := s.preferences.Upsert(ctx, preference); err != nil {
		return nil, fmt.Errorf("failed to save preference: %w", err)
	}
	return preference, nil
}

func (s *PreferenceService) Delete(ctx context.Context, userID, eventType string) error {
	return s.preferences.Delete(ctx, userID, strings.TrimSpace(eventType))
}
