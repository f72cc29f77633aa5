package service

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kursadbilgin/signal-notifier/internal/domain"
)

func TestPreferenceServiceUpsert(t *testing.T) {
	t.Parallel()

	var saved *domain.NotificationPreference
	repo := &fakePreferenceRepo{upsertFn: func(ctx context.Context, p *domain.NotificationPreference) error {
		saved = p
		return nil
	}}
	svc, err := NewPreferenceService(repo)
	if err != nil {
		t.Fatalf("NewPreferenceService() error = %v", err)
	}

	email := " a@example.com "
	got, err := svc.Upsert(context.Background(), "user-1", " STAKE ", PreferenceInput{
		Enabled:      true,
		Channels:     []domain.Channel{domain.ChannelEmail, domain.ChannelEmail, domain.ChannelPush},
		EmailAddress: &email,
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if saved != got || got.EventType != "STAKE" {
		t.Fatalf("saved = %+v", saved)
	}
	if !reflect.DeepEqual(got.Channels, []domain.Channel{domain.ChannelEmail, domain.ChannelPush}) {
		t.Fatalf("channels = %v", got.Channels)
	}
	if got.EmailAddress == nil || *got.EmailAddress != "a@example.com" {
		t.Fatalf("email = %v", got.EmailAddress)
	}
}

func TestPreferenceServiceUpsertValidation(t *testing.T) {
	t.Parallel()

	svc, err := NewPreferenceService(&fakePreferenceRepo{upsertFn: func(ctx context.Context, p *domain.NotificationPreference) error {
		t.Error("invalid preference must not be saved")
		return nil
	}})
	if err != nil {
		t.Fatalf("NewPreferenceService() error = %v", err)
	}

	bad := "not-an-email"
	tests := []struct {
		name      string
		eventType string
		input     PreferenceInput
	}{
		{name: "blank event type", eventType: " ", input: PreferenceInput{Enabled: true}},
		{name: "bad channel", eventType: "STAKE", input: PreferenceInput{Channels: []domain.Channel{"SMS"}}},
		{name: "bad email", eventType: "STAKE", input: PreferenceInput{EmailAddress: &bad}},
	}
	for _, tt := range tests {
		if _, err := svc.Upsert(context.Background(), "user-1", tt.eventType, tt.input); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: Upsert() error = %v, want ErrValidation", tt.name, err)
		}
	}
}
