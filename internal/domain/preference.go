package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// NotificationPreference is a user's opt-in for one event type.
type NotificationPreference struct {
	ID           string
	UserID       string
	EventType    string
	Enabled      bool
	Channels     []Channel
	EmailAddress *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (p *NotificationPreference) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if strings.TrimSpace(p.EventType) == "" {
		return fmt.Errorf("%w: eventType is required", ErrValidation)
	}
	for _, ch := range p.Channels {
		if !ch.IsValid() {
			return fmt.Errorf("%w: invalid channel %q", ErrValidation, ch)
		}
	}
	if p.EmailAddress != nil && strings.TrimSpace(*p.EmailAddress) != "" {
		if _, err := mail.ParseAddress(*p.EmailAddress); err != nil {
			return fmt.Errorf("%w: invalid email address", ErrValidation)
		}
	}
	return nil
}

// NotificationTemplate stores title and content templates for an event type.
type NotificationTemplate struct {
	ID              string
	Name            string
	EventType       string
	TitleTemplate   string
	ContentTemplate string
	DataSchema      []byte
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (t *NotificationTemplate) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: template name is required", ErrValidation)
	}
	if strings.TrimSpace(t.ContentTemplate) == "" {
		return fmt.Errorf("%w: content template is required", ErrValidation)
	}
	return nil
}
