package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusDelivered  Status = "DELIVERED"
	StatusFailed     Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further delivery work happens for the notification.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Channel represents a delivery medium.
type Channel string

const (
	ChannelEmail   Channel = "EMAIL"
	ChannelPush    Channel = "PUSH"
	ChannelInApp   Channel = "IN_APP"
	ChannelWebhook Channel = "WEBHOOK"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelPush, ChannelInApp, ChannelWebhook:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	ch := Channel(normalized)
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Priority represents the dispatch priority level.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Priorities lists every level from the most to the least urgent.
var Priorities = []Priority{PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow}

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Rank orders priorities; a higher rank is dispatched first. Unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

func ParsePriorityFromString(s string) (Priority, error) {
	pr := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return pr, nil
}

const (
	MaxTitleLength   = 255
	MaxContentLength = 10000
)

// Notification is one message destined for one recipient over one or more channels.
type Notification struct {
	ID           string
	RecipientID  string
	Title        *string
	Content      string
	TemplateID   *string
	TemplateData map[string]any
	Priority     Priority
	Channels     []Channel
	Status       Status
	Metadata     map[string]any
	ExpiresAt    *time.Time
	RetryCount   int
	LastRetryAt  *time.Time
	Read         bool
	ReadAt       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.RecipientID) == "" {
		return fmt.Errorf("%w: recipientId is required", ErrValidation)
	}
	if strings.TrimSpace(n.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if len([]rune(n.Content)) > MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", ErrValidation, MaxContentLength)
	}
	if n.Title != nil && len([]rune(*n.Title)) > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", ErrValidation, MaxTitleLength)
	}
	if !n.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, n.Priority)
	}
	if len(n.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrValidation)
	}
	for _, ch := range n.Channels {
		if !ch.IsValid() {
			return fmt.Errorf("%w: invalid channel %q", ErrValidation, ch)
		}
	}
	return nil
}

// IsExpired reports whether ExpiresAt is set and not after now.
func (n *Notification) IsExpired(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}

// HasChannel reports whether the notification targets the given channel.
func (n *Notification) HasChannel(channel Channel) bool {
	for _, ch := range n.Channels {
		if ch == channel {
			return true
		}
	}
	return false
}

// EventType returns metadata.eventType when it is a non-empty string.
func (n *Notification) EventType() string {
	if n.Metadata == nil {
		return ""
	}
	value, ok := n.Metadata["eventType"].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

// UniqueChannels returns channels in first-seen order without duplicates.
func UniqueChannels(channels []Channel) []Channel {
	seen := make(map[Channel]struct{}, len(channels))
	unique := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		unique = append(unique, ch)
	}
	return unique
}
