package domain

import "time"

// DeliveryStatus is the state of one channel delivery lineage.
type DeliveryStatus string

const (
	DeliveryStatusPending        DeliveryStatus = "PENDING"
	DeliveryStatusSending        DeliveryStatus = "SENDING"
	DeliveryStatusDelivered      DeliveryStatus = "DELIVERED"
	DeliveryStatusFailed         DeliveryStatus = "FAILED"
	DeliveryStatusRetryScheduled DeliveryStatus = "RETRY_SCHEDULED"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusFailed
}

// DeliveryRecord tracks delivery of one notification over one channel.
type DeliveryRecord struct {
	ID             string
	NotificationID string
	Channel        Channel
	Status         DeliveryStatus
	ExternalID     *string
	ErrorMessage   *string
	RetryCount     int
	NextRetryAt    *time.Time
	DeliveredAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ExpiredDeliveryMessage is recorded on records failed by expiration.
const ExpiredDeliveryMessage = "Notification expired"
