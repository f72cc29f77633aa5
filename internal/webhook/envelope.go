package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

const (
	HeaderSignature    = "X-Webhook-Signature"
	HeaderVerification = "X-Webhook-Verification"
	HeaderEvent        = "X-Webhook-Event"
	HeaderDeliveryID   = "X-Webhook-Delivery"

	// Millisecond precision, always rendered in UTC.
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Envelope is the JSON body posted to every subscriber.
type Envelope struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	CreatedAt string `json:"createdAt"`
	Data      any    `json:"data"`
}

func NewEnvelope(id, event string, createdAt time.Time, data any) Envelope {
	return Envelope{
		ID:        id,
		Event:     event,
		CreatedAt: FormatTimestamp(createdAt),
		Data:      data,
	}
}

func (e Envelope) Encode() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook envelope: %w", err)
	}
	return body, nil
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// Sign returns the lowercase hex HMAC-SHA256 of body keyed by secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
