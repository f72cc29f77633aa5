package domain

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultWebhookMaxRetries        = 3
	DefaultWebhookInitialDelayMs    = 30000
	DefaultWebhookBackoffMultiplier = 2.0
	DefaultWebhookMaxPerMinute      = 60
	DefaultWebhookTimeoutMs         = 5000

	MaxWebhookRetries   = 10
	MaxWebhookTimeoutMs = 30000

	// VerificationTokenTTL bounds how long a verification link stays usable.
	VerificationTokenTTL = time.Hour
)

type RetryStrategy struct {
	MaxRetries        int     `json:"maxRetries"`
	InitialDelayMs    int64   `json:"initialDelay"`
	BackoffMultiplier float64 `json:"backoffMultiplier"`
}

type WebhookRateLimit struct {
	MaxPerMinute int `json:"maxPerMinute"`
}

type WebhookConfiguration struct {
	RetryStrategy RetryStrategy    `json:"retryStrategy"`
	RateLimit     WebhookRateLimit `json:"rateLimit"`
	SecretKey     string           `json:"secretKey,omitempty"`
	TimeoutMs     int              `json:"timeout"`
}

// DefaultWebhookConfiguration applies to registrations created without any
// configuration.
func DefaultWebhookConfiguration() WebhookConfiguration {
	cfg := WebhookConfiguration{}.WithDefaults()
	cfg.RetryStrategy.MaxRetries = DefaultWebhookMaxRetries
	return cfg
}

// WithDefaults fills unset fields. MaxRetries is never touched: zero means
// the owner asked for no retries. Negative values are kept for Validate.
func (c WebhookConfiguration) WithDefaults() WebhookConfiguration {
	if c.RetryStrategy.InitialDelayMs == 0 {
		c.RetryStrategy.InitialDelayMs = DefaultWebhookInitialDelayMs
	}
	if c.RetryStrategy.BackoffMultiplier == 0 {
		c.RetryStrategy.BackoffMultiplier = DefaultWebhookBackoffMultiplier
	}
	if c.RateLimit.MaxPerMinute == 0 {
		c.RateLimit.MaxPerMinute = DefaultWebhookMaxPerMinute
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = DefaultWebhookTimeoutMs
	}
	return c
}

func (c WebhookConfiguration) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c WebhookConfiguration) Validate() error {
	if c.RetryStrategy.MaxRetries < 0 || c.RetryStrategy.MaxRetries > MaxWebhookRetries {
		return fmt.Errorf("%w: retryStrategy.maxRetries must be between 0 and %d", ErrValidation, MaxWebhookRetries)
	}
	if c.RetryStrategy.InitialDelayMs < 0 {
		return fmt.Errorf("%w: retryStrategy.initialDelay must not be negative", ErrValidation)
	}
	if c.RetryStrategy.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: retryStrategy.backoffMultiplier must be >= 1", ErrValidation)
	}
	if c.RateLimit.MaxPerMinute < 0 {
		return fmt.Errorf("%w: rateLimit.maxPerMinute must not be negative", ErrValidation)
	}
	if c.TimeoutMs < 0 || c.TimeoutMs > MaxWebhookTimeoutMs {
		return fmt.Errorf("%w: timeout must be between 0 and %dms", ErrValidation, MaxWebhookTimeoutMs)
	}
	return nil
}

// WebhookRegistration is an owner-configured external HTTP subscriber.
type WebhookRegistration struct {
	ID                    string
	OwnerID               string
	Name                  string
	URL                   string
	Method                string
	Headers               map[string]string
	EventTypes            []string
	Active                bool
	Verified              bool
	VerificationToken     *string
	VerificationExpiresAt *time.Time
	Configuration         WebhookConfiguration
	FailureCount          int
	LastFailureAt         *time.Time
	LastSuccessAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Deliverable reports whether deliveries may be attempted.
func (w *WebhookRegistration) Deliverable() bool {
	return w.Active && w.Verified
}

// Subscribes reports whether the registration lists the event type.
func (w *WebhookRegistration) Subscribes(eventType string) bool {
	for _, et := range w.EventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}

func (w *WebhookRegistration) Validate() error {
	if strings.TrimSpace(w.OwnerID) == "" {
		return fmt.Errorf("%w: ownerId is required", ErrValidation)
	}
	if strings.TrimSpace(w.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if strings.TrimSpace(w.URL) == "" {
		if w.Active {
			return fmt.Errorf("%w: active webhook requires a url", ErrConfiguration)
		}
	} else if err := ValidateWebhookURL(w.URL); err != nil {
		return err
	}
	if w.Method != http.MethodPost && w.Method != http.MethodPut {
		return fmt.Errorf("%w: method must be POST or PUT", ErrValidation)
	}
	if len(w.EventTypes) == 0 {
		return fmt.Errorf("%w: at least one event type is required", ErrValidation)
	}
	for _, et := range w.EventTypes {
		if strings.TrimSpace(et) == "" {
			return fmt.Errorf("%w: event types must not be blank", ErrValidation)
		}
	}
	return w.Configuration.Validate()
}

func ValidateWebhookURL(raw string) error {
	parsed, err := url.ParseRequestURI(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: invalid url: %v", ErrValidation, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: url scheme must be http or https", ErrValidation)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: url host is required", ErrValidation)
	}
	return nil
}

// WebhookDeliveryStatus is the state of a queued webhook delivery.
type WebhookDeliveryStatus string

const (
	WebhookDeliveryPending   WebhookDeliveryStatus = "PENDING"
	WebhookDeliverySending   WebhookDeliveryStatus = "SENDING"
	WebhookDeliveryDelivered WebhookDeliveryStatus = "DELIVERED"
	WebhookDeliveryFailed    WebhookDeliveryStatus = "FAILED"
)

func (s WebhookDeliveryStatus) String() string { return string(s) }

// WebhookDelivery is one event queued for one registration. Rows are the
// durable retry queue: a pending row with NextAttemptAt in the future is a
// scheduled retry.
type WebhookDelivery struct {
	ID             string
	WebhookID      string
	EventID        string
	EventName      string
	Payload        []byte
	Status         WebhookDeliveryStatus
	Attempts       int
	NextAttemptAt  time.Time
	LastError      *string
	LastStatusCode *int
	DeliveredAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
