package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/signal-notifier/internal/provider"
)

const defaultSendTimeout = 10 * time.Second

// Request is one signed HTTP call to a subscriber.
type Request struct {
	URL          string
	Method       string
	Headers      map[string]string
	Body         []byte
	Secret       string
	Timeout      time.Duration
	Verification bool
}

type Response struct {
	StatusCode int
	Body       string
	RequestID  string
}

// Sender performs single-attempt webhook calls. Retries are owned by the
// caller so every attempt is visible in persisted state.
type Sender struct {
	client *resty.Client
}

func NewSender() *Sender {
	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)

	sender, _ := NewSenderWithClient(client)
	return sender
}

func NewSenderWithClient(client *resty.Client) (*Sender, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendTimeout)
	}
	client.SetRetryCount(0)

	return &Sender{client: client}, nil
}

func (s *Sender) Send(ctx context.Context, req Request) (*Response, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("webhook sender is not initialized")
	}
	if strings.TrimSpace(req.URL) == "" {
		return nil, &provider.ProviderError{Message: "webhook url is empty"}
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodPost
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	r := s.client.R().
		SetContext(ctx).
		SetHeaders(req.Headers).
		SetHeader("Content-Type", "application/json").
		SetBody(req.Body)
	if req.Secret != "" {
		r.SetHeader(HeaderSignature, Sign(req.Secret, req.Body))
	}
	if req.Verification {
		r.SetHeader(HeaderVerification, "true")
	}

	response, err := r.Execute(method, req.URL)
	if err != nil {
		return nil, &provider.ProviderError{
			Message:   "webhook request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &provider.ProviderError{
			Message:   "webhook returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Response{
			StatusCode: statusCode,
			Body:       responseBody,
			RequestID:  requestID(response),
		}, nil
	}

	return nil, &provider.ProviderError{
		StatusCode: statusCode,
		Message:    errorMessage(statusCode, responseBody),
		Transient:  provider.TransientStatus(statusCode),
	}
}

func errorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("webhook returned status %d", statusCode)
	if body == "" {
		return base
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func requestID(response *resty.Response) string {
	for _, key := range []string{"X-Request-ID", "X-Correlation-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}
	return ""
}
