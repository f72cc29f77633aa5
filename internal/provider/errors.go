package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/aws/smithy-go"
)

// ProviderError is a failed channel send. Transient errors are retried under
// the delivery retry policy; everything else fails the record immediately.
type ProviderError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "provider error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func Permanent(message string, cause error) *ProviderError {
	return &ProviderError{Message: message, Cause: cause}
}

func Transient(message string, cause error) *ProviderError {
	return &ProviderError{Message: message, Transient: true, Cause: cause}
}

// IsTransient reports whether a send should be retried. Errors that were
// never classified count as permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

// TransientStatus reports whether an HTTP response status is worth retrying.
func TransientStatus(statusCode int) bool {
	switch {
	case statusCode == http.StatusTooManyRequests, statusCode == http.StatusRequestTimeout:
		return true
	case statusCode >= http.StatusInternalServerError && statusCode <= 599:
		return true
	default:
		return false
	}
}

var transientAWSCodes = map[string]bool{
	"Throttling":             true,
	"ThrottlingException":    true,
	"ServiceUnavailable":     true,
	"InternalFailure":        true,
	"RequestTimeout":         true,
	"TooManyRequests":        true,
	"LimitExceeded":          true,
	"KMSThrottlingException": true,
}

// classifyAWSError marks throttling and server faults as transient. Other API
// errors are rejections of the request itself.
func classifyAWSError(message string, err error) error {
	if errors.Is(err, context.Canceled) {
		return Permanent(message, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Message:   message,
			Transient: transientAWSCodes[apiErr.ErrorCode()] || apiErr.ErrorFault() == smithy.FaultServer,
			Cause:     err,
		}
	}

	// No API response: the request never reached the service.
	return Transient(message, err)
}
