package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}

	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline exceeded", err: fmt.Errorf("wrap: %w", context.DeadlineExceeded), want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "transient provider error", err: Transient("redis publish failed", nil), want: true},
		{name: "permanent provider error", err: &ProviderError{StatusCode: 400}, want: false},
		{name: "wrapped permanent", err: fmt.Errorf("send: %w", Permanent("no email address", nil)), want: false},
		{name: "connection refused", err: refused, want: true},
		{name: "unclassified error", err: errors.New("boom"), want: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := IsTransient(tc.err); got != tc.want {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTransientStatus(t *testing.T) {
	t.Parallel()

	for code, want := range map[int]bool{
		200: false,
		400: false,
		404: false,
		408: true,
		410: false,
		429: true,
		500: true,
		503: true,
	} {
		if got := TransientStatus(code); got != want {
			t.Fatalf("TransientStatus(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestProviderErrorMessage(t *testing.T) {
	t.Parallel()

	err := &ProviderError{StatusCode: 502, Message: "webhook returned status 502", Cause: errors.New("bad gateway")}
	want := "provider error: status=502: webhook returned status 502: bad gateway"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}

	if !errors.Is(Transient("publish", context.DeadlineExceeded), context.DeadlineExceeded) {
		t.Fatal("Unwrap should expose the cause")
	}
}
