package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"newsrelay/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrServiceUnavailable, "analysis", "complete", "request failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrServiceUnavailable) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"analysis", "complete", "request failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want services.Kind
	}{
		{"nil", nil, ""},
		{"malformed data", services.Wrap(services.ErrMalformedData, "codec", "decode", "bad json", nil), services.KindMalformedData},
		{"malformed response", fmt.Errorf("outer: %w", services.ErrMalformedResponse), services.KindMalformedResponse},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), services.KindServiceUnavailable},
		{"configuration", services.Wrap(services.ErrConfiguration, "notify", "send", "forbidden", nil), services.KindConfiguration},
		{"conflict", services.ErrWriteConflict, services.KindWriteConflict},
		{"unknown", errors.New("mystery"), services.KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if services.Retryable(services.ErrMalformedData) {
		t.Fatal("malformed data must not be retried")
	}
	if services.Retryable(services.ErrConfiguration) {
		t.Fatal("configuration errors must not be retried")
	}
	if !services.Retryable(services.ErrServiceUnavailable) {
		t.Fatal("unavailable dependency should be retried")
	}
	if services.Retryable(nil) {
		t.Fatal("nil error is not retryable")
	}
}
