package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// TestCategorizeError verifies that CategorizeError maps errors to the correct ErrorCategory
// for metrics labeling, including sentinel errors, wrapped errors, and message-based heuristics.
func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"timeout context", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"canceled context", context.Canceled, ErrorCategoryTimeout},
		{"missing API key", ErrMissingAPIKey, ErrorCategoryMissingAPIKey},
		{"wrapped invalid API key", fmt.Errorf("current conditions for Bay: %w", ErrInvalidAPIKey), ErrorCategoryInvalidAPIKey},
		{"location not found", ErrLocationNotFound, ErrorCategoryLocationNotFound},
		{"rate limited", ErrRateLimited, ErrorCategoryRateLimited},
		{"circuit open", fmt.Errorf("%w: open state", ErrCircuitOpen), ErrorCategoryCircuitOpen},
		{"upstream failure", fmt.Errorf("%w: HTTP 502", ErrUpstreamFailure), ErrorCategoryUpstream},
		{"timeout in message", fmt.Errorf("request timeout: %w", context.DeadlineExceeded), ErrorCategoryTimeout},
		{"network in message", errors.New("connection refused"), ErrorCategoryNetwork},
		{"parse in message", errors.New("parse response: invalid json"), ErrorCategoryParsing},
		{"unknown", errors.New("something else"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CategorizeError(tt.err)
			if got != tt.want {
				t.Errorf("CategorizeError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsConfigError(t *testing.T) {
	if !IsConfigError(fmt.Errorf("x: %w", ErrMissingAPIKey)) {
		t.Error("missing key should be a config error")
	}
	if !IsConfigError(fmt.Errorf("x: %w", ErrInvalidAPIKey)) {
		t.Error("invalid key should be a config error")
	}
	if IsConfigError(ErrUpstreamFailure) || IsConfigError(nil) {
		t.Error("upstream failure and nil are not config errors")
	}
}

func TestBreakerIsSuccessful(t *testing.T) {
	for _, err := range []error{nil, ErrInvalidAPIKey, fmt.Errorf("w: %w", ErrLocationNotFound), context.Canceled} {
		if !BreakerIsSuccessful(err) {
			t.Errorf("BreakerIsSuccessful(%v) = false, want true", err)
		}
	}
	for _, err := range []error{ErrUpstreamFailure, ErrRateLimited, context.DeadlineExceeded} {
		if BreakerIsSuccessful(err) {
			t.Errorf("BreakerIsSuccessful(%v) = true, want false", err)
		}
	}
}
