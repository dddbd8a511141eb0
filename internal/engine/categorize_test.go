package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"deadline", fmt.Errorf("request timeout: %w", context.DeadlineExceeded), ErrorCategoryTimeout},
		{"circuit open", fmt.Errorf("%w: engine_rest", ErrCircuitOpen), ErrorCategoryCircuitOpen},
		{"unauthorized", fmt.Errorf("%w: HTTP 401", ErrUnauthorized), ErrorCategoryUnauthorized},
		{"not found", fmt.Errorf("%w: HTTP 404", ErrNotFound), ErrorCategoryNotFound},
		{"bad request", fmt.Errorf("%w: HTTP 400", ErrBadRequest), ErrorCategoryBadRequest},
		{"rate limited", fmt.Errorf("exhausted retries: %w", ErrRateLimited), ErrorCategoryRateLimited},
		{"5xx", fmt.Errorf("%w: HTTP 503", ErrEngineFailure), ErrorCategoryEngine5xx},
		{"network", errors.New("http request failed: dial tcp: connection refused"), ErrorCategoryNetwork},
		{"parsing", errors.New("parse response: unexpected EOF"), ErrorCategoryParsing},
		{"unknown", errors.New("something odd"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategorizeError(tt.err); got != tt.want {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsConnectivityError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{fmt.Errorf("%w: HTTP 500", ErrEngineFailure), true},
		{errors.New("http request failed: EOF"), true},
		{fmt.Errorf("%w: HTTP 404", ErrNotFound), false},
		{fmt.Errorf("%w: HTTP 400", ErrBadRequest), false},
	}
	for _, tt := range tests {
		if got := IsConnectivityError(tt.err); got != tt.want {
			t.Errorf("IsConnectivityError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
