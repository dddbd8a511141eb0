package engine

import (
	"context"
	"errors"
	"strings"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as the engineErrorsTotal "category" label.
const (
	ErrorCategoryTimeout      ErrorCategory = "timeout"
	ErrorCategoryNetwork      ErrorCategory = "network"
	ErrorCategoryUnauthorized ErrorCategory = "unauthorized"
	ErrorCategoryNotFound     ErrorCategory = "not_found"
	ErrorCategoryBadRequest   ErrorCategory = "bad_request"
	ErrorCategoryRateLimited  ErrorCategory = "rate_limited"
	ErrorCategoryEngine5xx    ErrorCategory = "engine_5xx"
	ErrorCategoryCircuitOpen  ErrorCategory = "circuit_open"
	ErrorCategoryParsing      ErrorCategory = "parsing"
	ErrorCategoryUnknown      ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTimeout
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, ErrUnauthorized):
		return ErrorCategoryUnauthorized
	case errors.Is(err, ErrNotFound):
		return ErrorCategoryNotFound
	case errors.Is(err, ErrBadRequest):
		return ErrorCategoryBadRequest
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrEngineFailure):
		return ErrorCategoryEngine5xx
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded") {
		return ErrorCategoryTimeout
	}

	if strings.Contains(errStr, "http request failed") || strings.Contains(errStr, "connection") {
		return ErrorCategoryNetwork
	}

	if strings.Contains(errStr, "parse") || strings.Contains(errStr, "unmarshal") {
		return ErrorCategoryParsing
	}

	return ErrorCategoryUnknown
}
