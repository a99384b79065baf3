// Package providers implements the two LLM provider adapters: Gemini and
// OpenAI-compatible endpoints.
package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailureReason categorizes why a provider request failed. Used for logging
// and for deciding whether a configuration problem should fail fast.
type FailureReason string

const (
	ReasonAuth           FailureReason = "auth"
	ReasonRateLimit      FailureReason = "rate_limit"
	ReasonTimeout        FailureReason = "timeout"
	ReasonServerError    FailureReason = "server_error"
	ReasonInvalidRequest FailureReason = "invalid_request"
	ReasonContentFilter  FailureReason = "content_filter"
	ReasonUnknown        FailureReason = "unknown"
)

// ProviderError is a structured failure from one provider call. The
// orchestrator treats any error as fatal for that attempt; the structure
// exists for diagnostics, not control flow.
type ProviderError struct {
	Reason   FailureReason
	Provider string
	Model    string
	Status   int
	Cause    error
}

func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Reason, e.Provider))
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// WrapError builds a ProviderError around a raw SDK failure, classifying it
// from the error text. Already-wrapped errors pass through unchanged.
func WrapError(provider, model string, cause error) error {
	if cause == nil {
		return nil
	}
	var existing *ProviderError
	if errors.As(cause, &existing) {
		return cause
	}
	return &ProviderError{
		Reason:   Classify(cause),
		Provider: provider,
		Model:    model,
		Status:   statusFromError(cause),
		Cause:    cause,
	}
}

// Classify maps an error to a FailureReason by inspecting its text. SDKs
// vary in how much structure they expose, so this is pattern matching.
func Classify(err error) FailureReason {
	if err == nil {
		return ReasonUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return ReasonTimeout
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "resource exhausted"),
		strings.Contains(msg, "429"):
		return ReasonRateLimit
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "unauthenticated"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"):
		return ReasonAuth
	case strings.Contains(msg, "content policy"),
		strings.Contains(msg, "safety"),
		strings.Contains(msg, "blocked"):
		return ReasonContentFilter
	case strings.Contains(msg, "invalid request"),
		strings.Contains(msg, "400"):
		return ReasonInvalidRequest
	case strings.Contains(msg, "internal server"),
		strings.Contains(msg, "service unavailable"),
		strings.Contains(msg, "bad gateway"),
		strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"):
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func statusFromError(err error) int {
	msg := err.Error()
	for _, status := range []int{
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusTooManyRequests,
		http.StatusBadRequest,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
	} {
		if strings.Contains(msg, fmt.Sprintf("%d", status)) {
			return status
		}
	}
	return 0
}
