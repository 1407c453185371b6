// Package providers defines the unified adapter boundary to external LLM
// APIs. Each vendor-specific adapter lives in its own subpackage and
// normalizes transport, auth, and error classification; everything above
// this boundary is provider-agnostic.
package providers

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Adapter is the interface every concrete provider implements.
type Adapter interface {
	// ID returns the provider id (e.g., "openai", "anthropic")
	ID() string

	// Generate performs a single completion call. Failures are returned as
	// *ProviderError so callers can classify them without vendor knowledge.
	Generate(ctx context.Context, input *GenerateInput) (*GenerateOutput, error)
}

// GenerateInput is a unified completion request.
type GenerateInput struct {
	// Prompt is the full prompt text
	Prompt string

	// MaxTokens limits the response length
	MaxTokens int

	// Temperature controls randomness (0.0 to 2.0)
	Temperature float64

	// User identifier for abuse monitoring
	User string
}

// GenerateOutput is a unified completion response.
type GenerateOutput struct {
	// Text is the generated completion
	Text string

	// Model that produced the completion
	Model string

	// InputTokens reported by the provider
	InputTokens int

	// OutputTokens reported by the provider
	OutputTokens int
}

// ErrorCode classifies a provider failure independently of the vendor API.
type ErrorCode string

const (
	// CodeTimeout means the call exceeded its deadline
	CodeTimeout ErrorCode = "timeout"

	// CodeRateLimited means the provider rejected the call with HTTP 429
	CodeRateLimited ErrorCode = "rate_limited"

	// CodeAuthFailure means credentials were rejected (401/403)
	CodeAuthFailure ErrorCode = "auth_failure"

	// CodeInvalidResponse means the provider returned an unparseable or
	// structurally invalid body
	CodeInvalidResponse ErrorCode = "invalid_response"

	// CodeUnknown covers everything else (5xx, transport failures)
	CodeUnknown ErrorCode = "unknown"
)

// ProviderError represents a classified error from a provider
type ProviderError struct {
	// ProviderID that generated the error
	ProviderID string

	// Code is the normalized error classification
	Code ErrorCode

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.ProviderID + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.ProviderID + ": " + e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(providerID string, code ErrorCode, message string, statusCode int, cause error) *ProviderError {
	return &ProviderError{
		ProviderID: providerID,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// AsProviderError extracts a *ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ClassifyStatus maps an HTTP error status to an error code.
func ClassifyStatus(statusCode int) ErrorCode {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return CodeRateLimited
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return CodeAuthFailure
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return CodeTimeout
	default:
		return CodeUnknown
	}
}

// ClassifyTransportError maps a transport-level failure to a provider error.
// Context expiry becomes a timeout; everything else is unknown.
func ClassifyTransportError(providerID string, err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewProviderError(providerID, CodeTimeout, "request deadline exceeded", 0, err)
	}
	if errors.Is(err, context.Canceled) {
		return NewProviderError(providerID, CodeTimeout, "request cancelled", 0, err)
	}
	return NewProviderError(providerID, CodeUnknown, "transport failure", 0, err)
}

// Spec describes one registered provider's routing attributes.
type Spec struct {
	// ID is the provider id
	ID string

	// Priority orders fallback candidates (lower tries first)
	Priority int

	// Model is the configured model identifier
	Model string

	// MaxTokens is the hard per-call output cap for this provider
	MaxTokens int

	// Timeout bounds a single call to this provider
	Timeout time.Duration
}
