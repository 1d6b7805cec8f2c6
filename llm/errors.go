package llm

import (
	"errors"
	"time"
)

// ErrorType categorizes provider failures.
type ErrorType string

const (
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	ErrorTypeProvider       ErrorType = "provider"
)

// Error is a provider-neutral API error.
type Error struct {
	Type        ErrorType
	Message     string
	Retryable   bool
	RetryAfter  *time.Duration
	StatusCode  int
	ProviderErr error
}

func (e *Error) Error() string {
	if e.ProviderErr != nil {
		return e.Message + ": " + e.ProviderErr.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.ProviderErr
}

// IsRateLimitError reports whether err is a provider rate limit.
func IsRateLimitError(err error) bool {
	var llmErr *Error
	return errors.As(err, &llmErr) && llmErr.Type == ErrorTypeRateLimit
}

// IsRetryableError reports whether retrying the request may succeed.
func IsRetryableError(err error) bool {
	var llmErr *Error
	return errors.As(err, &llmErr) && llmErr.Retryable
}

// NewRateLimitError wraps a provider rate limit response.
func NewRateLimitError(message string, retryAfter *time.Duration, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRateLimit,
		Message:     message,
		Retryable:   true,
		RetryAfter:  retryAfter,
		ProviderErr: providerErr,
	}
}

// NewProviderError wraps a non-retryable provider failure.
func NewProviderError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeProvider,
		Message:     message,
		ProviderErr: providerErr,
	}
}
