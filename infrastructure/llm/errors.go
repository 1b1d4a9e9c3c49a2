package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Errors returned by providers and the model client.
var (
	// ErrEmptyAPIKey indicates that an API key was required but not provided.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")
	// ErrEmptyResponse indicates the reply carried no text.
	ErrEmptyResponse = errors.New("empty response from API")
	// ErrMissingText indicates a 200 reply without candidates[0].content.parts[0].text.
	ErrMissingText = errors.New("response has no candidate text")
)

// ErrorType classifies a provider failure.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeAuthentication
	ErrorTypeRateLimit
	ErrorTypeBadRequest
	ErrorTypeNotFound
	ErrorTypeServerError
	ErrorTypeContentPolicy
	ErrorTypeNetwork
	ErrorTypeTimeout
	ErrorTypeCanceled
	ErrorTypeMalformedResponse
)

var errorTypeNames = map[ErrorType]string{
	ErrorTypeAuthentication:    "authentication",
	ErrorTypeRateLimit:         "rate_limit",
	ErrorTypeBadRequest:        "bad_request",
	ErrorTypeNotFound:          "not_found",
	ErrorTypeServerError:       "server_error",
	ErrorTypeContentPolicy:     "content_policy",
	ErrorTypeNetwork:           "network",
	ErrorTypeTimeout:           "timeout",
	ErrorTypeCanceled:          "canceled",
	ErrorTypeMalformedResponse: "malformed_response",
}

// String returns the label used in logs and metrics.
func (t ErrorType) String() string {
	if s, ok := errorTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// ProviderError is a provider failure normalised into a common shape.
type ProviderError struct {
	Type       ErrorType
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(" error")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Type != ErrorTypeUnknown {
		fmt.Fprintf(&b, " [%s]", e.Type)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRetryable reports whether another attempt could succeed. Malformed
// replies count as transient because the model is sampled again. So does a
// content block delivered with HTTP 200: it is a reply without text, while
// a request rejected outright by the filter is permanent.
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeContentPolicy:
		return e.StatusCode == http.StatusOK
	case ErrorTypeAuthentication, ErrorTypeBadRequest, ErrorTypeNotFound, ErrorTypeCanceled:
		return false
	default:
		return true
	}
}

// NewProviderError creates a ProviderError.
func NewProviderError(provider string, errType ErrorType, statusCode int, message string, wrapped error) *ProviderError {
	return &ProviderError{
		Type:       errType,
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
		Err:        wrapped,
	}
}

// IsRetryable reports whether err is worth another attempt. Errors that are
// not ProviderErrors are treated as transient; context errors never are.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.IsRetryable()
	}
	return true
}

// ErrorClassifier maps transport outcomes onto ProviderErrors for one
// provider.
type ErrorClassifier struct {
	Provider string
}

// ClassifyHTTPError classifies a non-success HTTP status.
func (ec *ErrorClassifier) ClassifyHTTPError(statusCode int, message string, err error) *ProviderError {
	var errType ErrorType
	switch {
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		errType = ErrorTypeAuthentication
		if message == "" {
			message = ec.Provider + " authentication failed"
		}
	case statusCode == http.StatusTooManyRequests:
		errType = ErrorTypeRateLimit
		if message == "" {
			message = ec.Provider + " rate limit exceeded"
		}
	case statusCode == http.StatusNotFound:
		errType = ErrorTypeNotFound
	case statusCode == http.StatusRequestTimeout:
		errType = ErrorTypeTimeout
	case statusCode >= 500:
		errType = ErrorTypeServerError
	case statusCode >= 400:
		errType = ErrorTypeBadRequest
	default:
		errType = ErrorTypeUnknown
		if message == "" {
			message = fmt.Sprintf("unexpected status %d", statusCode)
		}
	}
	return NewProviderError(ec.Provider, errType, statusCode, message, err)
}

// ClassifyContextError classifies a deadline or cancellation.
func (ec *ErrorClassifier) ClassifyContextError(err error) *ProviderError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderError(ec.Provider, ErrorTypeTimeout, 0, "request timed out", err)
	case errors.Is(err, context.Canceled):
		return NewProviderError(ec.Provider, ErrorTypeCanceled, 0, "request canceled", err)
	default:
		return NewProviderError(ec.Provider, ErrorTypeNetwork, 0, "request failed", err)
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
