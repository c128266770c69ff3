// Package network provides the HTTP access layer for the Coretex platform API:
// a retrying transport, an authenticated client with transparent token refresh,
// and a chunked upload session for files too large for a single request.
package network

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Use errors.Is(err, network.ErrRequestExhausted) to check.
var (
	ErrRequestExhausted = errors.New("network: failed to execute request after retrying")
	ErrValidation       = errors.New("network: validation failed")
	ErrNotAuthenticated = errors.New("network: not authenticated")

	ErrBadRequest   = errors.New("network: bad request")
	ErrUnauthorized = errors.New("network: unauthorized")
	ErrForbidden    = errors.New("network: forbidden")
	ErrNotFound     = errors.New("network: not found")
	ErrConflict     = errors.New("network: conflict")
	ErrClientError  = errors.New("network: client error")
	ErrServerError  = errors.New("network: server error")
)

// RequestExhaustedError is returned by Transport when every attempt of a
// request failed below the HTTP layer. It is terminal.
type RequestExhaustedError struct {
	Method   string
	Endpoint string
	Attempts int
	Err      error // last transport error
}

func (e *RequestExhaustedError) Error() string {
	return fmt.Sprintf("network: %s %s failed after %d attempts: %v", e.Method, e.Endpoint, e.Attempts, e.Err)
}

func (e *RequestExhaustedError) Unwrap() []error {
	return []error{ErrRequestExhausted, e.Err}
}

// RequestError converts a failed Response into an error. The wrapped sentinel
// classifies the status code.
type RequestError struct {
	StatusCode int
	Endpoint   string
	Message    string
	Body       string
	Err        error // sentinel, for errors.Is()
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("network: %s: HTTP %d (%s): %s", e.Message, e.StatusCode, e.Endpoint, e.Body)
	}

	return fmt.Sprintf("network: HTTP %d (%s): %s", e.StatusCode, e.Endpoint, e.Body)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// NewRequestError builds a RequestError from a failed response.
func NewRequestError(resp *Response, message string) *RequestError {
	return &RequestError{
		StatusCode: resp.StatusCode,
		Endpoint:   resp.Endpoint,
		Message:    message,
		Body:       resp.Text(),
		Err:        classifyStatus(resp.StatusCode),
	}
}

// validationErrorf wraps ErrValidation with a formatted message.
func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes below 400.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		if code >= http.StatusBadRequest {
			return ErrClientError
		}

		return nil
	}
}

// isRetryableStatus reports whether a response status is retried by the
// client retry policy. 401 is handled separately through token refresh.
func isRetryableStatus(code int) bool {
	return code == http.StatusInternalServerError || code == http.StatusServiceUnavailable
}
