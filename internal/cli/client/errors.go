package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthenticated means the server rejected the credential (401)
	ErrUnauthenticated = errors.New("authentication rejected")
	// ErrMalformedResponse means a 2xx response lacked the expected fields
	ErrMalformedResponse = errors.New("malformed response")
	// ErrRejected means the server answered {"success": false}
	ErrRejected = errors.New("request rejected by server")
)

// APIError is a non-2xx response from the clinic API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("request failed (status %d): %s", e.StatusCode, e.Message)
}

// Unwrap lets errors.Is(err, ErrUnauthenticated) match 401 responses
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthenticated
	}
	return nil
}

// TransportError is a failure to get any response at all
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to send request: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsUnauthenticated reports whether err is an authentication rejection
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

// IsTransient reports whether err is a fault that may clear on retry:
// transport failures, timeouts, and server-side or throttling statuses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode >= 500,
			apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode == http.StatusTooManyRequests:
			return true
		}
	}
	return false
}
