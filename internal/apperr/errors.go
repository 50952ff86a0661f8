// Package apperr defines the error taxonomy shared by the store, the provider
// gateway and the HTTP layer.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrMissingCredential = errors.New("missing provider credential")
)

// ValidationError reports client input that is missing or malformed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Missing builds the ValidationError used for absent required fields.
func Missing(fields ...string) *ValidationError {
	if len(fields) == 1 {
		return &ValidationError{Field: fields[0], Message: "is required"}
	}
	return &ValidationError{Message: fmt.Sprintf("missing required fields %v", fields)}
}

// ProviderError is a transport or non-2xx failure returned by an external provider.
// StatusCode is zero when no HTTP response was received.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s returned status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s request failed: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ServerSide reports whether the failure happened on the provider's side:
// a 5xx response, a transport failure or a timeout.
func (e *ProviderError) ServerSide() bool {
	if e.StatusCode == 0 {
		return !errors.Is(e.Err, context.Canceled)
	}
	return e.StatusCode >= http.StatusInternalServerError
}

// AllProvidersExhaustedError is returned when both the primary and the fallback
// image provider failed.
type AllProvidersExhaustedError struct {
	Primary  error
	Fallback error
}

func (e *AllProvidersExhaustedError) Error() string {
	return fmt.Sprintf("all image providers failed: primary: %v; fallback: %v", e.Primary, e.Fallback)
}

func (e *AllProvidersExhaustedError) Unwrap() []error {
	return []error{e.Primary, e.Fallback}
}

// StoreIOError wraps an underlying read or write failure of the persistent store.
type StoreIOError struct {
	Op  string
	Err error
}

func (e *StoreIOError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreIOError) Unwrap() error {
	return e.Err
}

// StoreCorruptError reports persisted data that exists but cannot be decoded.
type StoreCorruptError struct {
	Source string
	Err    error
}

func (e *StoreCorruptError) Error() string {
	return fmt.Sprintf("store document %s is corrupt: %v", e.Source, e.Err)
}

func (e *StoreCorruptError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps an error from the taxonomy to the response status code.
func HTTPStatus(err error) int {
	var (
		validationErr *ValidationError
		providerErr   *ProviderError
		exhaustedErr  *AllProvidersExhaustedError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.As(err, &exhaustedErr), errors.As(err, &providerErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns a message that is safe to put in a response body.
// Upstream bodies are never echoed back to clients.
func PublicMessage(err error) string {
	var (
		validationErr *ValidationError
		providerErr   *ProviderError
		exhaustedErr  *AllProvidersExhaustedError
		ioErr         *StoreIOError
		corruptErr    *StoreCorruptError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validationErr):
		return validationErr.Error()
	case errors.Is(err, ErrSessionNotFound):
		return ErrSessionNotFound.Error()
	case errors.As(err, &exhaustedErr):
		return "both primary and fallback image providers failed"
	case errors.As(err, &providerErr):
		if providerErr.StatusCode > 0 {
			return fmt.Sprintf("%s provider returned status %d", providerErr.Provider, providerErr.StatusCode)
		}
		return fmt.Sprintf("%s provider unavailable", providerErr.Provider)
	case errors.As(err, &ioErr), errors.As(err, &corruptErr):
		return "storage failure"
	default:
		return "internal error"
	}
}
