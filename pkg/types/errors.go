package types

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidInput indicates a caller bug such as empty text or an unknown
	// record type. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrProvider indicates the embedding provider failed. Use errors.As with
	// *ProviderError for status details.
	ErrProvider = errors.New("embedding provider error")

	// ErrRecordNotFound indicates the record vanished between trigger and
	// processing. The sync pipeline treats it as a no-op.
	ErrRecordNotFound = errors.New("record not found")

	// ErrPersistence indicates a store write failed.
	ErrPersistence = errors.New("persistence error")

	// ErrStaleContent indicates a computed vector was discarded because the
	// record's content changed while it was being computed.
	ErrStaleContent = errors.New("record content changed during embedding")
)

// ProviderError describes a failed call to an embedding provider.
type ProviderError struct {
	Provider   string
	StatusCode int // HTTP status, 0 for transport failures and timeouts
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s returned status %d: %s", ErrProvider, e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s: %s", ErrProvider, e.Provider, msg)
}

// Unwrap exposes both ErrProvider and the underlying cause to errors.Is.
func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProvider}
	}
	return []error{ErrProvider, e.Err}
}

// Retryable reports whether retrying the same request can succeed.
// Client errors other than 408 and 429 are permanent.
func (e *ProviderError) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	if e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return e.StatusCode >= 500
}

// IsRetryable reports whether err is worth retrying with backoff.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrInvalidInput) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}
