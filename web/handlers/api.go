// Package handlers provides the HTTP handlers and middleware for the crmindex API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/phuslu/log"

	"github.com/scrypster/crmindex/internal/engine"
	"github.com/scrypster/crmindex/internal/storage"
	"github.com/scrypster/crmindex/pkg/types"
)

// OwnerHeader carries the tenant on requests that have no ownerId field.
const OwnerHeader = "X-Owner-ID"

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// ownerID resolves the tenant from the ownerId query parameter, falling back
// to the X-Owner-ID header.
func ownerID(r *http.Request) string {
	if id := r.URL.Query().Get("ownerId"); id != "" {
		return id
	}
	return r.Header.Get(OwnerHeader)
}

// decodeJSON reads a bounded JSON body into dst. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

// parseInt parses an integer from a string, returning defaultValue if parsing fails.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// headers already sent
		log.Warn().Err(err).Msg("failed to encode JSON response")
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}

// respondDomainError maps a service error onto a status code.
func respondDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg(message)
	}
	var pe *types.ProviderError
	if errors.As(err, &pe) {
		errResp := ErrorResponse{
			Error: message,
			Code:  http.StatusText(status),
			Details: map[string]interface{}{
				"error":    err.Error(),
				"provider": pe.Provider,
			},
		}
		if pe.StatusCode != 0 {
			errResp.Details["providerStatus"] = pe.StatusCode
		}
		respondJSON(w, status, errResp)
		return
	}
	respondError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidInput), errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrRecordNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrBackfillRunning):
		return http.StatusConflict
	case errors.Is(err, types.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
