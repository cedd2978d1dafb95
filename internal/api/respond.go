package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/nftecnologia/mailgenius/internal/domain"
	"github.com/nftecnologia/mailgenius/internal/pkg/logger"
)

// envelope is the wire shape of every API response. Success responses
// carry data, error responses carry the error body, never both.
type envelope struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *errorBody `json:"error,omitempty"`
	Timestamp string     `json:"timestamp"`
}

type errorBody struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Timestamp string `json:"timestamp"`
}

// JSON writes a success envelope with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		logger.Warn("response encode failed", "error", err.Error())
	}
}

// OK writes a 200 success envelope.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Error writes an error envelope with a stable code and a caller-facing
// message.
func Error(w http.ResponseWriter, status int, code, message string) {
	now := time.Now().UTC().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{
		Success:   false,
		Error:     &errorBody{Message: message, Code: code, Timestamp: now},
		Timestamp: now,
	}); err != nil {
		logger.Warn("response encode failed", "error", err.Error())
	}
}

// Fail maps a domain error to its HTTP status. Internal errors are logged
// with the real cause and surfaced with a generic message.
func Fail(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	code := domain.CodeOf(err)

	switch kind {
	case domain.KindValidation:
		Error(w, http.StatusBadRequest, code, err.Error())
	case domain.KindNotFound:
		Error(w, http.StatusNotFound, code, err.Error())
	case domain.KindUnauthorized:
		Error(w, http.StatusUnauthorized, code, err.Error())
	case domain.KindForbidden:
		Error(w, http.StatusForbidden, code, err.Error())
	case domain.KindRateLimited:
		Error(w, http.StatusTooManyRequests, code, err.Error())
	case domain.KindTransientDependency:
		Error(w, http.StatusServiceUnavailable, code, "a dependency is temporarily unavailable")
	case domain.KindPermanentDependency:
		Error(w, http.StatusBadGateway, code, "an upstream dependency rejected the request")
	default:
		logger.Error("internal error surfaced", "code", code, "error", err.Error())
		Error(w, http.StatusInternalServerError, code, "internal server error")
	}
}

// Decode reads JSON from the request body into dst. Returns false and
// writes a 400 response if parsing fails.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		Error(w, http.StatusBadRequest, "BAD_JSON", "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// decodeOptional reads a JSON body into dst, tolerating an absent body.
func decodeOptional(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == io.EOF {
		return nil
	}
	return err
}
