package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/dipy-services/internal/apperror"
)

// ErrorResponse is the error body of every JSON endpoint:
//
//	{"error": "not_found", "message": "sponsorship not found with id 12"}
type ErrorResponse struct {
	Error   string `json:"error"`   // machine-readable type
	Message string `json:"message"` // human-readable description
}

// writeJSON sets the header and status, then encodes data.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

func writeHTML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// errorStatus maps a domain error to its HTTP status and error type.
//
// Upstream failures are the caller's request failing at a provider or the
// gateway, so they are 400s. A missing credential is our fault: 500.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrUpstream):
		return http.StatusBadRequest, "upstream_error"
	case errors.Is(err, apperror.ErrConfig):
		return http.StatusInternalServerError, "configuration_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError sends err as an ErrorResponse. Only the Message of an
// *apperror.AppError reaches the client; causes and untyped errors stay in
// the logs.
func writeError(w http.ResponseWriter, err error) {
	status, errorType := errorStatus(err)
	if errorType == "internal_error" {
		writeJSON(w, status, ErrorResponse{Error: errorType, Message: "An internal error occurred"})
		return
	}

	message := http.StatusText(status)
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	writeJSON(w, status, ErrorResponse{Error: errorType, Message: message})
}

// decodeJSON reads a JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return apperror.ValidationFailed("body", "Invalid JSON body")
	}
	return nil
}

// isClientError reports whether err is the caller's fault and not worth an
// error log line.
func isClientError(err error) bool {
	status, _ := errorStatus(err)
	return status < http.StatusInternalServerError
}
