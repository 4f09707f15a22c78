package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"docsign/internal/util"
	"docsign/services/docsign/internal/app"
)

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: util.RequestIDFromRequest(r),
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

// writeAppError maps workflow errors to a status, a stable code and a
// client-safe message. Unknown errors are logged and reported as 500.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *app.ValidationError
	switch {
	case errors.Is(err, app.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "unauthorized")
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", app.ErrInvalidCredentials.Error())
	case errors.Is(err, app.ErrGoogleEmailMissing):
		writeError(w, r, http.StatusUnauthorized, "GOOGLE_EMAIL_MISSING", app.ErrGoogleEmailMissing.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "DOCUMENT_NOT_FOUND", app.ErrNotFound.Error())
	case errors.Is(err, app.ErrFileMissing):
		writeError(w, r, http.StatusNotFound, "DOCUMENT_FILE_MISSING", app.ErrFileMissing.Error())
	case errors.Is(err, app.ErrTooLarge):
		writeError(w, r, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", app.ErrTooLarge.Error())
	case errors.As(err, &validation):
		writeError(w, r, http.StatusBadRequest, "VALIDATION_FAILED", validation.Message)
	case errors.Is(err, app.ErrAlreadySigned):
		writeError(w, r, http.StatusConflict, "SIGN_CONFLICT", "document already signed")
	case errors.Is(err, app.ErrSigningInProgress):
		writeError(w, r, http.StatusConflict, "SIGN_CONFLICT", "signing already in progress")
	case errors.Is(err, app.ErrConflict):
		writeError(w, r, http.StatusConflict, "SIGN_CONFLICT", app.ErrConflict.Error())
	case errors.Is(err, app.ErrCorruptDocument):
		writeError(w, r, http.StatusUnprocessableEntity, "DOCUMENT_UNPROCESSABLE", app.ErrCorruptDocument.Error())
	case errors.Is(err, app.ErrSourceUnavailable):
		w.Header().Set("Retry-After", "5")
		writeError(w, r, http.StatusServiceUnavailable, "SOURCE_UNAVAILABLE", app.ErrSourceUnavailable.Error())
	case errors.Is(err, app.ErrStorage):
		util.LoggerFromContext(r.Context()).Error("storage_failure", "path", r.URL.Path, "err", err)
		writeError(w, r, http.StatusInternalServerError, "STORAGE_FAILURE", "storage failure")
	default:
		util.LoggerFromContext(r.Context()).Error("internal_error", "path", r.URL.Path, "err", err)
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}
