package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/attendance-terminal/internal/admin"
	"github.com/kozaktomas/attendance-terminal/internal/attendance"
	"github.com/kozaktomas/attendance-terminal/internal/recorder"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
	"github.com/kozaktomas/attendance-terminal/internal/web/middleware"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var dup *admin.DuplicateError
	switch {
	case errors.Is(err, admin.ErrInvalidCredential):
		return http.StatusUnauthorized
	case errors.Is(err, admin.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &dup):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrNotAdministrator):
		return http.StatusForbidden
	case errors.Is(err, recorder.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, admin.ErrNoDetector):
		return http.StatusServiceUnavailable
	case errors.Is(err, admin.ErrNoImage),
		errors.Is(err, admin.ErrNoFace),
		errors.Is(err, attendance.ErrReadOnlyDay),
		errors.Is(err, attendance.ErrEntryTimeRequired),
		errors.Is(err, attendance.ErrInvalidPersonID),
		errors.Is(err, roster.ErrUnknownCategory),
		errors.Is(err, roster.ErrMissingField),
		errors.Is(err, attendance.ErrInvalidDate):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondErr writes err with the status statusFor picks. Internal errors are
// not echoed to the client.
func respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		respondError(w, status, "internal error")
		return
	}
	respondError(w, status, err.Error())
}

// categoryParam parses the {category} URL parameter.
func categoryParam(w http.ResponseWriter, r *http.Request) (roster.Category, bool) {
	cat, err := roster.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return cat, true
}

// editorOf returns the editor role of an authenticated request. Only
// administrators can sign in, so every session edits as one.
func editorOf(r *http.Request) string {
	if middleware.GetSessionFromContext(r.Context()) == nil {
		return ""
	}
	return attendance.EditorAdministrator
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
