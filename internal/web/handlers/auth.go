package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/attendance-terminal/internal/admin"
	"github.com/kozaktomas/attendance-terminal/internal/web/middleware"
)

// AuthHandler handles administrator authentication endpoints
type AuthHandler struct {
	credentials    *admin.Credentials
	sessionManager *middleware.SessionManager
	logger         *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(creds *admin.Credentials, sm *middleware.SessionManager, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		credentials:    creds,
		sessionManager: sm,
		logger:         logger,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Login verifies the administrator credentials and opens a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	if !h.credentials.Configured() {
		respondError(w, http.StatusServiceUnavailable, "administrator login is not configured")
		return
	}

	if err := h.credentials.Verify(req.Email, req.Password); err != nil {
		h.logger.Warn("failed administrator login", zap.String("email", sanitizeForLog(req.Email)))
		respondJSON(w, http.StatusUnauthorized, LoginResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	session, err := h.sessionManager.CreateSession(r.Context(), req.Email)
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.sessionManager.SetSessionCookie(w, r, session)

	respondJSON(w, http.StatusOK, LoginResponse{
		Success:   true,
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Logout ends the current session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if session := h.sessionManager.GetSessionFromRequest(r); session != nil {
		h.sessionManager.DeleteSession(r.Context(), session.ID)
	}

	h.sessionManager.ClearSessionCookie(w)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// StatusResponse represents the auth status response
type StatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	Email         string `json:"email,omitempty"`
	ExpiresAt     string `json:"expiresAt,omitempty"`
}

// Status reports whether the request carries a valid session.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	session := h.sessionManager.GetSessionFromRequest(r)
	if session == nil {
		respondJSON(w, http.StatusOK, StatusResponse{Authenticated: false})
		return
	}
	respondJSON(w, http.StatusOK, StatusResponse{
		Authenticated: true,
		Email:         session.Email,
		ExpiresAt:     session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
