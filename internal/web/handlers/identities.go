package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/attendance-terminal/internal/admin"
	"github.com/kozaktomas/attendance-terminal/internal/constants"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
	"github.com/kozaktomas/attendance-terminal/internal/web/middleware"
)

// IdentitiesHandler manages enrolled people.
type IdentitiesHandler struct {
	service       *admin.Service
	credentials   *admin.Credentials
	cache         *roster.Cache
	jobs          *JobManager
	maxUploadSize int64
	logger        *zap.Logger
}

// NewIdentitiesHandler creates an identities handler.
func NewIdentitiesHandler(service *admin.Service, creds *admin.Credentials, cache *roster.Cache, jobs *JobManager, maxUploadSize int64, logger *zap.Logger) *IdentitiesHandler {
	if maxUploadSize <= 0 {
		maxUploadSize = constants.MaxUploadSize
	}
	return &IdentitiesHandler{
		service:       service,
		credentials:   creds,
		cache:         cache,
		jobs:          jobs,
		maxUploadSize: maxUploadSize,
		logger:        logger,
	}
}

// IdentityResponse is an identity without its descriptor.
type IdentityResponse struct {
	roster.Identity
	HasDescriptor bool `json:"hasDescriptor"`
}

func identityResponse(id roster.Identity) IdentityResponse {
	return IdentityResponse{Identity: id, HasDescriptor: id.HasDescriptor()}
}

// List returns the cached identities of a category, optionally filtered by
// the "q" name query.
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	cat, ok := categoryParam(w, r)
	if !ok {
		return
	}

	snap := h.cache.Snapshot(cat)
	identities := snap.Identities
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		identities = snap.FindByName(q)
	}

	out := make([]IdentityResponse, 0, len(identities))
	for _, id := range identities {
		out = append(out, identityResponse(id))
	}
	respondJSON(w, http.StatusOK, out)
}

// Get returns one identity from the store.
func (h *IdentitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	cat, ok := categoryParam(w, r)
	if !ok {
		return
	}
	ident, err := h.service.Identity(r.Context(), cat, chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, identityResponse(ident))
}

// enrollRequest reads the multipart enrollment form.
func (h *IdentitiesHandler) enrollRequest(w http.ResponseWriter, r *http.Request, cat roster.Category) (admin.EnrollRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "expected a multipart form")
		return admin.EnrollRequest{}, false
	}

	req := admin.EnrollRequest{
		Category:       cat,
		DisplayName:    r.FormValue("displayName"),
		SecondaryID:    r.FormValue("secondaryId"),
		Email:          r.FormValue("email"),
		Phone:          r.FormValue("phone"),
		Branch:         r.FormValue("branch"),
		ImageReference: r.FormValue("imageReference"),
	}

	if file, _, err := r.FormFile("image"); err == nil {
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			respondError(w, http.StatusBadRequest, "failed to read image")
			return admin.EnrollRequest{}, false
		}
		req.Image = data
	}
	return req, true
}

// Enroll registers a new identity from a multipart form with an "image" file.
func (h *IdentitiesHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	cat, ok := categoryParam(w, r)
	if !ok {
		return
	}
	req, ok := h.enrollRequest(w, r, cat)
	if !ok {
		return
	}

	ident, err := h.service.Enroll(r.Context(), req)
	if err != nil {
		h.logger.Info("enrollment rejected", zap.String("category", string(cat)), zap.Error(err))
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, identityResponse(ident))
}

// Update replaces the fields of an identity. The image is optional.
func (h *IdentitiesHandler) Update(w http.ResponseWriter, r *http.Request) {
	cat, ok := categoryParam(w, r)
	if !ok {
		return
	}
	req, ok := h.enrollRequest(w, r, cat)
	if !ok {
		return
	}

	ident, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, identityResponse(ident))
}

type deleteRequest struct {
	Password string `json:"password"`
}

// Delete re-verifies the administrator password and starts a background job
// removing the identity and its attendance history. Progress is streamed
// from /jobs/{jobId}/events.
func (h *IdentitiesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	cat, ok := categoryParam(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	var email string
	if session := middleware.GetSessionFromContext(r.Context()); session != nil {
		email = session.Email
	}
	if err := h.credentials.Verify(email, req.Password); err != nil {
		respondErr(w, err)
		return
	}
	if _, err := h.service.Identity(r.Context(), cat, id); err != nil {
		respondErr(w, err)
		return
	}

	job := h.jobs.CreateJob(uuid.NewString(), cat, id)
	ctx, cancel := context.WithCancel(context.Background())
	job.mu.Lock()
	job.cancel = cancel
	job.mu.Unlock()

	go func() {
		defer cancel()
		deleted, err := h.service.DeleteIdentity(ctx, cat, id, email, req.Password, job.progress)
		if err != nil {
			h.logger.Error("identity deletion failed",
				zap.String("job_id", job.ID), zap.String("id", sanitizeForLog(id)), zap.Error(err))
		}
		job.finish(deleted, err)
	}()

	respondJSON(w, http.StatusAccepted, job.Snapshot())
}

// JobStatus returns a deletion job.
func (h *IdentitiesHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	job := h.jobs.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job.Snapshot())
}

// JobEvents streams progress of a deletion job.
func (h *IdentitiesHandler) JobEvents(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			if job := h.jobs.GetJob(id); job != nil {
				return job
			}
			return nil
		},
		func(j SSEJob) any { return j.(*DeleteJob).Snapshot() })
}

// CancelJob cancels a running deletion job.
func (h *IdentitiesHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	job := h.jobs.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}
