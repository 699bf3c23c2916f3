package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/identity"
)

// Gallery is the part of identity.Gallery the HTTP API uses.
type Gallery interface {
	Enroll(ctx context.Context, name string, d identity.Descriptor) (identity.Profile, error)
	Profiles() []identity.Profile
	Dirty() []string
}

// ProfilesHandler lists enrolled identities and accepts raw descriptors.
type ProfilesHandler struct {
	gallery Gallery
	logger  *slog.Logger
}

// NewProfilesHandler creates a new profiles handler.
func NewProfilesHandler(gallery Gallery, logger *slog.Logger) *ProfilesHandler {
	return &ProfilesHandler{gallery: gallery, logger: logger}
}

// ProfileResponse summarizes a profile without its descriptors.
type ProfileResponse struct {
	Identity    string    `json:"identity"`
	EnrolledAt  time.Time `json:"enrolled_at"`
	SampleCount int       `json:"sample_count"`
	LastSample  time.Time `json:"last_sample,omitzero"`
	Synced      bool      `json:"synced"`
}

func profileResponse(p identity.Profile, synced bool) ProfileResponse {
	resp := ProfileResponse{
		Identity:    p.Identity,
		EnrolledAt:  p.EnrolledAt,
		SampleCount: len(p.Samples),
		Synced:      synced,
	}
	if n := len(p.Samples); n > 0 {
		resp.LastSample = p.Samples[n-1].CapturedAt
	}
	return resp
}

// List returns every enrolled identity.
func (h *ProfilesHandler) List(w http.ResponseWriter, r *http.Request) {
	dirty := h.gallery.Dirty()
	profiles := h.gallery.Profiles()

	out := make([]ProfileResponse, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, profileResponse(p, !slices.Contains(dirty, p.Identity)))
	}
	respondJSON(w, http.StatusOK, out)
}

type addSampleRequest struct {
	Descriptor identity.Descriptor `json:"descriptor"`
}

// AddSample enrolls a descriptor computed elsewhere.
func (h *ProfilesHandler) AddSample(w http.ResponseWriter, r *http.Request) {
	var req addSampleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	name := chi.URLParam(r, "identity")
	p, err := h.gallery.Enroll(r.Context(), name, req.Descriptor)
	respondEnrollment(w, h.logger, name, p, err)
}

// respondEnrollment maps an enrollment result to HTTP: 201 stored, 202
// enrolled but not stored yet, 400 invalid input, 503 while the stored
// profiles could not be loaded.
func respondEnrollment(w http.ResponseWriter, logger *slog.Logger, name string, p identity.Profile, err error) {
	switch {
	case err == nil:
		respondJSON(w, http.StatusCreated, profileResponse(p, true))
	case errors.Is(err, identity.ErrInvalidEnrollment):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrPersistence):
		respondJSON(w, http.StatusAccepted, profileResponse(p, false))
	case errors.Is(err, identity.ErrNotLoaded):
		logger.Warn("enrollment refused, profiles not loaded", "identity", sanitizeForLog(name), "error", err)
		respondError(w, http.StatusServiceUnavailable, "identity profiles not loaded yet")
	default:
		logger.Error("enrollment failed", "identity", sanitizeForLog(name), "error", err)
		respondError(w, http.StatusInternalServerError, "enrollment failed")
	}
}
