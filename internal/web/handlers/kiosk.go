package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/identity"
	"github.com/kozaktomas/face-attendance/internal/kiosk"
)

// maxFrameBytes caps a single uploaded camera frame.
const maxFrameBytes = 16 << 20

// Kiosk is the session-driving surface of kiosk.Kiosk.
type Kiosk interface {
	Tick(ctx context.Context, frame []byte) kiosk.TickResult
	SetView(v kiosk.View) error
	Session() kiosk.Session
	Act(ctx context.Context, action attendance.Action) (attendance.Result, error)
	Enroll(ctx context.Context, name string) (identity.Profile, error)
}

// KioskHandler lets a browser or camera client drive the kiosk session.
type KioskHandler struct {
	kiosk  Kiosk
	logger *slog.Logger
}

// NewKioskHandler creates a new kiosk handler.
func NewKioskHandler(k Kiosk, logger *slog.Logger) *KioskHandler {
	return &KioskHandler{kiosk: k, logger: logger}
}

type tickResponse struct {
	kiosk.TickResult
	DetectorError string `json:"detector_error,omitempty"`
}

// readFrame accepts either a multipart upload in the "file" field or the raw
// image as the request body.
func readFrame(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFrameBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("read file field: %w", err)
		}
		defer file.Close()
		return io.ReadAll(file)
	}
	return io.ReadAll(r.Body)
}

// SubmitFrame runs one tick on the uploaded frame.
func (h *KioskHandler) SubmitFrame(w http.ResponseWriter, r *http.Request) {
	frame, err := readFrame(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid frame upload")
		return
	}
	if len(frame) == 0 {
		respondError(w, http.StatusBadRequest, "frame is empty")
		return
	}

	res := h.kiosk.Tick(r.Context(), frame)
	resp := tickResponse{TickResult: res}
	if res.Err != nil {
		resp.DetectorError = res.Err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

// Session returns the current session.
func (h *KioskHandler) Session(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.kiosk.Session())
}

type viewRequest struct {
	View string `json:"view"`
}

// SetView switches between recognition and enrollment.
func (h *KioskHandler) SetView(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	view, err := kiosk.ParseView(req.View)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.kiosk.SetView(view); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.kiosk.Session())
}

type enrollRequest struct {
	Identity string `json:"identity"`
}

// Enroll stores the captured face under the given identity.
func (h *KioskHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	p, err := h.kiosk.Enroll(r.Context(), req.Identity)
	if errors.Is(err, kiosk.ErrWrongView) || errors.Is(err, kiosk.ErrNoFaceCaptured) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondEnrollment(w, h.logger, req.Identity, p, err)
}

// Action applies check-in, break or check-out to the recognized identity.
func (h *KioskHandler) Action(w http.ResponseWriter, r *http.Request) {
	action, err := attendance.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.kiosk.Act(r.Context(), action)
	if errors.Is(err, kiosk.ErrNoIdentity) || errors.Is(err, kiosk.ErrWrongView) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondAction(w, h.logger, action, res.Record.Identity, res, err, h.kiosk.Session().Status)
}
