package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/identity"
)

// Ledger is the part of attendance.Ledger the HTTP API uses.
type Ledger interface {
	Apply(ctx context.Context, action attendance.Action, identity string) (attendance.Result, error)
	TodayStatus(identity string) attendance.Status
	Status(identity, date string) attendance.Status
	Records(date string) []attendance.Record
	Today() string
}

// AttendanceHandler serves the day ledger.
type AttendanceHandler struct {
	ledger Ledger
	logger *slog.Logger
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(ledger Ledger, logger *slog.Logger) *AttendanceHandler {
	return &AttendanceHandler{ledger: ledger, logger: logger}
}

type todayResponse struct {
	Date    string              `json:"date"`
	Entries []attendance.Status `json:"entries"`
}

// Today lists the status of everyone with a record today, newest first.
func (h *AttendanceHandler) Today(w http.ResponseWriter, r *http.Request) {
	date := h.ledger.Today()
	records := h.ledger.Records(date)

	resp := todayResponse{Date: date, Entries: make([]attendance.Status, 0, len(records))}
	for _, rec := range records {
		resp.Entries = append(resp.Entries, h.ledger.Status(rec.Identity, date))
	}
	respondJSON(w, http.StatusOK, resp)
}

// Status returns today's status view of one identity.
func (h *AttendanceHandler) Status(w http.ResponseWriter, r *http.Request) {
	name := identity.NormalizeIdentity(chi.URLParam(r, "identity"))
	if name == "" {
		respondError(w, http.StatusBadRequest, "identity is required")
		return
	}
	respondJSON(w, http.StatusOK, h.ledger.TodayStatus(name))
}

// Action returns the handler applying action to the identity in the path.
func (h *AttendanceHandler) Action(action attendance.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := identity.NormalizeIdentity(chi.URLParam(r, "identity"))
		res, err := h.ledger.Apply(r.Context(), action, name)

		var status *attendance.Status
		if name != "" {
			st := h.ledger.TodayStatus(name)
			status = &st
		}
		respondAction(w, h.logger, action, name, res, err, status)
	}
}

type actionResponse struct {
	Applied bool               `json:"applied"`
	Reason  string             `json:"reason,omitempty"`
	Synced  bool               `json:"synced"`
	Record  *attendance.Record `json:"record,omitempty"`
	Status  *attendance.Status `json:"status,omitempty"`
}

// respondAction maps a ledger result to HTTP: 200 applied, 202 applied but
// not stored yet, 409 rejected by the state machine, 400 bad input, 503 while
// the stored records could not be loaded.
func respondAction(w http.ResponseWriter, logger *slog.Logger, action attendance.Action, name string,
	res attendance.Result, err error, status *attendance.Status) {
	switch {
	case errors.Is(err, attendance.ErrInvalidIdentity):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, attendance.ErrNotLoaded):
		logger.Warn("attendance action refused, records not loaded", "action", action, "identity", sanitizeForLog(name), "error", err)
		respondError(w, http.StatusServiceUnavailable, "attendance records not loaded yet")
		return
	case err != nil && !errors.Is(err, attendance.ErrPersistence):
		logger.Error("attendance action failed", "action", action, "identity", sanitizeForLog(name), "error", err)
		respondError(w, http.StatusInternalServerError, "attendance action failed")
		return
	}

	resp := actionResponse{Applied: res.Applied, Synced: err == nil, Status: status}
	if res.Record.Identity != "" {
		rec := res.Record
		resp.Record = &rec
	}

	code := http.StatusOK
	switch {
	case res.Rejected != nil:
		resp.Reason = res.Rejected.Error()
		code = http.StatusConflict
	case err != nil:
		code = http.StatusAccepted
	}
	respondJSON(w, code, resp)
}
