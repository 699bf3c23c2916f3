package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

// RecordSyncer is the dirty tracking side of attendance.Ledger.
type RecordSyncer interface {
	Dirty() []attendance.Key
	Resync(ctx context.Context) (int, error)
}

// ProfileSyncer is the dirty tracking side of identity.Gallery.
type ProfileSyncer interface {
	Dirty() []string
	Resync(ctx context.Context) (int, error)
}

// SyncHandler exposes the writes that have not reached storage yet.
type SyncHandler struct {
	records  RecordSyncer
	profiles ProfileSyncer
	logger   *slog.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(records RecordSyncer, profiles ProfileSyncer, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{records: records, profiles: profiles, logger: logger}
}

type syncStatus struct {
	DirtyRecords  []string `json:"dirty_records"`
	DirtyProfiles []string `json:"dirty_profiles"`
}

type syncResult struct {
	syncStatus
	RecordsSynced  int    `json:"records_synced"`
	ProfilesSynced int    `json:"profiles_synced"`
	Error          string `json:"error,omitempty"`
}

func (h *SyncHandler) status() syncStatus {
	keys := h.records.Dirty()
	records := make([]string, len(keys))
	for i, k := range keys {
		records[i] = k.String()
	}
	return syncStatus{DirtyRecords: records, DirtyProfiles: h.profiles.Dirty()}
}

// Status lists what has not been persisted yet.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.status())
}

// Resync retries every pending write now. It answers 503 when something is
// still unsynced afterwards.
func (h *SyncHandler) Resync(w http.ResponseWriter, r *http.Request) {
	var res syncResult
	var recErr, profErr error
	res.RecordsSynced, recErr = h.records.Resync(r.Context())
	res.ProfilesSynced, profErr = h.profiles.Resync(r.Context())
	res.syncStatus = h.status()

	code := http.StatusOK
	if recErr != nil || profErr != nil {
		for _, err := range []error{recErr, profErr} {
			if err != nil {
				h.logger.Warn("resync incomplete", "error", err)
			}
		}
		res.Error = "storage unavailable, writes still pending"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, res)
}
