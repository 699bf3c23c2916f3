package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// maxJSONBody caps JSON request bodies; descriptors are the largest payload.
const maxJSONBody = 1 << 20

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

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// Pinger is anything that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler reports storage and detector reachability. The kiosk keeps
// working while either is down, so the endpoint answers 200 with a degraded
// status rather than failing.
type HealthHandler struct {
	driver   string
	storage  Pinger
	detector Pinger
	timeout  time.Duration
}

// NewHealthHandler creates a health handler. detector may be nil.
func NewHealthHandler(driver string, storage, detector Pinger) *HealthHandler {
	return &HealthHandler{driver: driver, storage: storage, detector: detector, timeout: 2 * time.Second}
}

type componentHealth struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type healthResponse struct {
	Status   string           `json:"status"`
	Driver   string           `json:"driver"`
	Storage  componentHealth  `json:"storage"`
	Detector *componentHealth `json:"detector,omitempty"`
}

func (h *HealthHandler) check(ctx context.Context, p Pinger) componentHealth {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return componentHealth{Error: err.Error()}
	}
	return componentHealth{OK: true}
}

// Check handles the health check endpoint.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Driver:  h.driver,
		Storage: h.check(r.Context(), h.storage),
	}
	if h.detector != nil {
		d := h.check(r.Context(), h.detector)
		resp.Detector = &d
		if !d.OK {
			resp.Status = "degraded"
		}
	}
	if !resp.Storage.OK {
		resp.Status = "degraded"
	}
	respondJSON(w, http.StatusOK, resp)
}
