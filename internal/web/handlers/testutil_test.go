package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/clock"
	"github.com/kozaktomas/face-attendance/internal/database/memory"
	"github.com/kozaktomas/face-attendance/internal/identity"
	"github.com/kozaktomas/face-attendance/internal/kiosk"
	"github.com/kozaktomas/face-attendance/internal/logging"
)

// testEnv wires real ledger, gallery and kiosk over in-memory stores.
type testEnv struct {
	clock    *clock.Fixed
	records  *memory.RecordStore
	profiles *memory.ProfileStore
	ledger   *attendance.Ledger
	gallery  *identity.Gallery
	kiosk    *kiosk.Kiosk
	detector *stubDetector
}

// stubDetector returns the descriptor registered for the frame bytes.
type stubDetector struct {
	faces map[string]identity.Descriptor
	err   error
}

func (d *stubDetector) Detect(_ context.Context, frame []byte) (identity.Descriptor, bool, error) {
	if d.err != nil {
		return nil, false, d.err
	}
	desc, ok := d.faces[string(frame)]
	return desc, ok, nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := clock.NewFixed(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	logger := logging.Discard()

	env := &testEnv{
		clock:    clk,
		records:  memory.NewRecordStore(),
		profiles: memory.NewProfileStore(),
		detector: &stubDetector{faces: map[string]identity.Descriptor{
			"alice-frame": {0, 0},
			"bob-frame":   {5, 5},
		}},
	}
	env.ledger = attendance.NewLedger(env.records, clk, logger)
	env.gallery = identity.NewGallery(env.profiles, clk, logger, identity.Options{})
	env.kiosk = kiosk.New(env.detector, env.gallery, env.ledger, clk, logger)

	if _, err := env.gallery.Enroll(context.Background(), "alice", identity.Descriptor{0, 0.1}); err != nil {
		t.Fatalf("enroll alice: %v", err)
	}
	return env
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
