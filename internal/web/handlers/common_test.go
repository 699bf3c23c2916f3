package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRespondJSON_SetsContentType(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondJSON(recorder, http.StatusOK, map[string]string{"status": "ok"})

	assertContentType(t, recorder, "application/json")
}

func TestRespondJSON_SetsStatusCode(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"OK", http.StatusOK},
		{"Created", http.StatusCreated},
		{"Accepted", http.StatusAccepted},
		{"Conflict", http.StatusConflict},
		{"InternalServerError", http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondJSON(recorder, tc.statusCode, nil)

			assertStatusCode(t, recorder, tc.statusCode)
			if recorder.Body.Len() != 0 {
				t.Errorf("expected empty body for nil data, got '%s'", recorder.Body.String())
			}
		})
	}
}

func TestRespondError_ContainsErrorKey(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondError(recorder, http.StatusBadRequest, "something went wrong")

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "something went wrong")
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("alice\r\nlevel=ERROR"); got != "alicelevel=ERROR" {
		t.Errorf("sanitizeForLog = %q", got)
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"view":"enrollment"}`},
		{name: "unknown field", body: `{"view":"enrollment","extra":1}`, wantErr: true},
		{name: "malformed", body: `{"view":`, wantErr: true},
		{name: "too large", body: `{"view":"` + strings.Repeat("x", maxJSONBody) + `"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(tt.body))
			var v viewRequest
			err := decodeJSON(httptest.NewRecorder(), req, &v)
			if (err != nil) != tt.wantErr {
				t.Errorf("decodeJSON error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	healthy := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name       string
		storage    Pinger
		detector   Pinger
		wantStatus string
	}{
		{name: "all up", storage: healthy, detector: healthy, wantStatus: "ok"},
		{name: "no detector configured", storage: healthy, wantStatus: "ok"},
		{name: "storage down", storage: down, detector: healthy, wantStatus: "degraded"},
		{name: "detector down", storage: healthy, detector: down, wantStatus: "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler("postgres", tt.storage, tt.detector)
			recorder := httptest.NewRecorder()

			h.Check(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

			assertStatusCode(t, recorder, http.StatusOK)
			var resp healthResponse
			parseJSONResponse(t, recorder, &resp)
			if resp.Status != tt.wantStatus {
				t.Errorf("status %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Driver != "postgres" {
				t.Errorf("driver %q", resp.Driver)
			}
			if tt.detector == nil && resp.Detector != nil {
				t.Error("detector section should be omitted")
			}
		})
	}
}

func TestHealthCheck_ReportsStorageError(t *testing.T) {
	h := NewHealthHandler("mongo", PingFunc(func(context.Context) error { return errors.New("no reachable servers") }), nil)
	recorder := httptest.NewRecorder()
	h.Check(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	var raw map[string]json.RawMessage
	parseJSONResponse(t, recorder, &raw)
	if !strings.Contains(string(raw["storage"]), "no reachable servers") {
		t.Errorf("storage error missing: %s", raw["storage"])
	}
}
