package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/logging"
)

func TestProfilesHandler_AddSample(t *testing.T) {
	env := newTestEnv(t)
	h := NewProfilesHandler(env.gallery, logging.Discard())

	tests := []struct {
		name        string
		identity    string
		body        any
		wantStatus  int
		wantSamples int
	}{
		{name: "new identity", identity: "bob", body: map[string]any{"descriptor": []float32{5, 5}}, wantStatus: http.StatusCreated, wantSamples: 1},
		{name: "second sample appends", identity: "bob", body: map[string]any{"descriptor": []float32{5, 5.1}}, wantStatus: http.StatusCreated, wantSamples: 2},
		{name: "empty descriptor", identity: "bob", body: map[string]any{"descriptor": []float32{}}, wantStatus: http.StatusBadRequest},
		{name: "blank identity", identity: " ", body: map[string]any{"descriptor": []float32{1}}, wantStatus: http.StatusBadRequest},
		{name: "unknown field", identity: "bob", body: map[string]any{"vector": []float32{1}}, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := requestWithChiParams(
				jsonRequest(t, http.MethodPost, "/api/v1/profiles/x/samples", tt.body),
				map[string]string{"identity": tt.identity},
			)
			recorder := httptest.NewRecorder()
			h.AddSample(recorder, req)

			assertStatusCode(t, recorder, tt.wantStatus)
			if tt.wantStatus != http.StatusCreated {
				return
			}
			var resp ProfileResponse
			parseJSONResponse(t, recorder, &resp)
			if resp.SampleCount != tt.wantSamples || !resp.Synced {
				t.Errorf("unexpected profile %+v", resp)
			}
		})
	}

	if env.profiles.Len() != 2 {
		t.Errorf("expected alice and bob stored, got %d profiles", env.profiles.Len())
	}
}

func TestProfilesHandler_PersistenceFailure(t *testing.T) {
	env := newTestEnv(t)
	env.profiles.UpsertError = errors.New("disk full")
	h := NewProfilesHandler(env.gallery, logging.Discard())

	req := requestWithChiParams(
		jsonRequest(t, http.MethodPost, "/", map[string]any{"descriptor": []float32{7, 7}}),
		map[string]string{"identity": "carol"},
	)
	recorder := httptest.NewRecorder()
	h.AddSample(recorder, req)

	assertStatusCode(t, recorder, http.StatusAccepted)

	recorder = httptest.NewRecorder()
	h.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/profiles", nil))
	var list []ProfileResponse
	parseJSONResponse(t, recorder, &list)
	if len(list) != 2 {
		t.Fatalf("expected 2 profiles, got %+v", list)
	}
	if list[0].Identity != "alice" || !list[0].Synced {
		t.Errorf("alice should be listed first and synced, got %+v", list[0])
	}
	if list[1].Identity != "carol" || list[1].Synced {
		t.Errorf("carol should be pending, got %+v", list[1])
	}
}

func TestProfilesHandler_NotLoadedIsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.profiles.LoadError = errors.New("i/o timeout")
	if err := env.gallery.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	h := NewProfilesHandler(env.gallery, logging.Discard())

	req := requestWithChiParams(
		jsonRequest(t, http.MethodPost, "/", map[string]any{"descriptor": []float32{7, 7}}),
		map[string]string{"identity": "carol"},
	)
	recorder := httptest.NewRecorder()
	h.AddSample(recorder, req)

	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
	assertJSONError(t, recorder, "identity profiles not loaded yet")
	if env.profiles.Len() != 1 {
		t.Errorf("expected only alice stored, got %d profiles", env.profiles.Len())
	}
}
