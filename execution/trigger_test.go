package execution

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"planscheduler/config"
	"planscheduler/db"
)

// withTestConfig swaps the global config for the duration of a test
func withTestConfig(t *testing.T, cfg *config.Config) {
	t.Helper()
	prev := config.Get()
	config.Set(cfg)
	t.Cleanup(func() { config.Set(prev) })
}

func sampleSpec() *db.SpecRecord {
	return &db.SpecRecord{
		PlanID:    "7f2c6a1e-9b3d-4e8f-a1c2-d4e5f6a7b8c9",
		SpecIndex: 1,
		Purpose:   "do the work",
		Vision:    "work is done",
		Must:      db.StringList{"be correct"},
		Status:    db.SpecStatusRunning,
	}
}

// TestTriggerDisabled tests that a disabled trigger is a logged no-op
func TestTriggerDisabled(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	withTestConfig(t, &config.Config{ExecutionEnabled: false, ExecutionAPIURL: server.URL})

	spec := sampleSpec()
	if err := NewService().Trigger(spec.PlanID, spec.SpecIndex, spec); err != nil {
		t.Errorf("Expected disabled trigger to succeed, got: %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Error("Disabled trigger must not call the endpoint")
	}
}

// TestTriggerSuccess tests the request body and auth header of a successful trigger
func TestTriggerSuccess(t *testing.T) {
	var gotBody []byte
	var gotAuth, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(200)
	}))
	defer server.Close()

	withTestConfig(t, &config.Config{
		ExecutionEnabled:  true,
		ExecutionAPIURL:   server.URL,
		ExecutionAPIToken: "secret-token",
	})

	spec := sampleSpec()
	if err := NewService().Trigger(spec.PlanID, spec.SpecIndex, spec); err != nil {
		t.Fatalf("Expected trigger to succeed, got: %v", err)
	}

	if gotAuth != "Bearer secret-token" {
		t.Errorf("Expected bearer auth header, got %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("Expected JSON content type, got %q", gotContentType)
	}

	var req struct {
		PlanID    string          `json:"plan_id"`
		SpecIndex int             `json:"spec_index"`
		Spec      json.RawMessage `json:"spec"`
	}
	if err := json.Unmarshal(gotBody, &req); err != nil {
		t.Fatalf("trigger body is not JSON: %v", err)
	}
	if req.PlanID != spec.PlanID || req.SpecIndex != 1 || len(req.Spec) == 0 {
		t.Errorf("Unexpected trigger body: %s", gotBody)
	}
}

// TestTriggerRetriesServerErrors tests that 5xx responses are retried
func TestTriggerRetriesServerErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(503)
			return
		}
		w.WriteHeader(200)
	}))
	defer server.Close()

	withTestConfig(t, &config.Config{ExecutionEnabled: true, ExecutionAPIURL: server.URL})

	spec := sampleSpec()
	if err := NewService().Trigger(spec.PlanID, spec.SpecIndex, spec); err != nil {
		t.Fatalf("Expected trigger to recover after retries, got: %v", err)
	}
	if atomic.LoadInt32(&hits) != 3 {
		t.Errorf("Expected 3 attempts, got %d", hits)
	}
}

// TestTriggerClientErrorIsPermanent tests that 4xx responses fail without retry
func TestTriggerClientErrorIsPermanent(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(400)
	}))
	defer server.Close()

	withTestConfig(t, &config.Config{ExecutionEnabled: true, ExecutionAPIURL: server.URL})

	spec := sampleSpec()
	if err := NewService().Trigger(spec.PlanID, spec.SpecIndex, spec); err == nil {
		t.Fatal("Expected trigger to fail on 400")
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("Expected exactly 1 attempt for a client error, got %d", hits)
	}
}
