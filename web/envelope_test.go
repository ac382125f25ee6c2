package web

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// TestDecodePushData tests base64 and JSON validation of the message data
func TestDecodePushData(t *testing.T) {
	t.Run("valid object", func(t *testing.T) {
		raw, err := decodePushData(encode(`{"plan_id":"x","spec_index":0,"status":"finished"}`))
		if err != nil {
			t.Fatalf("Expected success, got: %v", err)
		}
		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("decoded data is not JSON: %v", err)
		}
		if payload["plan_id"] != "x" {
			t.Errorf("Unexpected decoded payload: %v", payload)
		}
	})

	t.Run("empty data", func(t *testing.T) {
		if _, err := decodePushData(""); err == nil {
			t.Error("Expected error for empty data")
		}
	})

	t.Run("invalid base64", func(t *testing.T) {
		if _, err := decodePushData("not-base64!!!"); err == nil {
			t.Error("Expected error for invalid base64")
		}
	})

	t.Run("non UTF-8 bytes", func(t *testing.T) {
		bad := base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe, 0xfd})
		if _, err := decodePushData(bad); err == nil {
			t.Error("Expected error for non UTF-8 data")
		}
	})

	t.Run("not JSON", func(t *testing.T) {
		if _, err := decodePushData(encode("plain text")); err == nil {
			t.Error("Expected error for non-JSON data")
		}
	})

	t.Run("JSON but not an object", func(t *testing.T) {
		if _, err := decodePushData(encode(`[1,2,3]`)); err == nil {
			t.Error("Expected error for JSON array payload")
		}
		if _, err := decodePushData(encode(`"a string"`)); err == nil {
			t.Error("Expected error for JSON string payload")
		}
	})
}

// TestParseStatusPayload tests required-field and type validation
func TestParseStatusPayload(t *testing.T) {
	t.Run("complete payload", func(t *testing.T) {
		payload, err := parseStatusPayload([]byte(
			`{"plan_id":"p1","spec_index":2,"status":"finished","stage":"done","correlation_id":"c1"}`))
		if err != nil {
			t.Fatalf("Expected success, got: %v", err)
		}
		if payload.PlanID != "p1" || *payload.SpecIndex != 2 || payload.Status != "finished" {
			t.Errorf("Unexpected payload: %+v", payload)
		}
	})

	t.Run("spec_index zero is valid", func(t *testing.T) {
		payload, err := parseStatusPayload([]byte(`{"plan_id":"p1","spec_index":0,"status":"running"}`))
		if err != nil {
			t.Fatalf("Expected success, got: %v", err)
		}
		if *payload.SpecIndex != 0 {
			t.Errorf("Expected spec index 0, got %d", *payload.SpecIndex)
		}
	})

	badPayloads := []struct {
		name string
		raw  string
	}{
		{"missing plan_id", `{"spec_index":0,"status":"finished"}`},
		{"missing spec_index", `{"plan_id":"p1","status":"finished"}`},
		{"negative spec_index", `{"plan_id":"p1","spec_index":-1,"status":"finished"}`},
		{"missing status", `{"plan_id":"p1","spec_index":0}`},
		{"wrong spec_index type", `{"plan_id":"p1","spec_index":"zero","status":"finished"}`},
	}
	for _, tc := range badPayloads {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseStatusPayload([]byte(tc.raw)); err == nil {
				t.Errorf("Expected error for %s", tc.name)
			}
		})
	}
}

// TestValidateTimestamp tests the accepted and rejected timestamp shapes
func TestValidateTimestamp(t *testing.T) {
	valid := []string{
		"",
		"2026-08-30T10:00:00Z",
		"2026-08-30T10:00:00.123456789Z",
		"2026-08-30T10:00:00+02:00",
		"2026-08-30T10:00:00",
		"2026-08-30T10:00:00.5",
	}
	for _, v := range valid {
		if err := validateTimestamp(v); err != nil {
			t.Errorf("Expected %q to validate, got: %v", v, err)
		}
	}

	invalid := []string{
		"2026-08-30",
		"10:00:00",
		"yesterday",
		"2026-08-30 10:00:00",
		"2026-13-45T99:99:99Z",
	}
	for _, v := range invalid {
		if err := validateTimestamp(v); err == nil {
			t.Errorf("Expected %q to be rejected", v)
		}
	}
}
