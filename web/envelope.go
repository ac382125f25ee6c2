package web

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rohanthewiz/serr"
)

// PushMessage is the message object within a push envelope. Data carries a
// base64-encoded JSON payload; MessageID feeds the dedup check.
type PushMessage struct {
	Data        string            `json:"data"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	MessageID   string            `json:"messageId"`
	PublishTime string            `json:"publishTime,omitempty"`
}

// PushEnvelope is the outer envelope of a push-delivered status event
type PushEnvelope struct {
	Message      PushMessage `json:"message"`
	Subscription string      `json:"subscription,omitempty"`
}

// SpecStatusPayload is the decoded inner payload of a status event.
// PlanID and SpecIndex are required so the handler can always resolve the
// spec to update; SpecIndex is a pointer to tell "absent" apart from 0.
// Status is free-form: only the exact lowercase literals "finished" and
// "failed" are terminal, everything else is informational.
type SpecStatusPayload struct {
	PlanID        string `json:"plan_id"`
	SpecIndex     *int   `json:"spec_index"`
	Status        string `json:"status"`
	Stage         string `json:"stage,omitempty"`
	Details       string `json:"details,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
}

// decodePushData decodes the base64 message data and verifies it is a JSON
// object, returning the raw JSON bytes for payload parsing and history.
func decodePushData(encoded string) (json.RawMessage, error) {
	if encoded == "" {
		return nil, serr.New("message data is empty or missing")
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, serr.Wrap(err, "failed to decode base64 message data")
	}

	if !utf8.Valid(decoded) {
		return nil, serr.New("message data must be UTF-8 encoded JSON")
	}

	var probe any
	if err := json.Unmarshal(decoded, &probe); err != nil {
		return nil, serr.Wrap(err, "failed to parse message as JSON")
	}
	if _, ok := probe.(map[string]any); !ok {
		return nil, serr.New(fmt.Sprintf("message payload must be a JSON object, got %T", probe))
	}

	return decoded, nil
}

// parseStatusPayload unmarshals and validates a decoded status payload
func parseStatusPayload(raw json.RawMessage) (*SpecStatusPayload, error) {
	var payload SpecStatusPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, serr.Wrap(err, "invalid status payload")
	}

	if payload.PlanID == "" {
		return nil, serr.New("plan_id is required")
	}
	if payload.SpecIndex == nil {
		return nil, serr.New("spec_index is required")
	}
	if *payload.SpecIndex < 0 {
		return nil, serr.New("spec_index must not be negative")
	}
	if payload.Status == "" {
		return nil, serr.New("status is required")
	}
	if err := validateTimestamp(payload.Timestamp); err != nil {
		return nil, err
	}

	return &payload, nil
}

// timestamp layouts accepted on inbound events, with and without zone
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
}

// validateTimestamp requires an ISO-8601 datetime with the 'T' separator,
// so a bare date or arbitrary string cannot land in history entries.
func validateTimestamp(v string) error {
	if v == "" {
		return nil
	}
	if !strings.Contains(v, "T") {
		return serr.New(fmt.Sprintf(
			"timestamp must include both date and time separated by 'T', e.g. 2025-01-01T12:00:00Z, got: %s", v))
	}
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return nil
		}
	}
	return serr.New(fmt.Sprintf("timestamp must be in ISO 8601 format, got: %s", v))
}
