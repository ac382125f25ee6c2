package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/serr"
)

// Spec status values. Terminal statuses end a spec's lifecycle.
const (
	SpecStatusBlocked  = "blocked"
	SpecStatusRunning  = "running"
	SpecStatusFinished = "finished"
	SpecStatusFailed   = "failed"
)

// Plan overall status values. A plan is never "blocked".
const (
	PlanStatusRunning  = "running"
	PlanStatusFinished = "finished"
	PlanStatusFailed   = "failed"
)

// IsTerminalStatus reports whether status ends a spec's or plan's lifecycle.
// Matching is deliberately case-sensitive: only the exact lowercase literals
// drive state transitions, everything else is informational.
func IsTerminalStatus(status string) bool {
	return status == SpecStatusFinished || status == SpecStatusFailed
}

// The first spec of a new plan starts with one recorded trigger attempt.
const initialExecutionAttempts = 1

// SpecIn is one step of an inbound plan request. The requirement lists are
// carried through unchanged; they are never nil after Normalize.
type SpecIn struct {
	Purpose     string   `json:"purpose"`
	Vision      string   `json:"vision"`
	Must        []string `json:"must"`
	Dont        []string `json:"dont"`
	Nice        []string `json:"nice"`
	Assumptions []string `json:"assumptions"`
}

// PlanIn is an inbound plan creation request
type PlanIn struct {
	ID    string   `json:"id"`
	Specs []SpecIn `json:"specs"`
}

// Normalize replaces nil list fields with empty lists so the stored payload
// and its digest are stable regardless of how the request omitted them.
func (p *PlanIn) Normalize() {
	for i := range p.Specs {
		if p.Specs[i].Must == nil {
			p.Specs[i].Must = []string{}
		}
		if p.Specs[i].Dont == nil {
			p.Specs[i].Dont = []string{}
		}
		if p.Specs[i].Nice == nil {
			p.Specs[i].Nice = []string{}
		}
		if p.Specs[i].Assumptions == nil {
			p.Specs[i].Assumptions = []string{}
		}
	}
}

// Validate checks the plan id is a UUID string and at least one spec is present
func (p *PlanIn) Validate() error {
	if _, err := uuid.Parse(p.ID); err != nil {
		return serr.Wrap(err, fmt.Sprintf("invalid UUID string: %s", p.ID))
	}
	if len(p.Specs) == 0 {
		return serr.New("at least one specification must be provided")
	}
	return nil
}

// HistoryEntry is one immutable status-update record on a spec. The history
// list doubles as the deduplication index for redelivered events.
type HistoryEntry struct {
	Timestamp      string          `json:"timestamp"`
	ReceivedStatus string          `json:"received_status"`
	Stage          string          `json:"stage,omitempty"`
	Details        string          `json:"details,omitempty"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	MessageID      string          `json:"message_id"`
	RawSnippet     json.RawMessage `json:"raw_snippet,omitempty"`
}

// History is the append-only status history of a spec, stored as a JSON column
type History []HistoryEntry

// Scan implements sql.Scanner for History
func (h *History) Scan(value interface{}) error {
	if value == nil {
		*h = History{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, h)
	case string:
		return json.Unmarshal([]byte(v), h)
	default:
		return fmt.Errorf("unsupported type for history: %T", value)
	}
}

// Value implements driver.Valuer for History
func (h History) Value() (driver.Value, error) {
	if h == nil {
		return "[]", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// StringList is a requirement list stored as a JSON column
type StringList []string

// Scan implements sql.Scanner for StringList
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported type for string list: %T", value)
	}
}

// Value implements driver.Valuer for StringList
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// PlanRecord is the persisted shape of a plan
type PlanRecord struct {
	PlanID           string    `json:"plan_id"`
	OverallStatus    string    `json:"overall_status"`
	TotalSpecs       int       `json:"total_specs"`
	CompletedSpecs   int       `json:"completed_specs"`
	CurrentSpecIndex *int      `json:"current_spec_index"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	LastEventAt      time.Time `json:"last_event_at"`
	// RawRequest is the original ingestion payload stored verbatim.
	// It is the idempotency comparison basis.
	RawRequest json.RawMessage `json:"raw_request"`
}

// SpecRecord is the persisted shape of one spec of a plan
type SpecRecord struct {
	PlanID            string     `json:"plan_id"`
	SpecIndex         int        `json:"spec_index"`
	Purpose           string     `json:"purpose"`
	Vision            string     `json:"vision"`
	Must              StringList `json:"must"`
	Dont              StringList `json:"dont"`
	Nice              StringList `json:"nice"`
	Assumptions       StringList `json:"assumptions"`
	Status            string     `json:"status"`
	CurrentStage      string     `json:"current_stage,omitempty"`
	ExecutionAttempts int        `json:"execution_attempts"`
	LastExecutionAt   *time.Time `json:"last_execution_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	History           History    `json:"history"`
}

// NewPlanRecord constructs the initial persisted record for a plan request.
// Creation always starts spec 0, so the current index is 0 from the outset.
func NewPlanRecord(planIn *PlanIn, now time.Time) (*PlanRecord, error) {
	raw, err := json.Marshal(planIn)
	if err != nil {
		return nil, serr.Wrap(err, "failed to serialize plan request")
	}
	idx := 0
	return &PlanRecord{
		PlanID:           planIn.ID,
		OverallStatus:    PlanStatusRunning,
		TotalSpecs:       len(planIn.Specs),
		CompletedSpecs:   0,
		CurrentSpecIndex: &idx,
		CreatedAt:        now,
		UpdatedAt:        now,
		LastEventAt:      now,
		RawRequest:       raw,
	}, nil
}

// NewSpecRecord constructs the initial persisted record for one spec.
// Spec 0 is created running with execution metadata set; all others blocked.
func NewSpecRecord(specIn SpecIn, planID string, specIndex int, now time.Time) *SpecRecord {
	rec := &SpecRecord{
		PlanID:      planID,
		SpecIndex:   specIndex,
		Purpose:     specIn.Purpose,
		Vision:      specIn.Vision,
		Must:        StringList(specIn.Must),
		Dont:        StringList(specIn.Dont),
		Nice:        StringList(specIn.Nice),
		Assumptions: StringList(specIn.Assumptions),
		Status:      SpecStatusBlocked,
		CreatedAt:   now,
		UpdatedAt:   now,
		History:     History{},
	}
	if specIndex == 0 {
		rec.Status = SpecStatusRunning
		rec.ExecutionAttempts = initialExecutionAttempts
		t := now
		rec.LastExecutionAt = &t
	}
	return rec
}
