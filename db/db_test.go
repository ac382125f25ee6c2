package db

import (
	"fmt"
	"testing"
	"time"
)

// openTestDB opens a fresh in-memory database with migrations applied
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open("")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// testPlan builds a plan request with n specs and normalized lists
func testPlan(id string, n int) *PlanIn {
	p := &PlanIn{ID: id}
	for i := 0; i < n; i++ {
		p.Specs = append(p.Specs, SpecIn{
			Purpose: fmt.Sprintf("step %d", i),
			Vision:  fmt.Sprintf("outcome %d", i),
			Must:    []string{fmt.Sprintf("must-%d", i)},
		})
	}
	p.Normalize()
	return p
}

// TestMigrateIsIdempotent tests that running migrations twice applies nothing new
func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count); err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("Expected %d applied migrations, got %d", len(migrations), count)
	}
}

// TestSmokeTest tests the readiness round trip against a live store
func TestSmokeTest(t *testing.T) {
	db := openTestDB(t)

	if err := db.SmokeTest(); err != nil {
		t.Errorf("Expected smoke test to pass, got: %v", err)
	}

	// The scratch table must be left empty
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM smoke_tests").Scan(&count); err != nil {
		t.Fatalf("failed to count smoke test rows: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected smoke test rows cleaned up, found %d", count)
	}
}

// TestIsTerminalStatus tests that only the exact lowercase literals are terminal
func TestIsTerminalStatus(t *testing.T) {
	cases := []struct {
		status string
		want   bool
	}{
		{"finished", true},
		{"failed", true},
		{"Finished", false},
		{"FAILED", false},
		{"running", false},
		{"blocked", false},
		{"compiling", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsTerminalStatus(tc.status); got != tc.want {
			t.Errorf("IsTerminalStatus(%q) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

// TestPlanInValidate tests UUID and spec-count validation
func TestPlanInValidate(t *testing.T) {
	p := testPlan("0c6bdef1-48a2-4f44-a93a-b6b1a3b2f9aa", 1)
	if err := p.Validate(); err != nil {
		t.Errorf("Expected valid plan, got: %v", err)
	}

	bad := testPlan("not-a-uuid", 1)
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for invalid UUID")
	}

	empty := &PlanIn{ID: "0c6bdef1-48a2-4f44-a93a-b6b1a3b2f9aa"}
	if err := empty.Validate(); err == nil {
		t.Error("Expected error for plan with no specs")
	}
}

// TestPlanInNormalize tests that nil lists become empty lists
func TestPlanInNormalize(t *testing.T) {
	p := &PlanIn{
		ID:    "0c6bdef1-48a2-4f44-a93a-b6b1a3b2f9aa",
		Specs: []SpecIn{{Purpose: "p", Vision: "v"}},
	}
	p.Normalize()

	spec := p.Specs[0]
	if spec.Must == nil || spec.Dont == nil || spec.Nice == nil || spec.Assumptions == nil {
		t.Error("Expected all requirement lists non-nil after Normalize")
	}
	if len(spec.Must) != 0 {
		t.Errorf("Expected empty must list, got %v", spec.Must)
	}
}

// TestNewSpecRecordInitialState tests the asymmetry between spec 0 and the rest
func TestNewSpecRecordInitialState(t *testing.T) {
	p := testPlan("0c6bdef1-48a2-4f44-a93a-b6b1a3b2f9aa", 2)
	rec0, err := NewPlanRecord(p, time.Now().UTC())
	if err != nil {
		t.Fatalf("NewPlanRecord failed: %v", err)
	}
	if rec0.CurrentSpecIndex == nil || *rec0.CurrentSpecIndex != 0 {
		t.Error("Expected new plan current spec index 0")
	}
	if rec0.OverallStatus != PlanStatusRunning {
		t.Errorf("Expected plan status running, got %s", rec0.OverallStatus)
	}

	first := NewSpecRecord(p.Specs[0], p.ID, 0, time.Now().UTC())
	if first.Status != SpecStatusRunning {
		t.Errorf("Expected spec 0 running, got %s", first.Status)
	}
	if first.ExecutionAttempts != 1 || first.LastExecutionAt == nil {
		t.Error("Expected spec 0 to carry initial execution metadata")
	}

	second := NewSpecRecord(p.Specs[1], p.ID, 1, time.Now().UTC())
	if second.Status != SpecStatusBlocked {
		t.Errorf("Expected spec 1 blocked, got %s", second.Status)
	}
	if second.ExecutionAttempts != 0 || second.LastExecutionAt != nil {
		t.Error("Expected spec 1 without execution metadata")
	}
}
