package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// SpecView is the narrow per-spec summary exposed to callers. It carries no
// raw request, history, or requirement lists.
type SpecView struct {
	SpecIndex    int       `json:"spec_index"`
	Status       string    `json:"status"`
	CurrentStage string    `json:"current_stage,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PlanView is a self-consistent plan status snapshot. CompletedSpecs and
// CurrentSpecIndex are derived from the fetched spec set rather than the
// plan row's own counters, so the view never shows a briefly-lagging
// aggregate.
type PlanView struct {
	PlanID           string     `json:"plan_id"`
	OverallStatus    string     `json:"overall_status"`
	TotalSpecs       int        `json:"total_specs"`
	CompletedSpecs   int        `json:"completed_specs"`
	CurrentSpecIndex *int       `json:"current_spec_index"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	LastEventAt      time.Time  `json:"last_event_at"`
	Specs            []SpecView `json:"specs"`
}

// GetPlanWithSpecs returns the plan and its ordered spec summaries, or nil
// when the plan does not exist. This is a pure read-side projection; derived
// counters are never written back.
func (db *DB) GetPlanWithSpecs(planID string) (*PlanView, error) {
	view := &PlanView{PlanID: planID}

	err := db.QueryRow(`
		SELECT overall_status, total_specs, created_at, updated_at, last_event_at
		FROM plans WHERE plan_id = ?`, planID,
	).Scan(&view.OverallStatus, &view.TotalSpecs, &view.CreatedAt, &view.UpdatedAt, &view.LastEventAt)
	if err == sql.ErrNoRows {
		logger.Info("Plan not found", "plan_id", planID)
		return nil, nil
	}
	if err != nil {
		return nil, NewOperationError(serr.Wrap(err, "failed to fetch plan"), "read plan")
	}

	// Sort on a single column within the plan's spec rows; no composite index needed
	rows, err := db.Query(`
		SELECT spec_index, status, current_stage, created_at, updated_at
		FROM specs WHERE plan_id = ? ORDER BY spec_index ASC`, planID)
	if err != nil {
		return nil, NewOperationError(err, "read specs")
	}
	defer rows.Close()

	for rows.Next() {
		var spec SpecView
		var stage sql.NullString
		if err := rows.Scan(&spec.SpecIndex, &spec.Status, &stage, &spec.CreatedAt, &spec.UpdatedAt); err != nil {
			return nil, NewOperationError(serr.Wrap(err, "failed to scan spec row"), "read specs")
		}
		if stage.Valid {
			spec.CurrentStage = stage.String
		}
		view.Specs = append(view.Specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, NewOperationError(serr.Wrap(err, "spec row iteration failed"), "read specs")
	}

	// Derive counters from spec state rather than trusting the plan's
	// possibly-stale aggregate fields.
	for _, spec := range view.Specs {
		if spec.Status == SpecStatusFinished {
			view.CompletedSpecs++
		}
		if spec.Status == SpecStatusRunning && view.CurrentSpecIndex == nil {
			idx := spec.SpecIndex
			view.CurrentSpecIndex = &idx
		}
	}

	logger.Info("Fetched plan", "plan_id", planID, "spec_count", fmt.Sprintf("%d", len(view.Specs)))
	return view, nil
}

// GetSpec returns the full record of one spec, or nil when absent.
// Used to hand a freshly-unblocked spec to the execution trigger.
func (db *DB) GetSpec(planID string, specIndex int) (*SpecRecord, error) {
	spec := &SpecRecord{PlanID: planID, SpecIndex: specIndex}
	var stage sql.NullString
	var lastExecutionAt sql.NullTime

	err := db.QueryRow(`
		SELECT purpose, vision, CAST(must AS VARCHAR), CAST(dont AS VARCHAR),
		       CAST(nice AS VARCHAR), CAST(assumptions AS VARCHAR), status, current_stage,
		       execution_attempts, last_execution_at, created_at, updated_at, CAST(history AS VARCHAR)
		FROM specs WHERE plan_id = ? AND spec_index = ?`, planID, specIndex,
	).Scan(&spec.Purpose, &spec.Vision, &spec.Must, &spec.Dont, &spec.Nice, &spec.Assumptions,
		&spec.Status, &stage, &spec.ExecutionAttempts, &lastExecutionAt,
		&spec.CreatedAt, &spec.UpdatedAt, &spec.History)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, NewOperationError(serr.Wrap(err, "failed to fetch spec"), "read spec")
	}

	if stage.Valid {
		spec.CurrentStage = stage.String
	}
	if lastExecutionAt.Valid {
		t := lastExecutionAt.Time
		spec.LastExecutionAt = &t
	}

	return spec, nil
}
