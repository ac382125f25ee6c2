package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"planscheduler/digest"
)

// IngestOutcome is the result of an idempotent plan ingestion
type IngestOutcome string

const (
	IngestCreated   IngestOutcome = "created"
	IngestIdentical IngestOutcome = "identical"
)

// CreatePlanWithSpecs atomically creates a plan and all its spec rows, or
// detects that the plan already exists. The existence check and all writes
// happen in a single transaction:
//   - plan absent: plan row plus one spec row per input spec are written.
//     Spec 0 starts running with execution metadata set; the rest blocked.
//   - plan present with identical payload (by digest): IngestIdentical, no
//     writes - a pure idempotent replay.
//   - plan present with different payload: ConflictError carrying both
//     digests, no writes.
//
// The caller is responsible for triggering execution of spec 0 after a
// Created result, and for calling DeletePlanWithSpecs to compensate if that
// trigger fails.
func (db *DB) CreatePlanWithSpecs(planIn *PlanIn) (IngestOutcome, error) {
	incomingDigest, err := digest.Compute(planIn)
	if err != nil {
		return "", NewOperationError(err, "digest plan request")
	}

	outcome := IngestCreated

	txErr := db.TransactionWithRetry(func(tx *sql.Tx) error {
		outcome = IngestCreated // reset in case of retry

		var storedRaw sql.NullString
		var storedTotal int
		err := tx.QueryRow(
			"SELECT CAST(raw_request AS VARCHAR), total_specs FROM plans WHERE plan_id = ?", planIn.ID,
		).Scan(&storedRaw, &storedTotal)

		if err == nil {
			// Plan exists; decide identical vs conflict
			res, cmpErr := comparePlanPayload(planIn, storedRaw, storedTotal, incomingDigest)
			if cmpErr != nil {
				return cmpErr
			}
			outcome = res
			return nil
		}
		if err != sql.ErrNoRows {
			return serr.Wrap(err, "failed to check plan existence")
		}

		// Plan doesn't exist - create it
		now := time.Now().UTC()

		planRec, err := NewPlanRecord(planIn, now)
		if err != nil {
			return err
		}

		_, err = tx.Exec(`
			INSERT INTO plans (plan_id, overall_status, total_specs, completed_specs,
			                   current_spec_index, created_at, updated_at, last_event_at, raw_request)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			planRec.PlanID, planRec.OverallStatus, planRec.TotalSpecs, planRec.CompletedSpecs,
			*planRec.CurrentSpecIndex, planRec.CreatedAt, planRec.UpdatedAt, planRec.LastEventAt,
			string(planRec.RawRequest),
		)
		if err != nil {
			return serr.Wrap(err, "failed to insert plan")
		}

		for idx, specIn := range planIn.Specs {
			spec := NewSpecRecord(specIn, planIn.ID, idx, now)

			must, _ := spec.Must.Value()
			dont, _ := spec.Dont.Value()
			nice, _ := spec.Nice.Value()
			assumptions, _ := spec.Assumptions.Value()
			history, _ := spec.History.Value()

			var lastExecutionAt interface{}
			if spec.LastExecutionAt != nil {
				lastExecutionAt = *spec.LastExecutionAt
			}

			_, err = tx.Exec(`
				INSERT INTO specs (plan_id, spec_index, purpose, vision, must, dont, nice, assumptions,
				                   status, current_stage, execution_attempts, last_execution_at,
				                   created_at, updated_at, history)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?, ?)`,
				spec.PlanID, spec.SpecIndex, spec.Purpose, spec.Vision,
				must, dont, nice, assumptions,
				spec.Status, spec.ExecutionAttempts, lastExecutionAt,
				spec.CreatedAt, spec.UpdatedAt, history,
			)
			if err != nil {
				return serr.Wrap(err, fmt.Sprintf("failed to insert spec %d", idx))
			}
		}

		return nil
	})

	if txErr != nil {
		var conflictErr *ConflictError
		var opErr *OperationError
		if errors.As(txErr, &conflictErr) {
			return "", conflictErr
		}
		if errors.As(txErr, &opErr) {
			return "", opErr
		}
		return "", NewOperationError(txErr, "create plan")
	}

	switch outcome {
	case IngestCreated:
		logger.Info("Created plan", "plan_id", planIn.ID, "total_specs", fmt.Sprintf("%d", len(planIn.Specs)))
	case IngestIdentical:
		logger.Info("Plan already exists with identical payload, skipping duplicate ingestion",
			"plan_id", planIn.ID)
	}

	return outcome, nil
}

// comparePlanPayload decides whether an existing plan row matches the
// incoming request. Digest comparison is the single source of truth; the
// spec-count fallback only applies to legacy rows stored before digests.
func comparePlanPayload(planIn *PlanIn, storedRaw sql.NullString, storedTotal int, incomingDigest string) (IngestOutcome, error) {
	if !storedRaw.Valid || storedRaw.String == "" {
		// Legacy row without raw_request - compare spec counts only
		logger.Warn("Plan missing raw_request, falling back to spec count comparison",
			"plan_id", planIn.ID)

		incomingTotal := len(planIn.Specs)
		if storedTotal != incomingTotal {
			return "", &ConflictError{
				PlanID:         planIn.ID,
				StoredDigest:   fmt.Sprintf("spec_count_%d", storedTotal),
				IncomingDigest: fmt.Sprintf("spec_count_%d", incomingTotal),
			}
		}
		return IngestIdentical, nil
	}

	var stored any
	if err := json.Unmarshal([]byte(storedRaw.String), &stored); err != nil {
		// A stored payload that cannot be read back is an anomaly, not a conflict
		return "", NewOperationError(
			serr.Wrap(err, fmt.Sprintf("plan %s exists but its stored request is unreadable", planIn.ID)),
			"read stored plan request")
	}

	storedDigest, err := digest.Compute(stored)
	if err != nil {
		return "", NewOperationError(err, "digest stored plan request")
	}

	if storedDigest == incomingDigest {
		return IngestIdentical, nil
	}

	return "", &ConflictError{
		PlanID:         planIn.ID,
		StoredDigest:   storedDigest,
		IncomingDigest: incomingDigest,
	}
}
