package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// Actions reported by ProcessSpecStatusUpdate. Only "updated" means state
// was changed; the others are expected outcomes under at-least-once delivery
// and must be acknowledged without retry.
const (
	ActionUpdated    = "updated"
	ActionDuplicate  = "duplicate"
	ActionOutOfOrder = "out_of_order"
	ActionNotFound   = "not_found"
)

// StatusUpdateParams carries one reported spec status event
type StatusUpdateParams struct {
	PlanID        string
	SpecIndex     int
	Status        string
	Stage         string
	MessageID     string
	CorrelationID string
	Details       string
	Timestamp     string
	RawSnippet    json.RawMessage
}

// UpdateResult is the outcome of processing a status event
type UpdateResult struct {
	Success           bool   `json:"success"`
	Action            string `json:"action"`
	NextSpecTriggered bool   `json:"next_spec_triggered"`
	PlanFinished      bool   `json:"plan_finished"`
	Message           string `json:"message"`
}

// ProcessSpecStatusUpdate validates, deduplicates, records, and applies one
// spec status event in a single transaction. All reads happen before any
// write. Steps, each short-circuiting the rest:
//
//  1. Load the plan; absent means the event is acked without mutation.
//  2. Load the spec; same handling when absent.
//  3. Dedup against the spec's history by message id, or correlation id
//     when one is supplied.
//  4. For terminal statuses only, validate ordering: a spec already in a
//     terminal state never transitions again, and only the currently
//     active spec may finish.
//  5. Append a history entry built from the event.
//  6. Apply the transition: "finished" advances the plan pointer and
//     unblocks the next spec (or finishes the plan); "failed" terminalizes
//     spec and plan; anything else only refreshes the stage marker.
//
// The next-spec execution trigger belongs to the caller, after this
// transaction has committed.
func (db *DB) ProcessSpecStatusUpdate(params StatusUpdateParams) (UpdateResult, error) {
	result := UpdateResult{Action: "unknown"}

	txErr := db.TransactionWithRetry(func(tx *sql.Tx) error {
		result = UpdateResult{Action: "unknown"} // reset in case of retry
		now := time.Now().UTC()

		// Step 1: Load plan
		var overallStatus string
		var totalSpecs, completedSpecs int
		var currentSpecIndex sql.NullInt32
		err := tx.QueryRow(`
			SELECT overall_status, total_specs, completed_specs, current_spec_index
			FROM plans WHERE plan_id = ?`, params.PlanID,
		).Scan(&overallStatus, &totalSpecs, &completedSpecs, &currentSpecIndex)
		if err == sql.ErrNoRows {
			result.Action = ActionNotFound
			result.Message = fmt.Sprintf("Plan %s not found", params.PlanID)
			logger.Warn("Plan not found during status update",
				"plan_id", params.PlanID, "spec_index", fmt.Sprintf("%d", params.SpecIndex),
				"status", params.Status)
			return nil
		}
		if err != nil {
			return serr.Wrap(err, "failed to load plan")
		}

		// Step 2: Load spec
		var specStatus string
		var history History
		err = tx.QueryRow(`
			SELECT status, CAST(history AS VARCHAR) FROM specs WHERE plan_id = ? AND spec_index = ?`,
			params.PlanID, params.SpecIndex,
		).Scan(&specStatus, &history)
		if err == sql.ErrNoRows {
			result.Action = ActionNotFound
			result.Message = fmt.Sprintf("Spec %d not found in plan %s", params.SpecIndex, params.PlanID)
			logger.Warn("Spec not found during status update",
				"plan_id", params.PlanID, "spec_index", fmt.Sprintf("%d", params.SpecIndex))
			return nil
		}
		if err != nil {
			return serr.Wrap(err, "failed to load spec")
		}

		// Step 3: Dedup against history. A correlation-id match outranks a
		// message-id match in the report since republished events carry
		// fresh message ids.
		for _, entry := range history {
			if params.CorrelationID != "" && entry.CorrelationID == params.CorrelationID {
				result.Action = ActionDuplicate
				result.Success = true
				result.Message = fmt.Sprintf("Duplicate correlation id %s skipped", params.CorrelationID)
				logger.Info("Duplicate status event detected, skipping",
					"plan_id", params.PlanID, "spec_index", fmt.Sprintf("%d", params.SpecIndex),
					"correlation_id", params.CorrelationID)
				return nil
			}
			if entry.MessageID == params.MessageID {
				result.Action = ActionDuplicate
				result.Success = true
				result.Message = fmt.Sprintf("Duplicate message %s skipped", params.MessageID)
				logger.Info("Duplicate status event detected, skipping",
					"plan_id", params.PlanID, "spec_index", fmt.Sprintf("%d", params.SpecIndex),
					"message_id", params.MessageID)
				return nil
			}
		}

		// Step 4: Ordering validation for terminal statuses
		if IsTerminalStatus(params.Status) && IsTerminalStatus(specStatus) {
			result.Action = ActionOutOfOrder
			result.Message = fmt.Sprintf("Spec %d already in terminal state %s, ignoring %s status",
				params.SpecIndex, specStatus, params.Status)
			logger.Warn("Out-of-order terminal status",
				"plan_id", params.PlanID, "spec_index", fmt.Sprintf("%d", params.SpecIndex),
				"current_status", specStatus, "received_status", params.Status,
				"message_id", params.MessageID)
			return nil
		}

		if params.Status == SpecStatusFinished {
			// Only the currently active spec may finish
			if currentSpecIndex.Valid && params.SpecIndex != int(currentSpecIndex.Int32) {
				result.Action = ActionOutOfOrder
				result.Message = fmt.Sprintf("Spec %d finishing out of order. Expected current spec is %d.",
					params.SpecIndex, currentSpecIndex.Int32)
				logger.LogErr(serr.New("out-of-order spec completion"),
					"spec finishing while another is current",
					"plan_id", params.PlanID, "spec_index", fmt.Sprintf("%d", params.SpecIndex),
					"current_spec_index", fmt.Sprintf("%d", currentSpecIndex.Int32),
					"message_id", params.MessageID)
				return nil
			}
		}

		// Read the next spec's status up front when this event will advance
		// the pointer, keeping all reads ahead of any write.
		nextSpecIndex := params.SpecIndex + 1
		var nextSpecStatus sql.NullString
		willAdvance := params.Status == SpecStatusFinished && completedSpecs+1 < totalSpecs
		if willAdvance {
			var ns string
			err = tx.QueryRow(`
				SELECT status FROM specs WHERE plan_id = ? AND spec_index = ?`,
				params.PlanID, nextSpecIndex,
			).Scan(&ns)
			if err == nil {
				nextSpecStatus = sql.NullString{String: ns, Valid: true}
			} else if err != sql.ErrNoRows {
				return serr.Wrap(err, "failed to load next spec")
			}
		}

		// Step 5: Append history entry
		eventTime := params.Timestamp
		if eventTime == "" {
			eventTime = now.Format(time.RFC3339Nano)
		}
		history = append(history, HistoryEntry{
			Timestamp:      eventTime,
			ReceivedStatus: params.Status,
			Stage:          params.Stage,
			Details:        params.Details,
			CorrelationID:  params.CorrelationID,
			MessageID:      params.MessageID,
			RawSnippet:     params.RawSnippet,
		})
		historyVal, err := history.Value()
		if err != nil {
			return serr.Wrap(err, "failed to serialize history")
		}

		// Step 6: Apply transition
		switch params.Status {
		case SpecStatusFinished:
			_, err = tx.Exec(`
				UPDATE specs SET status = ?, history = ?, updated_at = ?
				WHERE plan_id = ? AND spec_index = ?`,
				SpecStatusFinished, historyVal, now, params.PlanID, params.SpecIndex)
			if err != nil {
				return serr.Wrap(err, "failed to update spec")
			}

			completedSpecs++
			if completedSpecs >= totalSpecs {
				// Last spec done - plan is finished
				_, err = tx.Exec(`
					UPDATE plans SET overall_status = ?, completed_specs = ?, current_spec_index = NULL,
					                 updated_at = ?, last_event_at = ?
					WHERE plan_id = ?`,
					PlanStatusFinished, completedSpecs, now, now, params.PlanID)
				if err != nil {
					return serr.Wrap(err, "failed to finish plan")
				}
				result.PlanFinished = true
				result.Message = fmt.Sprintf("Plan %s marked as finished", params.PlanID)
				logger.Info("Plan completed, all specs finished",
					"plan_id", params.PlanID, "total_specs", fmt.Sprintf("%d", totalSpecs))
			} else {
				_, err = tx.Exec(`
					UPDATE plans SET completed_specs = ?, current_spec_index = ?,
					                 updated_at = ?, last_event_at = ?
					WHERE plan_id = ?`,
					completedSpecs, nextSpecIndex, now, now, params.PlanID)
				if err != nil {
					return serr.Wrap(err, "failed to advance plan")
				}

				switch {
				case nextSpecStatus.Valid && nextSpecStatus.String == SpecStatusBlocked:
					_, err = tx.Exec(`
						UPDATE specs SET status = ?, updated_at = ?
						WHERE plan_id = ? AND spec_index = ?`,
						SpecStatusRunning, now, params.PlanID, nextSpecIndex)
					if err != nil {
						return serr.Wrap(err, "failed to unblock next spec")
					}
					result.NextSpecTriggered = true
					result.Message = fmt.Sprintf("Spec %d finished, spec %d unblocked",
						params.SpecIndex, nextSpecIndex)
					logger.Info("Next spec unblocked",
						"plan_id", params.PlanID, "spec_index", fmt.Sprintf("%d", nextSpecIndex))
				case nextSpecStatus.Valid:
					// Already advanced by a concurrent or duplicate path; never double-unblock
					result.Message = fmt.Sprintf("Spec %d finished", params.SpecIndex)
					logger.Info("Next spec is not blocked, skipping unblock",
						"plan_id", params.PlanID, "spec_index", fmt.Sprintf("%d", nextSpecIndex),
						"status", nextSpecStatus.String)
				default:
					result.Message = fmt.Sprintf("Spec %d finished", params.SpecIndex)
					logger.Warn("Next spec not found",
						"plan_id", params.PlanID, "spec_index", fmt.Sprintf("%d", nextSpecIndex))
				}
			}

		case SpecStatusFailed:
			_, err = tx.Exec(`
				UPDATE specs SET status = ?, history = ?, updated_at = ?
				WHERE plan_id = ? AND spec_index = ?`,
				SpecStatusFailed, historyVal, now, params.PlanID, params.SpecIndex)
			if err != nil {
				return serr.Wrap(err, "failed to update spec")
			}
			_, err = tx.Exec(`
				UPDATE plans SET overall_status = ?, updated_at = ?, last_event_at = ?
				WHERE plan_id = ?`,
				PlanStatusFailed, now, now, params.PlanID)
			if err != nil {
				return serr.Wrap(err, "failed to fail plan")
			}
			result.Message = fmt.Sprintf("Spec %d and plan %s marked as failed", params.SpecIndex, params.PlanID)
			logger.Info("Spec failed, plan marked as failed",
				"plan_id", params.PlanID, "spec_index", fmt.Sprintf("%d", params.SpecIndex))

		default:
			// Informational status: record in history and refresh the stage
			// marker, never touching the main status - even on a terminal spec.
			if params.Stage != "" {
				_, err = tx.Exec(`
					UPDATE specs SET current_stage = ?, history = ?, updated_at = ?
					WHERE plan_id = ? AND spec_index = ?`,
					params.Stage, historyVal, now, params.PlanID, params.SpecIndex)
			} else {
				_, err = tx.Exec(`
					UPDATE specs SET history = ?, updated_at = ?
					WHERE plan_id = ? AND spec_index = ?`,
					historyVal, now, params.PlanID, params.SpecIndex)
			}
			if err != nil {
				return serr.Wrap(err, "failed to update spec")
			}
			_, err = tx.Exec(`
				UPDATE plans SET updated_at = ?, last_event_at = ? WHERE plan_id = ?`,
				now, now, params.PlanID)
			if err != nil {
				return serr.Wrap(err, "failed to touch plan")
			}
			stage := params.Stage
			if stage == "" {
				stage = "none"
			}
			result.Message = fmt.Sprintf("Spec %d stage updated: %s", params.SpecIndex, stage)
			logger.Info("Informational status update",
				"plan_id", params.PlanID, "spec_index", fmt.Sprintf("%d", params.SpecIndex),
				"status", params.Status, "stage", params.Stage)
		}

		result.Success = true
		result.Action = ActionUpdated
		return nil
	})

	if txErr != nil {
		var opErr *OperationError
		if errors.As(txErr, &opErr) {
			return result, opErr
		}
		return result, NewOperationError(txErr, "process spec status update")
	}

	return result, nil
}
