package db

import (
	"database/sql"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// DeletePlanWithSpecs deletes a plan and all its spec rows in one
// transaction. This is a compensating action for a plan that was persisted
// but whose first execution trigger failed - the plan has had no external
// side effects yet, so full rollback is safe. Normal completion never
// deletes anything.
func (db *DB) DeletePlanWithSpecs(planID string) error {
	err := db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM specs WHERE plan_id = ?", planID); err != nil {
			return serr.Wrap(err, "failed to delete specs")
		}
		if _, err := tx.Exec("DELETE FROM plans WHERE plan_id = ?", planID); err != nil {
			return serr.Wrap(err, "failed to delete plan")
		}
		return nil
	})
	if err != nil {
		return NewOperationError(err, "delete plan")
	}

	logger.Info("Deleted plan with all specs for cleanup", "plan_id", planID)
	return nil
}

// SmokeTest verifies store connectivity with a write/read/delete round trip
// against a scratch table. Cleanup failures are logged but never override a
// successful check.
func (db *DB) SmokeTest() error {
	if _, err := db.Exec("CREATE TABLE IF NOT EXISTS smoke_tests (id INTEGER)"); err != nil {
		return NewOperationError(err, "smoke test setup")
	}

	if _, err := db.Exec("INSERT INTO smoke_tests (id) VALUES (1)"); err != nil {
		return NewOperationError(err, "smoke test write")
	}

	var got int
	if err := db.QueryRow("SELECT id FROM smoke_tests LIMIT 1").Scan(&got); err != nil {
		return NewOperationError(serr.Wrap(err, "failed to read back smoke test row"), "smoke test read")
	}

	if _, err := db.Exec("DELETE FROM smoke_tests"); err != nil {
		logger.LogErr(err, "smoke test cleanup failed")
	}

	return nil
}
