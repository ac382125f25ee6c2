package web

import (
	"encoding/json"
	"errors"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"

	"planscheduler/db"
	"planscheduler/execution"
)

// PlanCreateResponse is returned for both first-creation (201) and
// idempotent replay (200)
type PlanCreateResponse struct {
	PlanID string `json:"plan_id"`
	Status string `json:"status"`
}

// createPlanHandler ingests a plan. Idempotent: a replay with an identical
// payload returns 200 without writes; the same id with a different payload
// is a 409 carrying both digests. After a fresh creation, spec 0 is
// triggered; if that trigger fails the persisted plan is rolled back with a
// compensating delete and the trigger error is surfaced.
func createPlanHandler(c rweb.Context) error {
	var planIn db.PlanIn
	if err := json.Unmarshal(c.Request().Body(), &planIn); err != nil {
		return c.WriteError(serr.Wrap(err, "invalid request body"), 400)
	}

	planIn.Normalize()
	if err := planIn.Validate(); err != nil {
		return c.WriteError(err, 400)
	}

	logger.Info("Plan ingestion request received", "plan_id", planIn.ID)

	database, err := db.GetDB()
	if err != nil {
		return c.WriteError(serr.Wrap(err, "failed to get database"), 500)
	}

	outcome, err := database.CreatePlanWithSpecs(&planIn)
	if err != nil {
		var conflictErr *db.ConflictError
		if errors.As(err, &conflictErr) {
			logger.Warn("Plan ingestion conflict", "plan_id", planIn.ID,
				"stored_digest", conflictErr.StoredDigest,
				"incoming_digest", conflictErr.IncomingDigest)
			return c.WriteError(conflictErr, 409)
		}
		logger.LogErr(err, "plan ingestion failed", "plan_id", planIn.ID)
		return c.WriteError(serr.Wrap(err, "internal server error"), 500)
	}

	if outcome == db.IngestIdentical {
		// Idempotent replay - same response body, distinguished by status code
		c.Response().SetStatus(200)
		return c.WriteJSON(PlanCreateResponse{PlanID: planIn.ID, Status: db.PlanStatusRunning})
	}

	// Fresh creation: trigger spec 0. On trigger failure, compensate with a
	// full delete - the plan has caused no external side effects yet. A
	// cleanup failure is logged but never masks the trigger error.
	spec, specErr := database.GetSpec(planIn.ID, 0)
	if specErr == nil && spec != nil {
		if triggerErr := execution.NewService().Trigger(planIn.ID, 0, spec); triggerErr != nil {
			logger.LogErr(triggerErr, "first spec trigger failed, rolling back plan", "plan_id", planIn.ID)
			if cleanupErr := database.DeletePlanWithSpecs(planIn.ID); cleanupErr != nil {
				logger.LogErr(cleanupErr, "cleanup after trigger failure also failed", "plan_id", planIn.ID)
			}
			return c.WriteError(serr.Wrap(triggerErr, "failed to start plan execution"), 500)
		}
	} else if specErr != nil {
		logger.LogErr(specErr, "failed to fetch spec 0 for trigger", "plan_id", planIn.ID)
	}

	c.Response().SetStatus(201)
	return c.WriteJSON(PlanCreateResponse{PlanID: planIn.ID, Status: db.PlanStatusRunning})
}

// getPlanStatusHandler returns the narrow plan+spec status view
func getPlanStatusHandler(c rweb.Context) error {
	planID := c.Request().Param("id")
	if planID == "" {
		return c.WriteError(serr.New("plan ID required"), 400)
	}

	database, err := db.GetDB()
	if err != nil {
		return c.WriteError(serr.Wrap(err, "failed to get database"), 500)
	}

	view, err := database.GetPlanWithSpecs(planID)
	if err != nil {
		return c.WriteError(serr.Wrap(err, "failed to fetch plan"), 500)
	}
	if view == nil {
		return c.WriteError(serr.New("plan not found"), 404)
	}

	return c.WriteJSON(view)
}
