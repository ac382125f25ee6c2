package web

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"

	"planscheduler/config"
	"planscheduler/db"
	"planscheduler/execution"
)

// verificationHeader carries the shared token on push deliveries
const verificationHeader = "X-Push-Verification-Token"

// specStatusHandler receives push-delivered spec status events.
//
// The envelope is acknowledged with 204 for applied updates and for the
// expected non-mutation outcomes (not_found, duplicate, out_of_order) -
// redelivery would not help any of those. Store failures return 500 so the
// delivery substrate nacks and retries. The next-spec execution trigger
// runs only after the transaction has committed; its failure is logged but
// never rolls back the committed transition.
func specStatusHandler(c rweb.Context) error {
	cfg := config.Get()

	// Verify shared token when configured
	if cfg.PushVerificationToken != "" {
		token := c.Request().Header(verificationHeader)
		if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.PushVerificationToken)) != 1 {
			logger.Warn("Status event rejected: invalid verification token")
			return c.WriteError(serr.New("invalid or missing verification token"), 401)
		}
	}

	var envelope PushEnvelope
	if err := json.Unmarshal(c.Request().Body(), &envelope); err != nil {
		return c.WriteError(serr.Wrap(err, "invalid push envelope"), 400)
	}

	raw, err := decodePushData(envelope.Message.Data)
	if err != nil {
		logger.LogErr(err, "failed to decode status event", "message_id", envelope.Message.MessageID)
		return c.WriteError(serr.Wrap(err, "invalid message payload"), 400)
	}

	payload, err := parseStatusPayload(raw)
	if err != nil {
		logger.LogErr(err, "failed to validate status event", "message_id", envelope.Message.MessageID)
		return c.WriteError(serr.Wrap(err, "invalid message payload"), 400)
	}

	logger.Info("Processing status update",
		"plan_id", payload.PlanID, "spec_index", fmt.Sprintf("%d", *payload.SpecIndex),
		"status", payload.Status, "stage", payload.Stage,
		"message_id", envelope.Message.MessageID)

	database, err := db.GetDB()
	if err != nil {
		return c.WriteError(serr.Wrap(err, "failed to get database"), 500)
	}

	result, err := database.ProcessSpecStatusUpdate(db.StatusUpdateParams{
		PlanID:        payload.PlanID,
		SpecIndex:     *payload.SpecIndex,
		Status:        payload.Status,
		Stage:         payload.Stage,
		MessageID:     envelope.Message.MessageID,
		CorrelationID: payload.CorrelationID,
		Details:       payload.Details,
		Timestamp:     payload.Timestamp,
		RawSnippet:    raw,
	})
	if err != nil {
		logger.LogErr(err, "store error processing status update",
			"plan_id", payload.PlanID, "message_id", envelope.Message.MessageID)
		return c.WriteError(serr.Wrap(err, "internal server error"), 500)
	}

	if result.Success {
		logger.Info("Status update processed", "action", result.Action, "detail", result.Message)
	} else {
		logger.Warn("Status update not applied", "action", result.Action, "detail", result.Message)
	}

	// Trigger the freshly-unblocked spec outside the transaction. The
	// committed transition is the source of truth; a trigger failure here is
	// logged and the event still acknowledged.
	if result.NextSpecTriggered {
		triggerNextSpec(database, payload.PlanID, *payload.SpecIndex+1)
	}

	c.Response().SetStatus(204)
	return nil
}

// triggerNextSpec fetches a spec record and hands it to the execution
// trigger, logging failures without propagating them
func triggerNextSpec(database *db.DB, planID string, specIndex int) {
	spec, err := database.GetSpec(planID, specIndex)
	if err != nil {
		logger.LogErr(err, "failed to fetch next spec for trigger",
			"plan_id", planID, "spec_index", fmt.Sprintf("%d", specIndex))
		return
	}
	if spec == nil {
		logger.LogErr(serr.New("next spec not found after unblocking"), "trigger skipped",
			"plan_id", planID, "spec_index", fmt.Sprintf("%d", specIndex))
		return
	}

	if err := execution.NewService().Trigger(planID, specIndex, spec); err != nil {
		logger.LogErr(err, "failed to trigger execution for next spec",
			"plan_id", planID, "spec_index", fmt.Sprintf("%d", specIndex))
	}
}
