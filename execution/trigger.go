// Package execution triggers the external worker that runs a spec.
// The trigger is fire-and-forget from the state machine's perspective:
// it runs outside every store transaction and its failure handling is
// owned by the caller (compensating delete after creation, log-and-continue
// after a status update).
package execution

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"planscheduler/config"
	"planscheduler/db"
)

const (
	requestTimeout  = 30 * time.Second
	retryMaxElapsed = 20 * time.Second
)

// Service triggers spec execution over HTTP
type Service struct {
	cfg    *config.Config
	client *http.Client
}

// NewService creates an execution trigger service from the global configuration
func NewService() *Service {
	return &Service{
		cfg:    config.Get(),
		client: &http.Client{Timeout: requestTimeout},
	}
}

// triggerRequest is the body posted to the execution endpoint
type triggerRequest struct {
	PlanID    string         `json:"plan_id"`
	SpecIndex int            `json:"spec_index"`
	Spec      *db.SpecRecord `json:"spec"`
}

// Trigger requests execution of a spec. When execution is disabled by
// configuration it logs a skip notice and returns nil from the same call
// site, so behavior stays deterministic for testing. Server-side (5xx) and
// network failures are retried with exponential backoff; client-side (4xx)
// responses fail immediately.
func (s *Service) Trigger(planID string, specIndex int, spec *db.SpecRecord) error {
	if !s.cfg.ExecutionEnabled || s.cfg.ExecutionAPIURL == "" {
		logger.Info("Execution disabled, skipping spec execution trigger",
			"plan_id", planID, "spec_index", fmt.Sprintf("%d", specIndex))
		return nil
	}

	body, err := json.Marshal(triggerRequest{
		PlanID:    planID,
		SpecIndex: specIndex,
		Spec:      spec,
	})
	if err != nil {
		return serr.Wrap(err, "failed to serialize trigger request")
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryMaxElapsed

	err = backoff.Retry(func() error {
		return s.post(body)
	}, bo)
	if err != nil {
		return serr.Wrap(err, "execution trigger failed",
			"plan_id", planID, "spec_index", fmt.Sprintf("%d", specIndex))
	}

	logger.Info("Triggered spec execution",
		"plan_id", planID, "spec_index", fmt.Sprintf("%d", specIndex))
	return nil
}

// post sends one trigger attempt, classifying the outcome for retry
func (s *Service) post(body []byte) error {
	req, err := http.NewRequest("POST", s.cfg.ExecutionAPIURL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(serr.Wrap(err, "failed to build trigger request"))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.ExecutionAPIToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.ExecutionAPIToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return serr.Wrap(err, "trigger request failed") // network errors are retryable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	reqErr := serr.New(fmt.Sprintf("execution endpoint returned %d: %s", resp.StatusCode, string(respBody)))

	if resp.StatusCode >= 500 {
		return reqErr
	}
	return backoff.Permanent(reqErr)
}
