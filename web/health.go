package web

import (
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"

	"planscheduler/db"
)

// healthHandler is a basic liveness signal with no dependency checks
func healthHandler(c rweb.Context) error {
	return c.WriteJSON(map[string]string{"status": "ok"})
}

// readinessHandler verifies the store is reachable before the service
// receives traffic
func readinessHandler(c rweb.Context) error {
	var issues []string

	database, err := db.GetDB()
	if err != nil {
		logger.LogErr(err, "readiness check: store unavailable")
		issues = append(issues, "store: "+err.Error())
	} else if err := database.SmokeTest(); err != nil {
		logger.LogErr(err, "readiness check: store smoke test failed")
		issues = append(issues, "store: "+err.Error())
	}

	if len(issues) > 0 {
		c.Response().SetStatus(503)
		return c.WriteJSON(map[string]any{"status": "not_ready", "issues": issues})
	}

	return c.WriteJSON(map[string]string{"status": "ready"})
}

// livenessHandler reports the process is responsive; no dependency checks
func livenessHandler(c rweb.Context) error {
	return c.WriteJSON(map[string]string{"status": "alive"})
}
