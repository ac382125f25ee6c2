package db

import (
	"errors"
	"strings"
	"testing"

	"github.com/rohanthewiz/serr"
)

// TestErrorTaxonomy tests wrapping, unwrapping, and errors.As across the
// store error types
func TestErrorTaxonomy(t *testing.T) {
	t.Run("configuration error", func(t *testing.T) {
		inner := serr.New("bad path")
		err := NewConfigurationError(inner, "store open")

		if !strings.Contains(err.Error(), "store open") {
			t.Errorf("Expected reason in message, got: %v", err)
		}
		if !errors.Is(err, inner) {
			t.Error("Expected errors.Is to reach the wrapped error")
		}

		var cfgErr *ConfigurationError
		if !errors.As(error(err), &cfgErr) {
			t.Error("Expected errors.As to match ConfigurationError")
		}
	})

	t.Run("operation error", func(t *testing.T) {
		inner := serr.New("timeout")
		err := NewOperationError(inner, "create plan")

		if !strings.Contains(err.Error(), "create plan") {
			t.Errorf("Expected op in message, got: %v", err)
		}
		if !errors.Is(err, inner) {
			t.Error("Expected errors.Is to reach the wrapped error")
		}

		var opErr *OperationError
		if !errors.As(error(err), &opErr) {
			t.Error("Expected errors.As to match OperationError")
		}
		var cfgErr *ConfigurationError
		if errors.As(error(err), &cfgErr) {
			t.Error("OperationError must not match ConfigurationError")
		}
	})

	t.Run("conflict error", func(t *testing.T) {
		err := &ConflictError{PlanID: "p1", StoredDigest: "aaa", IncomingDigest: "bbb"}

		msg := err.Error()
		if !strings.Contains(msg, "p1") || !strings.Contains(msg, "aaa") || !strings.Contains(msg, "bbb") {
			t.Errorf("Expected plan id and both digests in message, got: %s", msg)
		}

		var conflictErr *ConflictError
		if !errors.As(error(err), &conflictErr) {
			t.Error("Expected errors.As to match ConflictError")
		}
	})
}
