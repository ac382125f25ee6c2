// Package digest computes stable content hashes of plan payloads.
// Two payloads that are structurally equal (ignoring map key order)
// produce the same digest; any field-level difference changes it.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rohanthewiz/serr"
)

// Compute returns the sha256 hex digest of the canonical JSON encoding of v.
// Canonicalization round-trips v through generic JSON values so that map
// keys are emitted in sorted order regardless of the input type.
func Compute(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", serr.Wrap(err, "payload is not serializable")
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", serr.Wrap(err, "failed to normalize payload")
	}

	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", serr.Wrap(err, "failed to canonicalize payload")
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
