package tradeflow

import "github.com/google/uuid"

// GenerateID returns a unique identifier with the given prefix,
// e.g. "run-4f1c2b8e-...".
func GenerateID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
