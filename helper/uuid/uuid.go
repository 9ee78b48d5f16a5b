// Package uuid generates random identifiers for request tracing.
package uuid

import (
	"github.com/hashicorp/go-uuid"
)

// Generate returns a random UUID string, or the empty string if the
// system's entropy source fails. Callers use the result for log
// correlation only, so an empty ID is tolerable.
func Generate() string {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return ""
	}
	return id
}

// Short returns the first 8 characters of a generated UUID, enough to
// correlate log lines within a single process.
func Short() string {
	id := Generate()
	if len(id) < 8 {
		return id
	}
	return id[:8]
}
