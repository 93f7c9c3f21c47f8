// Package gen provides utility functions for generating identifiers.
package gen

import (
	"fmt"

	"github.com/google/uuid"
)

const sep = "|"

// Key joins a job name and its source into a stable key.
func Key(name, source string) string {
	return fmt.Sprintf("%s%s%s", name, sep, source)
}

// JobID returns a deterministic UUIDv5 for a job, stable across runs.
func JobID(name, source string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(Key(name, source))).String()
}

// RunID returns a random identifier for one batch run.
func RunID() string {
	return uuid.NewString()
}
