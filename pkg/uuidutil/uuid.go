// Package uuidutil mints the UUIDs snapmgr needs outside pkg/model's
// snapshot/deletion identifiers (e.g. shard clone generations), wrapping
// the same google/uuid dependency pkg/model already uses rather than
// carrying a second, hand-rolled RNG implementation.
package uuidutil

import "github.com/google/uuid"

// NewV4 generates a random UUID v4 string.
func NewV4() string {
	return uuid.NewString()
}
