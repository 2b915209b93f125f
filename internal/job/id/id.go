// Package id provides unique identifier generation for pipeline runs.
package id

import (
	"github.com/google/uuid"
)

// NewRun creates a new unique run ID.
// Format: time-ordered UUIDv7, falling back to a random UUIDv4.
// Example: 0190b0b8-3e2f-7c8a-9d4e-1f2a3b4c5d6e
func NewRun() string {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}
