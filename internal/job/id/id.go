// Package id provides unique identifier generation for jobs.
package id

import "github.com/google/uuid"

// Prefix is prepended to every job ID.
const Prefix = "job-"

// Generate creates a new unique job ID.
// Format: job-<uuid v4>
// Example: job-6f1c2a4e-9b0d-4c8e-8a55-2f3b1d9e7c10
func Generate() string {
	return Prefix + uuid.NewString()
}
