package job

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// Repository stores the latest snapshot of each job.
// Jobs are not expected to survive a process restart.
type Repository interface {
	// Save stores a snapshot, replacing any earlier snapshot of the same job.
	Save(ctx context.Context, snap Snapshot) error

	// FindByID retrieves a snapshot by job ID.
	// Returns ErrJobNotFound if the job does not exist.
	FindByID(ctx context.Context, id string) (Snapshot, error)

	// List returns all snapshots.
	List(ctx context.Context) ([]Snapshot, error)

	// Delete removes a job.
	// Returns ErrJobNotFound if the job does not exist.
	Delete(ctx context.Context, id string) error
}
