package job

import (
	"context"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// It uses a map with RWMutex for thread-safe access.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]Snapshot
}

// NewMemoryRepository creates a new in-memory job repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs: make(map[string]Snapshot),
	}
}

// Save stores a copy of the snapshot.
// An older snapshot never replaces a newer one of the same job.
func (r *MemoryRepository) Save(_ context.Context, snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.jobs[snap.ID]; ok && prev.UpdatedAt.After(snap.UpdatedAt) {
		return nil
	}
	r.jobs[snap.ID] = snap.Clone()
	return nil
}

// FindByID retrieves a snapshot by its job ID.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.jobs[id]
	if !ok {
		return Snapshot{}, ErrJobNotFound
	}
	return snap.Clone(), nil
}

// List returns copies of all snapshots.
func (r *MemoryRepository) List(_ context.Context) ([]Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Snapshot, 0, len(r.jobs))
	for _, snap := range r.jobs {
		result = append(result, snap.Clone())
	}
	return result, nil
}

// Delete removes a job from storage.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(r.jobs, id)
	return nil
}
