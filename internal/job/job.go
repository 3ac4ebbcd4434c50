// Package job provides the generation job engine: the Job aggregate and its
// state machine, the controller that drives a job through a provider adapter,
// the progress sink consumers subscribe to, and the service that owns live jobs.
package job

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zacjmagee/genjobs/internal/generator"
)

// State represents the current state of a Job.
type State string

const (
	// StateCreated indicates the request was validated but not yet sent.
	StateCreated State = "CREATED"
	// StateSubmitting indicates the submit call is in flight.
	StateSubmitting State = "SUBMITTING"
	// StateQueued indicates the provider accepted the job and has not started it.
	StateQueued State = "QUEUED"
	// StateProcessing indicates the provider is generating the artifact.
	StateProcessing State = "PROCESSING"
	// StateSucceeded indicates the artifact was retrieved.
	StateSucceeded State = "SUCCEEDED"
	// StateFailed indicates the job failed at submission, during polling or at result retrieval.
	StateFailed State = "FAILED"
	// StateTimedOut indicates the job exceeded its timeout ceiling.
	StateTimedOut State = "TIMED_OUT"
	// StateCancelled indicates the caller cancelled the job.
	StateCancelled State = "CANCELLED"
)

// IsTerminal returns true if no further transition can occur from s.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateCancelled:
		return true
	default:
		return false
	}
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
// Processing never returns to Queued: states only move forward.
var validTransitions = map[State][]State{
	StateCreated:    {StateSubmitting, StateCancelled},
	StateSubmitting: {StateQueued, StateFailed, StateCancelled},
	StateQueued:     {StateQueued, StateProcessing, StateSucceeded, StateFailed, StateTimedOut, StateCancelled},
	StateProcessing: {StateProcessing, StateSucceeded, StateFailed, StateTimedOut, StateCancelled},
	StateSucceeded:  {},
	StateFailed:     {},
	StateTimedOut:   {},
	StateCancelled:  {},
}

// canTransition checks if a transition from one state to another is valid.
func canTransition(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Job is one generation request lifecycle.
// It is written only by the controller that owns it; readers use Snapshot.
type Job struct {
	mu sync.RWMutex

	id             string
	kind           generator.Kind
	provider       string
	providerTaskID string
	request        generator.Request
	state          State
	progress       int
	logs           []string
	result         *generator.Artifact
	err            *Error

	createdAt   time.Time
	updatedAt   time.Time
	submittedAt time.Time
	completedAt time.Time
}

// New creates a Job in the Created state. The request is copied.
func New(jobID string, req generator.Request, provider string) *Job {
	now := time.Now()
	return &Job{
		id:        jobID,
		kind:      req.Kind,
		provider:  provider,
		request:   req.Clone(),
		state:     StateCreated,
		logs:      make([]string, 0),
		createdAt: now,
		updatedAt: now,
	}
}

// ID returns the engine-assigned job ID.
func (j *Job) ID() string {
	return j.id
}

// Request returns a copy of the job's immutable request.
func (j *Job) Request() generator.Request {
	return j.request.Clone()
}

// State returns the current state.
func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// SubmittedAt returns when the job entered Submitting, or the zero time.
func (j *Job) SubmittedAt() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.submittedAt
}

// TransitionTo moves the job to a non-terminal state or to Cancelled/TimedOut/Failed
// through Finish. Returns ErrInvalidTransition if the move is not allowed.
func (j *Job) TransitionTo(state State) error {
	if state.IsTerminal() {
		return fmt.Errorf("%w: %s requires an outcome", ErrInvalidTransition, state)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(state)
}

func (j *Job) transitionLocked(state State) error {
	if !canTransition(j.state, state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.state, state)
	}

	j.state = state
	j.updatedAt = time.Now()

	switch {
	case state == StateSubmitting:
		j.submittedAt = j.updatedAt
	case state.IsTerminal():
		j.completedAt = j.updatedAt
	}

	return nil
}

// Succeed stores the artifact and moves the job to Succeeded with progress pinned to 100.
func (j *Job) Succeed(artifact generator.Artifact) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.transitionLocked(StateSucceeded); err != nil {
		return err
	}
	j.result = artifact.Clone()
	j.progress = 100
	return nil
}

// Finish moves the job to a terminal failure state (Failed, TimedOut or Cancelled)
// with the given error. Progress keeps its last value.
func (j *Job) Finish(state State, e *Error) error {
	if state == StateSucceeded || !state.IsTerminal() {
		return fmt.Errorf("%w: %s is not a failure state", ErrInvalidTransition, state)
	}
	if e == nil {
		return fmt.Errorf("%w: %s requires an error", ErrInvalidTransition, state)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.transitionLocked(state); err != nil {
		return err
	}
	c := *e
	j.err = &c
	return nil
}

// SetProviderTaskID records the provider's task ID after a successful submit.
func (j *Job) SetProviderTaskID(taskID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.providerTaskID = taskID
	j.updatedAt = time.Now()
}

// AppendLogs appends provider log lines. Logs are append-only.
func (j *Job) AppendLogs(lines ...string) {
	if len(lines) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.logs = append(j.logs, lines...)
	j.updatedAt = time.Now()
}

// LogsSince returns the log lines appended after the first n and the new total.
func (j *Job) LogsSince(n int) ([]string, int) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if n >= len(j.logs) {
		return nil, len(j.logs)
	}
	return append([]string(nil), j.logs[n:]...), len(j.logs)
}

// UpdateProgress raises the progress percentage. Lower values are ignored,
// terminal jobs are not changed and non-terminal jobs never reach 100.
func (j *Job) UpdateProgress(progress int) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state.IsTerminal() {
		return j.progress
	}
	progress = min(max(progress, 0), MaxRunningProgress)
	if progress > j.progress {
		j.progress = progress
		j.updatedAt = time.Now()
	}
	return j.progress
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	return j.State().IsTerminal()
}

// Snapshot is an immutable copy of a Job, safe to share with readers.
type Snapshot struct {
	ID             string              `json:"id"`
	Kind           generator.Kind      `json:"kind"`
	Provider       string              `json:"provider"`
	ProviderTaskID string              `json:"provider_task_id,omitempty"`
	Prompt         string              `json:"prompt,omitempty"`
	State          State               `json:"state"`
	Progress       int                 `json:"progress"`
	Logs           []string            `json:"logs"`
	Result         *generator.Artifact `json:"result,omitempty"`
	Error          *Error              `json:"error,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	SubmittedAt    time.Time           `json:"submitted_at,omitzero"`
	CompletedAt    time.Time           `json:"completed_at,omitzero"`
}

// Snapshot creates a deep copy of the job for safe reads.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	s := Snapshot{
		ID:             j.id,
		Kind:           j.kind,
		Provider:       j.provider,
		ProviderTaskID: j.providerTaskID,
		Prompt:         j.request.Prompt,
		State:          j.state,
		Progress:       j.progress,
		Logs:           append([]string{}, j.logs...),
		Result:         j.result.Clone(),
		CreatedAt:      j.createdAt,
		UpdatedAt:      j.updatedAt,
		SubmittedAt:    j.submittedAt,
		CompletedAt:    j.completedAt,
	}
	if j.err != nil {
		e := *j.err
		s.Error = &e
	}
	return s
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.Logs = append([]string{}, s.Logs...)
	c.Result = s.Result.Clone()
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	return c
}
