package job

import (
	"errors"
	"testing"

	"github.com/zacjmagee/genjobs/internal/generator"
)

func newTestJob() *Job {
	return New("test-job-123", generator.Request{Kind: generator.KindImage, Prompt: "a cat"}, generator.ProviderFal)
}

func TestNew(t *testing.T) {
	job := newTestJob()

	if job.ID() != "test-job-123" {
		t.Errorf("expected ID test-job-123, got %s", job.ID())
	}
	if job.State() != StateCreated {
		t.Errorf("expected state %s, got %s", StateCreated, job.State())
	}

	snap := job.Snapshot()
	if snap.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if snap.Logs == nil {
		t.Error("expected Logs to be initialized")
	}
	if snap.Result != nil || snap.Error != nil {
		t.Error("expected neither result nor error on a new job")
	}
}

func TestJob_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []State
		to      State
		wantErr bool
	}{
		{"CREATED to SUBMITTING", nil, StateSubmitting, false},
		{"CREATED to QUEUED", nil, StateQueued, true},
		{"SUBMITTING to QUEUED", []State{StateSubmitting}, StateQueued, false},
		{"SUBMITTING to PROCESSING", []State{StateSubmitting}, StateProcessing, true},
		{"QUEUED to QUEUED", []State{StateSubmitting, StateQueued}, StateQueued, false},
		{"QUEUED to PROCESSING", []State{StateSubmitting, StateQueued}, StateProcessing, false},
		{"PROCESSING to PROCESSING", []State{StateSubmitting, StateQueued, StateProcessing}, StateProcessing, false},
		{"PROCESSING to QUEUED", []State{StateSubmitting, StateQueued, StateProcessing}, StateQueued, true},
		{"PROCESSING to SUBMITTING", []State{StateSubmitting, StateQueued, StateProcessing}, StateSubmitting, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := newTestJob()
			for _, s := range tt.path {
				if err := job.TransitionTo(s); err != nil {
					t.Fatalf("setup transition to %s: %v", s, err)
				}
			}

			err := job.TransitionTo(tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("TransitionTo(%s) error = %v, wantErr %v", tt.to, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestJob_TerminalRequiresOutcome(t *testing.T) {
	job := newTestJob()
	_ = job.TransitionTo(StateSubmitting)

	if err := job.TransitionTo(StateFailed); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for bare terminal transition, got %v", err)
	}
	if err := job.Finish(StateFailed, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for Finish without error, got %v", err)
	}
	if err := job.Finish(StateSucceeded, NewError(ErrorKindPoll, 0, "")); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for Finish to Succeeded, got %v", err)
	}
}

func TestJob_Succeed(t *testing.T) {
	job := newTestJob()
	_ = job.TransitionTo(StateSubmitting)
	_ = job.TransitionTo(StateQueued)
	job.UpdateProgress(40)

	err := job.Succeed(generator.Artifact{Files: []generator.File{{URL: "https://x/y.jpg"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := job.Snapshot()
	if snap.State != StateSucceeded {
		t.Errorf("expected state %s, got %s", StateSucceeded, snap.State)
	}
	if snap.Progress != 100 {
		t.Errorf("expected progress 100, got %d", snap.Progress)
	}
	if snap.Result == nil || snap.Error != nil {
		t.Error("expected result and no error")
	}
	if snap.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set")
	}

	// Terminal states are final.
	if err := job.Finish(StateCancelled, NewError(ErrorKindCancelled, 0, "")); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition after success, got %v", err)
	}
}

func TestJob_FinishKeepsProgress(t *testing.T) {
	job := newTestJob()
	_ = job.TransitionTo(StateSubmitting)
	_ = job.TransitionTo(StateQueued)
	job.UpdateProgress(30)

	if err := job.Finish(StateTimedOut, NewError(ErrorKindTimeout, 0, "")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := job.Snapshot()
	if snap.Progress != 30 {
		t.Errorf("expected progress 30, got %d", snap.Progress)
	}
	if snap.Error == nil || snap.Error.Kind != ErrorKindTimeout || snap.Result != nil {
		t.Errorf("expected timeout error only, got %+v", snap)
	}
	if job.UpdateProgress(80) != 30 {
		t.Error("expected progress of terminal job to stay unchanged")
	}
}

func TestJob_UpdateProgress(t *testing.T) {
	job := newTestJob()

	if got := job.UpdateProgress(20); got != 20 {
		t.Errorf("expected 20, got %d", got)
	}
	if got := job.UpdateProgress(10); got != 20 {
		t.Errorf("expected progress not to decrease, got %d", got)
	}
	if got := job.UpdateProgress(150); got != MaxRunningProgress {
		t.Errorf("expected cap %d, got %d", MaxRunningProgress, got)
	}
}

func TestJob_LogsSince(t *testing.T) {
	job := newTestJob()
	job.AppendLogs("a", "b")

	logs, n := job.LogsSince(0)
	if len(logs) != 2 || n != 2 {
		t.Fatalf("expected 2 logs, got %v (%d)", logs, n)
	}

	job.AppendLogs("c")
	logs, n = job.LogsSince(n)
	if len(logs) != 1 || logs[0] != "c" || n != 3 {
		t.Errorf("expected [c], got %v (%d)", logs, n)
	}

	logs, _ = job.LogsSince(3)
	if logs != nil {
		t.Errorf("expected no new logs, got %v", logs)
	}
}

func TestJob_SnapshotIsIsolated(t *testing.T) {
	job := newTestJob()
	job.AppendLogs("first")
	snap := job.Snapshot()

	snap.Logs[0] = "mutated"
	job.AppendLogs("second")

	again := job.Snapshot()
	if again.Logs[0] != "first" {
		t.Errorf("snapshot mutation leaked into job: %v", again.Logs)
	}
	if len(snap.Logs) != 1 {
		t.Errorf("job mutation leaked into snapshot: %v", snap.Logs)
	}
}

func TestState_IsTerminal(t *testing.T) {
	terminal := map[State]bool{
		StateCreated:    false,
		StateSubmitting: false,
		StateQueued:     false,
		StateProcessing: false,
		StateSucceeded:  true,
		StateFailed:     true,
		StateTimedOut:   true,
		StateCancelled:  true,
	}
	for s, want := range terminal {
		if got := s.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", s, got, want)
		}
	}
}
