package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zacjmagee/genjobs/internal/generator"
)

// Controller owns one Job for its entire lifecycle. It is the only writer of the
// job: it submits through the adapter, polls until a terminal state and publishes
// events to the job's sink.
type Controller struct {
	job      *Job
	adapter  generator.Adapter
	policy   Policy
	sink     *Sink
	logger   *slog.Logger
	observer Observer
	onUpdate func(Snapshot)

	mu        sync.Mutex
	started   bool
	cancelled chan struct{}
	cancel    sync.Once
	done      chan struct{}
	finish    sync.Once
	logCursor int
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithLogBuffer sets how many undelivered log lines the sink keeps.
func WithLogBuffer(n int) Option {
	return func(c *Controller) {
		c.sink = NewSink(n)
	}
}

// WithUpdateHook registers a function called with a snapshot after every emitted event.
func WithUpdateHook(fn func(Snapshot)) Option {
	return func(c *Controller) {
		c.onUpdate = fn
	}
}

// NewController creates a controller for a new job in the Created state.
func NewController(jobID string, req generator.Request, adapter generator.Adapter, policy Policy, opts ...Option) *Controller {
	c := &Controller{
		job:       New(jobID, req, adapter.Provider()),
		adapter:   adapter,
		policy:    policy.withDefaults(),
		sink:      NewSink(DefaultMaxBufferedLogs),
		logger:    slog.Default(),
		observer:  nopObserver{},
		cancelled: make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(
		slog.String("job_id", jobID),
		slog.String("kind", string(req.Kind)),
		slog.String("provider", adapter.Provider()),
	)
	return c
}

// ID returns the job ID.
func (c *Controller) ID() string {
	return c.job.ID()
}

// Snapshot returns an immutable copy of the job.
func (c *Controller) Snapshot() Snapshot {
	return c.job.Snapshot()
}

// Done is closed once the job reaches a terminal state.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Subscribe attaches the job's single progress subscriber.
func (c *Controller) Subscribe(ctx context.Context) (<-chan Event, error) {
	return c.sink.Subscribe(ctx)
}

// Cancel requests cooperative cancellation. It is idempotent. A job that has not
// started is cancelled immediately; a running job stops before its next poll and
// the result of any in-flight request is discarded.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancel.Do(func() { close(c.cancelled) })

	if !c.started && c.job.State() == StateCreated {
		c.terminate(StateCancelled, NewError(ErrorKindCancelled, 0, ""))
	}
}

// Run drives the job from Created to a terminal state and returns the terminal snapshot.
// Cancelling ctx has the same effect as Cancel. Run may be called only once; later
// calls return ErrInvalidTransition. A job cancelled before Run is returned as is.
func (c *Controller) Run(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		c.logger.Error("run called on a started job")
		return c.Snapshot(), fmt.Errorf("%w: job %s already started", ErrInvalidTransition, c.ID())
	}
	c.started = true
	if c.job.IsTerminal() {
		c.mu.Unlock()
		return c.Snapshot(), nil
	}
	if err := c.job.TransitionTo(StateSubmitting); err != nil {
		c.mu.Unlock()
		return c.Snapshot(), err
	}
	c.mu.Unlock()

	c.observer.JobStarted(c.job.kind)
	c.logger.Info("submitting job",
		slog.Duration("poll_interval", c.policy.PollInterval),
		slog.Duration("timeout", c.policy.Timeout),
		slog.Int("max_attempts", c.policy.MaxAttempts()),
	)
	c.publish()

	if c.submit(ctx) {
		c.poll(ctx)
	}

	<-c.done
	return c.Snapshot(), nil
}

// submit sends the request and moves the job to Queued.
// It returns false if the job ended during submission.
func (c *Controller) submit(ctx context.Context) bool {
	taskID, err := c.adapter.Submit(ctx, c.job.Request())
	if c.isCancelled(ctx) {
		c.terminate(StateCancelled, NewError(ErrorKindCancelled, 0, ""))
		return false
	}
	if err != nil {
		c.logger.Warn("submit failed", slog.String("error", err.Error()))
		c.terminate(StateFailed, Classify(err))
		return false
	}

	c.job.SetProviderTaskID(taskID)
	c.logger = c.logger.With(slog.String("provider_task_id", taskID))

	if err := c.job.TransitionTo(StateQueued); err != nil {
		c.terminate(StateFailed, Classify(err))
		return false
	}
	c.logger.Info("job submitted")
	c.publish()
	return true
}

// isCancelled reports whether cancellation was requested through Cancel or ctx.
func (c *Controller) isCancelled(ctx context.Context) bool {
	select {
	case <-c.cancelled:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// publish recomputes progress and emits the job's current state with new log lines.
func (c *Controller) publish() {
	snap := c.job.Snapshot()
	if !snap.State.IsTerminal() {
		elapsed := time.Duration(0)
		if !snap.SubmittedAt.IsZero() {
			elapsed = time.Since(snap.SubmittedAt)
		}
		snap.Progress = c.job.UpdateProgress(ComputeProgress(snap.State, elapsed, c.policy.Timeout, snap.Progress))
	}

	logs, cursor := c.job.LogsSince(c.logCursor)
	c.logCursor = cursor

	c.sink.Emit(Event{
		JobID:    snap.ID,
		State:    snap.State,
		Progress: snap.Progress,
		Logs:     logs,
		At:       time.Now(),
		Result:   snap.Result,
		Error:    snap.Error,
	})

	if c.onUpdate != nil {
		c.onUpdate(c.job.Snapshot())
	}
}

// succeed stores the artifact and emits the terminal event.
func (c *Controller) succeed(artifact generator.Artifact) {
	c.finish.Do(func() {
		if err := c.job.Succeed(artifact); err != nil {
			c.logger.Error("succeed job", slog.String("error", err.Error()))
			_ = c.job.Finish(StateFailed, Classify(err))
		}
		c.finalize()
	})
}

// terminate moves the job to a terminal failure state and emits the terminal event.
func (c *Controller) terminate(state State, e *Error) {
	c.finish.Do(func() {
		if err := c.job.Finish(state, e); err != nil {
			c.logger.Error("terminate job",
				slog.String("state", string(state)),
				slog.String("error", err.Error()),
			)
		}
		c.finalize()
	})
}

func (c *Controller) finalize() {
	snap := c.job.Snapshot()

	attrs := []any{
		slog.String("state", string(snap.State)),
		slog.Int("progress", snap.Progress),
		slog.Duration("elapsed", snap.CompletedAt.Sub(snap.CreatedAt)),
	}
	if snap.Error != nil {
		attrs = append(attrs, slog.String("error_kind", string(snap.Error.Kind)), slog.String("error", snap.Error.Message))
	}
	c.logger.Info("job finished", attrs...)

	if c.started {
		c.observer.JobFinished(snap.Kind, snap.State, snap.CompletedAt.Sub(snap.CreatedAt))
	}
	c.publish()
	close(c.done)
}
