package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/zacjmagee/genjobs/internal/generator"
	"github.com/zacjmagee/genjobs/internal/job/id"
)

// Service errors.
var (
	// ErrUnsupportedKind is returned when no adapter is registered for a job kind.
	ErrUnsupportedKind = errors.New("no provider configured for job kind")
	// ErrJobRunning is returned when an operation needs a finished job.
	ErrJobRunning = errors.New("job is still running")
	// ErrJobFinished is returned when an operation needs a live job.
	ErrJobFinished = errors.New("job already finished")
	// ErrShuttingDown is returned when jobs are created after Shutdown.
	ErrShuttingDown = errors.New("service is shutting down")
)

// Service creates and tracks generation jobs. Each job runs in its own goroutine
// under a Controller; the repository keeps the latest snapshot of every job.
type Service struct {
	repo     Repository
	logger   *slog.Logger
	observer Observer
	adapters map[generator.Kind]generator.Adapter
	policies map[generator.Kind]Policy
	newID    func() string
	logCap   int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	live     map[string]*Controller
	shutdown bool
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithAdapter registers the adapter used for a job kind.
func WithAdapter(kind generator.Kind, a generator.Adapter) ServiceOption {
	return func(s *Service) {
		s.adapters[kind] = a
	}
}

// WithPolicy sets the polling policy for a job kind.
func WithPolicy(kind generator.Kind, p Policy) ServiceOption {
	return func(s *Service) {
		s.policies[kind] = p
	}
}

// WithServiceObserver sets the observer passed to every controller.
func WithServiceObserver(o Observer) ServiceOption {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithEventLogBuffer sets how many undelivered log lines each job's sink keeps.
func WithEventLogBuffer(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.logCap = n
		}
	}
}

// WithIDGenerator overrides job ID generation.
func WithIDGenerator(fn func() string) ServiceOption {
	return func(s *Service) {
		s.newID = fn
	}
}

// NewService creates a new Service.
func NewService(repo Repository, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		repo:     repo,
		logger:   logger,
		observer: nopObserver{},
		adapters: make(map[generator.Kind]generator.Adapter),
		policies: make(map[generator.Kind]Policy),
		newID:    id.Generate,
		logCap:   DefaultMaxBufferedLogs,
		ctx:      ctx,
		cancel:   cancel,
		live:     make(map[string]*Controller),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Kinds returns the job kinds that have a configured adapter.
func (s *Service) Kinds() []generator.Kind {
	kinds := make([]generator.Kind, 0, len(s.adapters))
	for k := range s.adapters {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// CreateJob validates the request, creates a job and starts it in the background.
// The returned snapshot is taken before submission.
func (s *Service) CreateJob(ctx context.Context, req generator.Request) (Snapshot, error) {
	if err := req.Validate(); err != nil {
		return Snapshot{}, err
	}
	adapter, ok := s.adapters[req.Kind]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnsupportedKind, req.Kind)
	}
	policy, ok := s.policies[req.Kind]
	if !ok {
		policy = DefaultPolicy(req.Kind)
	}

	jobID := s.newID()
	ctrl := NewController(jobID, req, adapter, policy,
		WithLogger(s.logger),
		WithObserver(s.observer),
		WithLogBuffer(s.logCap),
		WithUpdateHook(s.save),
	)
	snap := ctrl.Snapshot()

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return Snapshot{}, ErrShuttingDown
	}
	s.live[jobID] = ctrl
	s.wg.Add(1)
	s.mu.Unlock()

	if err := s.repo.Save(ctx, snap); err != nil {
		s.forget(jobID)
		s.wg.Done()
		s.logger.Error("failed to save job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return Snapshot{}, err
	}

	s.logger.Info("creating new job",
		slog.String("job_id", jobID),
		slog.String("kind", string(req.Kind)),
		slog.String("provider", adapter.Provider()),
	)

	// Jobs outlive the request that created them; Shutdown cancels them.
	go func() {
		defer s.wg.Done()
		defer s.forget(jobID)

		final, err := ctrl.Run(s.ctx)
		if err != nil {
			s.logger.Error("job run failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
		}
		s.save(final)
	}()

	return snap, nil
}

func (s *Service) save(snap Snapshot) {
	// The repository outlives any single request, so use the service context without its cancellation.
	if err := s.repo.Save(context.WithoutCancel(s.ctx), snap); err != nil {
		s.logger.Error("failed to save job snapshot",
			slog.String("job_id", snap.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) forget(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, jobID)
}

func (s *Service) controller(jobID string) (*Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.live[jobID]
	return c, ok
}

// GetJob retrieves the latest snapshot of a job.
func (s *Service) GetJob(ctx context.Context, jobID string) (Snapshot, error) {
	if c, ok := s.controller(jobID); ok {
		return c.Snapshot(), nil
	}
	return s.repo.FindByID(ctx, jobID)
}

// ListJobs returns all jobs, newest first.
func (s *Service) ListJobs(ctx context.Context) ([]Snapshot, error) {
	snaps, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for i, snap := range snaps {
		if c, ok := s.controller(snap.ID); ok {
			snaps[i] = c.Snapshot()
		}
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps, nil
}

// CancelJob requests cancellation of a running job and returns its snapshot.
// Cancellation is cooperative: the returned snapshot may still be non-terminal.
func (s *Service) CancelJob(ctx context.Context, jobID string) (Snapshot, error) {
	if c, ok := s.controller(jobID); ok {
		s.logger.Info("cancelling job", slog.String("job_id", jobID))
		c.Cancel()
		return c.Snapshot(), nil
	}
	snap, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return Snapshot{}, err
	}
	return snap, fmt.Errorf("%w: %s", ErrJobFinished, snap.State)
}

// DeleteJob removes a finished job.
func (s *Service) DeleteJob(ctx context.Context, jobID string) error {
	if _, ok := s.controller(jobID); ok {
		return ErrJobRunning
	}
	return s.repo.Delete(ctx, jobID)
}

// Wait blocks until the job is terminal or ctx is done and returns its snapshot.
func (s *Service) Wait(ctx context.Context, jobID string) (Snapshot, error) {
	if c, ok := s.controller(jobID); ok {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		}
		return c.Snapshot(), nil
	}
	return s.repo.FindByID(ctx, jobID)
}

// Subscribe attaches to a job's progress events. For a finished job the channel
// delivers the terminal event alone and is then closed.
func (s *Service) Subscribe(ctx context.Context, jobID string) (<-chan Event, error) {
	if c, ok := s.controller(jobID); ok {
		return c.Subscribe(ctx)
	}

	snap, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !snap.State.IsTerminal() {
		// Controller already gone but the final snapshot is not saved yet.
		return nil, ErrJobNotFound
	}

	ch := make(chan Event, 1)
	ch <- Event{
		JobID:    snap.ID,
		State:    snap.State,
		Progress: snap.Progress,
		At:       snap.CompletedAt,
		Result:   snap.Result,
		Error:    snap.Error,
	}
	close(ch)
	return ch, nil
}

// Shutdown cancels every running job and waits for them to finish or for ctx to be done.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	n := len(s.live)
	s.mu.Unlock()

	s.logger.Info("shutting down job service", slog.Int("running_jobs", n))
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}
