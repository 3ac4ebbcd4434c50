package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zacjmagee/genjobs/internal/generator"
)

// mockAdapter is a testify mock of generator.Adapter.
type mockAdapter struct {
	mock.Mock
	provider string
}

func (m *mockAdapter) Provider() string { return m.provider }

func (m *mockAdapter) Submit(ctx context.Context, req generator.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockAdapter) FetchStatus(ctx context.Context, taskID string) (generator.RawStatus, error) {
	args := m.Called(ctx, taskID)
	return args.Get(0).(generator.RawStatus), args.Error(1)
}

func (m *mockAdapter) FetchResult(ctx context.Context, taskID string, final generator.RawStatus) (generator.Artifact, error) {
	args := m.Called(ctx, taskID, final)
	return args.Get(0).(generator.Artifact), args.Error(1)
}

type step struct {
	raw generator.RawStatus
	err error
}

// scriptedAdapter replays status steps; the last step repeats forever.
type scriptedAdapter struct {
	provider  string
	submitErr error
	steps     []step
	artifact  generator.Artifact
	resultErr error
	onPoll    func(n int)

	submits atomic.Int32
	polls   atomic.Int32
	results atomic.Int32
}

func (s *scriptedAdapter) Provider() string { return s.provider }

func (s *scriptedAdapter) Submit(context.Context, generator.Request) (string, error) {
	s.submits.Add(1)
	if s.submitErr != nil {
		return "", s.submitErr
	}
	return "task-1", nil
}

func (s *scriptedAdapter) FetchStatus(context.Context, string) (generator.RawStatus, error) {
	n := int(s.polls.Add(1))
	if s.onPoll != nil {
		s.onPoll(n)
	}
	st := s.steps[min(n-1, len(s.steps)-1)]
	return st.raw, st.err
}

func (s *scriptedAdapter) FetchResult(context.Context, string, generator.RawStatus) (generator.Artifact, error) {
	s.results.Add(1)
	return s.artifact, s.resultErr
}

type recordingObserver struct {
	mu       sync.Mutex
	started  int
	finished []State
	polls    map[PollOutcome]int
}

func (r *recordingObserver) JobStarted(generator.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recordingObserver) PollCompleted(_ string, outcome PollOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.polls == nil {
		r.polls = map[PollOutcome]int{}
	}
	r.polls[outcome]++
}

func (r *recordingObserver) JobFinished(_ generator.Kind, state State, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, state)
}

func fastPolicy() Policy {
	return Policy{
		PollInterval:    5 * time.Millisecond,
		Timeout:         5 * time.Second,
		MaxPollRetries:  2,
		RetryDelay:      time.Millisecond,
		MaxSkippedPolls: 2,
	}
}

func raw(v string) step { return step{raw: generator.RawStatus{Value: v, QueuePosition: -1}} }

var imageRequest = generator.Request{Kind: generator.KindImage, Prompt: "a cat"}

// runAndCollect subscribes, runs the controller to completion and returns its events.
func runAndCollect(t *testing.T, c *Controller) (Snapshot, []Event) {
	t.Helper()
	ch, err := c.Subscribe(context.Background())
	require.NoError(t, err)

	snap, err := c.Run(context.Background())
	require.NoError(t, err)

	return snap, collect(t, ch)
}

func assertEventInvariants(t *testing.T, events []Event) {
	t.Helper()
	require.NotEmpty(t, events)

	terminal := 0
	prev := 0
	for i, e := range events {
		if e.Terminal() {
			terminal++
			assert.Equal(t, len(events)-1, i, "terminal event must be last")
			assert.True(t, (e.Result != nil) != (e.Error != nil), "terminal event carries exactly one of result or error")
		}
		assert.GreaterOrEqual(t, e.Progress, prev, "progress decreased at event %d", i)
		prev = e.Progress
	}
	assert.Equal(t, 1, terminal)
}

func TestController_ImageJobSucceeds(t *testing.T) {
	adapter := &mockAdapter{provider: generator.ProviderFal}
	adapter.On("Submit", mock.Anything, mock.MatchedBy(func(r generator.Request) bool {
		return r.Prompt == "a cat"
	})).Return("req-123", nil).Once()
	adapter.On("FetchStatus", mock.Anything, "req-123").Return(generator.RawStatus{Value: "IN_QUEUE"}, nil).Once()
	adapter.On("FetchStatus", mock.Anything, "req-123").Return(generator.RawStatus{Value: "IN_PROGRESS", Logs: []string{"step 1"}}, nil).Twice()
	adapter.On("FetchStatus", mock.Anything, "req-123").Return(generator.RawStatus{Value: "COMPLETED"}, nil).Once()
	adapter.On("FetchResult", mock.Anything, "req-123", mock.Anything).Return(generator.Artifact{
		Files: []generator.File{{URL: "https://x/y.jpg", ContentType: "image/jpeg"}},
	}, nil).Once()

	c := NewController("job-1", imageRequest, adapter, fastPolicy())
	snap, events := runAndCollect(t, c)

	assert.Equal(t, StateSucceeded, snap.State)
	require.NotNil(t, snap.Result)
	assert.Equal(t, "https://x/y.jpg", snap.Result.Files[0].URL)
	assert.Nil(t, snap.Error)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, "req-123", snap.ProviderTaskID)
	assert.Equal(t, []string{"step 1", "step 1"}, snap.Logs)
	adapter.AssertNumberOfCalls(t, "FetchStatus", 4)
	adapter.AssertNumberOfCalls(t, "FetchResult", 1)
	adapter.AssertExpectations(t)

	assertEventInvariants(t, events)
	last := events[len(events)-1]
	assert.Equal(t, StateSucceeded, last.State)
	assert.Equal(t, "https://x/y.jpg", last.Result.Files[0].URL)

	select {
	case <-c.Done():
	default:
		t.Error("expected Done to be closed")
	}
}

func TestController_VideoBusinessErrorOnFirstPoll(t *testing.T) {
	adapter := &scriptedAdapter{
		provider: generator.ProviderMiniMax,
		steps: []step{{err: fmt.Errorf("minimax adapter: %w: %w", generator.ErrPoll,
			&generator.BusinessError{Provider: generator.ProviderMiniMax, Code: 1002, Message: "Rate limit exceeded"})}},
	}
	obs := &recordingObserver{}

	c := NewController("job-2", generator.Request{Kind: generator.KindVideo, Prompt: "waves"}, adapter, fastPolicy(), WithObserver(obs))
	snap, events := runAndCollect(t, c)

	assert.Equal(t, StateFailed, snap.State)
	require.NotNil(t, snap.Error)
	assert.Equal(t, ErrorKindProviderBusiness, snap.Error.Kind)
	assert.Equal(t, 1002, snap.Error.Code)
	assert.Equal(t, int32(1), adapter.polls.Load())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), adapter.polls.Load(), "no polls after a business error")

	assertEventInvariants(t, events)
	assert.Equal(t, 1, obs.polls[PollBusinessError])
	assert.Equal(t, []State{StateFailed}, obs.finished)
}

func TestController_ProviderFailureMessage(t *testing.T) {
	adapter := &scriptedAdapter{
		provider: generator.ProviderFal,
		steps: []step{
			raw("IN_QUEUE"),
			{raw: generator.RawStatus{Value: "FAILED", Message: "Rate limit exceeded"}},
		},
	}

	c := NewController("job-3", imageRequest, adapter, fastPolicy())
	snap, events := runAndCollect(t, c)

	assert.Equal(t, StateFailed, snap.State)
	require.NotNil(t, snap.Error)
	assert.Equal(t, ErrorKindProviderBusiness, snap.Error.Kind)
	assert.Contains(t, strings.ToLower(snap.Error.Message), "rate limit")
	assertEventInvariants(t, events)
}

func TestController_MiniMaxFailCarriesProviderMessage(t *testing.T) {
	adapter := &scriptedAdapter{provider: generator.ProviderMiniMax, steps: []step{
		raw("Preparing"),
		{raw: generator.RawStatus{Value: "Fail", Message: "Rate limit exceeded", QueuePosition: -1}},
	}}

	c := NewController("job-4", generator.Request{Kind: generator.KindVideo, Prompt: "x"}, adapter, fastPolicy())
	snap, events := runAndCollect(t, c)

	assert.Equal(t, StateFailed, snap.State)
	require.NotNil(t, snap.Error)
	assert.Equal(t, ErrorKindProviderBusiness, snap.Error.Kind)
	assert.Contains(t, strings.ToLower(snap.Error.Message), "rate limit")
	assertEventInvariants(t, events)
	assert.EqualValues(t, 2, adapter.polls.Load())
}

func TestController_TimesOutNotBefore(t *testing.T) {
	policy := fastPolicy()
	policy.PollInterval = 10 * time.Millisecond
	policy.Timeout = 60 * time.Millisecond

	adapter := &scriptedAdapter{provider: generator.ProviderFal, steps: []step{raw("IN_PROGRESS")}}
	obs := &recordingObserver{}

	c := NewController("job-5", imageRequest, adapter, policy, WithObserver(obs))
	snap, events := runAndCollect(t, c)

	assert.Equal(t, StateTimedOut, snap.State)
	require.NotNil(t, snap.Error)
	assert.Equal(t, ErrorKindTimeout, snap.Error.Kind)
	assert.GreaterOrEqual(t, snap.CompletedAt.Sub(snap.SubmittedAt), policy.Timeout)
	assert.Less(t, snap.Progress, 100)
	assert.GreaterOrEqual(t, snap.Progress, 50)
	assert.Equal(t, int32(0), adapter.results.Load(), "no result fetch after timeout")

	assertEventInvariants(t, events)
	assert.Equal(t, []State{StateTimedOut}, obs.finished)
}

func TestController_CancelWhileProcessing(t *testing.T) {
	var c *Controller
	adapter := &scriptedAdapter{provider: generator.ProviderFal, steps: []step{raw("IN_QUEUE"), raw("IN_PROGRESS")}}
	adapter.onPoll = func(n int) {
		if n == 3 {
			c.Cancel()
		}
	}

	c = NewController("job-6", imageRequest, adapter, fastPolicy())
	snap, events := runAndCollect(t, c)

	assert.Equal(t, StateCancelled, snap.State)
	require.NotNil(t, snap.Error)
	assert.Equal(t, ErrorKindCancelled, snap.Error.Kind)
	assert.Equal(t, int32(3), adapter.polls.Load())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(3), adapter.polls.Load(), "no polls after cancellation")

	assertEventInvariants(t, events)
	cancelled := 0
	for _, e := range events {
		if e.State == StateCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 1, cancelled)
	assert.Equal(t, StateProcessing, events[len(events)-2].State)

	// Idempotent.
	c.Cancel()
	assert.Equal(t, StateCancelled, c.Snapshot().State)
}

func TestController_CancelBeforeRun(t *testing.T) {
	adapter := &scriptedAdapter{provider: generator.ProviderFal, steps: []step{raw("IN_QUEUE")}}
	obs := &recordingObserver{}
	c := NewController("job-7", imageRequest, adapter, fastPolicy(), WithObserver(obs))

	c.Cancel()
	snap, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateCancelled, snap.State)
	assert.Equal(t, int32(0), adapter.submits.Load())
	assert.Zero(t, obs.started)
	assert.Empty(t, obs.finished)
}

func TestController_ContextCancel(t *testing.T) {
	adapter := &scriptedAdapter{provider: generator.ProviderFal, steps: []step{raw("IN_QUEUE")}}
	c := NewController("job-8", imageRequest, adapter, fastPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	snap, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, snap.State)
}

func TestController_RunTwice(t *testing.T) {
	adapter := &scriptedAdapter{provider: generator.ProviderFal, steps: []step{raw("COMPLETED")}}
	c := NewController("job-9", imageRequest, adapter, fastPolicy())

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	snap, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateSucceeded, snap.State)
	assert.Equal(t, int32(1), adapter.submits.Load())
}

func TestController_SubmissionFailure(t *testing.T) {
	adapter := &scriptedAdapter{
		provider:  generator.ProviderFal,
		submitErr: fmt.Errorf("fal adapter: %w: %w", generator.ErrSubmission, errors.New("fal: request failed with status 401")),
		steps:     []step{raw("IN_QUEUE")},
	}

	c := NewController("job-10", imageRequest, adapter, fastPolicy())
	snap, events := runAndCollect(t, c)

	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, ErrorKindSubmission, snap.Error.Kind)
	assert.NotContains(t, snap.Error.Message, "401")
	assert.Empty(t, snap.ProviderTaskID)
	assert.Equal(t, int32(0), adapter.polls.Load())
	assertEventInvariants(t, events)
}

func TestController_ResultFetchFailure(t *testing.T) {
	adapter := &scriptedAdapter{
		provider:  generator.ProviderFal,
		steps:     []step{raw("COMPLETED")},
		resultErr: fmt.Errorf("fal adapter: %w: no images", generator.ErrResultFetch),
	}

	c := NewController("job-11", imageRequest, adapter, fastPolicy())
	snap, events := runAndCollect(t, c)

	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, ErrorKindResultFetch, snap.Error.Kind)
	assert.Equal(t, int32(1), adapter.results.Load())
	assertEventInvariants(t, events)
}

func TestController_TransientErrorsRetriedWithinPoll(t *testing.T) {
	transient := step{err: fmt.Errorf("%w: 503", generator.ErrPoll)}
	adapter := &scriptedAdapter{
		provider: generator.ProviderFal,
		steps:    []step{transient, transient, raw("IN_PROGRESS"), raw("COMPLETED")},
	}
	obs := &recordingObserver{}

	c := NewController("job-12", imageRequest, adapter, fastPolicy(), WithObserver(obs))
	snap, _ := runAndCollect(t, c)

	assert.Equal(t, StateSucceeded, snap.State)
	assert.Equal(t, int32(4), adapter.polls.Load())
	assert.Equal(t, 2, obs.polls[PollTransient])
	assert.Zero(t, obs.polls[PollSkipped])
}

func TestController_TooManySkippedPolls(t *testing.T) {
	adapter := &scriptedAdapter{
		provider: generator.ProviderFal,
		steps:    []step{{err: fmt.Errorf("%w: %w", generator.ErrPoll, errors.New("malformed"))}},
	}
	policy := fastPolicy()
	policy.MaxPollRetries = 1
	policy.MaxSkippedPolls = 2

	c := NewController("job-13", imageRequest, adapter, policy)
	snap, events := runAndCollect(t, c)

	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, ErrorKindPoll, snap.Error.Kind)
	// Three skipped polls of two attempts each.
	assert.Equal(t, int32(6), adapter.polls.Load())
	assert.Len(t, snap.Logs, 2)
	assertEventInvariants(t, events)
}

func TestController_SkippedPollThenRecovers(t *testing.T) {
	failing := step{err: fmt.Errorf("%w: timeout", generator.ErrPoll)}
	adapter := &scriptedAdapter{
		provider: generator.ProviderFal,
		steps:    []step{failing, failing, failing, raw("COMPLETED")},
	}

	c := NewController("job-14", imageRequest, adapter, fastPolicy())
	snap, _ := runAndCollect(t, c)

	assert.Equal(t, StateSucceeded, snap.State)
	require.Len(t, snap.Logs, 1)
	assert.Contains(t, snap.Logs[0], "Status check 1 failed")
}

func TestController_UnknownStatusKeepsPolling(t *testing.T) {
	adapter := &scriptedAdapter{
		provider: generator.ProviderFal,
		steps:    []step{raw("IN_QUEUE"), raw("WARMING_UP"), raw("COMPLETED")},
	}
	obs := &recordingObserver{}

	c := NewController("job-15", imageRequest, adapter, fastPolicy(), WithObserver(obs))
	snap, _ := runAndCollect(t, c)

	assert.Equal(t, StateSucceeded, snap.State)
	require.NotEmpty(t, snap.Logs)
	assert.Contains(t, snap.Logs[0], "WARMING_UP")
	assert.Equal(t, 1, obs.polls[PollUnknown])
}

func TestController_StatesNeverGoBackwards(t *testing.T) {
	adapter := &scriptedAdapter{
		provider: generator.ProviderMiniMax,
		steps:    []step{raw("Queueing"), raw("Processing"), raw("Preparing"), raw("Processing"), raw("Success")},
		artifact: generator.Artifact{Files: []generator.File{{URL: "https://cdn/v.mp4"}}},
	}

	c := NewController("job-16", generator.Request{Kind: generator.KindVideo, Prompt: "x"}, adapter, fastPolicy())
	snap, events := runAndCollect(t, c)
	assert.Equal(t, StateSucceeded, snap.State)

	order := map[State]int{StateSubmitting: 1, StateQueued: 2, StateProcessing: 3, StateSucceeded: 4}
	prev := 0
	for _, e := range events {
		assert.GreaterOrEqual(t, order[e.State], prev, "state went backwards to %s", e.State)
		prev = order[e.State]
	}
	assertEventInvariants(t, events)
}

func TestController_UpdateHook(t *testing.T) {
	adapter := &scriptedAdapter{provider: generator.ProviderFal, steps: []step{raw("COMPLETED")}}

	var mu sync.Mutex
	var seen []State
	hook := func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.State)
	}

	c := NewController("job-17", imageRequest, adapter, fastPolicy(), WithUpdateHook(hook))
	_, err := c.Run(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, StateSucceeded, seen[len(seen)-1])
}

func TestController_LogBufferDropsOldestUndelivered(t *testing.T) {
	logs := func(lines ...string) step {
		return step{raw: generator.RawStatus{Value: "IN_PROGRESS", Logs: lines, QueuePosition: -1}}
	}
	adapter := &scriptedAdapter{
		provider: generator.ProviderFal,
		steps:    []step{logs("one", "two"), logs("three"), logs("four"), raw("COMPLETED")},
	}

	c := NewController("job-18", imageRequest, adapter, fastPolicy(), WithLogBuffer(1))
	final, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three", "four"}, final.Logs, "the job keeps every line")

	// Nobody was listening while the job ran, so the sink kept only the newest line.
	events, err := c.Subscribe(context.Background())
	require.NoError(t, err)

	var delivered []string
	dropped := 0
	for ev := range events {
		delivered = append(delivered, ev.Logs...)
		dropped += ev.DroppedLogs
	}
	assert.LessOrEqual(t, len(delivered), 1)
	assert.Equal(t, 4-len(delivered), dropped)
}

func TestPolicy_MaxAttempts(t *testing.T) {
	assert.Equal(t, 300, Policy{PollInterval: time.Second, Timeout: 5 * time.Minute}.MaxAttempts())
	assert.Equal(t, 4, Policy{PollInterval: 3 * time.Second, Timeout: 10 * time.Second}.MaxAttempts())
	assert.Equal(t, 150, DefaultPolicy(generator.KindVideo).MaxAttempts())
}
