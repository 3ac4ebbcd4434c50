package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zacjmagee/genjobs/internal/generator"
)

// poll runs the status loop until the job reaches a terminal state.
//
// Each iteration sleeps for the poll interval, then checks cancellation, then the
// timeout, then queries the provider. Cancellation and timeout are only observed at
// the top of an iteration; an in-flight query completes and its result is discarded.
func (c *Controller) poll(ctx context.Context) {
	provider := c.adapter.Provider()
	taskID := c.job.Snapshot().ProviderTaskID
	submittedAt := c.job.SubmittedAt()
	skipped := 0

	timer := time.NewTimer(c.policy.PollInterval)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-c.cancelled:
		case <-ctx.Done():
		case <-timer.C:
		}

		if c.isCancelled(ctx) {
			c.logger.Info("job cancelled", slog.Int("attempt", attempt))
			c.terminate(StateCancelled, NewError(ErrorKindCancelled, 0, ""))
			return
		}

		if elapsed := time.Since(submittedAt); elapsed > c.policy.Timeout {
			c.logger.Warn("job timed out", slog.Duration("elapsed", elapsed), slog.Int("attempt", attempt))
			c.terminate(StateTimedOut, NewError(ErrorKindTimeout, 0,
				fmt.Sprintf("The job did not finish within %s.", c.policy.Timeout)))
			return
		}

		raw, err := c.fetchStatus(ctx, taskID)
		if c.isCancelled(ctx) {
			c.logger.Info("job cancelled during status poll", slog.Int("attempt", attempt))
			c.terminate(StateCancelled, NewError(ErrorKindCancelled, 0, ""))
			return
		}

		if err != nil {
			var be *generator.BusinessError
			if errors.As(err, &be) {
				c.observer.PollCompleted(provider, PollBusinessError)
				c.logger.Warn("provider rejected job", slog.Int("code", be.Code), slog.String("message", be.Message))
				c.terminate(StateFailed, Classify(err))
				return
			}

			skipped++
			c.observer.PollCompleted(provider, PollSkipped)
			c.logger.Warn("status poll skipped",
				slog.Int("attempt", attempt),
				slog.Int("consecutive_skipped", skipped),
				slog.String("error", err.Error()),
			)
			if skipped > c.policy.MaxSkippedPolls {
				c.terminate(StateFailed, NewError(ErrorKindPoll, 0, ""))
				return
			}
			c.job.AppendLogs(fmt.Sprintf("Status check %d failed, retrying.", attempt))
			c.publish()
			timer.Reset(c.policy.PollInterval)
			continue
		}
		skipped = 0

		c.job.AppendLogs(raw.Logs...)

		phase := generator.Normalize(provider, raw.Value)
		if phase == generator.PhaseUnknown {
			c.observer.PollCompleted(provider, PollUnknown)
		} else {
			c.observer.PollCompleted(provider, PollOK)
		}

		if done := c.apply(ctx, taskID, phase, raw); done {
			return
		}

		c.publish()
		timer.Reset(c.policy.PollInterval)
	}
}

// apply moves the job according to a normalized status. It returns true once the job is terminal.
func (c *Controller) apply(ctx context.Context, taskID string, phase generator.Phase, raw generator.RawStatus) bool {
	switch phase {
	case generator.PhaseQueued:
		// A provider may report queued again after processing began; stay in Processing.
		if c.job.State() == StateProcessing {
			return false
		}
		c.transition(StateQueued)
	case generator.PhaseProcessing:
		c.transition(StateProcessing)
	case generator.PhaseSuccess:
		artifact, err := c.adapter.FetchResult(ctx, taskID, raw)
		if err != nil {
			c.logger.Warn("result fetch failed", slog.String("error", err.Error()))
			c.terminate(StateFailed, Classify(fmt.Errorf("%w: %w", generator.ErrResultFetch, err)))
			return true
		}
		c.logger.Info("result fetched", slog.Int("files", len(artifact.Files)))
		c.succeed(artifact)
		return true
	case generator.PhaseFailure:
		c.logger.Warn("provider reported failure", slog.String("status", raw.Value), slog.String("message", raw.Message))
		c.terminate(StateFailed, NewError(ErrorKindProviderBusiness, 0, raw.Message))
		return true
	default:
		c.logger.Warn("unrecognized provider status", slog.String("status", raw.Value))
		c.job.AppendLogs(fmt.Sprintf("Provider returned unrecognized status %q.", raw.Value))
	}
	return false
}

func (c *Controller) transition(state State) {
	if err := c.job.TransitionTo(state); err != nil {
		c.logger.Error("state transition", slog.String("error", err.Error()))
	}
}

// fetchStatus queries the provider, retrying transient failures with a fixed delay.
// Business errors are returned at once.
func (c *Controller) fetchStatus(ctx context.Context, taskID string) (generator.RawStatus, error) {
	var lastErr error
	for i := 0; i <= c.policy.MaxPollRetries; i++ {
		if i > 0 {
			select {
			case <-c.cancelled:
				return generator.RawStatus{}, lastErr
			case <-ctx.Done():
				return generator.RawStatus{}, lastErr
			case <-time.After(c.policy.RetryDelay):
			}
		}

		raw, err := c.adapter.FetchStatus(ctx, taskID)
		if err == nil {
			return raw, nil
		}

		var be *generator.BusinessError
		if errors.As(err, &be) {
			return generator.RawStatus{}, err
		}

		c.observer.PollCompleted(c.adapter.Provider(), PollTransient)
		lastErr = err
	}
	return generator.RawStatus{}, lastErr
}
