package job

import (
	"time"

	"github.com/zacjmagee/genjobs/internal/generator"
)

// PollOutcome describes the result of one status query attempt.
type PollOutcome string

// Poll outcomes reported to observers.
const (
	PollOK            PollOutcome = "ok"
	PollUnknown       PollOutcome = "unknown_status"
	PollTransient     PollOutcome = "transient_error"
	PollSkipped       PollOutcome = "skipped"
	PollBusinessError PollOutcome = "business_error"
)

// Observer receives lifecycle notifications, typically to record metrics.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	JobStarted(kind generator.Kind)
	PollCompleted(provider string, outcome PollOutcome)
	JobFinished(kind generator.Kind, state State, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) JobStarted(generator.Kind)                        {}
func (nopObserver) PollCompleted(string, PollOutcome)                {}
func (nopObserver) JobFinished(generator.Kind, State, time.Duration) {}
