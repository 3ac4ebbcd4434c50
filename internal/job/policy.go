package job

import (
	"time"

	"github.com/zacjmagee/genjobs/internal/generator"
)

// Policy defaults.
const (
	DefaultTimeout         = 5 * time.Minute
	DefaultImageInterval   = 1 * time.Second
	DefaultVideoInterval   = 2 * time.Second
	DefaultMaxPollRetries  = 3
	DefaultRetryDelay      = 500 * time.Millisecond
	DefaultMaxSkippedPolls = 5
)

// Policy configures how a job is polled.
type Policy struct {
	// PollInterval is the fixed delay between status polls.
	PollInterval time.Duration
	// Timeout is the ceiling on wall-clock time since submission.
	Timeout time.Duration
	// MaxPollRetries is the number of extra attempts for a failed status query.
	MaxPollRetries int
	// RetryDelay is the fixed delay between those attempts.
	RetryDelay time.Duration
	// MaxSkippedPolls is how many consecutive failed polls are tolerated.
	MaxSkippedPolls int
}

// DefaultPolicy returns the policy for a job kind.
func DefaultPolicy(kind generator.Kind) Policy {
	p := Policy{
		PollInterval:    DefaultImageInterval,
		Timeout:         DefaultTimeout,
		MaxPollRetries:  DefaultMaxPollRetries,
		RetryDelay:      DefaultRetryDelay,
		MaxSkippedPolls: DefaultMaxSkippedPolls,
	}
	if kind == generator.KindVideo {
		p.PollInterval = DefaultVideoInterval
	}
	return p
}

// withDefaults fills unset fields. Negative retry counts mean none.
func (p Policy) withDefaults() Policy {
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultImageInterval
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.MaxPollRetries < 0 {
		p.MaxPollRetries = 0
	}
	if p.RetryDelay < 0 {
		p.RetryDelay = 0
	}
	if p.MaxSkippedPolls < 0 {
		p.MaxSkippedPolls = 0
	}
	return p
}

// MaxAttempts is the number of polls that fit in the timeout.
func (p Policy) MaxAttempts() int {
	p = p.withDefaults()
	return int((p.Timeout + p.PollInterval - 1) / p.PollInterval)
}
