package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zacjmagee/genjobs/internal/generator"
)

// ErrAlreadySubscribed is returned when a second subscriber attaches to a sink.
var ErrAlreadySubscribed = errors.New("job already has a subscriber")

// DefaultMaxBufferedLogs is the number of undelivered log lines a sink keeps.
const DefaultMaxBufferedLogs = 256

// Event is one progress notification for a job.
// Exactly one terminal event is emitted per job, carrying Result or Error.
type Event struct {
	JobID       string              `json:"job_id"`
	State       State               `json:"state"`
	Progress    int                 `json:"progress"`
	Logs        []string            `json:"logs,omitempty"`
	DroppedLogs int                 `json:"dropped_logs,omitempty"`
	At          time.Time           `json:"at"`
	Result      *generator.Artifact `json:"result,omitempty"`
	Error       *Error              `json:"error,omitempty"`
}

// Terminal returns true if this is the job's final event.
func (e Event) Terminal() bool {
	return e.State.IsTerminal()
}

// Sink buffers job events for a single subscriber.
//
// Emit never blocks. Undelivered events in the same non-terminal state are merged,
// so the buffer holds at most one event per state change. When more than the
// configured number of log lines are waiting, the oldest lines are dropped and
// counted in DroppedLogs. State and terminal events are never dropped, and
// nothing is accepted after the terminal event.
type Sink struct {
	mu         sync.Mutex
	pending    []Event
	logCount   int
	maxLogs    int
	terminal   bool
	subscribed bool
	notify     chan struct{}
}

// NewSink creates a sink that buffers at most maxLogs undelivered log lines.
func NewSink(maxLogs int) *Sink {
	if maxLogs <= 0 {
		maxLogs = DefaultMaxBufferedLogs
	}
	return &Sink{
		maxLogs: maxLogs,
		notify:  make(chan struct{}, 1),
	}
}

// Emit queues an event. It returns false if the terminal event was already emitted.
func (s *Sink) Emit(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminal {
		return false
	}
	if e.Terminal() {
		s.terminal = true
	}

	e.Logs = append([]string(nil), e.Logs...)
	if n := len(s.pending); n > 0 && !e.Terminal() && s.pending[n-1].State == e.State {
		last := &s.pending[n-1]
		last.Progress = e.Progress
		last.At = e.At
		last.Logs = append(last.Logs, e.Logs...)
		last.DroppedLogs += e.DroppedLogs
	} else {
		s.pending = append(s.pending, e)
	}
	s.logCount += len(e.Logs)
	s.trimLogs()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

// trimLogs drops the oldest buffered log lines beyond maxLogs.
func (s *Sink) trimLogs() {
	for i := 0; s.logCount > s.maxLogs && i < len(s.pending); i++ {
		ev := &s.pending[i]
		drop := min(len(ev.Logs), s.logCount-s.maxLogs)
		if drop == 0 {
			continue
		}
		ev.Logs = ev.Logs[drop:]
		ev.DroppedLogs += drop
		s.logCount -= drop
	}
}

// Subscribe attaches the single subscriber. Buffered events are delivered first.
// The channel is closed after the terminal event or when ctx is done. A subscriber
// whose ctx ends before the terminal event detaches: its undelivered events go
// back to the buffer and the sink accepts a new subscriber.
func (s *Sink) Subscribe(ctx context.Context) (<-chan Event, error) {
	s.mu.Lock()
	if s.subscribed {
		s.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	s.subscribed = true
	s.mu.Unlock()

	out := make(chan Event)
	go s.pump(ctx, out)
	return out, nil
}

func (s *Sink) pump(ctx context.Context, out chan<- Event) {
	defer close(out)

	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.logCount = 0
		finished := s.terminal
		s.mu.Unlock()

		for i, e := range batch {
			select {
			case out <- e:
			case <-ctx.Done():
				s.detach(batch[i:])
				return
			}
		}

		if finished {
			s.mu.Lock()
			drained := len(s.pending) == 0
			s.mu.Unlock()
			if drained {
				return
			}
			continue
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			s.detach(nil)
			return
		}
	}
}

// detach requeues undelivered events ahead of anything emitted since and frees
// the subscriber slot.
func (s *Sink) detach(undelivered []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(undelivered) > 0 {
		s.pending = append(append([]Event(nil), undelivered...), s.pending...)
		s.logCount = 0
		for _, e := range s.pending {
			s.logCount += len(e.Logs)
		}
		s.trimLogs()
	}
	s.subscribed = false
}
