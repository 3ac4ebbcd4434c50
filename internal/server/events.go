package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/zacjmagee/genjobs/internal/job"
)

// Events handles GET /jobs/{id}/events by streaming the job's progress as
// Server-Sent Events. Each event is named "progress", or "done" for the
// terminal one, and the stream ends after the terminal event.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	rc := http.NewResponseController(w)

	events, err := h.service.Subscribe(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrAlreadySubscribed) {
			writeError(w, http.StatusConflict, "job already has a subscriber", "ALREADY_SUBSCRIBED")
			return
		}
		h.writeLookupError(w, jobID, err, "failed to subscribe to job", "JOB_SUBSCRIBE_FAILED")
		return
	}

	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("event stream cannot be flushed", slog.String("job_id", jobID), slog.String("error", err.Error()))
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for seq := 1; ; {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			_ = rc.Flush()
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, seq, e); err != nil {
				h.logger.Warn("write event failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
				return
			}
			_ = rc.Flush()
			seq++
		}
	}
}

func writeEvent(w io.Writer, seq int, e job.Event) error {
	data, err := json.Marshal(toEventPayload(e))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	name := "progress"
	if e.Terminal() {
		name = "done"
	}

	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, name, data)
	return err
}
