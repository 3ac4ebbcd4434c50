package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/zacjmagee/genjobs/internal/generator"
	"github.com/zacjmagee/genjobs/internal/job"
)

// maxBodyBytes bounds a create request; a 20MB first frame is about 27MB in base64.
const maxBodyBytes = 32 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   *job.Service
	validator *validator.Validate
	logger    *slog.Logger
	heartbeat time.Duration
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithHeartbeat sets how often an idle event stream sends a keep-alive comment.
func WithHeartbeat(d time.Duration) HandlerOption {
	return func(h *Handlers) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
		heartbeat: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	kinds := h.service.Kinds()
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Kinds: names})
}

// CreateJob handles POST /jobs requests.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "BODY_TOO_LARGE")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	genReq, err := toGeneratorRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	created, err := h.service.CreateJob(r.Context(), genReq)
	if err != nil {
		switch {
		case errors.Is(err, generator.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error(), "INVALID_REQUEST")
		case errors.Is(err, job.ErrUnsupportedKind):
			writeError(w, http.StatusUnprocessableEntity, err.Error(), "UNSUPPORTED_KIND")
		case errors.Is(err, job.ErrShuttingDown):
			writeError(w, http.StatusServiceUnavailable, "service is shutting down", "SHUTTING_DOWN")
		default:
			h.logger.Error("failed to create job",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		}
		return
	}

	h.logger.Info("job created",
		slog.String("job_id", created.ID),
		slog.String("kind", req.Kind),
		slog.Int("prompt_length", len(req.Prompt)),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:    created.ID,
		State: string(created.State),
	})
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, 0, len(snaps))}
	for _, s := range snaps {
		resp.Jobs = append(resp.Jobs, toJobResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	snap, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeLookupError(w, jobID, err, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(snap))
}

// CancelJob handles POST /jobs/{id}/cancel requests. Cancellation is
// cooperative, so the returned job may not be terminal yet.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	snap, err := h.service.CancelJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobFinished) {
			writeError(w, http.StatusConflict, fmt.Sprintf("job already finished with state %s", snap.State), "JOB_FINISHED")
			return
		}
		h.writeLookupError(w, jobID, err, "failed to cancel job", "JOB_CANCEL_FAILED")
		return
	}

	writeJSON(w, http.StatusAccepted, toJobResponse(snap))
}

// DeleteJob handles DELETE /jobs/{id} requests for finished jobs.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	if err := h.service.DeleteJob(r.Context(), jobID); err != nil {
		if errors.Is(err, job.ErrJobRunning) {
			writeError(w, http.StatusConflict, "job is still running; cancel it first", "JOB_RUNNING")
			return
		}
		h.writeLookupError(w, jobID, err, "failed to delete job", "JOB_DELETE_FAILED")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) writeLookupError(w http.ResponseWriter, jobID string, err error, message, code string) {
	if errors.Is(err, job.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	}
	h.logger.Error(message,
		slog.String("job_id", jobID),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, message, code)
}

// toGeneratorRequest maps the HTTP DTO to the domain request.
func toGeneratorRequest(req CreateJobRequest) (generator.Request, error) {
	out := generator.Request{
		Kind:   generator.Kind(req.Kind),
		Prompt: req.Prompt,
	}

	if p := req.Image; p != nil {
		out.Image = generator.ImageOptions{
			Size:                p.ImageSize,
			Width:               p.Width,
			Height:              p.Height,
			Steps:               p.NumInferenceSteps,
			GuidanceScale:       p.GuidanceScale,
			NumImages:           p.NumImages,
			Seed:                p.Seed,
			EnableSafetyChecker: p.EnableSafetyChecker,
			OutputFormat:        p.OutputFormat,
		}
		for _, l := range p.Loras {
			out.Image.Loras = append(out.Image.Loras, generator.Lora{Path: l.Path, Scale: l.Scale})
		}
	}

	if p := req.Video; p != nil {
		out.Video = generator.VideoOptions{
			Model:           p.Model,
			PromptOptimizer: p.PromptOptimizer,
			CallbackURL:     p.CallbackURL,
		}
		if p.FirstFrameBase64 != "" {
			frame, err := base64.StdEncoding.DecodeString(p.FirstFrameBase64)
			if err != nil {
				return generator.Request{}, fmt.Errorf("first_frame_base64 is not valid base64: %w", err)
			}
			out.Video.FirstFrame = frame
		}
	}

	return out, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
