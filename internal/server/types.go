// Package server provides the HTTP server for the generation job engine.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/zacjmagee/genjobs/internal/generator"
	"github.com/zacjmagee/genjobs/internal/job"
)

// CreateJobRequest is the HTTP request body for creating a new job.
type CreateJobRequest struct {
	// Kind selects the generator: "image" or "video".
	Kind string `json:"kind" validate:"required,oneof=image video"`
	// Prompt is the text prompt. Required for images and text-to-video.
	Prompt string `json:"prompt" validate:"max=2000"`
	// Image holds image generation parameters.
	Image *ImageParams `json:"image,omitempty"`
	// Video holds video generation parameters.
	Video *VideoParams `json:"video,omitempty"`
}

// ImageParams are the optional image generation parameters.
type ImageParams struct {
	ImageSize           string       `json:"image_size" validate:"omitempty,oneof=square_hd square portrait_4_3 portrait_16_9 landscape_4_3 landscape_16_9"`
	Width               int          `json:"width" validate:"omitempty,min=64,max=4096"`
	Height              int          `json:"height" validate:"omitempty,min=64,max=4096"`
	NumInferenceSteps   int          `json:"num_inference_steps" validate:"omitempty,min=1,max=50"`
	GuidanceScale       float64      `json:"guidance_scale" validate:"omitempty,min=0,max=20"`
	NumImages           int          `json:"num_images" validate:"omitempty,min=1,max=4"`
	Seed                *int64       `json:"seed,omitempty"`
	Loras               []LoraParams `json:"loras" validate:"omitempty,max=5,dive"`
	EnableSafetyChecker *bool        `json:"enable_safety_checker,omitempty"`
	OutputFormat        string       `json:"output_format" validate:"omitempty,oneof=jpeg png"`
}

// LoraParams references a LoRA weight file.
type LoraParams struct {
	Path  string  `json:"path" validate:"required,url"`
	Scale float64 `json:"scale" validate:"min=0,max=4"`
}

// VideoParams are the optional video generation parameters.
type VideoParams struct {
	Model           string `json:"model"`
	PromptOptimizer *bool  `json:"prompt_optimizer,omitempty"`
	// FirstFrameBase64 is a base64-encoded jpeg or png used as the first frame.
	FirstFrameBase64 string `json:"first_frame_base64" validate:"omitempty,base64"`
	CallbackURL      string `json:"callback_url" validate:"omitempty,url"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// State is the initial job state.
	State string `json:"state"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID             string         `json:"id"`
	Kind           string         `json:"kind"`
	Provider       string         `json:"provider"`
	ProviderTaskID string         `json:"provider_task_id,omitempty"`
	Prompt         string         `json:"prompt,omitempty"`
	State          string         `json:"state"`
	Progress       int            `json:"progress"`
	Logs           []string       `json:"logs"`
	Result         *ResultPayload `json:"result,omitempty"`
	Error          *ErrorPayload  `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	SubmittedAt    time.Time      `json:"submitted_at,omitzero"`
	CompletedAt    time.Time      `json:"completed_at,omitzero"`
}

// ListJobsResponse is the HTTP response for listing jobs.
type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ResultPayload describes the output of a successful job.
type ResultPayload struct {
	Files []FilePayload `json:"files"`
	Seed  *int64        `json:"seed,omitempty"`
}

// FilePayload is one generated file. URL is the archived copy when available.
type FilePayload struct {
	URL         string `json:"url"`
	ProviderURL string `json:"provider_url"`
	ContentType string `json:"content_type,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	FileName    string `json:"file_name,omitempty"`
}

// ErrorPayload is the user-facing error of a failed job.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

// EventPayload is the data of one Server-Sent Event.
type EventPayload struct {
	JobID       string         `json:"job_id"`
	State       string         `json:"state"`
	Progress    int            `json:"progress"`
	Logs        []string       `json:"logs,omitempty"`
	DroppedLogs int            `json:"dropped_logs,omitempty"`
	At          time.Time      `json:"at"`
	Result      *ResultPayload `json:"result,omitempty"`
	Error       *ErrorPayload  `json:"error,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Kinds lists the job kinds with a configured provider.
	Kinds []string `json:"kinds"`
}

func toJobResponse(s job.Snapshot) JobResponse {
	logs := s.Logs
	if logs == nil {
		logs = []string{}
	}
	return JobResponse{
		ID:             s.ID,
		Kind:           string(s.Kind),
		Provider:       s.Provider,
		ProviderTaskID: s.ProviderTaskID,
		Prompt:         s.Prompt,
		State:          string(s.State),
		Progress:       s.Progress,
		Logs:           logs,
		Result:         toResultPayload(s.Result),
		Error:          toErrorPayload(s.Error),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		SubmittedAt:    s.SubmittedAt,
		CompletedAt:    s.CompletedAt,
	}
}

func toEventPayload(e job.Event) EventPayload {
	return EventPayload{
		JobID:       e.JobID,
		State:       string(e.State),
		Progress:    e.Progress,
		Logs:        e.Logs,
		DroppedLogs: e.DroppedLogs,
		At:          e.At,
		Result:      toResultPayload(e.Result),
		Error:       toErrorPayload(e.Error),
	}
}

func toResultPayload(a *generator.Artifact) *ResultPayload {
	if a == nil {
		return nil
	}
	files := make([]FilePayload, 0, len(a.Files))
	for _, f := range a.Files {
		u := f.URL
		if f.ArchivedURL != "" {
			u = f.ArchivedURL
		}
		files = append(files, FilePayload{
			URL:         u,
			ProviderURL: f.URL,
			ContentType: f.ContentType,
			Width:       f.Width,
			Height:      f.Height,
			FileName:    f.FileName,
		})
	}
	return &ResultPayload{Files: files, Seed: a.Seed}
}

func toErrorPayload(e *job.Error) *ErrorPayload {
	if e == nil {
		return nil
	}
	return &ErrorPayload{Kind: string(e.Kind), Code: e.Code, Message: e.Message}
}
