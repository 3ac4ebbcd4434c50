// Package fal provides an HTTP client for the fal.ai queue API used for image generation.
package fal

import "encoding/json"

// Status represents the status of a queued fal request.
type Status string

// Queue statuses returned by the fal status endpoint.
const (
	StatusInQueue    Status = "IN_QUEUE"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// LoraWeight references a LoRA weight file and its scale.
type LoraWeight struct {
	Path  string  `json:"path"`
	Scale float64 `json:"scale"`
}

// ImageSize is either a named preset ("landscape_4_3") or explicit dimensions.
// Exactly one of Preset or Width/Height should be set.
type ImageSize struct {
	Preset string
	Width  int
	Height int
}

// MarshalJSON encodes a preset as a bare string and dimensions as an object.
func (s ImageSize) MarshalJSON() ([]byte, error) {
	if s.Preset != "" || (s.Width == 0 && s.Height == 0) {
		preset := s.Preset
		if preset == "" {
			preset = DefaultImageSize
		}
		return json.Marshal(preset)
	}
	return json.Marshal(struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}{s.Width, s.Height})
}

// Defaults applied to image requests when the caller leaves a field unset.
const (
	DefaultModel             = "fal-ai/flux-lora"
	DefaultImageSize         = "landscape_4_3"
	DefaultInferenceSteps    = 28
	DefaultGuidanceScale     = 3.5
	DefaultNumImages         = 1
	DefaultOutputFormat      = "jpeg"
	DefaultEnableSafetyCheck = true
)

// ImageInput contains the generation parameters for a fal image request.
type ImageInput struct {
	Prompt              string       `json:"prompt"`
	ImageSize           ImageSize    `json:"image_size"`
	NumInferenceSteps   int          `json:"num_inference_steps,omitempty"`
	Seed                *int64       `json:"seed,omitempty"`
	Loras               []LoraWeight `json:"loras,omitempty"`
	GuidanceScale       float64      `json:"guidance_scale,omitempty"`
	NumImages           int          `json:"num_images,omitempty"`
	EnableSafetyChecker *bool        `json:"enable_safety_checker,omitempty"`
	OutputFormat        string       `json:"output_format,omitempty"`
}

// DefaultImageInput returns an input with the provider defaults for the given prompt.
func DefaultImageInput(prompt string) ImageInput {
	safety := DefaultEnableSafetyCheck
	return ImageInput{
		Prompt:              prompt,
		ImageSize:           ImageSize{Preset: DefaultImageSize},
		NumInferenceSteps:   DefaultInferenceSteps,
		GuidanceScale:       DefaultGuidanceScale,
		NumImages:           DefaultNumImages,
		EnableSafetyChecker: &safety,
		OutputFormat:        DefaultOutputFormat,
	}
}

// queueResponse represents the response from the queue submit endpoint.
type queueResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url,omitempty"`
	ResponseURL string `json:"response_url,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// logMessage is a single log entry attached to a status response.
type logMessage struct {
	Message   string `json:"message"`
	Level     string `json:"level,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// statusResponse represents the response from the queue status endpoint.
type statusResponse struct {
	Status        string       `json:"status"`
	QueuePosition *int         `json:"queue_position,omitempty"`
	Logs          []logMessage `json:"logs,omitempty"`
	Error         string       `json:"error,omitempty"`
	Output        *Output      `json:"output,omitempty"`
}

// Image is a single generated image.
type Image struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// Output is the final result of a completed request.
type Output struct {
	Images          []Image            `json:"images"`
	Prompt          string             `json:"prompt,omitempty"`
	Seed            *int64             `json:"seed,omitempty"`
	HasNSFWConcepts []bool             `json:"has_nsfw_concepts,omitempty"`
	Timings         map[string]float64 `json:"timings,omitempty"`
	Error           string             `json:"error,omitempty"`
}

// StatusResult contains the result of querying a request's status.
type StatusResult struct {
	Status        Status
	QueuePosition int      // -1 when the provider did not report a position
	Logs          []string // Log messages in provider order
	Error         string   // Provider error message (only set when Status is StatusFailed)
	Output        *Output  // Inline output, if the provider attached one
}
