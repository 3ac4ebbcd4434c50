// Package minimax provides an HTTP client for the MiniMax video generation task API.
package minimax

import "fmt"

// Status represents the status of a MiniMax video generation task.
type Status string

// Task statuses returned by the query endpoint. The API uses "Fail", not "Failed",
// but both spellings have been observed.
const (
	StatusQueueing   Status = "Queueing"
	StatusPreparing  Status = "Preparing"
	StatusProcessing Status = "Processing"
	StatusSuccess    Status = "Success"
	StatusFail       Status = "Fail"
	StatusFailed     Status = "Failed"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFail, StatusFailed:
		return true
	default:
		return false
	}
}

// DefaultModel is the only video model the API currently accepts.
const DefaultModel = "video-01"

// Business error codes carried in base_resp.status_code.
const (
	CodeSuccess             = 0
	CodeUnknown             = 1000
	CodeTimeout             = 1001
	CodeRateLimited         = 1002
	CodeAuthFailed          = 1004
	CodeInsufficientBalance = 1008
	CodeInternalError       = 1013
	CodeSensitivePrompt     = 1026
	CodeSensitiveVideo      = 1027
	CodeTokenRateLimited    = 1039
	CodeInvalidParameters   = 2013
)

var codeMessages = map[int]string{
	CodeSuccess:             "Success",
	CodeUnknown:             "Unknown error",
	CodeTimeout:             "Timeout",
	CodeRateLimited:         "Rate limit exceeded",
	CodeAuthFailed:          "Authentication failed",
	CodeInsufficientBalance: "Insufficient account balance",
	CodeInternalError:       "Internal service error",
	CodeSensitivePrompt:     "Video description contains sensitive content",
	CodeSensitiveVideo:      "Generated video contains sensitive content",
	CodeTokenRateLimited:    "Rate limit of tokens exceeded",
	CodeInvalidParameters:   "Invalid parameters",
}

// CodeMessage returns the human-readable description of a business error code.
// The second return value is false for codes not in the published table.
func CodeMessage(code int) (string, bool) {
	msg, ok := codeMessages[code]
	return msg, ok
}

// APIError is a provider-level failure reported through base_resp, typically with HTTP 200.
type APIError struct {
	Code    int
	Message string // status_msg as returned by the provider
}

func (e *APIError) Error() string {
	return fmt.Sprintf("minimax: api error %d: %s", e.Code, e.Description())
}

// Description returns the provider message, or the documented meaning of the code.
func (e *APIError) Description() string {
	if e.Message != "" {
		return e.Message
	}
	if msg, ok := CodeMessage(e.Code); ok {
		return msg
	}
	return "Unknown error"
}

// baseResp is embedded in every MiniMax response.
type baseResp struct {
	StatusCode int    `json:"status_code"`
	StatusMsg  string `json:"status_msg"`
}

func (b *baseResp) err() error {
	if b == nil || b.StatusCode == CodeSuccess {
		return nil
	}
	return &APIError{Code: b.StatusCode, Message: b.StatusMsg}
}

// GenerationRequest is the body of a video generation request.
type GenerationRequest struct {
	Model           string `json:"model"`
	Prompt          string `json:"prompt,omitempty"`
	PromptOptimizer *bool  `json:"prompt_optimizer,omitempty"`
	FirstFrameImage string `json:"first_frame_image,omitempty"` // data URL or base64
	CallbackURL     string `json:"callback_url,omitempty"`
}

// generationResponse represents the response from the video_generation endpoint.
type generationResponse struct {
	TaskID   string    `json:"task_id"`
	BaseResp *baseResp `json:"base_resp"`
}

// queryResponse represents the response from the query endpoint.
type queryResponse struct {
	TaskID   string    `json:"task_id"`
	Status   string    `json:"status"`
	FileID   string    `json:"file_id,omitempty"`
	BaseResp *baseResp `json:"base_resp"`
}

// fileResponse represents the response from the files/retrieve endpoint.
type fileResponse struct {
	FileID      string    `json:"file_id,omitempty"`
	Bytes       int64     `json:"bytes,omitempty"`
	CreatedAt   int64     `json:"created_at,omitempty"`
	Filename    string    `json:"filename,omitempty"`
	Purpose     string    `json:"purpose,omitempty"`
	DownloadURL string    `json:"download_url"`
	BaseResp    *baseResp `json:"base_resp"`
}

// TaskStatus contains the result of querying a task.
type TaskStatus struct {
	TaskID string
	Status Status
	FileID string // Only set when Status is StatusSuccess
	// Message is the provider's status_msg, only set for a failed task.
	Message string
}

// File describes a generated file ready for download.
type File struct {
	FileID      string
	Filename    string
	Bytes       int64
	DownloadURL string
}
