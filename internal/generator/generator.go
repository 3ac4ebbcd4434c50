// Package generator provides the common interface for generation providers.
// The fal (image) and MiniMax (video) adapters implement this interface.
package generator

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies which capability a job uses.
type Kind string

// Supported job kinds.
const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Provider names used in logs, metrics and normalization.
const (
	ProviderFal     = "fal"
	ProviderMiniMax = "minimax"
)

// Adapter errors. Adapters wrap client errors with one of these so the job
// engine can classify failures without knowing provider details.
var (
	// ErrSubmission is returned when a job could not be started.
	ErrSubmission = errors.New("submission failed")
	// ErrPoll is returned when a single status query failed. It is transient.
	ErrPoll = errors.New("status poll failed")
	// ErrResultFetch is returned when the provider reported success but the artifact could not be retrieved.
	ErrResultFetch = errors.New("result fetch failed")
)

// BusinessError is a semantic failure flagged by the provider itself,
// such as a rate limit, content policy or insufficient balance.
type BusinessError struct {
	Provider string
	Code     int
	Message  string
}

func (e *BusinessError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: provider error %d: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: provider error: %s", e.Provider, e.Message)
}

// RawStatus is a provider status response before normalization.
type RawStatus struct {
	Value         string   // Provider status string, e.g. IN_PROGRESS or Preparing
	Logs          []string // Provider log lines attached to this response
	Message       string   // Provider failure message, if any
	QueuePosition int      // -1 when unknown
	FileID        string   // Task-style providers return the artifact handle with the final status
}

// File is one downloadable output of a job.
type File struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	ArchivedURL string `json:"archived_url,omitempty"`
}

// Artifact is the final output reference of a successful job.
type Artifact struct {
	Files []File `json:"files"`
	Seed  *int64 `json:"seed,omitempty"`
}

// Clone returns a deep copy of the artifact.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	c := &Artifact{Files: append([]File(nil), a.Files...)}
	if a.Seed != nil {
		seed := *a.Seed
		c.Seed = &seed
	}
	return c
}

// Adapter defines the interface for generation providers.
type Adapter interface {
	// Provider returns the provider name used for status normalization.
	Provider() string

	// Submit starts a generation job and returns the provider's task ID.
	Submit(ctx context.Context, req Request) (taskID string, err error)

	// FetchStatus queries the provider once for the task's current status.
	FetchStatus(ctx context.Context, taskID string) (RawStatus, error)

	// FetchResult retrieves the artifact of a task that reported success.
	// The final raw status is passed so task-style providers can use the returned file handle.
	FetchResult(ctx context.Context, taskID string, final RawStatus) (Artifact, error)
}
