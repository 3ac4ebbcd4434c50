package generator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/zacjmagee/genjobs/internal/minimax"
)

// ErrNoFileID is returned when a task reports success without a file handle.
var ErrNoFileID = errors.New("no file id in final status")

// MiniMaxAdapter adapts the MiniMax client to the Adapter interface.
type MiniMaxAdapter struct {
	client minimax.Client
}

// NewMiniMaxAdapter creates a new MiniMax generator adapter.
func NewMiniMaxAdapter(client minimax.Client) *MiniMaxAdapter {
	return &MiniMaxAdapter{client: client}
}

// Provider returns the provider name.
func (a *MiniMaxAdapter) Provider() string {
	return ProviderMiniMax
}

// Submit starts a video generation task.
func (a *MiniMaxAdapter) Submit(ctx context.Context, req Request) (string, error) {
	taskID, err := a.client.Generate(ctx, toGenerationRequest(req))
	if err != nil {
		return "", fmt.Errorf("minimax adapter: %w: %w", ErrSubmission, asBusinessError(err))
	}
	return taskID, nil
}

// FetchStatus queries the task status once.
func (a *MiniMaxAdapter) FetchStatus(ctx context.Context, taskID string) (RawStatus, error) {
	status, err := a.client.Query(ctx, taskID)
	if err != nil {
		return RawStatus{}, fmt.Errorf("minimax adapter: %w: %w", ErrPoll, asBusinessError(err))
	}

	return RawStatus{
		Value:         string(status.Status),
		QueuePosition: -1,
		FileID:        status.FileID,
		Message:       status.Message,
	}, nil
}

// FetchResult resolves the file handle of the final status into a download URL.
func (a *MiniMaxAdapter) FetchResult(ctx context.Context, _ string, final RawStatus) (Artifact, error) {
	if final.FileID == "" {
		return Artifact{}, fmt.Errorf("minimax adapter: %w: %w", ErrResultFetch, ErrNoFileID)
	}

	f, err := a.client.RetrieveFile(ctx, final.FileID)
	if err != nil {
		return Artifact{}, fmt.Errorf("minimax adapter: %w: %w", ErrResultFetch, asBusinessError(err))
	}

	return Artifact{Files: []File{{
		URL:         f.DownloadURL,
		ContentType: "video/mp4",
		FileName:    f.Filename,
	}}}, nil
}

func toGenerationRequest(req Request) minimax.GenerationRequest {
	opts := req.Video

	optimize := true
	if opts.PromptOptimizer != nil {
		optimize = *opts.PromptOptimizer
	}

	out := minimax.GenerationRequest{
		Model:           opts.Model,
		Prompt:          req.Prompt,
		PromptOptimizer: &optimize,
		CallbackURL:     opts.CallbackURL,
	}
	if out.Model == "" {
		out.Model = minimax.DefaultModel
	}
	if len(opts.FirstFrame) > 0 {
		out.FirstFrameImage = dataURL(opts.FirstFrame)
	}
	return out
}

// dataURL encodes image bytes as a base64 data URL with a sniffed content type.
func dataURL(b []byte) string {
	return "data:" + http.DetectContentType(b) + ";base64," + base64.StdEncoding.EncodeToString(b)
}

// asBusinessError converts a MiniMax API error into a BusinessError, keeping other errors as is.
func asBusinessError(err error) error {
	var apiErr *minimax.APIError
	if errors.As(err, &apiErr) {
		return &BusinessError{
			Provider: ProviderMiniMax,
			Code:     apiErr.Code,
			Message:  apiErr.Description(),
		}
	}
	return err
}

// Compile-time check that MiniMaxAdapter implements Adapter.
var _ Adapter = (*MiniMaxAdapter)(nil)
