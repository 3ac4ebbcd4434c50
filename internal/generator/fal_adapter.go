package generator

import (
	"context"
	"fmt"

	"github.com/zacjmagee/genjobs/internal/fal"
)

// FalAdapter adapts the fal queue client to the Adapter interface.
type FalAdapter struct {
	client fal.Client
}

// NewFalAdapter creates a new fal generator adapter.
func NewFalAdapter(client fal.Client) *FalAdapter {
	return &FalAdapter{client: client}
}

// Provider returns the provider name.
func (a *FalAdapter) Provider() string {
	return ProviderFal
}

// Submit enqueues an image generation request.
func (a *FalAdapter) Submit(ctx context.Context, req Request) (string, error) {
	requestID, err := a.client.Submit(ctx, toImageInput(req))
	if err != nil {
		return "", fmt.Errorf("fal adapter: %w: %w", ErrSubmission, err)
	}
	return requestID, nil
}

// FetchStatus queries the request status once.
func (a *FalAdapter) FetchStatus(ctx context.Context, taskID string) (RawStatus, error) {
	result, err := a.client.Status(ctx, taskID)
	if err != nil {
		return RawStatus{}, fmt.Errorf("fal adapter: %w: %w", ErrPoll, err)
	}

	return RawStatus{
		Value:         string(result.Status),
		Logs:          result.Logs,
		Message:       result.Error,
		QueuePosition: result.QueuePosition,
	}, nil
}

// FetchResult retrieves the generated images.
func (a *FalAdapter) FetchResult(ctx context.Context, taskID string, _ RawStatus) (Artifact, error) {
	out, err := a.client.Result(ctx, taskID)
	if err != nil {
		return Artifact{}, fmt.Errorf("fal adapter: %w: %w", ErrResultFetch, err)
	}

	artifact := Artifact{Seed: out.Seed}
	for _, img := range out.Images {
		artifact.Files = append(artifact.Files, File{
			URL:         img.URL,
			ContentType: img.ContentType,
			Width:       img.Width,
			Height:      img.Height,
		})
	}
	return artifact, nil
}

func toImageInput(req Request) fal.ImageInput {
	input := fal.DefaultImageInput(req.Prompt)
	opts := req.Image

	switch {
	case opts.Width > 0 && opts.Height > 0:
		input.ImageSize = fal.ImageSize{Width: opts.Width, Height: opts.Height}
	case opts.Size != "":
		input.ImageSize = fal.ImageSize{Preset: opts.Size}
	}
	if opts.Steps > 0 {
		input.NumInferenceSteps = opts.Steps
	}
	if opts.GuidanceScale > 0 {
		input.GuidanceScale = opts.GuidanceScale
	}
	if opts.NumImages > 0 {
		input.NumImages = opts.NumImages
	}
	if opts.OutputFormat != "" {
		input.OutputFormat = opts.OutputFormat
	}
	if opts.EnableSafetyChecker != nil {
		input.EnableSafetyChecker = opts.EnableSafetyChecker
	}
	input.Seed = opts.Seed
	for _, l := range opts.Loras {
		input.Loras = append(input.Loras, fal.LoraWeight{Path: l.Path, Scale: l.Scale})
	}
	return input
}

// Compile-time check that FalAdapter implements Adapter.
var _ Adapter = (*FalAdapter)(nil)
