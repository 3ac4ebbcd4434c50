package generator

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder for first frame checks
	_ "image/png"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Limits on user input accepted by the providers.
const (
	MaxPromptLength     = 2000
	MaxFirstFrameBytes  = 20 << 20
	MinFirstFrameSide   = 300
	MinFirstFrameAspect = 0.4
	MaxFirstFrameAspect = 2.5
)

// ErrInvalidRequest is returned when a request fails validation.
var ErrInvalidRequest = errors.New("invalid request")

// Lora references a LoRA weight file and its scale.
type Lora struct {
	Path  string  `json:"path"`
	Scale float64 `json:"scale"`
}

// ImageOptions holds image generation parameters. Zero values use provider defaults.
type ImageOptions struct {
	Size                string  // Named preset such as "square_hd"
	Width               int     // Explicit width, overrides Size when Height is also set
	Height              int     // Explicit height
	Steps               int     // Inference steps
	GuidanceScale       float64 // Classifier-free guidance
	NumImages           int
	Seed                *int64
	Loras               []Lora
	EnableSafetyChecker *bool
	OutputFormat        string // jpeg or png
}

// VideoOptions holds video generation parameters. Zero values use provider defaults.
type VideoOptions struct {
	Model           string
	PromptOptimizer *bool
	FirstFrame      []byte // Raw image bytes (jpeg or png) for image-to-video
	CallbackURL     string
}

// Request is the immutable input of a generation job.
type Request struct {
	Kind   Kind
	Prompt string
	Image  ImageOptions
	Video  VideoOptions
}

// Validate checks the request against provider input limits.
func (r Request) Validate() error {
	if utf8.RuneCountInString(r.Prompt) > MaxPromptLength {
		return fmt.Errorf("%w: prompt exceeds %d characters", ErrInvalidRequest, MaxPromptLength)
	}

	switch r.Kind {
	case KindImage:
		if strings.TrimSpace(r.Prompt) == "" {
			return fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
		}
		if (r.Image.Width == 0) != (r.Image.Height == 0) {
			return fmt.Errorf("%w: width and height must be set together", ErrInvalidRequest)
		}
	case KindVideo:
		frame := r.Video.FirstFrame
		if len(frame) == 0 && strings.TrimSpace(r.Prompt) == "" {
			return fmt.Errorf("%w: prompt or first frame is required", ErrInvalidRequest)
		}
		if len(frame) > MaxFirstFrameBytes {
			return fmt.Errorf("%w: first frame exceeds %d bytes", ErrInvalidRequest, MaxFirstFrameBytes)
		}
		if len(frame) > 0 {
			ct := http.DetectContentType(frame)
			if ct != "image/jpeg" && ct != "image/png" {
				return fmt.Errorf("%w: first frame must be jpeg or png, got %s", ErrInvalidRequest, ct)
			}
			if err := checkFrameDimensions(frame); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, r.Kind)
	}

	return nil
}

func checkFrameDimensions(frame []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("%w: first frame is not a readable image: %v", ErrInvalidRequest, err)
	}
	if cfg.Width < MinFirstFrameSide || cfg.Height < MinFirstFrameSide {
		return fmt.Errorf("%w: first frame must be at least %dx%d pixels", ErrInvalidRequest, MinFirstFrameSide, MinFirstFrameSide)
	}
	aspect := float64(cfg.Width) / float64(cfg.Height)
	if aspect < MinFirstFrameAspect || aspect > MaxFirstFrameAspect {
		return fmt.Errorf("%w: first frame aspect ratio %.2f is outside %.1f-%.1f", ErrInvalidRequest, aspect, MinFirstFrameAspect, MaxFirstFrameAspect)
	}
	return nil
}

// Clone returns a deep copy so that callers cannot mutate a submitted request.
func (r Request) Clone() Request {
	c := r
	if r.Image.Seed != nil {
		seed := *r.Image.Seed
		c.Image.Seed = &seed
	}
	if r.Image.EnableSafetyChecker != nil {
		v := *r.Image.EnableSafetyChecker
		c.Image.EnableSafetyChecker = &v
	}
	c.Image.Loras = append([]Lora(nil), r.Image.Loras...)
	if r.Video.PromptOptimizer != nil {
		v := *r.Video.PromptOptimizer
		c.Video.PromptOptimizer = &v
	}
	c.Video.FirstFrame = append([]byte(nil), r.Video.FirstFrame...)
	return c
}
