package generator

import (
	"bytes"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr string
	}{
		{"image ok", Request{Kind: KindImage, Prompt: "a cat"}, ""},
		{"image needs prompt", Request{Kind: KindImage, Prompt: "  "}, "prompt is required"},
		{"image width without height", Request{Kind: KindImage, Prompt: "a", Image: ImageOptions{Width: 10}}, "set together"},
		{"prompt too long", Request{Kind: KindImage, Prompt: strings.Repeat("a", MaxPromptLength+1)}, "exceeds"},
		{"video text only", Request{Kind: KindVideo, Prompt: "waves"}, ""},
		{"video needs prompt or frame", Request{Kind: KindVideo}, "prompt or first frame"},
		{"video frame ok", Request{Kind: KindVideo, Video: VideoOptions{FirstFrame: pngBytes(t, 400, 300)}}, ""},
		{"video frame too small", Request{Kind: KindVideo, Video: VideoOptions{FirstFrame: pngBytes(t, 200, 400)}}, "at least"},
		{"video frame too wide", Request{Kind: KindVideo, Video: VideoOptions{FirstFrame: pngBytes(t, 1000, 300)}}, "aspect ratio"},
		{"video frame not an image", Request{Kind: KindVideo, Video: VideoOptions{FirstFrame: []byte("GIF89a....")}}, "jpeg or png"},
		{"unknown kind", Request{Kind: "audio", Prompt: "x"}, "unknown kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidRequest)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRequest_CloneIsDeep(t *testing.T) {
	seed := int64(1)
	req := Request{
		Kind:  KindVideo,
		Image: ImageOptions{Seed: &seed, Loras: []Lora{{Path: "a"}}},
		Video: VideoOptions{FirstFrame: []byte{1, 2, 3}},
	}

	c := req.Clone()
	*c.Image.Seed = 99
	c.Image.Loras[0].Path = "b"
	c.Video.FirstFrame[0] = 9

	assert.Equal(t, int64(1), *req.Image.Seed)
	assert.Equal(t, "a", req.Image.Loras[0].Path)
	assert.Equal(t, byte(1), req.Video.FirstFrame[0])
}
