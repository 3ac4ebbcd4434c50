package generator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zacjmagee/genjobs/internal/minimax"
)

// mockMiniMaxClient is a simple mock for testing MiniMaxAdapter.
type mockMiniMaxClient struct {
	mock.Mock
}

func (m *mockMiniMaxClient) Generate(ctx context.Context, req minimax.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockMiniMaxClient) Query(ctx context.Context, taskID string) (minimax.TaskStatus, error) {
	args := m.Called(ctx, taskID)
	return args.Get(0).(minimax.TaskStatus), args.Error(1)
}

func (m *mockMiniMaxClient) RetrieveFile(ctx context.Context, fileID string) (minimax.File, error) {
	args := m.Called(ctx, fileID)
	return args.Get(0).(minimax.File), args.Error(1)
}

func TestMiniMaxAdapter_Submit_Defaults(t *testing.T) {
	ctx := context.Background()
	mockClient := &mockMiniMaxClient{}
	adapter := NewMiniMaxAdapter(mockClient)

	mockClient.On("Generate", ctx, mock.MatchedBy(func(r minimax.GenerationRequest) bool {
		return r.Model == minimax.DefaultModel &&
			r.Prompt == "ocean waves" &&
			r.PromptOptimizer != nil && *r.PromptOptimizer &&
			r.FirstFrameImage == ""
	})).Return("task-1", nil)

	id, err := adapter.Submit(ctx, Request{Kind: KindVideo, Prompt: "ocean waves"})
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)
	assert.Equal(t, ProviderMiniMax, adapter.Provider())
	mockClient.AssertExpectations(t)
}

func TestMiniMaxAdapter_Submit_FirstFrameDataURL(t *testing.T) {
	ctx := context.Background()
	mockClient := &mockMiniMaxClient{}
	adapter := NewMiniMaxAdapter(mockClient)
	frame := pngBytes(t, 400, 400)

	mockClient.On("Generate", ctx, mock.MatchedBy(func(r minimax.GenerationRequest) bool {
		return strings.HasPrefix(r.FirstFrameImage, "data:image/png;base64,")
	})).Return("task-2", nil)

	_, err := adapter.Submit(ctx, Request{Kind: KindVideo, Video: VideoOptions{FirstFrame: frame}})
	require.NoError(t, err)
	mockClient.AssertExpectations(t)
}

func TestMiniMaxAdapter_Submit_BusinessError(t *testing.T) {
	ctx := context.Background()
	mockClient := &mockMiniMaxClient{}
	adapter := NewMiniMaxAdapter(mockClient)

	mockClient.On("Generate", ctx, mock.Anything).Return("", &minimax.APIError{Code: minimax.CodeSensitivePrompt})

	_, err := adapter.Submit(ctx, Request{Kind: KindVideo, Prompt: "x"})
	assert.ErrorIs(t, err, ErrSubmission)

	var be *BusinessError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, minimax.CodeSensitivePrompt, be.Code)
	assert.Equal(t, "Video description contains sensitive content", be.Message)
}

func TestMiniMaxAdapter_FetchStatus(t *testing.T) {
	ctx := context.Background()
	mockClient := &mockMiniMaxClient{}
	adapter := NewMiniMaxAdapter(mockClient)

	mockClient.On("Query", ctx, "task-1").Return(minimax.TaskStatus{
		TaskID: "task-1",
		Status: minimax.StatusSuccess,
		FileID: "file-9",
	}, nil)

	raw, err := adapter.FetchStatus(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "Success", raw.Value)
	assert.Equal(t, "file-9", raw.FileID)
	assert.Equal(t, PhaseSuccess, Normalize(adapter.Provider(), raw.Value))
}

func TestMiniMaxAdapter_FetchStatus_FailKeepsProviderMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query/video_generation", r.URL.Path)
		_, _ = w.Write([]byte(`{"task_id":"task-1","status":"Fail","base_resp":{"status_code":0,"status_msg":"Rate limit exceeded"}}`))
	}))
	defer server.Close()

	client, err := minimax.NewClient(
		minimax.WithToken("test-token"),
		minimax.WithGroupID("group-1"),
		minimax.WithBaseURL(server.URL),
	)
	require.NoError(t, err)
	adapter := NewMiniMaxAdapter(client)

	raw, err := adapter.FetchStatus(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, "Fail", raw.Value)
	assert.Equal(t, PhaseFailure, Normalize(adapter.Provider(), raw.Value))
	assert.Contains(t, strings.ToLower(raw.Message), "rate limit")
}

func TestMiniMaxAdapter_FetchStatus_BusinessError(t *testing.T) {
	ctx := context.Background()
	mockClient := &mockMiniMaxClient{}
	adapter := NewMiniMaxAdapter(mockClient)

	mockClient.On("Query", ctx, "task-1").Return(minimax.TaskStatus{}, &minimax.APIError{Code: minimax.CodeRateLimited})

	_, err := adapter.FetchStatus(ctx, "task-1")
	assert.ErrorIs(t, err, ErrPoll)

	var be *BusinessError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, minimax.CodeRateLimited, be.Code)
	assert.Equal(t, "Rate limit exceeded", be.Message)
}

func TestMiniMaxAdapter_FetchResult(t *testing.T) {
	ctx := context.Background()
	mockClient := &mockMiniMaxClient{}
	adapter := NewMiniMaxAdapter(mockClient)

	mockClient.On("RetrieveFile", ctx, "file-9").Return(minimax.File{
		FileID:      "file-9",
		Filename:    "output.mp4",
		DownloadURL: "https://cdn/v.mp4",
	}, nil)

	artifact, err := adapter.FetchResult(ctx, "task-1", RawStatus{Value: "Success", FileID: "file-9"})
	require.NoError(t, err)
	require.Len(t, artifact.Files, 1)
	assert.Equal(t, "https://cdn/v.mp4", artifact.Files[0].URL)
	assert.Equal(t, "video/mp4", artifact.Files[0].ContentType)
	assert.Equal(t, "output.mp4", artifact.Files[0].FileName)
}

func TestMiniMaxAdapter_FetchResult_NoFileID(t *testing.T) {
	adapter := NewMiniMaxAdapter(&mockMiniMaxClient{})

	_, err := adapter.FetchResult(context.Background(), "task-1", RawStatus{Value: "Success"})
	assert.ErrorIs(t, err, ErrResultFetch)
	assert.ErrorIs(t, err, ErrNoFileID)
}
