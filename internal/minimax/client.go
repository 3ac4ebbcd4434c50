package minimax

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Static errors for MiniMax client operations.
var (
	// ErrTokenNotSet is returned when no API token is configured.
	ErrTokenNotSet = errors.New("minimax: MINIMAX_API_TOKEN is not set")
	// ErrTaskIDRequired is returned when the task ID is not provided.
	ErrTaskIDRequired = errors.New("minimax: task ID is required")
	// ErrFileIDRequired is returned when the file ID is not provided.
	ErrFileIDRequired = errors.New("minimax: file ID is required")
	// ErrNoTaskIDReturned is returned when the generation response contains no task ID.
	ErrNoTaskIDReturned = errors.New("minimax: submit failed: no task ID returned")
	// ErrNoDownloadURL is returned when a retrieved file has no download URL.
	ErrNoDownloadURL = errors.New("minimax: no download URL for file")
	// ErrMalformedResponse is returned when a response body cannot be decoded or lacks required fields.
	ErrMalformedResponse = errors.New("minimax: malformed response")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("minimax: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("minimax: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("minimax: request failed")
)

// Client defines the interface for interacting with the MiniMax video API.
type Client interface {
	// Generate starts a video generation task and returns its task ID.
	Generate(ctx context.Context, req GenerationRequest) (taskID string, err error)

	// Query checks the status of a task. It makes exactly one HTTP call.
	Query(ctx context.Context, taskID string) (TaskStatus, error)

	// RetrieveFile resolves a file ID into a download URL.
	RetrieveFile(ctx context.Context, fileID string) (File, error)
}

// HTTPClient is the HTTP implementation of the MiniMax Client interface.
type HTTPClient struct {
	token       string
	groupID     string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithToken sets the API token for authentication.
func WithToken(token string) ClientOption {
	return func(hc *HTTPClient) {
		hc.token = token
	}
}

// WithGroupID sets the account group ID required by the files API.
func WithGroupID(groupID string) ClientOption {
	return func(hc *HTTPClient) {
		hc.groupID = groupID
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(u string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = strings.TrimRight(u, "/")
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new MiniMax HTTP client.
// The token can be set via the WithToken option. If not provided,
// it is read from the environment variable MINIMAX_API_TOKEN.
func NewClient(opts ...ClientOption) (*HTTPClient, error) {
	c := &HTTPClient{
		baseURL:     "https://api.minimaxi.chat/v1",
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.token == "" {
		c.token = os.Getenv("MINIMAX_API_TOKEN")
	}
	if c.token == "" {
		return nil, ErrTokenNotSet
	}
	if c.groupID == "" {
		c.groupID = os.Getenv("MINIMAX_GROUP_ID")
	}

	return c, nil
}

// Generate starts a video generation task and returns its task ID.
func (c *HTTPClient) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	if req.Model == "" {
		req.Model = DefaultModel
	}

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("minimax: marshal request: %w", err)
	}

	var resp generationResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, c.baseURL+"/video_generation", bodyBytes, &resp); err != nil {
		return "", err
	}

	if err := resp.BaseResp.err(); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", ErrNoTaskIDReturned
	}

	return resp.TaskID, nil
}

// Query checks the status of a task.
func (c *HTTPClient) Query(ctx context.Context, taskID string) (TaskStatus, error) {
	if taskID == "" {
		return TaskStatus{}, ErrTaskIDRequired
	}

	u := c.baseURL + "/query/video_generation?task_id=" + url.QueryEscape(taskID)

	var resp queryResponse
	if err := c.doRequest(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return TaskStatus{}, err
	}

	// A business error is reported even when the HTTP status is 200.
	if err := resp.BaseResp.err(); err != nil {
		return TaskStatus{}, err
	}
	if resp.Status == "" {
		return TaskStatus{}, fmt.Errorf("%w: missing status", ErrMalformedResponse)
	}

	result := TaskStatus{
		TaskID: taskID,
		Status: Status(resp.Status),
	}
	switch result.Status {
	case StatusSuccess:
		result.FileID = resp.FileID
	case StatusFail, StatusFailed:
		// A failed task reports its reason in base_resp with status_code 0.
		if resp.BaseResp != nil && !strings.EqualFold(resp.BaseResp.StatusMsg, "success") {
			result.Message = strings.TrimSpace(resp.BaseResp.StatusMsg)
		}
	}

	return result, nil
}

// RetrieveFile resolves a file ID into a download URL.
func (c *HTTPClient) RetrieveFile(ctx context.Context, fileID string) (File, error) {
	if fileID == "" {
		return File{}, ErrFileIDRequired
	}

	q := url.Values{}
	if c.groupID != "" {
		q.Set("GroupId", c.groupID)
	}
	q.Set("file_id", fileID)
	u := c.baseURL + "/files/retrieve?" + q.Encode()

	var resp fileResponse
	if err := c.doRequestWithRetry(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return File{}, err
	}

	if err := resp.BaseResp.err(); err != nil {
		return File{}, err
	}
	if resp.DownloadURL == "" {
		return File{}, ErrNoDownloadURL
	}

	return File{
		FileID:      fileID,
		Filename:    resp.Filename,
		Bytes:       resp.Bytes,
		DownloadURL: resp.DownloadURL,
	}, nil
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
// Business errors carried in base_resp are decoded by the caller and never retried here.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, url string, body []byte, result interface{}) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("minimax: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := c.doRequest(ctx, method, url, body, result)
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("minimax: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("minimax: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("minimax: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("minimax: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Error bodies usually still carry base_resp with a more precise reason.
		var br struct {
			BaseResp *baseResp `json:"base_resp"`
		}
		if json.Unmarshal(respBody, &br) == nil {
			if apiErr := br.BaseResp.err(); apiErr != nil && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return apiErr
			}
		}
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, truncate(respBody))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, truncate(respBody))}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, truncate(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}

	return nil
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
