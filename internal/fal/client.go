package fal

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

// Static errors for fal client operations.
var (
	// ErrKeyNotSet is returned when no API key is configured.
	ErrKeyNotSet = errors.New("fal: FAL_KEY is not set")
	// ErrRequestIDRequired is returned when the request ID is not provided.
	ErrRequestIDRequired = errors.New("fal: request ID is required")
	// ErrPromptRequired is returned when a submit has an empty prompt.
	ErrPromptRequired = errors.New("fal: prompt is required")
	// ErrNoRequestIDReturned is returned when the submit response contains no request ID.
	ErrNoRequestIDReturned = errors.New("fal: submit failed: no request ID returned")
	// ErrMalformedResponse is returned when a response body cannot be decoded or lacks required fields.
	ErrMalformedResponse = errors.New("fal: malformed response")
	// ErrNoImages is returned when a completed request has no images.
	ErrNoImages = errors.New("fal: no images in result")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("fal: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("fal: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("fal: request failed")
)

// Client defines the interface for interacting with the fal queue API.
type Client interface {
	// Submit enqueues an image generation request and returns its request ID.
	Submit(ctx context.Context, input ImageInput) (requestID string, err error)

	// Status queries the queue status of a request. It makes exactly one HTTP call.
	Status(ctx context.Context, requestID string) (StatusResult, error)

	// Result fetches the output of a completed request.
	Result(ctx context.Context, requestID string) (Output, error)
}

// HTTPClient is the HTTP implementation of the fal Client interface.
type HTTPClient struct {
	apiKey      string
	model       string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithModel sets the model application path, e.g. "fal-ai/flux-lora".
func WithModel(model string) ClientOption {
	return func(hc *HTTPClient) {
		hc.model = strings.Trim(model, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL for the queue API.
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

// NewClient creates a new fal queue HTTP client.
// The API key can be set via the WithAPIKey option. If not provided,
// it is read from the environment variable FAL_KEY.
func NewClient(opts ...ClientOption) (*HTTPClient, error) {
	c := &HTTPClient{
		model:       DefaultModel,
		baseURL:     "https://queue.fal.run",
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("FAL_KEY")
	}
	if c.apiKey == "" {
		return nil, ErrKeyNotSet
	}

	return c, nil
}

// Model returns the model application path requests are sent to.
func (c *HTTPClient) Model() string {
	return c.model
}

// Submit enqueues an image generation request and returns its request ID.
func (c *HTTPClient) Submit(ctx context.Context, input ImageInput) (string, error) {
	if strings.TrimSpace(input.Prompt) == "" {
		return "", ErrPromptRequired
	}

	bodyBytes, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("fal: marshal request: %w", err)
	}

	var resp queueResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, c.modelURL(), bodyBytes, &resp); err != nil {
		return "", err
	}

	if resp.RequestID == "" {
		return "", ErrNoRequestIDReturned
	}

	return resp.RequestID, nil
}

// Status queries the queue status of a request.
func (c *HTTPClient) Status(ctx context.Context, requestID string) (StatusResult, error) {
	if requestID == "" {
		return StatusResult{}, ErrRequestIDRequired
	}

	u := fmt.Sprintf("%s/requests/%s/status?logs=1", c.modelURL(), url.PathEscape(requestID))

	var resp statusResponse
	if err := c.doRequest(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return StatusResult{}, err
	}

	if resp.Status == "" {
		return StatusResult{}, fmt.Errorf("%w: missing status", ErrMalformedResponse)
	}

	result := StatusResult{
		Status:        Status(resp.Status),
		QueuePosition: -1,
		Output:        resp.Output,
	}
	if resp.QueuePosition != nil {
		result.QueuePosition = *resp.QueuePosition
	}
	for _, l := range resp.Logs {
		if l.Message != "" {
			result.Logs = append(result.Logs, l.Message)
		}
	}

	if result.Status == StatusFailed {
		result.Error = resp.Error
		if result.Error == "" && resp.Output != nil {
			result.Error = resp.Output.Error
		}
	}

	return result, nil
}

// Result fetches the output of a completed request.
func (c *HTTPClient) Result(ctx context.Context, requestID string) (Output, error) {
	if requestID == "" {
		return Output{}, ErrRequestIDRequired
	}

	u := fmt.Sprintf("%s/requests/%s", c.modelURL(), url.PathEscape(requestID))

	var out Output
	if err := c.doRequestWithRetry(ctx, http.MethodGet, u, nil, &out); err != nil {
		return Output{}, err
	}

	if len(out.Images) == 0 {
		if out.Error != "" {
			return Output{}, fmt.Errorf("%w: %s", ErrNoImages, out.Error)
		}
		return Output{}, ErrNoImages
	}

	return out, nil
}

func (c *HTTPClient) modelURL() string {
	return c.baseURL + "/" + c.model
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, url string, body []byte, result interface{}) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("fal: context cancelled: %w", ctx.Err())
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

	return fmt.Errorf("fal: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("fal: create request: %w", err)
	}

	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("fal: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("fal: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
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

// truncate keeps error messages bounded when a provider returns a large body.
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
