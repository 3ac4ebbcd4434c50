package generator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"time"
)

// ArtifactStore persists generated files and returns a URL to the stored copy.
type ArtifactStore interface {
	Put(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)
}

// ArchivingAdapter decorates an Adapter so that every result file is copied
// into an ArtifactStore. Provider URLs tend to expire; archived URLs do not.
// Archive failures are logged and the provider URL is kept.
type ArchivingAdapter struct {
	Adapter
	store      ArtifactStore
	httpClient *http.Client
	logger     *slog.Logger
}

// ArchiveOption configures an ArchivingAdapter.
type ArchiveOption func(*ArchivingAdapter)

// WithArchiveHTTPClient sets the client used to download provider files.
func WithArchiveHTTPClient(c *http.Client) ArchiveOption {
	return func(a *ArchivingAdapter) {
		a.httpClient = c
	}
}

// WithArchiveLogger sets the logger.
func WithArchiveLogger(l *slog.Logger) ArchiveOption {
	return func(a *ArchivingAdapter) {
		a.logger = l
	}
}

// NewArchivingAdapter wraps inner so results are archived into store.
func NewArchivingAdapter(inner Adapter, store ArtifactStore, opts ...ArchiveOption) *ArchivingAdapter {
	a := &ArchivingAdapter{
		Adapter:    inner,
		store:      store,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FetchResult fetches the inner result and archives each file.
func (a *ArchivingAdapter) FetchResult(ctx context.Context, taskID string, final RawStatus) (Artifact, error) {
	artifact, err := a.Adapter.FetchResult(ctx, taskID, final)
	if err != nil {
		return Artifact{}, err
	}

	for i := range artifact.Files {
		f := &artifact.Files[i]
		key := archiveKey(a.Provider(), taskID, i, f)
		archived, err := a.archive(ctx, key, f)
		if err != nil {
			a.logger.Warn("archive artifact failed",
				slog.String("provider", a.Provider()),
				slog.String("provider_task_id", taskID),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		f.ArchivedURL = archived
	}

	return artifact, nil
}

func (a *ArchivingAdapter) archive(ctx context.Context, key string, f *File) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download artifact: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download artifact: unexpected status %d", resp.StatusCode)
	}

	contentType := f.ContentType
	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}

	u, err := a.store.Put(ctx, key, contentType, resp.Body)
	if err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	return u, nil
}

// archiveKey builds a stable object key such as "fal/req-123/0.jpeg".
func archiveKey(provider, taskID string, index int, f *File) string {
	ext := ""
	if u, err := url.Parse(f.URL); err == nil {
		ext = path.Ext(u.Path)
	}
	if ext == "" && f.ContentType != "" {
		if exts, err := mime.ExtensionsByType(f.ContentType); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	return fmt.Sprintf("%s/%s/%d%s", provider, url.PathEscape(taskID), index, ext)
}
