package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zacjmagee/genjobs/internal/config"
	"github.com/zacjmagee/genjobs/internal/generator"
)

func testConfig() *config.Config {
	return &config.Config{
		FalModel:          "fal-ai/flux-lora",
		FalBaseURL:        "https://queue.fal.run",
		MiniMaxBaseURL:    "https://api.minimaxi.chat/v1",
		ImagePollInterval: time.Second,
		ImageTimeout:      time.Minute,
		VideoPollInterval: 2 * time.Second,
		VideoTimeout:      time.Minute,
		PollMaxRetries:    3,
		PollRetryDelay:    500 * time.Millisecond,
		PollMaxSkipped:    5,
		EventLogBuffer:    64,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewDependencies_ProvidersByCredentials(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*config.Config)
		want  []generator.Kind
	}{
		{"fal only", func(c *config.Config) { c.FalKey = "fal-key" }, []generator.Kind{generator.KindImage}},
		{"minimax only", func(c *config.Config) {
			c.MiniMaxAPIToken = "token"
			c.MiniMaxGroupID = "group"
		}, []generator.Kind{generator.KindVideo}},
		{"both", func(c *config.Config) {
			c.FalKey = "fal-key"
			c.MiniMaxAPIToken = "token"
			c.MiniMaxGroupID = "group"
		}, []generator.Kind{generator.KindImage, generator.KindVideo}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.setup(cfg)

			deps, err := NewDependencies(context.Background(), cfg, discardLogger())
			require.NoError(t, err)
			t.Cleanup(func() { _ = deps.Service.Shutdown(context.Background()) })

			assert.Equal(t, tt.want, deps.Service.Kinds())
			assert.NotNil(t, deps.Metrics)
			assert.Empty(t, deps.ArtifactsDir)
		})
	}
}

func TestNewDependencies_LocalArchive(t *testing.T) {
	cfg := testConfig()
	cfg.FalKey = "fal-key"
	cfg.ArchiveDir = t.TempDir()
	cfg.ArchivePublicURL = "http://localhost:8080/artifacts"

	deps, err := NewDependencies(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Service.Shutdown(context.Background()) })

	assert.Equal(t, cfg.ArchiveDir, deps.ArtifactsDir)
}

func TestNewDependencies_S3Archive(t *testing.T) {
	cfg := testConfig()
	cfg.FalKey = "fal-key"
	cfg.ArchiveDir = t.TempDir()
	cfg.S3Bucket = "bucket"
	cfg.S3Region = "us-east-1"
	cfg.S3Endpoint = "http://localhost:4566"
	cfg.AWSAccessKeyID = "key"
	cfg.AWSSecretAccessKey = "secret"

	deps, err := NewDependencies(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Service.Shutdown(context.Background()) })

	assert.Empty(t, deps.ArtifactsDir, "S3 takes precedence over the local archive")
}
