// Package bootstrap provides dependency initialization for the generation job engine.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zacjmagee/genjobs/internal/config"
	"github.com/zacjmagee/genjobs/internal/fal"
	"github.com/zacjmagee/genjobs/internal/generator"
	"github.com/zacjmagee/genjobs/internal/job"
	"github.com/zacjmagee/genjobs/internal/metrics"
	"github.com/zacjmagee/genjobs/internal/minimax"
	"github.com/zacjmagee/genjobs/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server and CLI.
type Dependencies struct {
	Service *job.Service
	Metrics *metrics.Recorder
	// ArtifactsDir is the local archive root, empty unless archiving to disk.
	ArtifactsDir string
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, artifactsDir, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	recorder := metrics.New()

	opts := []job.ServiceOption{
		job.WithServiceObserver(recorder),
		job.WithEventLogBuffer(cfg.EventLogBuffer),
	}

	if cfg.FalEnabled() {
		falClient, err := fal.NewClient(
			fal.WithAPIKey(cfg.FalKey),
			fal.WithModel(cfg.FalModel),
			fal.WithBaseURL(cfg.FalBaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("create fal client: %w", err)
		}
		opts = append(opts,
			job.WithAdapter(generator.KindImage, archived(generator.NewFalAdapter(falClient), store, logger)),
			job.WithPolicy(generator.KindImage, policy(cfg, cfg.ImagePollInterval, cfg.ImageTimeout)),
		)
		logger.Info("image provider configured",
			slog.String("provider", generator.ProviderFal),
			slog.String("model", cfg.FalModel),
			slog.String("api_key", config.Redact(cfg.FalKey)),
		)
	}

	if cfg.MiniMaxEnabled() {
		mmClient, err := minimax.NewClient(
			minimax.WithToken(cfg.MiniMaxAPIToken),
			minimax.WithGroupID(cfg.MiniMaxGroupID),
			minimax.WithBaseURL(cfg.MiniMaxBaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("create MiniMax client: %w", err)
		}
		opts = append(opts,
			job.WithAdapter(generator.KindVideo, archived(generator.NewMiniMaxAdapter(mmClient), store, logger)),
			job.WithPolicy(generator.KindVideo, policy(cfg, cfg.VideoPollInterval, cfg.VideoTimeout)),
		)
		logger.Info("video provider configured",
			slog.String("provider", generator.ProviderMiniMax),
			slog.String("group_id", cfg.MiniMaxGroupID),
			slog.String("api_token", config.Redact(cfg.MiniMaxAPIToken)),
		)
	}

	svc := job.NewService(job.NewMemoryRepository(), logger, opts...)

	return &Dependencies{
		Service:      svc,
		Metrics:      recorder,
		ArtifactsDir: artifactsDir,
	}, nil
}

func policy(cfg *config.Config, interval, timeout time.Duration) job.Policy {
	return job.Policy{
		PollInterval:    interval,
		Timeout:         timeout,
		MaxPollRetries:  cfg.PollMaxRetries,
		RetryDelay:      cfg.PollRetryDelay,
		MaxSkippedPolls: cfg.PollMaxSkipped,
	}
}

// archived wraps an adapter with archiving when a store is configured.
func archived(a generator.Adapter, store generator.ArtifactStore, logger *slog.Logger) generator.Adapter {
	if store == nil {
		return a
	}
	return generator.NewArchivingAdapter(a, store, generator.WithArchiveLogger(logger))
}

// initStorage creates the archive backend based on configuration. It returns
// a nil store when archiving is disabled.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (generator.ArtifactStore, string, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			PublicURL:       cfg.S3PublicURL,
		}
		s3Store, err := storage.NewS3Storage(ctx, s3Cfg)
		if err != nil {
			return nil, "", fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 archive configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, "", nil
	}

	if cfg.LocalArchiveEnabled() {
		localStore, err := storage.NewLocalStorage(cfg.ArchiveDir, cfg.ArchivePublicURL)
		if err != nil {
			return nil, "", fmt.Errorf("create local storage: %w", err)
		}
		logger.Info("local archive configured",
			slog.String("dir", localStore.Dir()),
			slog.String("public_url", cfg.ArchivePublicURL),
		)
		return localStore, localStore.Dir(), nil
	}

	logger.Info("artifact archiving disabled")
	return nil, "", nil
}
