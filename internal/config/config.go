// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrNoProvider is returned when neither FAL_KEY nor MINIMAX_API_TOKEN is set.
	ErrNoProvider = errors.New("config: at least one of FAL_KEY or MINIMAX_API_TOKEN is required")
	// ErrMiniMaxGroupIDRequired is returned when MINIMAX_API_TOKEN is set without MINIMAX_GROUP_ID.
	ErrMiniMaxGroupIDRequired = errors.New("config: MINIMAX_GROUP_ID is required with MINIMAX_API_TOKEN")
	// ErrInvalid is returned when a value fails validation.
	ErrInvalid = errors.New("config: invalid value")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port            int           `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT, default=30s" json:"shutdown_timeout" validate:"gt=0"`

	// fal.ai settings (image generation)
	FalKey     string `env:"FAL_KEY" json:"-"` // Masked in JSON
	FalModel   string `env:"FAL_MODEL, default=fal-ai/flux-lora" json:"fal_model" validate:"required"`
	FalBaseURL string `env:"FAL_BASE_URL, default=https://queue.fal.run" json:"fal_base_url" validate:"url"`

	// MiniMax settings (video generation)
	MiniMaxAPIToken string `env:"MINIMAX_API_TOKEN" json:"-"` // Masked in JSON
	MiniMaxGroupID  string `env:"MINIMAX_GROUP_ID" json:"minimax_group_id,omitempty"`
	MiniMaxBaseURL  string `env:"MINIMAX_BASE_URL, default=https://api.minimaxi.chat/v1" json:"minimax_base_url" validate:"url"`

	// Polling settings
	ImagePollInterval time.Duration `env:"IMAGE_POLL_INTERVAL, default=1s" json:"image_poll_interval" validate:"gt=0"`
	ImageTimeout      time.Duration `env:"IMAGE_TIMEOUT, default=5m" json:"image_timeout" validate:"gtfield=ImagePollInterval"`
	VideoPollInterval time.Duration `env:"VIDEO_POLL_INTERVAL, default=2s" json:"video_poll_interval" validate:"gt=0"`
	VideoTimeout      time.Duration `env:"VIDEO_TIMEOUT, default=5m" json:"video_timeout" validate:"gtfield=VideoPollInterval"`
	PollMaxRetries    int           `env:"POLL_MAX_RETRIES, default=3" json:"poll_max_retries" validate:"min=0,max=10"`
	PollRetryDelay    time.Duration `env:"POLL_RETRY_DELAY, default=500ms" json:"poll_retry_delay" validate:"min=0"`
	PollMaxSkipped    int           `env:"POLL_MAX_SKIPPED, default=5" json:"poll_max_skipped" validate:"min=0"`
	EventLogBuffer    int           `env:"EVENT_LOG_BUFFER, default=256" json:"event_log_buffer" validate:"min=1"`

	// Optional local archive settings
	ArchiveDir       string `env:"ARCHIVE_DIR" json:"archive_dir,omitempty"`
	ArchivePublicURL string `env:"ARCHIVE_PUBLIC_URL" json:"archive_public_url,omitempty" validate:"omitempty,url"`

	// Optional S3 archive settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty" validate:"required_with=S3Bucket"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty" validate:"omitempty,url"`
	S3PublicURL        string `env:"S3_PUBLIC_URL" json:"s3_public_url,omitempty" validate:"omitempty,url"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format" validate:"oneof=json text"`
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"` // "debug", "info", "warn", "error"
}

// FalEnabled returns true if fal.ai credentials are provided.
func (c *Config) FalEnabled() bool {
	return c.FalKey != ""
}

// MiniMaxEnabled returns true if MiniMax credentials are provided.
func (c *Config) MiniMaxEnabled() bool {
	return c.MiniMaxAPIToken != "" && c.MiniMaxGroupID != ""
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// LocalArchiveEnabled returns true if artifacts should be archived to local disk.
// S3 takes precedence when both are configured.
func (c *Config) LocalArchiveEnabled() bool {
	return c.ArchiveDir != "" && !c.S3Enabled()
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return load(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field constraints and that at least one provider is usable.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if c.MiniMaxAPIToken != "" && c.MiniMaxGroupID == "" {
		return ErrMiniMaxGroupIDRequired
	}
	if !c.FalEnabled() && !c.MiniMaxEnabled() {
		return ErrNoProvider
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.newLogger(os.Stdout)
}

func (c *Config) newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, FalKey: %s, FalModel: %s, MiniMaxAPIToken: %s, MiniMaxGroupID: %s, ImageTimeout: %s, VideoTimeout: %s, ArchiveDir: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		Redact(c.FalKey),
		c.FalModel,
		Redact(c.MiniMaxAPIToken),
		c.MiniMaxGroupID,
		c.ImageTimeout,
		c.VideoTimeout,
		c.ArchiveDir,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// LogValue implements slog.LogValuer so a Config can be logged directly
// without exposing credentials.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("port", c.Port),
		slog.String("log_format", c.LogFormat),
		slog.String("log_level", c.LogLevel),
		slog.Bool("fal_enabled", c.FalEnabled()),
		slog.String("fal_key", Redact(c.FalKey)),
		slog.String("fal_model", c.FalModel),
		slog.Bool("minimax_enabled", c.MiniMaxEnabled()),
		slog.String("minimax_api_token", Redact(c.MiniMaxAPIToken)),
		slog.Duration("image_poll_interval", c.ImagePollInterval),
		slog.Duration("image_timeout", c.ImageTimeout),
		slog.Duration("video_poll_interval", c.VideoPollInterval),
		slog.Duration("video_timeout", c.VideoTimeout),
		slog.Bool("s3_enabled", c.S3Enabled()),
		slog.Bool("local_archive_enabled", c.LocalArchiveEnabled()),
	)
}

// Redact masks a credential, keeping at most its last four characters
// when the value is long enough for that to be safe.
func Redact(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) < 12:
		return "****"
	default:
		return "****" + secret[len(secret)-4:]
	}
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
