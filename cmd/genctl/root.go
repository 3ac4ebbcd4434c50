package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/zacjmagee/genjobs/internal/bootstrap"
	"github.com/zacjmagee/genjobs/internal/config"
	"github.com/zacjmagee/genjobs/internal/job"
)

// app holds what the commands need from the outside world.
type app struct {
	// newService builds the engine. Commands shut it down when they return.
	newService func(ctx context.Context, logger *slog.Logger) (*job.Service, error)
	out        io.Writer // artifact URLs
	errOut     io.Writer // progress bar and diagnostics
	quiet      bool
	verbose    bool
}

func defaultApp() *app {
	return &app{
		newService: func(ctx context.Context, logger *slog.Logger) (*job.Service, error) {
			cfg, err := config.Load()
			if err != nil {
				return nil, fmt.Errorf("load config: %w", err)
			}
			deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
			if err != nil {
				return nil, fmt.Errorf("initialize dependencies: %w", err)
			}
			return deps.Service, nil
		},
		out:    os.Stdout,
		errOut: os.Stderr,
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "genctl",
		Short: "Run image and video generation jobs",
		Long: `genctl submits a generation job to the configured provider, follows it
until it finishes and prints the artifact URLs, one per line.

Providers are configured through the same environment variables as the server
(FAL_KEY for images, MINIMAX_API_TOKEN and MINIMAX_GROUP_ID for videos).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(a.out)
	rootCmd.SetErr(a.errOut)

	rootCmd.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "do not render progress")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "print provider log lines and engine logs")

	rootCmd.AddCommand(newImageCmd(a), newVideoCmd(a))
	return rootCmd
}

// logger discards engine logs unless verbose output was requested.
func (a *app) logger() *slog.Logger {
	if !a.verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
