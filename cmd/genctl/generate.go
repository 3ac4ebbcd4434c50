package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zacjmagee/genjobs/internal/generator"
	"github.com/zacjmagee/genjobs/internal/job"
)

// shutdownGrace bounds how long genctl waits for a cancelled job to settle.
const shutdownGrace = 10 * time.Second

// ErrJobUnsuccessful is returned when a job ends in any state other than Succeeded.
var ErrJobUnsuccessful = errors.New("job did not succeed")

func newImageCmd(a *app) *cobra.Command {
	var (
		opts generator.ImageOptions
		seed int64
	)

	cmd := &cobra.Command{
		Use:   "image",
		Short: "Generate images from a text prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			prompt, _ := cmd.Flags().GetString("prompt")
			if cmd.Flags().Changed("seed") {
				opts.Seed = &seed
			}
			return a.generate(cmd.Context(), generator.Request{
				Kind:   generator.KindImage,
				Prompt: prompt,
				Image:  opts,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringP("prompt", "p", "", "text prompt")
	flags.StringVar(&opts.Size, "size", "", "named size preset, e.g. square_hd or landscape_16_9")
	flags.IntVar(&opts.Width, "width", 0, "explicit width; requires --height")
	flags.IntVar(&opts.Height, "height", 0, "explicit height; requires --width")
	flags.IntVar(&opts.Steps, "steps", 0, "number of inference steps")
	flags.Float64Var(&opts.GuidanceScale, "guidance", 0, "guidance scale")
	flags.IntVarP(&opts.NumImages, "num-images", "n", 0, "number of images to generate")
	flags.Int64Var(&seed, "seed", 0, "random seed")
	flags.StringVar(&opts.OutputFormat, "format", "", "output format: jpeg or png")
	_ = cmd.MarkFlagRequired("prompt")

	return cmd
}

func newVideoCmd(a *app) *cobra.Command {
	var (
		opts       generator.VideoOptions
		firstFrame string
		optimize   bool
	)

	cmd := &cobra.Command{
		Use:   "video",
		Short: "Generate a video from a prompt, a first frame or both",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			prompt, _ := cmd.Flags().GetString("prompt")
			if firstFrame != "" {
				data, err := os.ReadFile(firstFrame)
				if err != nil {
					return fmt.Errorf("read first frame: %w", err)
				}
				opts.FirstFrame = data
			}
			if cmd.Flags().Changed("prompt-optimizer") {
				opts.PromptOptimizer = &optimize
			}
			return a.generate(cmd.Context(), generator.Request{
				Kind:   generator.KindVideo,
				Prompt: prompt,
				Video:  opts,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringP("prompt", "p", "", "text prompt; optional when --first-frame is set")
	flags.StringVarP(&firstFrame, "first-frame", "f", "", "path to a jpeg or png first frame")
	flags.StringVar(&opts.Model, "model", "", "provider model name")
	flags.BoolVar(&optimize, "prompt-optimizer", true, "let the provider rewrite the prompt")
	cmd.MarkFlagsOneRequired("prompt", "first-frame")

	return cmd
}

// generate runs one job to completion and prints its artifact URLs.
// Cancelling ctx cancels the job; the terminal state is still reported.
func (a *app) generate(ctx context.Context, req generator.Request) error {
	// The engine must outlive ctx so a cancelled job can reach its terminal state.
	svc, err := a.newService(context.WithoutCancel(ctx), a.logger())
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		_ = svc.Shutdown(sctx)
	}()

	created, err := svc.CreateJob(ctx, req)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	events, err := svc.Subscribe(context.WithoutCancel(ctx), created.ID)
	if err != nil {
		return fmt.Errorf("subscribe to job %s: %w", created.ID, err)
	}

	bar := newProgress(a.errOut, created, a.quiet)
	interrupted := ctx.Done()

loop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			bar.update(ev)
			if a.verbose {
				bar.logs(ev.Logs)
			}
		case <-interrupted:
			interrupted = nil
			bar.note("cancelling job " + created.ID)
			if _, err := svc.CancelJob(context.WithoutCancel(ctx), created.ID); err != nil && !errors.Is(err, job.ErrJobFinished) {
				return fmt.Errorf("cancel job %s: %w", created.ID, err)
			}
		}
	}

	final, err := svc.Wait(context.WithoutCancel(ctx), created.ID)
	if err != nil {
		return fmt.Errorf("wait for job %s: %w", created.ID, err)
	}
	bar.finish(final)

	return a.report(final)
}

// report prints the artifact URLs of a successful job, preferring archived copies.
func (a *app) report(s job.Snapshot) error {
	if s.State != job.StateSucceeded {
		if s.Error != nil {
			return fmt.Errorf("%w: %s: %s", ErrJobUnsuccessful, s.State, s.Error.Message)
		}
		return fmt.Errorf("%w: %s", ErrJobUnsuccessful, s.State)
	}

	if s.Result != nil {
		for _, f := range s.Result.Files {
			url := f.URL
			if f.ArchivedURL != "" {
				url = f.ArchivedURL
			}
			fmt.Fprintln(a.out, url)
		}
	}
	return nil
}
