package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/schollz/progressbar/v3"

	"github.com/zacjmagee/genjobs/internal/job"
)

// progress renders job events as a terminal progress bar.
type progress struct {
	w     io.Writer
	bar   *progressbar.ProgressBar
	label string
}

func newProgress(w io.Writer, s job.Snapshot, quiet bool) *progress {
	p := &progress{w: w, label: fmt.Sprintf("%s %s", s.Kind, s.ID)}
	if quiet {
		return p
	}
	p.bar = progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(p.describe(s.State)),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
	return p
}

func (p *progress) describe(state job.State) string {
	return fmt.Sprintf("%s [%s]", p.label, strings.ToLower(string(state)))
}

func (p *progress) update(ev job.Event) {
	if p.bar == nil {
		return
	}
	p.bar.Describe(p.describe(ev.State))
	_ = p.bar.Set(ev.Progress)
}

// logs prints provider log lines above the bar.
func (p *progress) logs(lines []string) {
	for _, l := range lines {
		p.note(l)
	}
}

func (p *progress) note(msg string) {
	if p.bar != nil {
		_ = p.bar.Clear()
	}
	fmt.Fprintln(p.w, msg)
}

func (p *progress) finish(s job.Snapshot) {
	if p.bar == nil {
		return
	}
	p.bar.Describe(p.describe(s.State))
	if s.State == job.StateSucceeded {
		_ = p.bar.Finish()
	}
	fmt.Fprintln(p.w)
}
