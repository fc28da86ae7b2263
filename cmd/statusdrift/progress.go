package main

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"statusdrift/internal/diff"
	"statusdrift/internal/lattice"
)

// progressObserver advances a bar once per counted row.
type progressObserver struct {
	diff.NopObserver
	out io.Writer
	bar *progressbar.ProgressBar
}

// newProgress returns nil when out is not a terminal.
func newProgress(out *os.File) *progressObserver {
	if !isatty.IsTerminal(out.Fd()) && !isatty.IsCygwinTerminal(out.Fd()) {
		return nil
	}
	return &progressObserver{out: out}
}

func (p *progressObserver) Started(total int) {
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetDescription("importing"),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func (p *progressObserver) RowClassified(diff.Outcome, lattice.Transition) { p.step() }
func (p *progressObserver) RowRejected(string)                             { p.step() }

func (p *progressObserver) step() {
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

func (p *progressObserver) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
