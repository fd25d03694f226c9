package cmd

import (
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// barProgress renders run phases as progress bars
type barProgress struct {
	out io.Writer

	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func newBarProgress(out io.Writer) *barProgress {
	return &barProgress{out: out}
}

// Start implements reconcile.Progress
func (p *barProgress) Start(phase string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar != nil {
		_ = p.bar.Finish()
	}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetDescription(phase),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

// Step implements reconcile.Progress
func (p *barProgress) Step(description string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar != nil {
		p.bar.Describe(description)
		_ = p.bar.Add(1)
	}
}

// Finish implements reconcile.Progress
func (p *barProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}
