package batch

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gosuri/uilive"
)

// Progress receives batch progress: the first, last and current URL and the
// countdown before the next item.
type Progress interface {
	Start(first, last string, total int)
	Item(index int, url string)
	Countdown(remaining time.Duration)
	Done(summary Summary)
}

// NopProgress discards progress.
type NopProgress struct{}

func (NopProgress) Start(string, string, int) {}
func (NopProgress) Item(int, string)          {}
func (NopProgress) Countdown(time.Duration)   {}
func (NopProgress) Done(Summary)              {}

// LiveProgress redraws progress in place on a terminal.
type LiveProgress struct {
	mu      sync.Mutex
	writer  *uilive.Writer
	started bool
	first   string
	last    string
	total   int
	index   int
	current string
}

// NewLiveProgress writes to out (os.Stdout when nil).
func NewLiveProgress(out io.Writer) *LiveProgress {
	w := uilive.New()
	if out != nil {
		w.Out = out
	}
	return &LiveProgress{writer: w}
}

func (p *LiveProgress) Start(first, last string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.first, p.last, p.total = first, last, total
	if !p.started {
		p.writer.Start()
		p.started = true
	}
	p.render("")
}

func (p *LiveProgress) Item(index int, url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index, p.current = index, url
	p.render("")
}

func (p *LiveProgress) Countdown(remaining time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	status := ""
	if remaining > 0 {
		status = fmt.Sprintf("Next in %s", remaining)
	}
	p.render(status)
}

func (p *LiveProgress) Done(s Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	line := fmt.Sprintf("Done: %d processed, %d skipped, %d failed of %d", s.Processed, s.Skipped, s.Failed, s.Total)
	if s.Stopped {
		line += fmt.Sprintf(" (stopped: %s)", s.StopReason)
	}
	fmt.Fprintln(p.writer, line)
	if p.started {
		p.writer.Stop()
		p.started = false
		return
	}
	_ = p.writer.Flush()
}

func (p *LiveProgress) render(status string) {
	fmt.Fprintf(p.writer, "First:   %s\n", p.first)
	fmt.Fprintf(p.writer.Newline(), "Last:    %s\n", p.last)
	fmt.Fprintf(p.writer.Newline(), "Current: [%d/%d] %s\n", p.index+1, p.total, p.current)
	if status != "" {
		fmt.Fprintf(p.writer.Newline(), "%s\n", status)
	}
	_ = p.writer.Flush()
}
