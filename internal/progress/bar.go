package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"batchdl/internal/entity"

	"github.com/schollz/progressbar/v3"
)

const (
	maxDescriptionRunes = 25
	ellipsis            = "…"
	barWidth            = 30
	barThrottle         = 65 * time.Millisecond
)

// Bars creates terminal progress bars, one row per job.
type Bars struct {
	screen *screen
}

// NewBars returns a bar factory writing to w.
func NewBars(w io.Writer) *Bars {
	return &Bars{screen: newScreen(w)}
}

// New allocates a bar for the named job on its own row. Its total starts unknown.
func (b *Bars) New(name string) Reporter {
	out := b.screen.add()

	return &Bar{
		name: name,
		out:  out,
		bar: progressbar.NewOptions64(-1,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetDescription(shorten(name)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(barWidth),
			progressbar.OptionThrottle(barThrottle),
		),
		total: -1,
	}
}

// Bar is a byte progress bar for one job.
type Bar struct {
	mu        sync.Mutex
	name      string
	out       *row
	bar       *progressbar.ProgressBar
	total     int64
	current   int64
	failed    bool
	finalized bool
}

// Update moves the bar. A sample with an unknown total keeps the spinner.
// An empty sample after progress means the transfer restarted and resets the bar.
func (b *Bar) Update(sample entity.ProgressSample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finalized || b.failed {
		return
	}

	if sample.TotalKnown() && sample.Total != b.total {
		b.total = sample.Total
		b.bar.ChangeMax64(sample.Total)
	}

	switch {
	case sample.Downloaded == 0 && b.current > 0:
		b.current = 0
		b.bar.Reset()
	case sample.Downloaded > b.current:
		b.current = sample.Downloaded
		_ = b.bar.Set64(sample.Downloaded)
	}
}

// Fail replaces the job's bar with a failure line.
func (b *Bar) Fail(detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finalized || b.failed {
		return
	}

	b.failed = true

	_ = b.bar.Exit()
	b.out.finish(fmt.Sprintf("%s ❌ Error: %s", b.name, detail))
}

// Finalize fills the bar to 100% and freezes its row. A failed bar is already frozen.
// When no total ever arrived the bytes seen so far become the total.
func (b *Bar) Finalize() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finalized {
		return
	}

	b.finalized = true

	if b.failed {
		return
	}

	if b.total <= 0 {
		b.total = max(b.current, 1)
		b.bar.ChangeMax64(b.total)
	}

	_ = b.bar.Finish()
	b.out.finish("")
}
// shorten trims long job names so bars stay aligned.
func shorten(name string) string {
	runes := []rune(name)
	if len(runes) <= maxDescriptionRunes {
		return name
	}

	return string(runes[:maxDescriptionRunes-1]) + ellipsis
}
