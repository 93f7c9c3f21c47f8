// Package progress renders per-job download progress.
//
// Reporters are display-only: they never fail a job and ignore calls made after Finalize.
package progress

import (
	"fmt"
	"io"
	"log/slog"

	"batchdl/internal/consts"
	"batchdl/internal/entity"
)

// Reporter receives progress events for one job.
type Reporter interface {
	// Update renders a progress sample.
	Update(sample entity.ProgressSample)
	// Fail shows an inline failure notice for the job.
	Fail(detail string)
	// Finalize completes the display. Later calls are ignored.
	Finalize()
}

// Factory allocates a Reporter per job.
type Factory interface {
	New(name string) Reporter
}

// NewFactory returns the factory for the given progress mode.
func NewFactory(log *slog.Logger, mode string, w io.Writer) (Factory, error) {
	switch mode {
	case consts.ProgressBar:
		return NewBars(w), nil
	case consts.ProgressLog:
		return NewLogs(log), nil
	case consts.ProgressNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown progress mode: %q", mode)
	}
}

// Nop discards all progress.
type Nop struct{}

// New returns a no-op reporter.
func (Nop) New(string) Reporter { return Nop{} }

// Update does nothing.
func (Nop) Update(entity.ProgressSample) {}

// Fail does nothing.
func (Nop) Fail(string) {}

// Finalize does nothing.
func (Nop) Finalize() {}
