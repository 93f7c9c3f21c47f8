// Package fetcher defines the fetch capability the orchestrator drives and its implementations.
package fetcher

import (
	"context"
	"errors"
	"log/slog"

	"batchdl/internal/config"
	"batchdl/internal/entity"
)

// ProgressFunc receives progress samples while a job is fetched. It may be called from any goroutine.
type ProgressFunc func(sample entity.ProgressSample)

// Fetcher materializes a job's source at its destination.
// A nil error means the destination file was produced.
type Fetcher interface {
	Fetch(ctx context.Context, job entity.Job, onProgress ProgressFunc) error
}

// Func adapts a plain function to the Fetcher interface.
type Func func(ctx context.Context, job entity.Job, onProgress ProgressFunc) error

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, job entity.Job, onProgress ProgressFunc) error {
	return f(ctx, job, onProgress)
}

// Wrap applies the retry and timeout decorators configured for jobs.
// The timeout bounds each attempt.
func Wrap(log *slog.Logger, f Fetcher, cfg config.Job) Fetcher {
	if cfg.Timeout > 0 {
		f = WithTimeout(f, cfg.Timeout)
	}

	if cfg.MaxRetries > 0 {
		f = WithRetry(log, f, cfg.MaxRetries, cfg.RetryBackoff)
	}

	return f
}

// ClassifyError returns a short label for metrics.
func ClassifyError(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "fetch"
	}
}

// report forwards a sample when a callback is set.
func report(onProgress ProgressFunc, sample entity.ProgressSample) {
	if onProgress != nil {
		onProgress(sample)
	}
}
