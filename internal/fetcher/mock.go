package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"batchdl/internal/consts"
	"batchdl/internal/entity"
	"batchdl/internal/errs"
)

const (
	mockSteps     = 10
	mockStepBytes = 1 << 20
)

// Mock simulates downloads for dry runs. It writes an empty destination file
// unless NoWrite is set.
type Mock struct {
	log      *slog.Logger
	duration time.Duration
	NoWrite  bool
}

// NewMock creates a mock fetcher that takes duration per job.
func NewMock(log *slog.Logger, duration time.Duration) *Mock {
	if duration <= 0 {
		duration = consts.DefaultSimulateTime
	}

	return &Mock{
		log:      log.With(slog.String("package", "fetcher"), slog.String("fetcher", consts.FetcherMock)),
		duration: duration,
	}
}

// Fetch pretends to download the job in ticks.
func (m *Mock) Fetch(ctx context.Context, job entity.Job, onProgress ProgressFunc) error {
	log := m.log.With(slog.String("func", "Fetch"), slog.String("job", job.Name))

	if err := simulateDownload(ctx, m.duration, onProgress); err != nil {
		log.DebugContext(ctx, "simulate download", slog.Any("error", err))

		return fmt.Errorf("%w: simulate download: %w", errs.ErrFetchFailed, err)
	}

	if !m.NoWrite {
		if err := os.MkdirAll(filepath.Dir(job.Destination), dirPerm); err != nil {
			return fmt.Errorf("%w: create destination dir: %w", errs.ErrFetchFailed, err)
		}

		if err := os.WriteFile(job.Destination, nil, filePermReadWrite); err != nil {
			return fmt.Errorf("%w: write destination: %w", errs.ErrFetchFailed, err)
		}
	}

	log.DebugContext(ctx, "simulated", slog.String("destination", job.Destination))

	return nil
}

func simulateDownload(ctx context.Context, duration time.Duration, onProgress ProgressFunc) error {
	const total = mockSteps * mockStepBytes

	ticker := time.NewTicker(duration / mockSteps)
	defer ticker.Stop()

	for step := 1; step <= mockSteps; step++ {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-ticker.C:
			report(onProgress, entity.ProgressSample{
				Downloaded: int64(step * mockStepBytes),
				Total:      total,
				Finished:   step == mockSteps,
			})
		}
	}

	return nil
}
