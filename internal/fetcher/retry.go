package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"batchdl/internal/entity"
)

type retrying struct {
	log      *slog.Logger
	next     Fetcher
	attempts int
	backoff  time.Duration
}

// WithRetry retries a failed fetch up to retries more times, waiting backoff between attempts.
// It gives up as soon as ctx is done. Before each new attempt it reports an empty sample
// so progress consumers know the transfer starts over.
func WithRetry(log *slog.Logger, f Fetcher, retries int, backoff time.Duration) Fetcher {
	return &retrying{
		log:      log.With(slog.String("package", "fetcher"), slog.String("func", "WithRetry")),
		next:     f,
		attempts: retries + 1,
		backoff:  backoff,
	}
}

func (r *retrying) Fetch(ctx context.Context, job entity.Job, onProgress ProgressFunc) error {
	var lastErr error

	for attempt := range r.attempts {
		if attempt > 0 {
			timer := time.NewTimer(r.backoff)

			select {
			case <-ctx.Done():
				timer.Stop()

				return lastErr
			case <-timer.C:
			}

			r.log.InfoContext(ctx, "retrying job",
				slog.String("job", job.Name), slog.Int("attempt", attempt+1), slog.Any("error", lastErr))

			report(onProgress, entity.ProgressSample{})
		}

		lastErr = r.next.Fetch(ctx, job, onProgress)
		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil {
			return lastErr
		}
	}

	return fmt.Errorf("after %d attempts: %w", r.attempts, lastErr)
}

type timeout struct {
	next Fetcher
	d    time.Duration
}

// WithTimeout bounds every fetch by d. An expired fetch fails like any other error.
func WithTimeout(f Fetcher, d time.Duration) Fetcher {
	return &timeout{next: f, d: d}
}

func (t *timeout) Fetch(ctx context.Context, job entity.Job, onProgress ProgressFunc) error {
	ctx, cancel := context.WithTimeoutCause(ctx, t.d, fmt.Errorf("job exceeded %s: %w", t.d, context.DeadlineExceeded))
	defer cancel()

	err := t.next.Fetch(ctx, job, onProgress)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", err, context.Cause(ctx))
	}

	return err
}
