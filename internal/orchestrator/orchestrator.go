// Package orchestrator runs a batch of download jobs under a concurrency limit.
//
// Every submitted job ends with exactly one outcome, whether it succeeded, failed,
// panicked, or was never started because the batch was cancelled.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"batchdl/internal/entity"
	"batchdl/internal/errs"
	"batchdl/internal/fetcher"
	"batchdl/internal/observability"
	"batchdl/internal/progress"
	"batchdl/internal/summary"
	"batchdl/pkg/calc"
	"batchdl/pkg/gen"
)

// Orchestrator distributes jobs to a bounded set of workers.
type Orchestrator struct {
	log       *slog.Logger
	fetcher   fetcher.Fetcher
	reporters progress.Factory
	metrics   *observability.Metrics
}

// New creates an orchestrator. A nil reporters factory disables progress output.
func New(log *slog.Logger, f fetcher.Fetcher, reporters progress.Factory, metrics *observability.Metrics) *Orchestrator {
	if reporters == nil {
		reporters = progress.Nop{}
	}

	if metrics == nil {
		metrics = observability.New()
	}

	return &Orchestrator{
		log:       log.With(slog.String("package", "orchestrator")),
		fetcher:   f,
		reporters: reporters,
		metrics:   metrics,
	}
}

// sink collects outcomes in recording order.
type sink struct {
	mu       sync.Mutex
	outcomes []entity.Outcome
}

func (s *sink) record(o entity.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcomes = append(s.outcomes, o)
}

// Run fetches every job with at most limit fetches in flight and returns the partitioned outcomes.
// Cancelling ctx stops new fetches; jobs that never start are recorded as cancelled failures
// and the partial result is returned without an error.
func (o *Orchestrator) Run(ctx context.Context, jobs []entity.Job, limit int) (entity.BatchResult, error) {
	if limit < 1 {
		return entity.BatchResult{}, fmt.Errorf("%w: got %d", errs.ErrInvalidConcurrency, limit)
	}

	log := o.log.With(slog.String("func", "Run"), slog.String("run_id", gen.RunID()))

	if len(jobs) == 0 {
		log.InfoContext(ctx, "empty batch")

		return summary.Summarize(nil), nil
	}

	pending := make(chan entity.Job, len(jobs))
	for _, job := range jobs {
		pending <- job
	}
	close(pending)

	workers := min(limit, len(jobs))
	results := &sink{outcomes: make([]entity.Outcome, 0, len(jobs))}

	log.InfoContext(ctx, "batch started", slog.Int("jobs", len(jobs)), slog.Int("workers", workers))

	var wg sync.WaitGroup
	for i := range workers {
		wg.Go(func() {
			o.worker(ctx, i, pending, results)
		})
	}

	wg.Wait()

	result := summary.Summarize(results.outcomes)

	log.InfoContext(ctx, "batch finished", slog.Any("result", result), slog.Bool("cancelled", ctx.Err() != nil))

	return result, nil
}

func (o *Orchestrator) worker(ctx context.Context, workerID int, pending <-chan entity.Job, results *sink) {
	log := o.log.With(slog.String("func", "worker"), slog.Int("worker_id", workerID))

	for job := range pending {
		if ctx.Err() != nil {
			err := fmt.Errorf("%w: %w", errs.ErrJobCancelled, context.Cause(ctx))
			o.metrics.RecordJobCancelled(false)
			log.DebugContext(ctx, "job not started", slog.String("job", job.Name))
			results.record(entity.Failed(job.Name, err))

			continue
		}

		results.record(o.processJob(ctx, job))
	}
}

// processJob runs one fetch and converts every way it can end, panics included, into an outcome.
func (o *Orchestrator) processJob(ctx context.Context, job entity.Job) (outcome entity.Outcome) {
	log := o.log.With(slog.String("func", "processJob"),
		slog.String("job", job.Name),
		slog.String("job_id", gen.JobID(job.Name, job.Source)))

	o.metrics.RecordJobStarted()
	observe := o.metrics.JobTimer()

	defer observe()

	var reporter progress.Reporter

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		err := fmt.Errorf("%w: panic: %v", errs.ErrInternal, r)
		log.ErrorContext(ctx, "job panicked", slog.Any("error", err))

		if reporter == nil {
			reporter = progress.Nop{}
		}

		o.fail(reporter, err, false)

		outcome = entity.Failed(job.Name, err)
	}()

	reporter = o.reporters.New(job.Name)

	// counted holds the bytes of the current attempt, an empty sample restarts it.
	var counted atomic.Int64

	onProgress := func(sample entity.ProgressSample) {
		reporter.Update(sample)

		for {
			last := counted.Load()
			if sample.Downloaded != 0 && sample.Downloaded <= last {
				return
			}

			if counted.CompareAndSwap(last, sample.Downloaded) {
				o.metrics.AddDownloadBytes(calc.Delta(last, sample.Downloaded))

				return
			}
		}
	}

	log.DebugContext(ctx, "job started", slog.Any("details", job))

	err := o.fetcher.Fetch(ctx, job, onProgress)
	if err == nil {
		reporter.Finalize()
		o.metrics.RecordJobCompleted()
		log.InfoContext(ctx, "job succeeded", slog.Int64("bytes", counted.Load()))

		return entity.Succeeded(job.Name)
	}

	cancelled := ctx.Err() != nil
	if cancelled && !errors.Is(err, errs.ErrJobCancelled) {
		err = fmt.Errorf("%w: %w", errs.ErrJobCancelled, err)
	}

	log.ErrorContext(ctx, "job failed",
		slog.Any("error", err),
		slog.String("error_type", fetcher.ClassifyError(err)),
		slog.Bool("cancelled", cancelled))

	o.fail(reporter, err, cancelled)

	return entity.Failed(job.Name, err)
}

func (o *Orchestrator) fail(reporter progress.Reporter, err error, cancelled bool) {
	reporter.Fail(err.Error())
	reporter.Finalize()

	if cancelled {
		o.metrics.RecordJobCancelled(true)

		return
	}

	o.metrics.RecordJobFailed()
}
