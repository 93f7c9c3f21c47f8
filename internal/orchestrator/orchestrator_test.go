package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"batchdl/internal/entity"
	"batchdl/internal/errs"
	"batchdl/internal/fetcher"
	"batchdl/internal/observability"
	"batchdl/internal/orchestrator"
	"batchdl/internal/progress"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

var errBroken = errors.New("exit status 1")

func makeJobs(names ...string) []entity.Job {
	jobs := make([]entity.Job, 0, len(names))
	for _, name := range names {
		jobs = append(jobs, entity.Job{
			Name:        name,
			Source:      "https://example.com/" + name,
			Destination: "/tmp/" + name + ".mp4",
		})
	}

	return jobs
}

func numberedJobs(n int) []entity.Job {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("job-%02d", i)
	}

	return makeJobs(names...)
}

func newOrchestrator(f fetcher.Fetcher, reporters progress.Factory) (*orchestrator.Orchestrator, *observability.Metrics) {
	metrics := observability.New()

	return orchestrator.New(slog.New(slog.DiscardHandler), f, reporters, metrics), metrics
}

// reporterLog records every reporter call per job.
type reporterLog struct {
	mu    sync.Mutex
	calls map[string][]string
}

func newReporterLog() *reporterLog {
	return &reporterLog{calls: make(map[string][]string)}
}

func (l *reporterLog) New(name string) progress.Reporter {
	return &recordingReporter{name: name, log: l}
}

func (l *reporterLog) add(name, call string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls[name] = append(l.calls[name], call)
}

func (l *reporterLog) get(name string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return slices.Clone(l.calls[name])
}

type recordingReporter struct {
	name string
	log  *reporterLog
}

func (r *recordingReporter) Update(s entity.ProgressSample) {
	r.log.add(r.name, fmt.Sprintf("update:%d/%d", s.Downloaded, s.Total))
}

func (r *recordingReporter) Fail(detail string) { r.log.add(r.name, "fail:"+detail) }

func (r *recordingReporter) Finalize() { r.log.add(r.name, "finalize") }

func sorted(names []string) []string {
	out := slices.Clone(names)
	slices.Sort(out)

	return out
}

func TestRunInvalidLimit(t *testing.T) {
	var calls atomic.Int32

	f := fetcher.Func(func(context.Context, entity.Job, fetcher.ProgressFunc) error {
		calls.Add(1)

		return nil
	})

	o, _ := newOrchestrator(f, nil)

	for _, limit := range []int{0, -1} {
		t.Run(fmt.Sprint(limit), func(t *testing.T) {
			_, err := o.Run(context.Background(), makeJobs("a"), limit)
			if !errors.Is(err, errs.ErrInvalidConcurrency) {
				t.Fatalf("Run() error = %v, want %v", err, errs.ErrInvalidConcurrency)
			}
		})
	}

	if calls.Load() != 0 {
		t.Errorf("fetcher called %d times with an invalid limit", calls.Load())
	}
}

func TestRunEmptyBatch(t *testing.T) {
	var calls atomic.Int32

	f := fetcher.Func(func(context.Context, entity.Job, fetcher.ProgressFunc) error {
		calls.Add(1)

		return nil
	})

	o, _ := newOrchestrator(f, nil)

	result, err := o.Run(context.Background(), nil, 3)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if result.Succeeded == nil || result.Failed == nil || result.Total() != 0 {
		t.Errorf("result = %+v, want empty non-nil lists", result)
	}

	if calls.Load() != 0 {
		t.Errorf("fetcher called %d times for an empty batch", calls.Load())
	}
}

func TestRunOutcomes(t *testing.T) {
	tests := []struct {
		name          string
		jobs          []string
		failing       []string
		limit         int
		wantSucceeded []string
		wantFailed    []string
	}{
		{
			name:          "all succeed",
			jobs:          []string{"a", "b", "c"},
			limit:         2,
			wantSucceeded: []string{"a", "b", "c"},
			wantFailed:    []string{},
		},
		{
			name:          "one failure is isolated",
			jobs:          []string{"a", "b", "c"},
			failing:       []string{"b"},
			limit:         2,
			wantSucceeded: []string{"a", "c"},
			wantFailed:    []string{"b"},
		},
		{
			name:          "all fail",
			jobs:          []string{"a", "b"},
			failing:       []string{"a", "b"},
			limit:         1,
			wantSucceeded: []string{},
			wantFailed:    []string{"a", "b"},
		},
		{
			name:          "limit above job count",
			jobs:          []string{"a", "b"},
			limit:         10,
			wantSucceeded: []string{"a", "b"},
			wantFailed:    []string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32

			f := fetcher.Func(func(_ context.Context, job entity.Job, _ fetcher.ProgressFunc) error {
				calls.Add(1)

				if slices.Contains(tc.failing, job.Name) {
					return errBroken
				}

				return nil
			})

			reporters := newReporterLog()
			o, metrics := newOrchestrator(f, reporters)

			result, err := o.Run(context.Background(), makeJobs(tc.jobs...), tc.limit)
			if err != nil {
				t.Fatalf("Run() failed: %v", err)
			}

			if got := sorted(result.Succeeded); !slices.Equal(got, tc.wantSucceeded) {
				t.Errorf("Succeeded = %v, want %v", got, tc.wantSucceeded)
			}

			if got := sorted(result.Failed); !slices.Equal(got, tc.wantFailed) {
				t.Errorf("Failed = %v, want %v", got, tc.wantFailed)
			}

			if int(calls.Load()) != len(tc.jobs) {
				t.Errorf("fetch calls = %d, want %d", calls.Load(), len(tc.jobs))
			}

			for _, name := range tc.failing {
				want := []string{"fail:" + errBroken.Error(), "finalize"}
				if got := reporters.get(name); !slices.Equal(got, want) {
					t.Errorf("reporter calls for %s = %v, want %v", name, got, want)
				}
			}

			if got := testutil.ToFloat64(metrics.JobsFailed); got != float64(len(tc.failing)) {
				t.Errorf("failed metric = %v, want %d", got, len(tc.failing))
			}

			if got := testutil.ToFloat64(metrics.JobsInProgress); got != 0 {
				t.Errorf("in progress gauge = %v after run", got)
			}
		})
	}
}

func TestRunConcurrencyBound(t *testing.T) {
	tests := []struct {
		name        string
		jobs        int
		limit       int
		wantMax     int32
		wantElapsed time.Duration
	}{
		{name: "limit 3 of 10", jobs: 10, limit: 3, wantMax: 3, wantElapsed: 4 * time.Second},
		{name: "limit 1", jobs: 4, limit: 1, wantMax: 1, wantElapsed: 4 * time.Second},
		{name: "limit above jobs", jobs: 2, limit: 5, wantMax: 2, wantElapsed: time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			synctest.Test(t, func(t *testing.T) {
				var inFlight, peak atomic.Int32

				seen := make(map[string]int)

				var mu sync.Mutex

				f := fetcher.Func(func(_ context.Context, job entity.Job, _ fetcher.ProgressFunc) error {
					mu.Lock()
					seen[job.Name]++
					mu.Unlock()

					n := inFlight.Add(1)
					for {
						p := peak.Load()
						if n <= p || peak.CompareAndSwap(p, n) {
							break
						}
					}

					time.Sleep(time.Second)
					inFlight.Add(-1)

					return nil
				})

				o, _ := newOrchestrator(f, nil)

				start := time.Now()

				result, err := o.Run(context.Background(), numberedJobs(tc.jobs), tc.limit)
				if err != nil {
					t.Fatalf("Run() failed: %v", err)
				}

				if got := peak.Load(); got != tc.wantMax {
					t.Errorf("peak in-flight = %d, want %d", got, tc.wantMax)
				}

				if elapsed := time.Since(start); elapsed != tc.wantElapsed {
					t.Errorf("elapsed = %v, want %v", elapsed, tc.wantElapsed)
				}

				if len(result.Succeeded) != tc.jobs {
					t.Errorf("succeeded = %d, want %d", len(result.Succeeded), tc.jobs)
				}

				for name, n := range seen {
					if n != 1 {
						t.Errorf("job %s fetched %d times", name, n)
					}
				}
			})
		})
	}
}

func TestRunPanicIsolated(t *testing.T) {
	f := fetcher.Func(func(_ context.Context, job entity.Job, _ fetcher.ProgressFunc) error {
		if job.Name == "b" {
			panic("nil map write")
		}

		return nil
	})

	reporters := newReporterLog()
	o, _ := newOrchestrator(f, reporters)

	result, err := o.Run(context.Background(), makeJobs("a", "b", "c"), 2)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if !slices.Equal(result.Failed, []string{"b"}) {
		t.Fatalf("Failed = %v, want [b]", result.Failed)
	}

	if got := sorted(result.Succeeded); !slices.Equal(got, []string{"a", "c"}) {
		t.Fatalf("Succeeded = %v, want [a c]", got)
	}

	calls := reporters.get("b")
	if len(calls) != 2 || !strings.HasPrefix(calls[0], "fail:internal error: panic: nil map write") {
		t.Errorf("reporter calls for b = %v", calls)
	}
}

// panickingReporters fails to allocate a reporter for one job.
type panickingReporters struct {
	*reporterLog
	broken string
}

func (p *panickingReporters) New(name string) progress.Reporter {
	if name == p.broken {
		panic("reporter unavailable")
	}

	return p.reporterLog.New(name)
}

func TestRunReporterPanicIsolated(t *testing.T) {
	var calls atomic.Int32

	f := fetcher.Func(func(context.Context, entity.Job, fetcher.ProgressFunc) error {
		calls.Add(1)

		return nil
	})

	reporters := &panickingReporters{reporterLog: newReporterLog(), broken: "b"}
	o, metrics := newOrchestrator(f, reporters)

	result, err := o.Run(context.Background(), makeJobs("a", "b", "c"), 2)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if !slices.Equal(result.Failed, []string{"b"}) {
		t.Fatalf("Failed = %v, want [b]", result.Failed)
	}

	if got := sorted(result.Succeeded); !slices.Equal(got, []string{"a", "c"}) {
		t.Fatalf("Succeeded = %v, want [a c]", got)
	}

	if got := calls.Load(); got != 2 {
		t.Errorf("fetch calls = %d, want 2", got)
	}

	if got := testutil.ToFloat64(metrics.JobsFailed); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
}

func TestRunCancellation(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var started atomic.Int32

		f := fetcher.Func(func(ctx context.Context, _ entity.Job, _ fetcher.ProgressFunc) error {
			started.Add(1)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Minute):
				return nil
			}
		})

		reporters := newReporterLog()
		o, metrics := newOrchestrator(f, reporters)

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(time.Second, cancel)

		jobs := numberedJobs(6)

		result, err := o.Run(ctx, jobs, 2)
		if err != nil {
			t.Fatalf("Run() failed: %v", err)
		}

		if result.Total() != len(jobs) {
			t.Fatalf("result accounts for %d jobs, want %d", result.Total(), len(jobs))
		}

		if len(result.Failed) != len(jobs) {
			t.Fatalf("Failed = %v, want every job", result.Failed)
		}

		if got := started.Load(); got != 2 {
			t.Errorf("fetches started = %d, want 2", got)
		}

		if got := testutil.ToFloat64(metrics.JobsCancelled); got != float64(len(jobs)) {
			t.Errorf("cancelled metric = %v, want %d", got, len(jobs))
		}

		var inFlightFailures int

		for _, job := range jobs {
			calls := reporters.get(job.Name)
			if len(calls) == 0 {
				continue
			}

			inFlightFailures++

			if !strings.HasPrefix(calls[0], "fail:job cancelled") {
				t.Errorf("reporter calls for %s = %v", job.Name, calls)
			}
		}

		if inFlightFailures != 2 {
			t.Errorf("reporters allocated for %d jobs, want 2", inFlightFailures)
		}
	})
}

func TestRunCancelledFetchThatSucceeds(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())

		f := fetcher.Func(func(context.Context, entity.Job, fetcher.ProgressFunc) error {
			cancel()
			time.Sleep(time.Second)

			return nil
		})

		o, _ := newOrchestrator(f, nil)

		result, err := o.Run(ctx, makeJobs("a", "b"), 1)
		if err != nil {
			t.Fatalf("Run() failed: %v", err)
		}

		if !slices.Equal(result.Succeeded, []string{"a"}) || !slices.Equal(result.Failed, []string{"b"}) {
			t.Fatalf("result = %+v, want a succeeded and b cancelled", result)
		}
	})
}

func TestRunAlreadyCancelled(t *testing.T) {
	var calls atomic.Int32

	f := fetcher.Func(func(context.Context, entity.Job, fetcher.ProgressFunc) error {
		calls.Add(1)

		return nil
	})

	o, _ := newOrchestrator(f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := o.Run(ctx, makeJobs("a", "b", "c"), 2)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if len(result.Failed) != 3 || calls.Load() != 0 {
		t.Fatalf("result = %+v with %d fetches, want 3 failures and no fetch", result, calls.Load())
	}
}

func TestRunForwardsProgress(t *testing.T) {
	f := fetcher.Func(func(_ context.Context, _ entity.Job, onProgress fetcher.ProgressFunc) error {
		onProgress(entity.ProgressSample{Downloaded: 100})
		onProgress(entity.ProgressSample{Downloaded: 400, Total: 1000})
		onProgress(entity.ProgressSample{Downloaded: 300, Total: 1000})
		onProgress(entity.ProgressSample{Downloaded: 1000, Total: 1000, Finished: true})

		return nil
	})

	reporters := newReporterLog()
	o, metrics := newOrchestrator(f, reporters)

	if _, err := o.Run(context.Background(), makeJobs("clip"), 1); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	want := []string{"update:100/0", "update:400/1000", "update:300/1000", "update:1000/1000", "finalize"}
	if got := reporters.get("clip"); !slices.Equal(got, want) {
		t.Errorf("reporter calls = %v, want %v", got, want)
	}

	if got := testutil.ToFloat64(metrics.JobDownloadBytes); got != 1000 {
		t.Errorf("download bytes = %v, want 1000", got)
	}

	if got := testutil.ToFloat64(metrics.JobsCompleted); got != 1 {
		t.Errorf("completed = %v, want 1", got)
	}
}

func TestRunCountsRestartedTransfer(t *testing.T) {
	f := fetcher.Func(func(_ context.Context, _ entity.Job, onProgress fetcher.ProgressFunc) error {
		onProgress(entity.ProgressSample{Downloaded: 600, Total: 1000})
		onProgress(entity.ProgressSample{})
		onProgress(entity.ProgressSample{Downloaded: 500, Total: 1000})
		onProgress(entity.ProgressSample{Downloaded: 1000, Total: 1000, Finished: true})

		return nil
	})

	o, metrics := newOrchestrator(f, nil)

	if _, err := o.Run(context.Background(), makeJobs("clip"), 1); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if got := testutil.ToFloat64(metrics.JobDownloadBytes); got != 1600 {
		t.Errorf("download bytes = %v, want 1600", got)
	}
}
