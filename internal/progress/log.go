package progress

import (
	"log/slog"
	"sync"
	"time"

	"batchdl/internal/consts"
	"batchdl/internal/entity"
	"batchdl/pkg/calc"
)

// Logs writes progress as throttled log records, for runs without a terminal.
type Logs struct {
	log  *slog.Logger
	freq time.Duration
}

// NewLogs returns a log reporter factory.
func NewLogs(log *slog.Logger) *Logs {
	return &Logs{
		log:  log.With(slog.String("package", "progress")),
		freq: consts.DefaultLogProgressFreq,
	}
}

// New allocates a log reporter for the named job.
func (l *Logs) New(name string) Reporter {
	return &Log{
		log:     l.log.With(slog.String("job", name)),
		freq:    l.freq,
		started: time.Now(),
	}
}

// Log reports one job through slog.
type Log struct {
	mu        sync.Mutex
	log       *slog.Logger
	freq      time.Duration
	started   time.Time
	lastEmit  time.Time
	last      entity.ProgressSample
	failed    bool
	finalized bool
}

// Update records the sample and logs it at most once per interval.
func (l *Log) Update(sample entity.ProgressSample) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.finalized {
		return
	}

	l.last = sample

	if !sample.Finished && time.Since(l.lastEmit) < l.freq {
		return
	}

	l.lastEmit = time.Now()

	l.log.Info("job progress",
		slog.Int("progress", calc.Progress(sample.Downloaded, sample.Total)),
		slog.Duration("eta", calc.ETA(sample.Downloaded, sample.Total, l.started)),
		slog.Any("sample", sample))
}

// Fail logs the failure notice.
func (l *Log) Fail(detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.finalized {
		return
	}

	l.failed = true
	l.log.Error("job failed", slog.String("detail", detail))
}

// Finalize logs the final byte count.
func (l *Log) Finalize() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.finalized {
		return
	}

	l.finalized = true

	if l.failed {
		return
	}

	l.log.Info("job finished",
		slog.Int64("downloaded", l.last.Downloaded),
		slog.Duration("elapsed", time.Since(l.started)))
}
