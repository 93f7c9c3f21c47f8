package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"batchdl/internal/config"
	"batchdl/internal/consts"
	"batchdl/internal/entity"
	"batchdl/internal/errs"
	"batchdl/internal/observability"

	"golang.org/x/time/rate"
)

const (
	filePermReadWrite = 0o644
	dirPerm           = 0o755
	copyBufSize       = 32 * 1024
)

// HTTP fetches a job source with a single GET request.
type HTTP struct {
	log     *slog.Logger
	client  *http.Client
	limiter *rate.Limiter
	metrics *observability.Metrics
	freq    time.Duration
}

// NewHTTP creates an HTTP fetcher. A positive cfg.Fetch.RateLimit caps the
// combined read rate of all jobs in bytes per second.
func NewHTTP(log *slog.Logger, cfg *config.Config, metrics *observability.Metrics) *HTTP {
	h := &HTTP{
		log:     log.With(slog.String("package", "fetcher"), slog.String("fetcher", consts.FetcherHTTP)),
		client:  &http.Client{Timeout: cfg.Fetch.HTTPTimeout},
		metrics: metrics,
		freq:    consts.DefaultProgressFreq,
	}

	if cfg.Fetch.RateLimit > 0 {
		burst := int(max(cfg.Fetch.RateLimit, copyBufSize))
		h.limiter = rate.NewLimiter(rate.Limit(cfg.Fetch.RateLimit), burst)
	}

	return h
}

// Fetch downloads job.Source into job.Destination through a .part file.
func (h *HTTP) Fetch(ctx context.Context, job entity.Job, onProgress ProgressFunc) error {
	log := h.log.With(slog.String("func", "Fetch"), slog.String("job", job.Name))

	err := h.fetch(ctx, job, onProgress)
	if err != nil {
		h.record(consts.FetcherHTTP, "error", ClassifyError(err))
		log.ErrorContext(ctx, "fetch failed", slog.Any("error", err))

		return fmt.Errorf("%w: %w", errs.ErrFetchFailed, err)
	}

	h.record(consts.FetcherHTTP, "ok", "")
	log.DebugContext(ctx, "fetched", slog.String("destination", job.Destination))

	return nil
}

func (h *HTTP) record(fetcher, status, errType string) {
	if h.metrics == nil {
		return
	}

	h.metrics.RecordFetcherRequest(fetcher, status)

	if errType != "" {
		h.metrics.RecordFetcherError(fetcher, errType)
	}
}

func (h *HTTP) fetch(ctx context.Context, job entity.Job, onProgress ProgressFunc) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.Source, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s", errs.ErrUnexpectedStatus, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(job.Destination), dirPerm); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}

	partPath := job.Destination + consts.PartSuffix

	file, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermReadWrite)
	if err != nil {
		return fmt.Errorf("create part file: %w", err)
	}

	defer func() {
		if err != nil {
			file.Close()
			os.Remove(partPath)
		}
	}()

	counter := newCountingWriter(resp.ContentLength, h.freq, onProgress)

	var body io.Reader = resp.Body
	if h.limiter != nil {
		body = &limitedReader{ctx: ctx, r: resp.Body, limiter: h.limiter}
	}

	if _, err = io.CopyBuffer(io.MultiWriter(file, counter), body, make([]byte, copyBufSize)); err != nil {
		return fmt.Errorf("write body: %w", err)
	}

	if err = file.Close(); err != nil {
		return fmt.Errorf("close part file: %w", err)
	}

	if err = os.Rename(partPath, job.Destination); err != nil {
		return fmt.Errorf("rename part file: %w", err)
	}

	counter.finish()

	return nil
}

// countingWriter turns written byte counts into throttled progress samples.
type countingWriter struct {
	mu         sync.Mutex
	total      int64
	written    int64
	freq       time.Duration
	lastReport time.Time
	onProgress ProgressFunc
}

func newCountingWriter(total int64, freq time.Duration, onProgress ProgressFunc) *countingWriter {
	return &countingWriter{total: total, freq: freq, onProgress: onProgress}
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.mu.Lock()
	c.written += int64(len(p))
	sample, due := c.sample(false)
	c.mu.Unlock()

	if due {
		report(c.onProgress, sample)
	}

	return len(p), nil
}

func (c *countingWriter) finish() {
	c.mu.Lock()
	sample, _ := c.sample(true)
	c.mu.Unlock()

	report(c.onProgress, sample)
}

func (c *countingWriter) sample(finished bool) (entity.ProgressSample, bool) {
	now := time.Now()
	due := finished || now.Sub(c.lastReport) >= c.freq

	if due {
		c.lastReport = now
	}

	total := c.total
	if finished && total <= 0 {
		total = c.written
	}

	return entity.ProgressSample{Downloaded: c.written, Total: total, Finished: finished}, due
}

// limitedReader waits on a shared limiter before handing out bytes.
type limitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if burst := l.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}

	n, err := l.r.Read(p)
	if n > 0 {
		if werr := l.limiter.WaitN(l.ctx, n); werr != nil {
			return n, werr
		}
	}

	return n, err
}
