package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"batchdl/internal/config"
	"batchdl/internal/consts"
	"batchdl/internal/depmanager"
	"batchdl/internal/entity"
	"batchdl/internal/errs"
	"batchdl/internal/observability"
	"batchdl/internal/proxymgr"

	"github.com/lrstanley/go-ytdlp"
)

// YTdlp fetches videos by running yt-dlp once per job.
type YTdlp struct {
	log     *slog.Logger
	cfg     *config.Config
	deps    *depmanager.Manager
	proxies *proxymgr.Manager
	metrics *observability.Metrics
}

// NewYTdlp creates a yt-dlp fetcher. deps must have resolved yt-dlp; proxies may be nil.
func NewYTdlp(log *slog.Logger, cfg *config.Config, deps *depmanager.Manager,
	proxies *proxymgr.Manager, metrics *observability.Metrics,
) *YTdlp {
	return &YTdlp{
		log:     log.With(slog.String("package", "fetcher"), slog.String("fetcher", consts.FetcherYTdlp)),
		cfg:     cfg,
		deps:    deps,
		proxies: proxies,
		metrics: metrics,
	}
}

// Fetch downloads job.Source to job.Destination.
func (d *YTdlp) Fetch(ctx context.Context, job entity.Job, onProgress ProgressFunc) error {
	log := d.log.With(slog.String("func", "Fetch"), slog.String("job", job.Name))

	if err := os.MkdirAll(filepath.Dir(job.Destination), dirPerm); err != nil {
		return fmt.Errorf("%w: create destination dir: %w", errs.ErrFetchFailed, err)
	}

	progressFn := func(prog ytdlp.ProgressUpdate) {
		log.DebugContext(ctx, "ytdlp progress",
			slog.String("status", string(prog.Status)),
			slog.Int("downloaded", prog.DownloadedBytes),
			slog.Int("total", prog.TotalBytes))

		report(onProgress, entity.ProgressSample{
			Downloaded: int64(prog.DownloadedBytes),
			Total:      int64(prog.TotalBytes),
			Finished:   prog.Status == ytdlp.ProgressStatusFinished,
		})
	}

	command := d.command(job).ProgressFunc(consts.DefaultProgressFreq, progressFn)

	proxy := ""
	if d.proxies != nil && d.proxies.HasProxies() {
		proxy = d.proxies.GetRandomProxy()
		if proxy == "" {
			log.WarnContext(ctx, "all proxies cooling down, going direct", slog.Any("error", errs.ErrNoProxiesAvailable))
		} else {
			log.DebugContext(ctx, "using proxy", slog.String("proxy", proxy))
			command = command.Proxy(proxy)
		}
	}

	res, err := command.Run(ctx, job.Source)
	if err != nil {
		if proxy != "" && ctx.Err() == nil {
			d.proxies.MarkFailed(proxy)
		}

		d.record("error", ClassifyError(err))

		attrs := []any{slog.Any("error", err)}
		if res != nil {
			attrs = append(attrs, slog.Int("exit_code", res.ExitCode), slog.String("stderr", res.Stderr))
		}

		log.ErrorContext(ctx, "ytdlp run", attrs...)

		return fmt.Errorf("%w: ytdlp: %w", errs.ErrFetchFailed, err)
	}

	if proxy != "" {
		d.proxies.MarkSuccess(proxy)
	}

	d.record("ok", "")
	log.InfoContext(ctx, "downloaded", slog.String("destination", job.Destination))

	return nil
}

// command builds the yt-dlp invocation shared by every job.
func (d *YTdlp) command(job entity.Job) *ytdlp.Command {
	command := ytdlp.New().
		Output(outputTemplate(job.Destination)).
		NoPlaylist().
		ConcurrentFragments(d.cfg.Fetch.ConcurrentFragments)

	if path := d.deps.GetInstalledPath(depmanager.BinaryYTdlp); path != "" {
		command = command.SetExecutable(path)
	}

	if path := d.deps.GetInstalledPath(depmanager.BinaryFFmpeg); path != "" {
		command = command.FFmpegLocation(path)
	}

	if d.cfg.Fetch.RateLimit > 0 {
		command = command.LimitRate(strconv.FormatInt(d.cfg.Fetch.RateLimit, 10))
	}

	if cookiesExist(d.cfg.Dir.CookieFile) {
		command = command.Cookies(d.cfg.Dir.CookieFile)
	}

	return command
}

func (d *YTdlp) record(status, errType string) {
	if d.metrics == nil {
		return
	}

	d.metrics.RecordFetcherRequest(consts.FetcherYTdlp, status)

	if errType != "" {
		d.metrics.RecordFetcherError(consts.FetcherYTdlp, errType)
	}
}

// outputTemplate escapes yt-dlp template markers so the destination is used literally.
func outputTemplate(destination string) string {
	return strings.ReplaceAll(destination, "%", "%%")
}

func cookiesExist(path string) bool {
	if path == "" {
		return false
	}

	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	return !info.IsDir()
}
