// entry point of the application
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"batchdl/internal/config"
	"batchdl/internal/consts"
	"batchdl/internal/depmanager"
	"batchdl/internal/entity"
	"batchdl/internal/errs"
	"batchdl/internal/fetcher"
	"batchdl/internal/joblist"
	"batchdl/internal/observability"
	"batchdl/internal/orchestrator"
	"batchdl/internal/progress"
	"batchdl/internal/proxymgr"
	"batchdl/internal/summary"
	"batchdl/pkg/logger"

	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitOK          = 0
	exitJobsFailed  = 1
	exitUsageConfig = 2
)

const outDirPerm = 0o755

// errJobsFailed marks a batch that ran but did not fully succeed.
var errJobsFailed = errors.New("some jobs failed")

// batchSpec describes what differs between the subcommands.
type batchSpec struct {
	process   string
	outPrefix string
	load      func(path, outDir string) ([]entity.Job, error)
}

var (
	videoBatch  = batchSpec{process: consts.ProcessVideo, outPrefix: "videos_", load: joblist.LoadVideos}
	slidesBatch = batchSpec{process: consts.ProcessSlides, outPrefix: "slides_", load: joblist.LoadURLs}
)

type batchFlags struct {
	outDir     string
	workers    int
	workersSet bool
}

func main() {
	ctx, stop := signalContext()

	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)

	stop()
	os.Exit(code)
}

// signalContext is cancelled by the first SIGINT or SIGTERM, which lets the batch wind down.
// The handler is released right after, so a second signal kills the process.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	context.AfterFunc(ctx, stop)

	return ctx, stop
}

// execute runs the CLI and maps its error to an exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errJobsFailed):
		return exitJobsFailed
	default:
		fmt.Fprintln(stderr, "Error:", err)

		return exitUsageConfig
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "batchdl",
		Short:         "Batch download course videos and slides",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.SetOut(stdout)
	root.SetErr(stderr)

	root.AddCommand(
		newBatchCmd(videoBatch, "video <list.yaml>", "Download the videos listed in a YAML file with yt-dlp", stdout, stderr),
		newBatchCmd(slidesBatch, "slides <urls.txt>", "Download slide images listed one URL per line", stdout, stderr),
	)

	return root
}

func newBatchCmd(batch batchSpec, use, short string, stdout, stderr io.Writer) *cobra.Command {
	var flags batchFlags

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.workersSet = cmd.Flags().Changed("workers")

			return runBatch(cmd.Context(), batch, args[0], flags, stdout, stderr)
		},
	}

	cmd.Flags().StringVar(&flags.outDir, "outdir", "",
		"output directory (default <OUTPUT_DIR>/"+batch.outPrefix+"<timestamp>)")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "concurrent downloads (default BATCHDL_MAX_WORKERS)")

	return cmd
}

func runBatch(ctx context.Context, batch batchSpec, listPath string, flags batchFlags, stdout, stderr io.Writer) error {
	cfg, err := config.New(batch.process)
	if err != nil {
		return fmt.Errorf("config new: %w", err)
	}

	timestamp := time.Now().Format(consts.DefaultRunTimestamp)

	logFile, err := logger.OpenRunFile(cfg.Dir.Logs, batch.process+"_"+timestamp)
	if err != nil {
		return err
	}
	defer logFile.Close()

	log, err := logger.New(&logger.Options{
		AddSource: true,
		Level:     cfg.App.LogLevel,
		Output:    logFile,
	})
	if err != nil {
		log.WarnContext(ctx, "logger level invalid; defaulting to info", slog.Any("error", err))
	}

	log = log.With(slog.String("process", batch.process))

	outDir := flags.outDir
	if outDir == "" {
		outDir = filepath.Join(cfg.Dir.Output, batch.outPrefix+timestamp)
	}

	workers := cfg.Job.Workers
	if flags.workersSet {
		workers = flags.workers
	}

	if workers < 1 {
		return fmt.Errorf("%w: got %d", errs.ErrInvalidConcurrency, workers)
	}

	jobs, err := batch.load(listPath, outDir)
	if err != nil {
		return err
	}

	metrics := observability.New()

	f, err := newFetcher(ctx, log, cfg, batch.process, metrics)
	if err != nil {
		return err
	}

	reporters, err := progress.NewFactory(log, cfg.App.Progress, stderr)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outDir, outDirPerm); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	log.InfoContext(ctx, "batch loaded",
		slog.String("list", listPath),
		slog.String("outdir", outDir),
		slog.Int("jobs", len(jobs)),
		slog.Int("workers", workers),
		slog.Bool("dry_run", cfg.App.DryRun))

	orch := orchestrator.New(log, fetcher.Wrap(log, f, cfg.Job), reporters, metrics)

	result, err := orch.Run(ctx, jobs, workers)
	if err != nil {
		return err
	}

	if err := summary.Write(stdout, result); err != nil {
		log.ErrorContext(ctx, "write summary", slog.Any("error", err))
	}

	if cfg.Metrics.TextfilePath != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
			log.ErrorContext(ctx, "write metrics", slog.Any("error", err))
		}
	}

	if ctx.Err() != nil {
		log.WarnContext(ctx, "batch interrupted", slog.Any("error", context.Cause(ctx)))
	}

	if len(result.Failed) > 0 {
		return fmt.Errorf("%w: %d of %d", errJobsFailed, len(result.Failed), result.Total())
	}

	return nil
}

// newFetcher builds the fetch capability for the process. Dry runs never touch the network.
func newFetcher(ctx context.Context, log *slog.Logger, cfg *config.Config, process string,
	metrics *observability.Metrics,
) (fetcher.Fetcher, error) {
	if cfg.App.DryRun {
		return fetcher.NewMock(log, consts.DefaultSimulateTime), nil
	}

	if process == consts.ProcessSlides {
		return fetcher.NewHTTP(log, cfg, metrics), nil
	}

	depMgr := depmanager.New(log, cfg)

	log.InfoContext(ctx, "checking if yt-dlp and ffmpeg are installed. it may take some time...")

	if err := depMgr.Ensure(ctx, depmanager.BinaryYTdlp); err != nil {
		return nil, fmt.Errorf("resolve yt-dlp: %w", err)
	}

	if err := depMgr.Ensure(ctx, depmanager.BinaryFFmpeg); err != nil {
		log.WarnContext(ctx, "ffmpeg unavailable, formats that need merging will fail", slog.Any("error", err))
	}

	proxyMgr := proxymgr.New(log, cfg, metrics)
	if proxyMgr.HasProxies() {
		reachable := proxyMgr.CheckAll(ctx)
		log.InfoContext(ctx, "proxy manager initialized",
			slog.Int("proxy_count", len(cfg.Proxy.Proxies)),
			slog.Int("reachable", reachable))
	}

	return fetcher.NewYTdlp(log, cfg, depMgr, proxyMgr, metrics), nil
}
