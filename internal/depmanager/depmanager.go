// Package depmanager resolves the external binaries the fetchers run.
// A binary is looked up in PATH when allowed, then in the bins directory,
// and downloaded into the bins directory as a last resort.
package depmanager

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"batchdl/internal/config"
	"batchdl/internal/errs"

	"github.com/ulikunitz/xz"
)

// BinaryName represents the name of a binary dependency.
type BinaryName string

// Binary dependency names.
const (
	BinaryYTdlp   BinaryName = "yt-dlp"
	BinaryFFmpeg  BinaryName = "ffmpeg"
	BinaryFFprobe BinaryName = "ffprobe"
)

const (
	platformLinux   = "linux"
	platformWindows = "windows"
	archARM64       = "arm64"
	archAMD64       = "amd64"
)

const (
	// downloadTimeout is the HTTP client timeout for downloading binaries.
	downloadTimeout = 10 * time.Minute
	// filePermExecutable is the file permission for executable binaries.
	filePermExecutable = 0o755

	tarXZSuffix = ".tar.xz"
)

// Platform represents the OS and architecture combination.
type Platform struct {
	OS   string
	Arch string
}

// String returns the platform string in format "os/arch".
func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// Manager manages binary dependencies.
type Manager struct {
	log      *slog.Logger
	cfg      *config.Config
	platform Platform
	client   *http.Client
	lookPath func(string) (string, error)

	mu       sync.RWMutex
	binPaths map[BinaryName]string
}

// New creates a new dependency manager.
func New(log *slog.Logger, cfg *config.Config) *Manager {
	return &Manager{
		log: log.With(slog.String("package", "depmanager")),
		cfg: cfg,
		platform: Platform{
			OS:   runtime.GOOS,
			Arch: runtime.GOARCH,
		},
		client: &http.Client{
			Timeout: downloadTimeout,
		},
		lookPath: exec.LookPath,
		binPaths: make(map[BinaryName]string),
	}
}

// Ensure resolves every named binary, downloading the missing ones.
// It stops at the first binary that cannot be resolved.
func (m *Manager) Ensure(ctx context.Context, names ...BinaryName) error {
	for _, name := range names {
		if err := m.ensure(ctx, name); err != nil {
			return fmt.Errorf("%w: %s: %w", errs.ErrBinaryNotFound, name, err)
		}
	}

	return nil
}

func (m *Manager) ensure(ctx context.Context, name BinaryName) error {
	log := m.log.With(slog.String("binary", string(name)))

	if m.GetInstalledPath(name) != "" {
		return nil
	}

	if m.cfg.DepManager.UseSystemBinaries {
		path, err := m.lookPath(string(name))
		if err == nil {
			m.setInstalledPath(name, path)
			log.DebugContext(ctx, "using system binary", slog.String("path", path))

			return nil
		}

		log.DebugContext(ctx, "binary not in PATH", slog.Any("error", err))
	}

	if m.isBinaryExists(name) {
		m.setInstalledPath(name, m.GetBinaryPath(name))
		log.DebugContext(ctx, "binary already exists", slog.String("path", m.GetBinaryPath(name)))

		return nil
	}

	return m.downloadAndInstall(ctx, name)
}

// GetBinaryPath returns where a binary lives inside the bins directory.
func (m *Manager) GetBinaryPath(name BinaryName) string {
	filename := string(name)
	if m.platform.OS == platformWindows {
		filename += ".exe"
	}

	return filepath.Join(m.cfg.DepManager.BinsDir, filename)
}

// GetInstalledPath returns the resolved path for a binary, or empty if not resolved.
func (m *Manager) GetInstalledPath(name BinaryName) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.binPaths[name]
}

func (m *Manager) setInstalledPath(name BinaryName, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.binPaths[name] = path
}

// isBinaryExists checks if a binary file exists and has non-zero size.
func (m *Manager) isBinaryExists(name BinaryName) bool {
	info, err := os.Stat(m.GetBinaryPath(name))

	return err == nil && info.Size() > 0
}

// downloadAndInstall downloads a binary, or the archive that carries it, into the bins directory.
func (m *Manager) downloadAndInstall(ctx context.Context, name BinaryName) error {
	log := m.log.With(slog.String("binary", string(name)))

	url := m.getBinaryURL(name)
	if url == "" {
		return fmt.Errorf("no download URL configured for %s on %s", name, m.platform)
	}

	if err := os.MkdirAll(m.cfg.DepManager.BinsDir, filePermExecutable); err != nil {
		return fmt.Errorf("create bins directory: %w", err)
	}

	log.InfoContext(ctx, "downloading binary", slog.String("url", url))

	installed, err := m.downloadDependency(ctx, url, name)
	if err != nil {
		return fmt.Errorf("download dependency: %w", err)
	}

	for _, target := range installed {
		path := filepath.Join(m.cfg.DepManager.BinsDir, string(target))
		if err := os.Chmod(path, filePermExecutable); err != nil {
			return fmt.Errorf("chmod: %w", err)
		}

		m.setInstalledPath(target, path)
	}

	log.InfoContext(ctx, "binary installed", slog.String("path", m.GetInstalledPath(name)))

	return nil
}

func (m *Manager) getBinaryURL(name BinaryName) string {
	cfg := m.cfg.DepManager

	switch name {
	case BinaryYTdlp:
		return m.selectURL(cfg.YTdlpLinuxARM64, cfg.YTdlpLinuxAMD64)
	case BinaryFFmpeg, BinaryFFprobe:
		return m.selectURL(cfg.FFmpegLinuxARM64, cfg.FFmpegLinuxAMD64)
	}

	return ""
}

// selectURL picks the release for the running platform. Only linux builds are configured.
func (m *Manager) selectURL(linuxARM64, linuxAMD64 string) string {
	if m.platform.OS != platformLinux {
		return ""
	}

	switch m.platform.Arch {
	case archARM64:
		return linuxARM64
	case archAMD64:
		return linuxAMD64
	}

	return ""
}

// downloadDependency fetches url into the bins directory and returns the binaries it installed.
func (m *Manager) downloadDependency(ctx context.Context, url string, name BinaryName) ([]BinaryName, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", errs.ErrUnexpectedStatus, resp.StatusCode)
	}

	destDir := m.cfg.DepManager.BinsDir

	tmpFile, err := os.CreateTemp(destDir, "download-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	tmpPath := tmpFile.Name()

	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	if !strings.HasSuffix(url, tarXZSuffix) {
		if err := os.Rename(tmpPath, m.GetBinaryPath(name)); err != nil {
			return nil, fmt.Errorf("rename: %w", err)
		}

		return []BinaryName{name}, nil
	}

	targets := filesNeeded(name)

	extracted, err := extractFromTarXZ(tmpPath, destDir, targets)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	return extracted, nil
}

// filesNeeded returns the binaries to take out of the release archive for name.
func filesNeeded(name BinaryName) map[BinaryName]struct{} {
	if name == BinaryFFmpeg || name == BinaryFFprobe {
		return map[BinaryName]struct{}{BinaryFFmpeg: {}, BinaryFFprobe: {}}
	}

	return map[BinaryName]struct{}{name: {}}
}

func extractFromTarXZ(tarXZPath, destDir string, targets map[BinaryName]struct{}) ([]BinaryName, error) {
	file, err := os.Open(tarXZPath)
	if err != nil {
		return nil, fmt.Errorf("open tar.xz: %w", err)
	}
	defer file.Close()

	xzReader, err := xz.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("create xz reader: %w", err)
	}

	return extractTarSelected(xzReader, destDir, targets)
}

func extractTarSelected(reader io.Reader, destDir string, targets map[BinaryName]struct{}) ([]BinaryName, error) {
	tarReader := tar.NewReader(reader)

	var extracted []BinaryName

	for len(extracted) < len(targets) {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("read tar header: %w", err)
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := BinaryName(filepath.Base(header.Name))
		if _, ok := targets[name]; !ok {
			continue
		}

		if err := writeExecutable(filepath.Join(destDir, string(name)), tarReader); err != nil {
			return nil, err
		}

		extracted = append(extracted, name)
	}

	if len(extracted) == 0 {
		return nil, fmt.Errorf("no target files found in tar archive")
	}

	return extracted, nil
}

func writeExecutable(path string, r io.Reader) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermExecutable)
	if err != nil {
		return fmt.Errorf("create dest file: %w", err)
	}

	if _, err := io.Copy(out, r); err != nil {
		out.Close()

		return fmt.Errorf("extract file: %w", err)
	}

	return out.Close()
}
