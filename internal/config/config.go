// Package config handles application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to config.yaml keys to map them onto environment names.
const envPrefix = "BATCHDL_"

// configFileEnv names the YAML overlay file. It is read before anything else.
const configFileEnv = envPrefix + "CONFIG_FILE"

const defaultConfigFile = "config.yaml"

// Config holds the application configuration.
type Config struct {
	// Process is the running subcommand; it selects the config.yaml section.
	Process string `env:"-"`

	App        App
	Job        Job
	Dir        Dir
	Fetch      Fetch
	DepManager DepManager
	Proxy      Proxy
	Metrics    Metrics
}

// App holds application-wide configuration.
type App struct {
	LogLevel string `env:"BATCHDL_LOG_LEVEL" envDefault:"info"`
	// Progress is one of bar, log or none.
	Progress string `env:"BATCHDL_PROGRESS"  envDefault:"bar"`
	// DryRun replaces the real fetchers with the mock one.
	DryRun bool `env:"BATCHDL_DRY_RUN" envDefault:"false"`
}

// Job holds job processing configuration.
type Job struct {
	Workers      int           `env:"BATCHDL_MAX_WORKERS"       envDefault:"3"`
	MaxRetries   int           `env:"BATCHDL_MAX_RETRIES"       envDefault:"0"`
	RetryBackoff time.Duration `env:"BATCHDL_RETRY_BACKOFF"     envDefault:"4s"`
	// Timeout bounds a single job; zero disables it.
	Timeout time.Duration `env:"BATCHDL_JOB_TIMEOUT" envDefault:"0"`
}

// Dir holds directory paths for downloads, logs and the cookie file.
type Dir struct {
	Output string `env:"BATCHDL_OUTPUT_DIR" envDefault:"downloads"`
	Logs   string `env:"BATCHDL_LOG_DIR"    envDefault:"logs"`

	// used by yt-dlp only when the file exists
	// see: https://github.com/yt-dlp/yt-dlp/wiki/FAQ#how-do-i-pass-cookies-to-yt-dlp
	CookieFile string `env:"BATCHDL_COOKIES_FILE" envDefault:"cookies.txt"`
}

// Fetch holds transfer tuning shared by the fetchers.
type Fetch struct {
	ConcurrentFragments int `env:"BATCHDL_CONCURRENT_FRAGMENTS" envDefault:"5"`
	// RateLimit is in bytes per second; zero means unlimited.
	RateLimit   int64         `env:"BATCHDL_RATE_LIMIT"   envDefault:"0"`
	HTTPTimeout time.Duration `env:"BATCHDL_HTTP_TIMEOUT" envDefault:"30s"`
}

// DepManager holds binary dependency management configuration.
type DepManager struct {
	// BinsDir is the directory where downloaded binaries are stored
	BinsDir string `env:"BATCHDL_BINS_DIR" envDefault:"./bins"`
	// UseSystemBinaries prefers binaries found in PATH over downloading them.
	UseSystemBinaries bool `env:"BATCHDL_USE_SYSTEM_BINARIES" envDefault:"true"`

	YTdlpLinuxARM64  string `env:"BATCHDL_YTDLP_URL_LINUX_ARM64"  envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux_aarch64"`                        //nolint:lll
	YTdlpLinuxAMD64  string `env:"BATCHDL_YTDLP_URL_LINUX_AMD64"  envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux"`                                //nolint:lll
	FFmpegLinuxARM64 string `env:"BATCHDL_FFMPEG_URL_LINUX_ARM64" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linuxarm64-gpl.tar.xz"` //nolint:lll
	FFmpegLinuxAMD64 string `env:"BATCHDL_FFMPEG_URL_LINUX_AMD64" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linux64-gpl.tar.xz"`    //nolint:lll
}

// Proxy holds proxy configuration for yt-dlp requests.
type Proxy struct {
	// List is a comma-separated list of proxy URLs
	List string `env:"BATCHDL_PROXY_LIST" envDefault:""`
	// FailureBackoff is the initial backoff duration for failed proxies
	FailureBackoff time.Duration `env:"BATCHDL_PROXY_FAILURE_BACKOFF" envDefault:"1m"`
	// MaxFailures is the number of failures before a proxy is put in backoff
	MaxFailures int `env:"BATCHDL_PROXY_MAX_FAILURES" envDefault:"3"`

	// Proxies is the parsed list of proxy URLs
	Proxies []string `env:"-"`
}

// Metrics holds metrics export configuration.
type Metrics struct {
	// TextfilePath receives the batch metrics in Prometheus text format; empty disables it.
	TextfilePath string `env:"BATCHDL_METRICS_TEXTFILE" envDefault:""`
}

// New loads configuration for the given process.
// Environment variables win over the process section of config.yaml, which wins over defaults.
func New(process string) (*Config, error) {
	environ, err := collectEnv(process)
	if err != nil {
		return nil, err
	}

	cfg := &Config{Process: process}

	err = env.ParseWithOptions(cfg, env.Options{Environment: environ})
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	err = cfg.Dir.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set absolute paths: %w", err)
	}

	err = cfg.DepManager.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set dep manager absolute paths: %w", err)
	}

	cfg.Proxy.parseList()

	return cfg, nil
}

// collectEnv merges the YAML overlay under the process environment.
func collectEnv(process string) (map[string]string, error) {
	path := os.Getenv(configFileEnv)
	if path == "" {
		path = defaultConfigFile
	}

	environ, err := LoadFile(path, process)
	if err != nil {
		return nil, err
	}

	for key, value := range env.ToMap(os.Environ()) {
		environ[key] = value
	}

	return environ, nil
}

// LoadFile reads the section named process from a YAML config file and returns it
// keyed by environment variable name (max_workers => BATCHDL_MAX_WORKERS).
// A missing file yields an empty map.
func LoadFile(path, process string) (map[string]string, error) {
	environ := make(map[string]string)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return environ, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var sections map[string]map[string]any
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	for key, value := range sections[process] {
		if value == nil {
			continue
		}

		environ[envPrefix+strings.ToUpper(strings.TrimSpace(key))] = fmt.Sprint(value)
	}

	return environ, nil
}

// SetAbsPaths converts all directory paths to absolute paths.
func (c *Dir) SetAbsPaths() error {
	var err error
	if c.Output, err = filepath.Abs(c.Output); err != nil {
		return fmt.Errorf("output: %w", err)
	}

	if c.Logs, err = filepath.Abs(c.Logs); err != nil {
		return fmt.Errorf("logs: %w", err)
	}

	if c.CookieFile != "" {
		if c.CookieFile, err = filepath.Abs(c.CookieFile); err != nil {
			return fmt.Errorf("cookie file: %w", err)
		}
	}

	return nil
}

// SetAbsPaths converts the BinsDir path to an absolute path.
func (d *DepManager) SetAbsPaths() error {
	var err error
	if d.BinsDir, err = filepath.Abs(d.BinsDir); err != nil {
		return fmt.Errorf("bins dir: %w", err)
	}

	return nil
}

// parseList parses the comma-separated proxy list.
func (p *Proxy) parseList() {
	if p.List == "" {
		return
	}

	for proxy := range strings.SplitSeq(p.List, ",") {
		proxy = strings.TrimSpace(proxy)
		if proxy != "" {
			p.Proxies = append(p.Proxies, proxy)
		}
	}
}
