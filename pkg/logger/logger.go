// Package logger builds the application slog logger.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	fileExt = ".log"
)

// ErrNoOptions is returned by New when called without options.
var ErrNoOptions = errors.New("logger options are required")

// Options configures the logger.
type Options struct {
	AddSource bool
	Level     string
	// Output defaults to os.Stdout.
	Output io.Writer
}

// New returns a JSON slog logger and installs it as the default one.
// An unknown level falls back to info and is reported through the returned error,
// the logger is usable either way.
func New(opt *Options) (*slog.Logger, error) {
	if opt == nil {
		return nil, ErrNoOptions
	}

	level, levelErr := ParseLevel(opt.Level)

	out := opt.Output
	if out == nil {
		out = os.Stdout
	}

	log := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		AddSource: opt.AddSource,
		Level:     level,
	}))
	slog.SetDefault(log)

	return log, levelErr
}

// OpenRunFile creates dir when needed and opens <dir>/<name>.log for appending.
// Batch runs log there so the terminal stays free for progress bars.
func OpenRunFile(dir, name string) (*os.File, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(dir, name+fileExt), os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePerm)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return file, nil
}

// ParseLevel converts a string level to slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %q", level)
	}
}
