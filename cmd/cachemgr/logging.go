package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/eugener/cachemgr/internal/config"
)

// newLogger builds the process logger. When a log file is configured output
// is rotated by lumberjack; a file that cannot be prepared falls back to
// stderr and the returned error says why.
func newLogger(cfg config.LogConfig) (*slog.Logger, io.Closer, error) {
	out, closer, outErr := logOutput(cfg)
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}
	return slog.New(h), closer, outErr
}

func logOutput(cfg config.LogConfig) (io.Writer, io.Closer, error) {
	if cfg.File == "" {
		return os.Stderr, nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return os.Stderr, nopCloser{}, fmt.Errorf("create log directory: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}
	return rotator, rotator, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
