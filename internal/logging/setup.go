package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/config"
)

var (
	outputMu sync.Mutex
	logFile  *os.File
)

func formatterFor(debug bool) log.Formatter {
	if debug {
		return &log.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339Nano}
	}
	return &log.JSONFormatter{TimestampFormat: time.RFC3339Nano}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// Setup points the global logger at stdout plus the optional log file.
// Calling it again replaces the previous file.
func Setup(cfg *config.Config) error {
	if cfg == nil {
		cfg = &config.Config{}
	}
	outputMu.Lock()
	defer outputMu.Unlock()

	log.SetFormatter(formatterFor(cfg.Debug))
	log.SetLevel(ParseLevel(cfg))

	out := []io.Writer{os.Stdout}
	var next *os.File
	if cfg.LogFile != "" {
		f, err := openLogFile(cfg.LogFile)
		if err != nil {
			return err
		}
		next = f
		out = append(out, f)
	}
	log.SetOutput(io.MultiWriter(out...))
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = next
	return nil
}

// Close releases the log file, if any, and falls back to stdout.
func Close() error {
	outputMu.Lock()
	defer outputMu.Unlock()
	if logFile == nil {
		return nil
	}
	log.SetOutput(os.Stdout)
	err := logFile.Close()
	logFile = nil
	return err
}

// ParseLevel resolves the effective level; debug mode forces debug.
func ParseLevel(cfg *config.Config) log.Level {
	switch {
	case cfg == nil:
		return log.InfoLevel
	case cfg.Debug:
		return log.DebugLevel
	}
	if level, err := log.ParseLevel(strings.TrimSpace(cfg.LogLevel)); err == nil {
		return level
	}
	return log.InfoLevel
}

func ApplyLevel(cfg *config.Config) {
	log.SetLevel(ParseLevel(cfg))
}
