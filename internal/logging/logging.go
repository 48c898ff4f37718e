// Package logging builds the process-wide log sink. It is initialized once
// at startup, before any session activity, and closed at shutdown; every
// component receives the logger by injection.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/usbpulse/usbpulse/internal/config"
)

// Sink owns the logger and its backing file.
type Sink struct {
	Logger *logrus.Logger
	file   *os.File
}

// Setup opens the configured log file (append-only) and returns a logger
// writing to it. With console set, output is mirrored to stderr; the TUI
// owns the terminal, so console logging is reserved for headless runs.
func Setup(cfg config.LogConfig, console bool) (*Sink, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	var out io.Writer = file
	if console {
		out = io.MultiWriter(file, os.Stderr)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	return &Sink{Logger: logger, file: file}, nil
}

// Close flushes and closes the log file. Call once, after the last log line.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
