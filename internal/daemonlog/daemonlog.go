// Package daemonlog provides the daemon's structured, rotating logger,
// grounded on the daemon's own daemonLogger call shape: structured
// Info/Error/Warn plus a printf-style log() convenience method, backed
// by log/slog over a lumberjack rotating writer.
package daemonlog

import (
	"fmt"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps slog.Logger with the daemon's two calling conventions:
// structured key/value logging for events, and a printf-style log() for
// the narrative messages carried over from the daemon's watcher/executor
// loops.
type Logger struct {
	*slog.Logger
	rotator *lumberjack.Logger
}

// Config controls the rotating log file.
type Config struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      slog.Level
}

// New opens (creating if necessary) a rotating log file at cfg.Path and
// returns a Logger writing structured JSON lines to it.
func New(cfg Config) *Logger {
	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    orDefault(cfg.MaxSizeMB, 10),
		MaxBackups: orDefault(cfg.MaxBackups, 5),
		MaxAge:     orDefault(cfg.MaxAgeDays, 28),
		Compress:   true,
	}
	handler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: cfg.Level})
	return &Logger{Logger: slog.New(handler), rotator: rotator}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// log formats args printf-style and emits it at info level, the
// convenience call shape used throughout the watcher and executor
// goroutines that predate structured logging in the daemon's lineage.
func (l *Logger) log(format string, args ...any) {
	l.Logger.Info(fmt.Sprintf(format, args...))
}

// Close flushes and closes the underlying rotating file.
func (l *Logger) Close() error {
	return l.rotator.Close()
}
