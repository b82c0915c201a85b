package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config captures logging configuration options.
type Config struct {
	Level    string
	Dir      string
	Filename string
	// Console receives the human readable stream. Defaults to os.Stdout.
	Console io.Writer
}

// Logger offers printf-style helpers on top of two slog loggers: a console text
// stream and an optional JSON file sink.
type Logger struct {
	text *slog.Logger
	json *slog.Logger
	file *os.File

	closeOnce sync.Once
}

// New creates a Logger. A file sink is opened only when Dir and Filename are set.
func New(cfg Config) (*Logger, error) {
	level := ParseLevel(cfg.Level)
	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}

	l := &Logger{
		text: slog.New(newTextHandler(console, level)),
	}

	if cfg.Dir != "" && cfg.Filename != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		file, err := os.OpenFile(filepath.Join(cfg.Dir, cfg.Filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = file
		l.json = slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}))
	}
	return l, nil
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{text: slog.New(newTextHandler(io.Discard, slog.LevelError+1))}
}

// ParseLevel maps a config level string to slog. Unknown values resolve to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Slog exposes the console logger for integrations that want structured attrs.
func (l *Logger) Slog() *slog.Logger {
	return l.text
}

func (l *Logger) log(level slog.Level, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	l.text.Log(context.Background(), level, msg)
	if l.json != nil {
		l.json.Log(context.Background(), level, msg)
	}
}

func (l *Logger) Debug(format string, args ...any) { l.log(slog.LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.log(slog.LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(slog.LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(slog.LevelError, format, args...) }

// Close releases the file sink.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}
