package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	multi "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

var levelNames = map[slog.Level]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

type Options struct {
	// Level is one of trace, debug, info, warn, error, fatal.
	Level string
	// File is the rotated JSON log path. Empty disables the file handler.
	File string
	// Console receives human-readable text output. Defaults to stdout.
	Console io.Writer
}

// Logger owns the process handlers and the shared level.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
	file  *lumberjack.Logger
}

// New builds a fanout logger writing text to the console and JSON to a
// size-rotated file.
func New(opts Options) *Logger {
	l := &Logger{level: &slog.LevelVar{}}
	l.level.Set(ParseLevel(opts.Level))

	hopts := &slog.HandlerOptions{
		Level: l.level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key != slog.LevelKey {
				return a
			}
			level, ok := a.Value.Any().(slog.Level)
			if !ok {
				return a
			}
			if label, exists := levelNames[level]; exists {
				a.Value = slog.StringValue(label)
			}
			return a
		},
	}

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	handlers := []slog.Handler{slog.NewTextHandler(console, hopts)}
	if opts.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    64,
			MaxBackups: 32,
			MaxAge:     30,
			Compress:   true,
		}
		handlers = append(handlers, slog.NewJSONHandler(l.file, hopts))
	}
	l.Logger = slog.New(multi.Fanout(handlers...))
	return l
}

// Install makes l the process default logger.
func (l *Logger) Install() {
	slog.SetDefault(l.Logger)
}

func (l *Logger) SetLevel(level string) {
	l.level.Set(ParseLevel(level))
}

func (l *Logger) Level() string {
	return LevelName(l.level.Level())
}

func (l *Logger) Trace(msg string, args ...any) {
	l.Log(context.Background(), LevelTrace, msg, args...)
}

// Close flushes and closes the rotated file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "fatal":
		return LevelFatal
	}
	return slog.LevelInfo
}

func LevelName(level slog.Level) string {
	switch level {
	case LevelTrace:
		return "trace"
	case slog.LevelDebug:
		return "debug"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	}
	return "info"
}
