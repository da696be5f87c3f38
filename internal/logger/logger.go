// Package logger builds the process logger: JSON records appended to a
// trace file, tee'd with a human readable console stream.
package logger

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultFile is the append-only trace log.
const DefaultFile = "wa-logs.txt"

// Logger holds the configured zap logger.
type Logger struct {
	Log *zap.Logger

	file    string
	console io.Writer
	closer  io.Closer
}

// Option configures a Logger before Init.
type Option func(*Logger)

// WithFile sets the trace log path. An empty path disables the file sink.
func WithFile(path string) Option { return func(l *Logger) { l.file = path } }

// WithConsole replaces stdout as the console sink. nil disables it.
func WithConsole(w io.Writer) Option { return func(l *Logger) { l.console = w } }

// New returns a Logger that discards everything until Init is called.
func New(opts ...Option) *Logger {
	l := &Logger{Log: zap.NewNop(), file: DefaultFile, console: os.Stdout}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Init builds the zap logger. level applies to the trace file; the
// console only shows info and above.
func (l *Logger) Init(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}

	var cores []zapcore.Core
	if l.file != "" {
		f, err := os.OpenFile(l.file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		l.closer = f
		enc := zap.NewProductionEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(f), lvl))
	}
	if l.console != nil {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		consoleLevel := zapcore.InfoLevel
		if lvl > consoleLevel {
			consoleLevel = lvl
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(l.console), consoleLevel))
	}

	l.Log = zap.New(zapcore.NewTee(cores...))
	return nil
}

// Close flushes the logger and closes the trace file.
func (l *Logger) Close() error {
	_ = l.Log.Sync()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
