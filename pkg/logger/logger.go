// Package logger provides the process-wide structured logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures Init.
type Options struct {
	File       string // rotated JSON log file; empty disables file output
	Verbose    bool   // also write human-readable lines to Console
	Level      string // debug, info, warn, error (default debug)
	MaxSizeMB  int    // rotate after this many megabytes (default 10)
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	Console io.Writer // defaults to os.Stderr
}

var (
	globalLogger atomic.Pointer[zap.SugaredLogger]
	fileWriter   *lumberjack.Logger
	mu           sync.Mutex
)

// Init initializes the global logger. Calling it again replaces the previous
// logger and closes its file.
func Init(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	closeLocked()

	level := zap.NewAtomicLevelAt(zap.DebugLevel)
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var cores []zapcore.Core
	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize == 0 {
			maxSize = 10
		}
		fileWriter = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(fileWriter), level))
	}
	if opts.Verbose {
		console := opts.Console
		if console == nil {
			console = os.Stderr
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(zapcore.AddSync(console)), level))
	}
	if len(cores) == 0 {
		globalLogger.Store(nil)
		return nil
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)).Named("browser-runner")
	globalLogger.Store(l.Sugar())
	return nil
}

// Close flushes and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeLocked()
}

func closeLocked() {
	if l := globalLogger.Load(); l != nil {
		_ = l.Sync()
	}
	globalLogger.Store(nil)
	if fileWriter != nil {
		_ = fileWriter.Close()
		fileWriter = nil
	}
}

// L returns the structured logger, or a no-op logger before Init.
func L() *zap.Logger {
	if l := globalLogger.Load(); l != nil {
		return l.Desugar()
	}
	return zap.NewNop()
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	if l := globalLogger.Load(); l != nil {
		l.Infof(format, v...)
	}
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	if l := globalLogger.Load(); l != nil {
		l.Debugf(format, v...)
	}
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	if l := globalLogger.Load(); l != nil {
		l.Errorf(format, v...)
	}
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	if l := globalLogger.Load(); l != nil {
		l.Warnf(format, v...)
	}
}

// GetWriter returns the underlying file writer for use by child processes
// (browser driver binaries). Returns io.Discard without a log file.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if fileWriter != nil {
		return fileWriter
	}
	return io.Discard
}
