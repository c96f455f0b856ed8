// Package logger provides the hub's process-wide structured logger: a
// package singleton built on go.uber.org/zap, exposed through
// Initialize/Get and a set of level functions.
package logger

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
)

var singleton atomic.Pointer[zap.SugaredLogger]

func init() {
	singleton.Store(newFallback())
}

// newFallback builds a reasonable default logger so that package functions
// are always safe to call even if Initialize was never invoked (e.g. in
// tests that exercise a package transitively).
func newFallback() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	l, err := cfg.Build()
	if err != nil {
		// zap.NewProductionConfig().Build() only fails on misconfiguration,
		// which is impossible with this fixed config.
		panic(err)
	}
	return l.Sugar()
}

// Options configures Initialize.
type Options struct {
	// Debug enables debug-level logging and a human-readable console encoder.
	Debug bool
	// LogFile, if non-empty, is opened in append mode and used as the
	// logger's output in addition to stderr. If it cannot be opened (for
	// example, its directory does not exist), only stderr is used.
	LogFile string
}

// Initialize builds the process logger from the given options and installs
// it as the package singleton. It is safe to call more than once (e.g. after
// re-reading configuration).
func Initialize(opts Options) error {
	var cfg zap.Config
	if opts.Debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.EncoderConfig.TimeKey = "ts"

	outputs := []string{"stderr"}
	if opts.LogFile != "" {
		if f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			_ = f.Close()
			outputs = append(outputs, opts.LogFile)
		}
	}
	cfg.OutputPaths = outputs

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	singleton.Store(l.Sugar())
	return nil
}

// Get returns the current process logger.
func Get() *zap.SugaredLogger {
	return singleton.Load()
}

func Debug(args ...interface{})                    { Get().Debug(args...) }
func Debugf(template string, args ...interface{})  { Get().Debugf(template, args...) }
func Info(args ...interface{})                     { Get().Info(args...) }
func Infof(template string, args ...interface{})   { Get().Infof(template, args...) }
func Warn(args ...interface{})                     { Get().Warn(args...) }
func Warnf(template string, args ...interface{})   { Get().Warnf(template, args...) }
func Error(args ...interface{})                    { Get().Error(args...) }
func Errorf(template string, args ...interface{})  { Get().Errorf(template, args...) }

// Sync flushes any buffered log entries. Call during graceful shutdown.
func Sync() error {
	return Get().Sync()
}
