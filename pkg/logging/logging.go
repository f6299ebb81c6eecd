// Package logging builds the zap loggers used by the daemon and tools.
package logging

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rexliu/acrpc/pkg/config"
)

// Logger is a sugared zap logger with the Printf surface the other
// packages consume.
type Logger struct {
	*zap.SugaredLogger
	name  string
	level zap.AtomicLevel
	file  *lumberjack.Logger
}

// New returns a logger writing to stdout.
func New(prefix string) *Logger {
	l := &Logger{name: prefix, level: zap.NewAtomicLevelAt(zap.InfoLevel)}
	l.build(zapcore.Lock(os.Stdout))
	return l
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), level: zap.NewAtomicLevel()}
}

// Printf logs at info level.
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

// Configure applies logging settings from config.
func (l *Logger) Configure(cfg config.LoggingConfig) error {
	if l == nil || l.SugaredLogger == nil {
		return nil
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return errors.Wrapf(err, "logging level %q", cfg.Level)
		}
		l.level.SetLevel(level)
	}
	if cfg.FilePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o700); err != nil {
		return err
	}
	l.file = &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.FileMaxSize,
		MaxBackups: cfg.FileBackups,
		Compress:   true,
	}
	l.build(zapcore.Lock(os.Stdout), zapcore.AddSync(l.file))
	return nil
}

// Close flushes buffered entries and closes the log file.
func (l *Logger) Close() error {
	_ = l.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) build(sinks ...zapcore.WriteSyncer) {
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cores := make([]zapcore.Core, 0, len(sinks))
	for i, sink := range sinks {
		enc := zapcore.NewConsoleEncoder(encoderCfg)
		if i > 0 {
			enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		}
		cores = append(cores, zapcore.NewCore(enc, sink, l.level))
	}
	l.SugaredLogger = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)).Named(l.name).Sugar()
}
