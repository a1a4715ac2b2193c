// Package logger wraps zap with the key/value logging style used throughout the service.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls level, encoding and outputs.
type Config struct {
	Level  string // debug | info | warn | error
	Format string // json | console

	// File enables a rotated log file in addition to stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger is a thin key/value facade over zap.SugaredLogger.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New builds a Logger from cfg.
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(defaultString(cfg.Level, "info")))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch defaultString(cfg.Format, "json") {
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	case "console":
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	writers := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	if cfg.File != "" {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    defaultInt(cfg.MaxSizeMB, 100),
			MaxBackups: defaultInt(cfg.MaxBackups, 10),
			MaxAge:     defaultInt(cfg.MaxAgeDays, 30),
			LocalTime:  true,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writers...), level)
	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))

	return &Logger{sugar: z.Sugar()}, nil
}

// NewNop returns a Logger that discards everything. Used by tests.
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// FromZap adapts an existing zap logger.
func FromZap(z *zap.Logger) *Logger {
	return &Logger{sugar: z.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *Logger) Debug(msg string, keysAndValues ...any) { l.sugar.Debugw(msg, keysAndValues...) }
func (l *Logger) Info(msg string, keysAndValues ...any)  { l.sugar.Infow(msg, keysAndValues...) }
func (l *Logger) Warn(msg string, keysAndValues ...any)  { l.sugar.Warnw(msg, keysAndValues...) }
func (l *Logger) Error(msg string, keysAndValues ...any) { l.sugar.Errorw(msg, keysAndValues...) }

// Fatal logs and exits the process.
func (l *Logger) Fatal(msg string, keysAndValues ...any) { l.sugar.Fatalw(msg, keysAndValues...) }

// With returns a child logger carrying the given key/value pairs on every entry.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{sugar: l.sugar.With(keysAndValues...)}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
