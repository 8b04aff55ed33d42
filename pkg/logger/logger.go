// Package logger provides structured logging backed by zap.
package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Logger is the logging interface used throughout the service
type Logger interface {
	WithContext(ctx context.Context) Logger
	WithFields(fields map[string]any) Logger
	WithField(key string, value any) Logger
	WithError(err error) Logger

	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)

	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// New creates a Logger at the given level. When pretty is true, output is
// human-readable console encoding instead of JSON.
func New(appName, level string, pretty bool) (Logger, error) {
	cfg := zap.NewProductionConfig()
	if pretty {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}

	return &zapLogger{sugar: base.Sugar().With("app", appName)}, nil
}

// NewNop returns a Logger that discards everything. Used in tests.
func NewNop() Logger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}

// WithContext attaches the active trace and span IDs, when present.
func (l *zapLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return l
	}
	traceID := tracing.GetTraceID(ctx)
	if traceID == "" {
		return l
	}
	return &zapLogger{sugar: l.sugar.With("trace_id", traceID, "span_id", tracing.GetSpanID(ctx))}
}

func (l *zapLogger) WithFields(fields map[string]any) Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &zapLogger{sugar: l.sugar.With(args...)}
}

func (l *zapLogger) WithField(key string, value any) Logger {
	return &zapLogger{sugar: l.sugar.With(key, value)}
}

func (l *zapLogger) WithError(err error) Logger {
	return &zapLogger{sugar: l.sugar.With("error", err)}
}

func (l *zapLogger) Debug(msg string) { l.sugar.Debug(msg) }
func (l *zapLogger) Info(msg string)  { l.sugar.Info(msg) }
func (l *zapLogger) Warn(msg string)  { l.sugar.Warn(msg) }
func (l *zapLogger) Error(msg string) { l.sugar.Error(msg) }

func (l *zapLogger) Debugf(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *zapLogger) Warnf(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...any) { l.sugar.Errorf(format, args...) }
