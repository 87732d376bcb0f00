// Package logger is the zap-backed structured logger shared by the API server
// and the worker. Entries logged through the package helpers pick up the
// request trace and the acting user from the context.
package logger

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appctx "tireshop/internal/core/context"
)

// Logger is a zap.SugaredLogger that knows how to read request context.
type Logger struct {
	*zap.SugaredLogger
}

type loggerKey struct{}

// Config selects level and encoding. Service is attached to every entry so
// server and worker output can be told apart in one stream.
type Config struct {
	Level       string // debug, info, warn, error
	Development bool   // console encoder with colors
	Service     string
	OutputPaths []string
}

// New builds a Logger. An unknown level falls back to info.
func New(cfg Config, opts ...zap.Option) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}
	if cfg.Service != "" {
		zc.InitialFields = map[string]any{"service": cfg.Service}
	}

	zl, err := zc.Build(append([]zap.Option{zap.AddCallerSkip(1)}, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Logger{zl.Sugar()}, nil
}

// NewFromCore wraps an existing zap core. Tests pass an observer core.
func NewFromCore(core zapcore.Core) *Logger {
	return &Logger{zap.New(core).Sugar()}
}

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// Default returns the process logger, a production stdout logger until
// SetDefault installs the configured one.
func Default() *Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		zc := zap.NewProductionConfig()
		zc.OutputPaths = []string{"stdout"}
		zl, _ := zc.Build(zap.AddCallerSkip(1))
		defaultLogger = &Logger{zl.Sugar()}
	}
	return defaultLogger
}

// SetDefault installs l as the process logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// NewNop discards everything.
func NewNop() *Logger {
	return &Logger{zap.NewNop().Sugar()}
}

// WithContext attaches trace_id, request_id and the acting user. Override
// holders are flagged so privileged actions stand out.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	sugar := l.SugaredLogger

	if tc := appctx.GetTrace(ctx); tc != nil {
		sugar = sugar.With("trace_id", tc.TraceID, "request_id", tc.RequestID)
	}
	if user, ok := appctx.GetUser(ctx); ok {
		sugar = sugar.With("user_id", user.ID)
		if user.Override {
			sugar = sugar.With("override", true)
		}
	}
	return &Logger{sugar}
}

// With returns a child logger with extra fields.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{l.SugaredLogger.With(keysAndValues...)}
}

// WithComponent tags entries with a component name, e.g. "outbox-relay".
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{l.SugaredLogger.With("component", name)}
}

// WithLogger stores l in ctx; FromContext prefers it over the default.
func WithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the context logger, or the default one, enriched with ctx.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return l.WithContext(ctx)
	}
	return Default().WithContext(ctx)
}

func Debug(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Debugw(msg, keysAndValues...)
}

func Info(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Infow(msg, keysAndValues...)
}

func Warn(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Warnw(msg, keysAndValues...)
}

func Error(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Errorw(msg, keysAndValues...)
}

// Fatal logs and exits the process.
func Fatal(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Fatalw(msg, keysAndValues...)
	os.Exit(1)
}
