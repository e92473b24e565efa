// Package logging is the structured logging surface of ConstructOps. Packages
// depend on the Logger interface; only this package imports go.uber.org/zap.
package logging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a typed key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// String constructs a string Field.
func String(key, val string) Field { return Field{Key: key, Value: val} }

// Strings constructs a string slice Field.
func Strings(key string, val []string) Field { return Field{Key: key, Value: val} }

// Int constructs an int Field.
func Int(key string, val int) Field { return Field{Key: key, Value: val} }

// Int64 constructs an int64 Field.
func Int64(key string, val int64) Field { return Field{Key: key, Value: val} }

// Float64 constructs a float64 Field.
func Float64(key string, val float64) Field { return Field{Key: key, Value: val} }

// Bool constructs a bool Field.
func Bool(key string, val bool) Field { return Field{Key: key, Value: val} }

// Duration constructs a time.Duration Field.
func Duration(key string, val time.Duration) Field { return Field{Key: key, Value: val} }

// Time constructs a time.Time Field.
func Time(key string, val time.Time) Field { return Field{Key: key, Value: val} }

// Any constructs a Field of arbitrary type; prefer the typed constructors.
func Any(key string, val interface{}) Field { return Field{Key: key, Value: val} }

// Err records err under the "error" key. A nil error is logged as "<nil>".
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: "<nil>"}
	}
	return Field{Key: "error", Value: err}
}

// Logger is the logging contract injected into every component.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// Fatal logs and exits the process. Startup only.
	Fatal(msg string, fields ...Field)
	With(fields ...Field) Logger
	Named(name string) Logger
}

// LogConfig holds logger construction parameters.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string `mapstructure:"level" json:"level"`
	// Format is "json" or "console".
	Format           string   `mapstructure:"format" json:"format"`
	OutputPaths      []string `mapstructure:"output_paths" json:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths" json:"error_output_paths"`
	// ServiceName is attached to every entry as "service".
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

type zapLogger struct {
	z *zap.Logger
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			out = append(out, zap.String(f.Key, v))
		case []string:
			out = append(out, zap.Strings(f.Key, v))
		case int:
			out = append(out, zap.Int(f.Key, v))
		case int64:
			out = append(out, zap.Int64(f.Key, v))
		case float64:
			out = append(out, zap.Float64(f.Key, v))
		case bool:
			out = append(out, zap.Bool(f.Key, v))
		case time.Duration:
			out = append(out, zap.Duration(f.Key, v))
		case time.Time:
			out = append(out, zap.Time(f.Key, v))
		case error:
			out = append(out, zap.NamedError(f.Key, v))
		default:
			out = append(out, zap.Any(f.Key, v))
		}
	}
	return out
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, toZapFields(fields)...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, toZapFields(fields)...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, toZapFields(fields)...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, toZapFields(fields)...) }
func (l *zapLogger) Fatal(msg string, fields ...Field) { l.z.Fatal(msg, toZapFields(fields)...) }

func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{z: l.z.With(toZapFields(fields)...)}
}

func (l *zapLogger) Named(name string) Logger {
	return &zapLogger{z: l.z.Named(name)}
}

// ParseLevel maps a level name to a zapcore.Level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger builds a zap-backed Logger. Empty output paths default to stdout
// and stderr.
func NewLogger(cfg LogConfig) (Logger, error) {
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stdout"}
	}
	if len(cfg.ErrorOutputPaths) == 0 {
		cfg.ErrorOutputPaths = []string{"stderr"}
	}

	console := strings.EqualFold(cfg.Format, "console")
	encCfg := zap.NewProductionEncoderConfig()
	encoding := "json"
	if console {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encoding = "console"
	}
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(ParseLevel(cfg.Level)),
		Development:      console,
		Encoding:         encoding,
		EncoderConfig:    encCfg,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: cfg.ErrorOutputPaths,
	}

	z, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("logging: build zap logger: %w", err)
	}
	if cfg.ServiceName != "" {
		z = z.With(zap.String("service", cfg.ServiceName))
	}
	return &zapLogger{z: z}, nil
}

// NewLoggerFromCore wraps an existing core. Tests pair it with zaptest/observer.
func NewLoggerFromCore(core zapcore.Core) Logger {
	return &zapLogger{z: zap.New(core, zap.AddCallerSkip(1))}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...Field) {}
func (nopLogger) Info(string, ...Field)  {}
func (nopLogger) Warn(string, ...Field)  {}
func (nopLogger) Error(string, ...Field) {}
func (nopLogger) Fatal(string, ...Field) {}
func (n nopLogger) With(...Field) Logger { return n }
func (n nopLogger) Named(string) Logger  { return n }

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger { return nopLogger{} }

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger = nopLogger{}
)

// SetDefault replaces the process-wide Logger. nil is ignored.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Default returns the process-wide Logger.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

type ctxKey struct{}

// IntoContext stores l in ctx so request-scoped fields follow the call chain.
func IntoContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the Logger stored by IntoContext, or Default().
func FromContext(ctx context.Context) Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
			return l
		}
	}
	return Default()
}
