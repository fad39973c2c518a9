// Package logging provides structured logging for the snapshot engine,
// built on zap the way the rest of the example pack's
// controller-runtime-adjacent services do.
package logging

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents a log level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func zapLevel(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger provides structured, JSON-encoded logging over a zap core. It
// exposes the small map[string]any field surface the rest of this
// repository uses, so call sites don't need to learn zap.Field
// constructors.
type Logger struct {
	mu     sync.Mutex
	level  zap.AtomicLevel
	output zapcore.WriteSyncer
	core   *zap.Logger
	fields map[string]any
}

// NewLogger creates a new logger at the given level, writing JSON lines to
// os.Stderr until SetOutput is called.
func NewLogger(level Level) *Logger {
	l := &Logger{
		level:  zap.NewAtomicLevelAt(zapLevel(level)),
		output: zapcore.AddSync(os.Stderr),
		fields: map[string]any{},
	}
	l.rebuild()
	return l
}

// rebuild reconstructs the underlying *zap.Logger after a field/output
// change. Called with mu held.
func (l *Logger) rebuild() {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.MessageKey = "message"
	encoderCfg.LevelKey = "level"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), l.output, l.level)
	base := zap.New(core)
	if len(l.fields) > 0 {
		base = base.With(mapToZapFields(l.fields)...)
	}
	l.core = base
}

func mapToZapFields(fields map[string]any) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// WithFields returns a new logger with additional fields merged on top of
// the receiver's.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	newFields := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	child := &Logger{level: l.level, output: l.output, fields: newFields}
	child.rebuild()
	return child
}

func (l *Logger) log(level Level, msg string, fields ...map[string]any) {
	l.mu.Lock()
	core := l.core
	l.mu.Unlock()

	var merged []zap.Field
	for _, f := range fields {
		merged = append(merged, mapToZapFields(f)...)
	}

	switch level {
	case LevelDebug:
		core.Debug(msg, merged...)
	case LevelWarn:
		core.Warn(msg, merged...)
	case LevelError:
		core.Error(msg, merged...)
	default:
		core.Info(msg, merged...)
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]any) { l.log(LevelDebug, msg, fields...) }

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]any) { l.log(LevelInfo, msg, fields...) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]any) { l.log(LevelWarn, msg, fields...) }

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]any) { l.log(LevelError, msg, fields...) }

// ErrorErr logs an error message with an error value attached.
func (l *Logger) ErrorErr(msg string, err error, fields ...map[string]any) {
	combined := map[string]any{"error": err.Error()}
	for _, f := range fields {
		for k, v := range f {
			combined[k] = v
		}
	}
	l.log(LevelError, msg, combined)
}

// Zap returns the underlying *zap.Logger, for handing to collaborators
// that speak zap or logr directly (e.g. wrapping with
// github.com/go-logr/zapr for controller-runtime's log.SetLogger).
func (l *Logger) Zap() *zap.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.core
}

// SetOutput redirects log output to w.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = zapcore.AddSync(w)
	l.rebuild()
}

// SetLevel changes the minimum logged level.
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(zapLevel(level))
}

// Global logger instance.
var (
	globalMu sync.RWMutex
	global   = NewLogger(LevelInfo)
)

// SetGlobal replaces the package-level logger used by the free functions
// below.
func SetGlobal(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = l
}

func getGlobal() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// Debug logs to the global logger.
func Debug(msg string, fields ...map[string]any) { getGlobal().Debug(msg, fields...) }

// Info logs to the global logger.
func Info(msg string, fields ...map[string]any) { getGlobal().Info(msg, fields...) }

// Warn logs to the global logger.
func Warn(msg string, fields ...map[string]any) { getGlobal().Warn(msg, fields...) }

// Error logs to the global logger.
func Error(msg string, fields ...map[string]any) { getGlobal().Error(msg, fields...) }

// ErrorErr logs to the global logger with an error.
func ErrorErr(msg string, err error, fields ...map[string]any) {
	getGlobal().ErrorErr(msg, err, fields...)
}

// WithFields returns a new logger from the global one with additional
// fields.
func WithFields(fields map[string]any) *Logger { return getGlobal().WithFields(fields) }
