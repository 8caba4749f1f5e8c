// Package logger is the process-wide leveled logger used by the relay server
// and the agent. It keeps a small printf-style API on top of zap so call sites
// stay terse.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the verbosity threshold used by the logger.
//
// Lower values are more verbose.
type Level int32

const (
	// LevelTrace enables extremely verbose logs (protocol events, payload
	// routing).
	LevelTrace Level = iota
	// LevelDebug enables verbose logs intended for debugging.
	LevelDebug
	// LevelInfo enables informational logs (default).
	LevelInfo
	// LevelWarn enables only warnings and errors.
	LevelWarn
	// LevelError enables only error logs.
	LevelError
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int32(l))
	}
}

// ParseLevel parses a log level string into a Level.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

var level atomic.Int32

var (
	mu      sync.RWMutex
	out     io.Writer = os.Stderr
	useJSON bool
	sugar   *zap.SugaredLogger
)

func init() {
	level.Store(int32(LevelInfo))
	rebuild()
}

// rebuild swaps the zap core after an output or encoding change. Level
// filtering happens before zap is reached, so the core always accepts debug.
func rebuild() {
	mu.Lock()
	defer mu.Unlock()

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	var enc zapcore.Encoder
	if useJSON {
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(out), zapcore.DebugLevel)
	sugar = zap.New(core).Sugar()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// SetOutput replaces the writer used by the global logger.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
	rebuild()
}

// SetJSON switches between console (false) and JSON (true) encoding.
func SetJSON(enabled bool) {
	mu.Lock()
	useJSON = enabled
	mu.Unlock()
	rebuild()
}

// SetLevel sets the global log level threshold.
func SetLevel(l Level) {
	level.Store(int32(l))
}

// Enabled reports whether a level would be emitted by the current configuration.
func Enabled(l Level) bool {
	return l >= Level(level.Load())
}

// Sync flushes buffered output.
func Sync() error {
	return current().Sync()
}

// Tracef logs at TRACE level.
func Tracef(format string, args ...any) {
	if !Enabled(LevelTrace) {
		return
	}
	current().With("trace", true).Debugf(format, args...)
}

// Debugf logs at DEBUG level.
func Debugf(format string, args ...any) {
	if !Enabled(LevelDebug) {
		return
	}
	current().Debugf(format, args...)
}

// Infof logs at INFO level.
func Infof(format string, args ...any) {
	if !Enabled(LevelInfo) {
		return
	}
	current().Infof(format, args...)
}

// Warnf logs at WARN level.
func Warnf(format string, args ...any) {
	if !Enabled(LevelWarn) {
		return
	}
	current().Warnf(format, args...)
}

// Errorf logs at ERROR level.
func Errorf(format string, args ...any) {
	if !Enabled(LevelError) {
		return
	}
	current().Errorf(format, args...)
}
