package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Leveled logger shared by the service packages.
// - package-level Debugf/Infof/Warnf/Errorf/Fatalf and Init(level)
// - backed by a zap console core whose level can be changed at runtime

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var (
	mu     sync.RWMutex
	atom   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	level  = LevelInfo
	logger = newLogger(os.Stdout)
)

func newLogger(w io.Writer) *zap.SugaredLogger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), atom)
	return zap.New(core).Sugar()
}

// setOutput redirects log output; used by tests.
func setOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w)
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Init sets the global log level (case-insensitive: debug, info, warn, error, fatal).
// Call early during startup. Default level is Info.
func Init(l string) {
	mu.Lock()
	defer mu.Unlock()
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug":
		level = LevelDebug
		atom.SetLevel(zapcore.DebugLevel)
	case "warn", "warning":
		level = LevelWarn
		atom.SetLevel(zapcore.WarnLevel)
	case "error":
		level = LevelError
		atom.SetLevel(zapcore.ErrorLevel)
	case "fatal":
		level = LevelFatal
		atom.SetLevel(zapcore.FatalLevel)
	default:
		level = LevelInfo
		atom.SetLevel(zapcore.InfoLevel)
	}
}

func Debugf(format string, v ...interface{}) { current().Debugf(format, v...) }
func Infof(format string, v ...interface{})  { current().Infof(format, v...) }
func Warnf(format string, v ...interface{})  { current().Warnf(format, v...) }
func Errorf(format string, v ...interface{}) { current().Errorf(format, v...) }

// Fatalf logs at fatal level and exits the process.
func Fatalf(format string, v ...interface{}) { current().Fatalf(format, v...) }

// Println kept for brief messages (maps to Info)
func Println(v ...interface{}) {
	current().Info(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func Debug(v string) { current().Debug(v) }
func Info(v string)  { current().Info(v) }
func Warn(v string)  { current().Warn(v) }
func Error(v string) { current().Error(v) }

// With returns a child logger carrying the given key/value pairs, for
// components that log the same context (connection id, channel) repeatedly.
func With(kv ...interface{}) *zap.SugaredLogger {
	return current().With(kv...)
}

// Sync flushes buffered log entries.
func Sync() { _ = current().Sync() }

// LevelString returns the current level as text.
func LevelString() string {
	mu.RLock()
	defer mu.RUnlock()
	switch level {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	}
	return "info"
}
