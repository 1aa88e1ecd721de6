// Package logger provides a process-wide structured logger for toolrouter.
//
// It mirrors the package-level singleton shim pattern used across the
// retrieval pack: a small set of Debugf/Infof/Warnf/Errorf wrappers over an
// atomically-swappable *slog.Logger, plus a logr.Logger adapter for
// libraries that expect one.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/spf13/viper"
)

var singleton atomic.Pointer[slog.Logger]

func init() {
	singleton.Store(newDefault())
}

func newDefault() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// Get returns the underlying *slog.Logger for injection into structs.
func Get() *slog.Logger {
	return singleton.Load()
}

// Set replaces the singleton logger. Intended for tests that need to capture
// output; production code should call Initialize instead.
func Set(l *slog.Logger) {
	singleton.Store(l)
}

// Debugf logs a formatted message at debug level.
func Debugf(msg string, args ...any) {
	Get().Debug(fmt.Sprintf(msg, args...))
}

// Infof logs a formatted message at info level.
func Infof(msg string, args ...any) {
	Get().Info(fmt.Sprintf(msg, args...))
}

// Warnf logs a formatted message at warn level.
func Warnf(msg string, args ...any) {
	Get().Warn(fmt.Sprintf(msg, args...))
}

// Errorf logs a formatted message at error level.
func Errorf(msg string, args ...any) {
	Get().Error(fmt.Sprintf(msg, args...))
}

// Infow logs msg at info level with structured key-value pairs.
func Infow(msg string, keysAndValues ...any) {
	Get().Info(msg, keysAndValues...)
}

// Warnw logs msg at warn level with structured key-value pairs.
func Warnw(msg string, keysAndValues ...any) {
	Get().Warn(msg, keysAndValues...)
}

// Errorw logs msg at error level with structured key-value pairs.
func Errorw(msg string, keysAndValues ...any) {
	Get().Error(msg, keysAndValues...)
}

// NewLogr returns a logr.Logger backed by the current singleton, for
// libraries (such as mcp-go's optional logger hook) that want one.
func NewLogr() logr.Logger {
	return logr.FromSlogHandler(Get().Handler())
}

// Initialize configures the singleton from the environment. If
// UNSTRUCTURED_LOGS is truthy (or unset), logs are emitted as plain text;
// otherwise structured JSON. The "debug" viper key, when true, lowers the
// level to debug.
func Initialize() {
	InitializeWithEnv(os.Getenv)
}

// InitializeWithEnv is Initialize with an injectable environment lookup, for
// testability.
func InitializeWithEnv(getenv func(string) string) {
	level := slog.LevelInfo
	if viper.GetBool("debug") {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if unstructuredWithEnv(getenv) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	singleton.Store(slog.New(handler))
}

func unstructuredWithEnv(getenv func(string) string) bool {
	v, err := strconv.ParseBool(getenv("UNSTRUCTURED_LOGS"))
	if err != nil {
		// Unset or unparsable: default to plain text.
		return true
	}
	return v
}
