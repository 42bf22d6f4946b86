// Package log provides the structured, key-value logging call-site erigon
// code uses throughout ("log.Error(msg, "k", v, ...)"), backed by zap. The
// transaction core logs sparingly (combined-commit outcomes and the watchdog
// warning) and never on the hot read path.
package log

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	global *zap.SugaredLogger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	global = l.Sugar()
}

// SetLogger replaces the global logger, e.g. with zap.NewDevelopment().Sugar()
// for CLI use or a zaptest logger in tests.
func SetLogger(l *zap.SugaredLogger) {
	mu.Lock()
	defer mu.Unlock()
	global = l
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Debug logs msg with alternating key/value pairs at debug level.
func Debug(msg string, kv ...any) { current().Debugw(msg, kv...) }

// Info logs msg with alternating key/value pairs at info level.
func Info(msg string, kv ...any) { current().Infow(msg, kv...) }

// Warn logs msg with alternating key/value pairs at warn level.
func Warn(msg string, kv ...any) { current().Warnw(msg, kv...) }

// Error logs msg with alternating key/value pairs at error level.
func Error(msg string, kv ...any) { current().Errorw(msg, kv...) }

// New returns a child logger carrying the given key/value pairs on every
// call, e.g. log.New("store", name) to tag all lines from one ObjectStore.
func New(kv ...any) *zap.SugaredLogger {
	return current().With(kv...)
}
