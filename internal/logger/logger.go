package logger

import (
	"fmt"
	"sync"
)

var (
	defaultLogger Logger
	mu            sync.RWMutex
	initialized   bool
)

// Init builds the process-wide logger. It fails when called twice without
// an intervening Shutdown.
func Init(config Config) error {
	mu.Lock()
	defer mu.Unlock()

	if initialized {
		return fmt.Errorf("logger already initialized; call Shutdown() before re-initializing")
	}

	l, err := NewSlogLogger(config)
	if err != nil {
		return fmt.Errorf("failed to create slog logger: %w", err)
	}

	defaultLogger = l
	initialized = true
	return nil
}

// Get returns the process-wide logger, or a NullLogger before Init.
func Get() Logger {
	mu.RLock()
	defer mu.RUnlock()

	if !initialized {
		return &NullLogger{}
	}
	return defaultLogger
}

// With returns a child of the process-wide logger.
func With(args ...any) Logger {
	return Get().With(args...)
}

// Sync flushes the process-wide logger.
func Sync() error {
	return Get().Sync()
}

// Shutdown closes the process-wide logger. Calling it again is a no-op.
func Shutdown() error {
	mu.Lock()
	if !initialized {
		mu.Unlock()
		return nil
	}

	l := defaultLogger
	initialized = false
	mu.Unlock()

	return l.Shutdown()
}

// OrNull returns l, or a NullLogger when l is nil. Constructors use it for
// optional logger parameters.
func OrNull(l Logger) Logger {
	if l == nil {
		return &NullLogger{}
	}
	return l
}

// NullLogger discards everything.
type NullLogger struct{}

func (n *NullLogger) Debug(msg string, args ...any) {}
func (n *NullLogger) Info(msg string, args ...any)  {}
func (n *NullLogger) Warn(msg string, args ...any)  {}
func (n *NullLogger) Error(msg string, args ...any) {}
func (n *NullLogger) With(args ...any) Logger       { return n }
func (n *NullLogger) Sync() error                   { return nil }
func (n *NullLogger) Shutdown() error               { return nil }
