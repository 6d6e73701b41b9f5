package types

import "time"

// Logger defines the structured logging interface used throughout the
// pipeline. Entrypoints adapt *slog.Logger to this interface so components
// never depend on a concrete logging backend.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// Clock abstracts time for testability. The preference filter depends on it
// so quiet-hour behavior is deterministic under test.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }
