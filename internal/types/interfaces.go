package types

import (
	"context"
	"time"
)

// EmailProvider is the transport used to deliver a single rendered email.
// Implementations return the provider-assigned message ID on success.
type EmailProvider interface {
	Send(ctx context.Context, input SendInput) (string, error)
	Name() string
}

// IdentityProvider verifies bearer tokens issued to administrators.
type IdentityProvider interface {
	VerifyToken(ctx context.Context, token string) (*Claims, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Logger defines the structured logging interface used throughout the pipeline.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// NopLogger discards everything. Useful as a default when no logger is wired.
type NopLogger struct{}

func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
func (NopLogger) Warn(string, ...any)  {}
func (n NopLogger) With(...any) Logger { return n }
