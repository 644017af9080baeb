package types

import "log/slog"

// SlogLogger adapts *slog.Logger to the Logger interface. slog.Logger
// satisfies Info, Error and Warn directly, but its With returns *slog.Logger.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps l. A nil l wraps slog.Default().
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{logger: l}
}

func (a *SlogLogger) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *SlogLogger) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *SlogLogger) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }

func (a *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{logger: a.logger.With(args...)}
}

// Slog returns the wrapped logger.
func (a *SlogLogger) Slog() *slog.Logger { return a.logger }
