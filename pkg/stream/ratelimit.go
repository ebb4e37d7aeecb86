package stream

import (
	"context"
	"log/slog"
	"time"
)

// rateLimitedLogger suppresses repeats of a high-frequency log line,
// emitting at most one line per interval together with the number of
// occurrences swallowed since the last emit. Backpressure drops and
// persistent device read errors fire per loop iteration, which would
// otherwise flood the log at 12+ lines a second.
//
// Not safe for concurrent use; each logging goroutine owns its own.
type rateLimitedLogger struct {
	logger   *slog.Logger
	interval time.Duration

	lastEmit   time.Time
	suppressed int
}

func newRateLimitedLogger(logger *slog.Logger, interval time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{logger: logger, interval: interval}
}

func (l *rateLimitedLogger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, msg, args...)
}

func (l *rateLimitedLogger) Error(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
}

func (l *rateLimitedLogger) log(level slog.Level, msg string, args ...any) {
	now := time.Now()
	if now.Sub(l.lastEmit) < l.interval {
		l.suppressed++
		return
	}
	if l.suppressed > 0 {
		args = append(args, "suppressed", l.suppressed)
	}
	l.logger.Log(context.Background(), level, msg, args...)
	l.lastEmit = now
	l.suppressed = 0
}
