package ports

import (
	"context"
	"time"
)

// Clock provides the current time (for testing).
type Clock interface {
	Now() time.Time
	// SleepContext blocks for d or until ctx is cancelled. Returns ctx.Err() if cancelled.
	SleepContext(ctx context.Context, d time.Duration) error
}

// Logger provides structured logging.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// RateLimiter checks whether a request is allowed under rate limits.
type RateLimiter interface {
	// Allow checks if a request identified by key is within the rate limit.
	// rate is tokens per second, burst is the max burst size.
	Allow(ctx context.Context, key string, rate float64, burst int) bool
}

// Metrics records resolution and transport events.
type Metrics interface {
	ObserveRequest(method, outcome string, status int, elapsed time.Duration)
	IncTransportFailure(reason string)
	ObserveReload(ok bool, stubs int)
}

// ResponseSink is where the request lifecycle writes its response.
type ResponseSink interface {
	SetStatus(code int)
	SetHeader(name, value string)
	// WriteBody writes one chunk of the body. A zero-length chunk still commits
	// the status and headers.
	WriteBody(p []byte) error
	// SendError commits code and writes message as the body.
	SendError(code int, message string) error
}
