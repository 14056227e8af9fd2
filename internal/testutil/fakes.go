package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sophialabs/stubport/internal/infrastructure/ports"
)

var _ ports.Logger = (*NoopLogger)(nil)

// NoopLogger discards all log output.
type NoopLogger struct{}

func (l *NoopLogger) Info(string, ...any)  {}
func (l *NoopLogger) Warn(string, ...any)  {}
func (l *NoopLogger) Error(string, ...any) {}
func (l *NoopLogger) Debug(string, ...any) {}

var _ ports.Clock = (*FixedClock)(nil)

// FixedClock returns a fixed time and records requested sleeps without blocking.
type FixedClock struct {
	T time.Time
	// SleepErr is returned from SleepContext when set.
	SleepErr error

	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *FixedClock) Now() time.Time { return c.T }

func (c *FixedClock) SleepContext(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	if c.SleepErr != nil {
		return c.SleepErr
	}
	return ctx.Err()
}

// Sleeps returns the durations passed to SleepContext.
func (c *FixedClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

var _ ports.RateLimiter = (*StubRateLimiter)(nil)

// StubRateLimiter returns a configurable Allow result.
type StubRateLimiter struct {
	AllowAll bool
}

func (r *StubRateLimiter) Allow(context.Context, string, float64, int) bool {
	return r.AllowAll
}

var _ ports.Metrics = (*NoopMetrics)(nil)

// NoopMetrics discards all observations.
type NoopMetrics struct{}

func (m *NoopMetrics) ObserveRequest(string, string, int, time.Duration) {}
func (m *NoopMetrics) IncTransportFailure(string)                        {}
func (m *NoopMetrics) ObserveReload(bool, int)                           {}

var _ ports.ResponseSink = (*RecordingSink)(nil)

// ErrSinkClosed is returned by RecordingSink once FailAfter writes have happened.
var ErrSinkClosed = errors.New("sink closed")

// RecordingSink records every call made on it.
type RecordingSink struct {
	// FailAfter makes WriteBody fail after that many successful writes when > 0.
	FailAfter int
	// PanicOnStatus makes SetStatus panic the first time it is called.
	PanicOnStatus bool

	StatusCalls    []int
	Headers        map[string]string
	BodyWrites     int
	Body           []byte
	SendErrorCalls []SendErrorCall
}

// SendErrorCall is one recorded SendError invocation.
type SendErrorCall struct {
	Code    int
	Message string
}

func (s *RecordingSink) SetStatus(code int) {
	if s.PanicOnStatus {
		s.PanicOnStatus = false
		panic("status write failed")
	}
	s.StatusCalls = append(s.StatusCalls, code)
}

func (s *RecordingSink) SetHeader(name, value string) {
	if s.Headers == nil {
		s.Headers = make(map[string]string)
	}
	s.Headers[name] = value
}

func (s *RecordingSink) WriteBody(p []byte) error {
	if s.FailAfter > 0 && s.BodyWrites >= s.FailAfter {
		return ErrSinkClosed
	}
	s.BodyWrites++
	s.Body = append(s.Body, p...)
	return nil
}

func (s *RecordingSink) SendError(code int, message string) error {
	s.SendErrorCalls = append(s.SendErrorCalls, SendErrorCall{Code: code, Message: message})
	s.Body = append(s.Body, message...)
	return nil
}

// Status returns the last status set, or 0.
func (s *RecordingSink) Status() int {
	if len(s.StatusCalls) == 0 {
		return 0
	}
	return s.StatusCalls[len(s.StatusCalls)-1]
}
