package outcome

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MessageInvalidLatency is the error message for unparseable latency values.
const MessageInvalidLatency = "invalid latency value"

const textPlain = "text/plain; charset=utf-8"

// maxLatencyMs is the largest latency representable as a time.Duration.
const maxLatencyMs = math.MaxInt64 / int64(time.Millisecond)

// Rendered is everything the transport needs to write a response.
type Rendered struct {
	Kind    Kind
	Status  int
	Headers map[string]string
	Body    []byte
	Delay   time.Duration
	// SendError asks the transport to emit an explicit error signal carrying
	// Message in addition to setting the status.
	SendError bool
	Message   string
}

// Render turns an outcome into status, headers, body and delay.
func Render(o Outcome) Rendered {
	switch o.Kind {
	case KindOK:
		delay, ok := ParseLatency(o.Latency)
		if !ok {
			return Render(Error(http.StatusInternalServerError, MessageInvalidLatency))
		}
		status := o.Status
		if status == 0 {
			status = http.StatusOK
		}
		body := o.Body
		if body == nil {
			body = []byte{}
		}
		return Rendered{Kind: KindOK, Status: status, Headers: o.Headers, Body: body, Delay: delay}

	case KindNotFound:
		return Rendered{
			Kind:    KindNotFound,
			Status:  http.StatusNotFound,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    notFoundBody(o),
		}

	case KindUnauthorized:
		return Rendered{
			Kind:      KindUnauthorized,
			Status:    http.StatusUnauthorized,
			Headers:   map[string]string{"Content-Type": textPlain},
			Body:      []byte(o.Message),
			SendError: true,
			Message:   o.Message,
		}

	case KindError:
		status := o.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return Rendered{
			Kind:    KindError,
			Status:  status,
			Headers: map[string]string{"Content-Type": textPlain},
			Body:    []byte(o.Message),
			Message: o.Message,
		}

	default:
		return Render(Error(http.StatusInternalServerError, "unknown outcome"))
	}
}

// ParseLatency parses a latency in milliseconds. The empty string means no delay.
// Anything but a non-negative base-10 integer is invalid.
func ParseLatency(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms < 0 || ms > maxLatencyMs {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

func notFoundBody(o Outcome) []byte {
	resp := map[string]any{
		"error":   "no_match",
		"method":  o.Method,
		"path":    o.Path,
		"message": "No stub matched the request",
	}
	if len(o.Candidates) > 0 {
		resp["candidates"] = o.Candidates
	}
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return nil
	}
	return append(data, '\n')
}
