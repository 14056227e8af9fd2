package match

import (
	"sync/atomic"

	"github.com/sophialabs/stubport/internal/domain/auth"
)

// CompiledStub is one catalogue entry: a request pattern compiled into
// predicates, the responses it replays and its hit bookkeeping.
// Everything but the hit counter and the response cursor is immutable
// once the entry is installed in a catalogue.
type CompiledStub struct {
	ID     string
	Name   string
	Method Method
	URL    string

	// Predicates are ordered cheapest first and short-circuit on failure.
	Predicates []FieldPredicate
	// URLCaptures returns the capture groups of the url pattern for path, or nil.
	URLCaptures func(path string) []string

	Auth      auth.Requirement
	Responses []CompiledResponse
	Cycle     bool
	Policy    *CompiledPolicy

	SourceFile string
	SourceLine int

	hits   atomic.Int64
	cursor atomic.Uint64
}

// CompiledResponse is a resolved response ready to serve.
type CompiledResponse struct {
	Status  int
	Headers map[string]string
	// Body is nil when no body was configured.
	Body        []byte
	ContentType string
	Latency     string
	Substitute  bool
}

// CompiledPolicy holds resolved policy configuration.
type CompiledPolicy struct {
	RateLimit *CompiledRateLimit
}

// CompiledRateLimit holds rate limit parameters.
type CompiledRateLimit struct {
	Rate  float64
	Burst int
	Key   string
}

// Hits returns how many requests this entry has served.
func (cs *CompiledStub) Hits() int64 {
	return cs.hits.Load()
}

// RecordHit counts one successful resolution and returns the new total.
func (cs *CompiledStub) RecordHit() int64 {
	return cs.hits.Add(1)
}

// NextResponse advances the response cursor and returns the response to serve.
// The last response repeats once the sequence is exhausted unless Cycle is set.
func (cs *CompiledStub) NextResponse() CompiledResponse {
	n := len(cs.Responses)
	if n == 0 {
		return CompiledResponse{}
	}
	if n == 1 {
		return cs.Responses[0]
	}
	i := cs.cursor.Add(1) - 1
	if cs.Cycle {
		return cs.Responses[i%uint64(n)]
	}
	if i >= uint64(n) {
		return cs.Responses[n-1]
	}
	return cs.Responses[i]
}
