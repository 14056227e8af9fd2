package usecases

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sophialabs/stubport/internal/domain/match"
	"github.com/sophialabs/stubport/internal/domain/outcome"
	"github.com/sophialabs/stubport/internal/domain/trace"
	"github.com/sophialabs/stubport/internal/infrastructure/ports"
	"github.com/sophialabs/stubport/internal/infrastructure/services"
)

// DefaultMaxBodyBytes caps how much of a request body is read into memory.
const DefaultMaxBodyBytes int64 = 10 << 20

const writeChunkSize = 32 << 10

// Stage is a step of the request lifecycle.
type Stage int

const (
	StageReceived Stage = iota
	StageDescriptorBuilt
	StageResolved
	StageLatencyApplied
	StageWritten
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageDescriptorBuilt:
		return "descriptor_built"
	case StageResolved:
		return "resolved"
	case StageLatencyApplied:
		return "latency_applied"
	case StageWritten:
		return "written"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// InboundRequest is what the transport hands over for one request.
type InboundRequest struct {
	Method     string
	Path       string
	Query      map[string][]string
	Headers    map[string][]string
	Body       io.Reader
	RemoteAddr string
}

// HandleRequestResult summarizes how one request was handled.
type HandleRequestResult struct {
	Kind        outcome.Kind
	Status      int
	MatchedID   string
	RateLimited bool
	// Stage is StageDone when the response was fully written, otherwise the
	// last stage reached before the transport failed.
	Stage Stage
	// Err is the transport failure that cut the request short, if any.
	Err        error
	TraceEntry trace.Entry
}

// HandleRequestUseCase runs the request lifecycle: build a descriptor, resolve
// it, render the outcome, apply latency and write to the sink.
type HandleRequestUseCase struct {
	repo         *services.StubRepository
	clock        ports.Clock
	logger       ports.Logger
	metrics      ports.Metrics
	traceBuf     *trace.RingBuffer
	maxBodyBytes int64
}

// NewHandleRequestUseCase creates a new use case.
func NewHandleRequestUseCase(
	repo *services.StubRepository,
	clock ports.Clock,
	logger ports.Logger,
	metrics ports.Metrics,
	traceBuf *trace.RingBuffer,
) *HandleRequestUseCase {
	return &HandleRequestUseCase{
		repo:         repo,
		clock:        clock,
		logger:       logger,
		metrics:      metrics,
		traceBuf:     traceBuf,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
}

// SetMaxBodyBytes overrides the request body limit. Non-positive values are ignored.
func (uc *HandleRequestUseCase) SetMaxBodyBytes(n int64) {
	if n > 0 {
		uc.maxBodyBytes = n
	}
}

// Execute handles one request. Every path ends in a written response unless
// the transport itself fails; panics are recovered and answered with a 500 if
// nothing has been written yet.
func (uc *HandleRequestUseCase) Execute(ctx context.Context, in InboundRequest, sink ports.ResponseSink) (result HandleRequestResult) {
	start := uc.clock.Now()
	out := &trackingSink{sink: sink}
	entry := trace.Entry{
		ID:         uuid.NewString(),
		Timestamp:  start,
		Method:     in.Method,
		Path:       in.Path,
		RemoteAddr: in.RemoteAddr,
	}
	result.Stage = StageReceived

	defer func() {
		if rec := recover(); rec != nil {
			uc.logger.Error("request handling panicked", "method", in.Method, "path", in.Path, "stage", result.Stage.String(), "panic", rec)
			uc.metrics.IncTransportFailure("panic")
			result.Kind = outcome.KindError
			result.Status = http.StatusInternalServerError
			result.Err = fmt.Errorf("panic: %v", rec)
			entry.Reason = "internal error"
			if !out.statusSet {
				r := outcome.Render(outcome.Error(http.StatusInternalServerError, "internal error"))
				if err := writeRendered(ctx, out, r); err == nil {
					result.Stage = StageWritten
					result.Err = nil
				}
			}
		}
		uc.finish(&result, &entry, start)
	}()

	desc, early := uc.describe(in)
	result.Stage = StageDescriptorBuilt

	var res services.Resolution
	o := early
	if desc != nil {
		res = uc.repo.Resolve(ctx, desc)
		o = res.Outcome
		entry.Candidates = res.Candidates
		if res.Matched != nil {
			result.MatchedID = res.Matched.ID
		}
		result.RateLimited = res.RateLimited
		if o.Kind == outcome.KindOK && res.Response != nil && res.Response.Substitute {
			var captures []string
			if res.Matched.URLCaptures != nil {
				captures = res.Matched.URLCaptures(desc.Path)
			}
			o.Body = services.Substitute(o.Body, desc, captures)
		}
	}
	result.Stage = StageResolved

	r := outcome.Render(o)
	result.Kind = r.Kind
	result.Status = r.Status
	if r.Kind == outcome.KindError || r.Kind == outcome.KindUnauthorized {
		entry.Reason = r.Message
	}
	if res.RateLimited {
		r.Headers = withHeader(r.Headers, "Retry-After", "1")
	}

	if r.Delay > 0 {
		if err := uc.clock.SleepContext(ctx, r.Delay); err != nil {
			result.Err = err
			uc.metrics.IncTransportFailure("cancelled")
			uc.logger.Debug("latency interrupted", "method", in.Method, "path", in.Path, "error", err)
			return result
		}
	}
	result.Stage = StageLatencyApplied

	if err := writeRendered(ctx, out, r); err != nil {
		result.Err = err
		uc.metrics.IncTransportFailure("write")
		uc.logger.Warn("response write aborted", "method", in.Method, "path", in.Path, "error", err)
		return result
	}
	result.Stage = StageWritten
	return result
}

// describe builds the request descriptor. When the request cannot be
// described it returns nil and the outcome to answer with.
func (uc *HandleRequestUseCase) describe(in InboundRequest) (*match.Descriptor, outcome.Outcome) {
	method, err := match.ParseMethod(in.Method)
	if err != nil {
		return nil, outcome.Error(http.StatusMethodNotAllowed, "unsupported method")
	}

	var body []byte
	if in.Body != nil {
		body, err = io.ReadAll(io.LimitReader(in.Body, uc.maxBodyBytes+1))
		if err != nil {
			return nil, outcome.Error(http.StatusBadRequest, "failed to read request body")
		}
		if int64(len(body)) > uc.maxBodyBytes {
			return nil, outcome.Error(http.StatusRequestEntityTooLarge, "request body too large")
		}
	}

	return match.NewDescriptor(method, in.Path, in.Query, in.Headers, body), outcome.Outcome{}
}

func (uc *HandleRequestUseCase) finish(result *HandleRequestResult, entry *trace.Entry, start time.Time) {
	if result.Stage == StageWritten {
		result.Stage = StageDone
	}
	elapsed := uc.clock.Now().Sub(start)

	entry.MatchedID = result.MatchedID
	entry.Outcome = result.Kind.String()
	entry.Status = result.Status
	entry.RateLimited = result.RateLimited
	entry.DurationMs = elapsed.Milliseconds()
	result.TraceEntry = *entry

	if uc.traceBuf != nil {
		uc.traceBuf.Add(*entry)
	}
	uc.metrics.ObserveRequest(methodLabel(entry.Method), entry.Outcome, entry.Status, elapsed)

	switch result.Kind {
	case outcome.KindNotFound:
		uc.logger.Debug("no stub matched", "method", entry.Method, "path", entry.Path)
	case outcome.KindError:
		if result.Status >= http.StatusInternalServerError {
			uc.logger.Warn("request failed", "method", entry.Method, "path", entry.Path, "stub", entry.MatchedID, "status", entry.Status, "reason", entry.Reason)
			break
		}
		uc.logger.Debug("request rejected", "method", entry.Method, "path", entry.Path, "status", entry.Status, "reason", entry.Reason)
	default:
		uc.logger.Debug("request served", "method", entry.Method, "path", entry.Path, "stub", entry.MatchedID, "status", entry.Status, "outcome", entry.Outcome)
	}
}

// methodLabel keeps the metrics method label within the supported set.
func methodLabel(method string) string {
	m, err := match.ParseMethod(method)
	if err != nil {
		return "other"
	}
	return string(m)
}

// writeRendered emits exactly one status, the headers, then either the error
// signal or the body in chunks. An empty body is still written once.
func writeRendered(ctx context.Context, sink ports.ResponseSink, r outcome.Rendered) error {
	sink.SetStatus(r.Status)

	keys := make([]string, 0, len(r.Headers))
	for k := range r.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sink.SetHeader(k, r.Headers[k])
	}

	if r.SendError {
		return sink.SendError(r.Status, r.Message)
	}

	if len(r.Body) == 0 {
		return sink.WriteBody(r.Body)
	}
	for off := 0; off < len(r.Body); off += writeChunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+writeChunkSize, len(r.Body))
		if err := sink.WriteBody(r.Body[off:end]); err != nil {
			return err
		}
	}
	return nil
}

func withHeader(h map[string]string, name, value string) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	out[name] = value
	return out
}

// trackingSink remembers whether the status has been committed.
type trackingSink struct {
	sink      ports.ResponseSink
	statusSet bool
}

func (t *trackingSink) SetStatus(code int) {
	t.sink.SetStatus(code)
	t.statusSet = true
}

func (t *trackingSink) SetHeader(name, value string) { t.sink.SetHeader(name, value) }

func (t *trackingSink) WriteBody(p []byte) error { return t.sink.WriteBody(p) }

func (t *trackingSink) SendError(code int, message string) error {
	return t.sink.SendError(code, message)
}
