package services

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/sophialabs/stubport/internal/domain/auth"
	"github.com/sophialabs/stubport/internal/domain/match"
	"github.com/sophialabs/stubport/internal/domain/outcome"
	"github.com/sophialabs/stubport/internal/domain/stub"
	"github.com/sophialabs/stubport/internal/domain/trace"
	"github.com/sophialabs/stubport/internal/infrastructure/ports"
)

// Resolution is the result of resolving one request against the catalogue.
type Resolution struct {
	Outcome outcome.Outcome
	// Matched is the structurally matching entry, set for OK, Unauthorized
	// and rate-limited outcomes.
	Matched *match.CompiledStub
	// Response is the response served for an OK outcome.
	Response    *match.CompiledResponse
	Candidates  []trace.CandidateResult
	RateLimited bool
}

// HitCount is the number of resolutions served by one stub.
type HitCount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Hits int64  `json:"hits"`
}

// StubRepository owns the live catalogue. Reads are lock-free; reloads are
// serialized and publish a new catalogue with a single pointer swap.
type StubRepository struct {
	catalogue   atomic.Pointer[Catalogue]
	version     atomic.Uint64
	reloadMu    sync.Mutex
	evaluator   *match.Evaluator
	rateLimiter ports.RateLimiter
}

// NewStubRepository creates a repository holding an empty catalogue.
// rateLimiter may be nil, in which case rate limit policies are ignored.
func NewStubRepository(evaluator *match.Evaluator, rateLimiter ports.RateLimiter) *StubRepository {
	r := &StubRepository{
		evaluator:   evaluator,
		rateLimiter: rateLimiter,
	}
	r.catalogue.Store(EmptyCatalogue())
	return r
}

// Resolve finds the first entry whose pattern matches req. That match is final:
// if its authorization fails the result is Unauthorized, even when a later
// entry would have matched without credentials.
func (r *StubRepository) Resolve(ctx context.Context, req *match.Descriptor) Resolution {
	cat := r.catalogue.Load()
	eval := r.evaluator.Evaluate(req, cat.All())

	res := Resolution{Candidates: eval.Candidates}
	cs := eval.Matched
	if cs == nil {
		res.Outcome = outcome.NotFound(string(req.Method), req.Path, eval.Candidates)
		return res
	}
	res.Matched = cs

	if verdict := auth.Validate(cs.Auth, req.Headers); !verdict.Authorized {
		res.Outcome = outcome.Unauthorized(verdict.Reason)
		return res
	}

	if cs.Policy != nil && cs.Policy.RateLimit != nil && r.rateLimiter != nil {
		rl := cs.Policy.RateLimit
		key := rl.Key
		if key == "" {
			key = cs.ID
		}
		if !r.rateLimiter.Allow(ctx, key, rl.Rate, rl.Burst) {
			res.RateLimited = true
			res.Outcome = outcome.Error(http.StatusTooManyRequests, "rate limited")
			return res
		}
	}

	cs.RecordHit()
	resp := cs.NextResponse()
	res.Response = &resp
	res.Outcome = outcome.OK(resp.Status, resp.Headers, resp.Body, resp.Latency)
	return res
}

// Reload replaces the whole catalogue and returns the new version number.
// Resolutions already in flight finish against the catalogue they loaded.
func (r *StubRepository) Reload(cat *Catalogue) uint64 {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	if cat == nil {
		cat = EmptyCatalogue()
	}
	r.catalogue.Store(cat)
	return r.version.Add(1)
}

// Snapshot returns the current catalogue.
func (r *StubRepository) Snapshot() *Catalogue {
	return r.catalogue.Load()
}

// Version returns how many reloads have been published.
func (r *StubRepository) Version() uint64 {
	return r.version.Load()
}

// Hits returns the hit counters of the current catalogue in catalogue order.
func (r *StubRepository) Hits() []HitCount {
	cat := r.catalogue.Load()
	out := make([]HitCount, 0, cat.Len())
	for _, cs := range cat.All() {
		out = append(out, HitCount{ID: cs.ID, Name: cs.Name, Hits: cs.Hits()})
	}
	return out
}

// HitsFor returns the hit counter of one stub.
func (r *StubRepository) HitsFor(id string) (int64, error) {
	cs, ok := r.catalogue.Load().Lookup(id)
	if !ok {
		return 0, stub.ErrNotFound
	}
	return cs.Hits(), nil
}
