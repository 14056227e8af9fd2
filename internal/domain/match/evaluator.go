package match

import (
	"strings"

	"github.com/sophialabs/stubport/internal/domain/trace"
)

// EvalResult holds the outcome of evaluating candidates against a request.
type EvalResult struct {
	Matched    *CompiledStub
	Candidates []trace.CandidateResult
}

// Evaluator evaluates live requests against compiled stubs.
type Evaluator struct{}

// NewEvaluator creates a new Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate walks candidates in catalogue order and stops at the first one whose
// predicates all hold. Candidates rejected before the match are kept for tracing.
func (e *Evaluator) Evaluate(req *Descriptor, candidates []*CompiledStub) EvalResult {
	result := EvalResult{
		Candidates: make([]trace.CandidateResult, 0, min(len(candidates), 16)),
	}

	bodyStr := string(req.Body)

	for _, cs := range candidates {
		cr := Matches(cs, req, bodyStr)
		result.Candidates = append(result.Candidates, cr)
		if cr.Matched {
			result.Matched = cs
			break
		}
	}

	return result
}

// Matches reports whether req satisfies every predicate of cs. The result
// names the first failing field when it does not.
func Matches(cs *CompiledStub, req *Descriptor, body string) trace.CandidateResult {
	cr := trace.CandidateResult{
		StubID:   cs.ID,
		StubName: cs.Name,
		Matched:  true,
	}

	for _, fp := range cs.Predicates {
		val, present := fieldValue(fp.Field, req, body)
		if !present {
			cr.Matched = false
			cr.FailedField = fp.Field
			cr.FailedReason = "missing from request"
			break
		}
		if !fp.Predicate(val) {
			cr.Matched = false
			cr.FailedField = fp.Field
			cr.FailedReason = "value did not match: " + truncate(val, 128)
			break
		}
	}

	return cr
}

// fieldValue returns the request value a field is evaluated against.
// Query parameters and headers named by a pattern must be present.
// Body predicates receive the raw body since they parse it themselves.
func fieldValue(field string, req *Descriptor, body string) (string, bool) {
	switch {
	case field == FieldMethod:
		return string(req.Method), true
	case field == FieldURL:
		return req.Path, true
	case field == FieldBody || strings.HasPrefix(field, BodyFieldPrefix):
		return body, true
	case strings.HasPrefix(field, QueryFieldPrefix):
		v, ok := req.Query[field[len(QueryFieldPrefix):]]
		return v, ok
	case strings.HasPrefix(field, HeaderFieldPrefix):
		return req.Header(field[len(HeaderFieldPrefix):])
	default:
		return "", false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
