package trace

import "time"

// Entry represents a single resolution recorded for diagnostics.
type Entry struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	RemoteAddr  string            `json:"remote_addr,omitempty"`
	MatchedID   string            `json:"matched_id,omitempty"`
	Outcome     string            `json:"outcome"`
	Status      int               `json:"status"`
	Reason      string            `json:"reason,omitempty"`
	Candidates  []CandidateResult `json:"candidates"`
	RateLimited bool              `json:"rate_limited"`
	DurationMs  int64             `json:"duration_ms"`
}

// CandidateResult records the evaluation result for a single candidate stub.
type CandidateResult struct {
	StubID       string `json:"stub_id"`
	StubName     string `json:"stub_name,omitempty"`
	Matched      bool   `json:"matched"`
	FailedField  string `json:"failed_field,omitempty"`
	FailedReason string `json:"failed_reason,omitempty"`
}
