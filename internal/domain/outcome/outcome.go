package outcome

import "github.com/sophialabs/stubport/internal/domain/trace"

// Kind tags the closed set of resolution outcomes.
type Kind int

const (
	KindOK Kind = iota
	KindNotFound
	KindUnauthorized
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome is the single result of resolving one request. Only the fields
// relevant to Kind are set; build values with the constructors below.
type Outcome struct {
	Kind Kind

	// KindOK and KindError.
	Status int
	// KindOK.
	Headers map[string]string
	Body    []byte
	Latency string

	// KindUnauthorized reason or KindError message.
	Message string

	// KindNotFound diagnostics.
	Method     string
	Path       string
	Candidates []trace.CandidateResult
}

// OK is a matched stub response. A zero status means 200.
func OK(status int, headers map[string]string, body []byte, latency string) Outcome {
	return Outcome{Kind: KindOK, Status: status, Headers: headers, Body: body, Latency: latency}
}

// NotFound is returned when no stub matched the request.
func NotFound(method, path string, candidates []trace.CandidateResult) Outcome {
	return Outcome{Kind: KindNotFound, Method: method, Path: path, Candidates: candidates}
}

// Unauthorized is returned when a stub matched but its authorization did not.
func Unauthorized(reason string) Outcome {
	return Outcome{Kind: KindUnauthorized, Message: reason}
}

// Error is a fault surfaced to the client. A zero status means 500.
func Error(status int, message string) Outcome {
	return Outcome{Kind: KindError, Status: status, Message: message}
}
