package stub

// Stub is a single stub definition as read from a stub file, before compilation.
type Stub struct {
	ID        string
	Name      string
	Request   Request
	Responses []Response
	// Cycle makes sequenced responses wrap around instead of repeating the last one.
	Cycle  bool
	Policy *Policy

	SourceFile string
	SourceLine int
}

// Request is the request pattern of a stub.
type Request struct {
	Method  string
	URL     string
	Query   map[string]StringMatcher
	Headers map[string]StringMatcher
	// Post is a literal or regex matched against the raw body. Nil means any body.
	Post *StringMatcher
	// JSON is a JSON document the request body must structurally contain.
	JSON          string
	Body          *BodyClause
	Authorization *Authorization
}

// BodyClause represents conditions on the request body.
type BodyClause struct {
	ContentType string
	Conditions  []BodyCondition
	All         []BodyClause
	Any         []BodyClause
	Not         *BodyClause
}

// BodyCondition represents a single body extraction + matching rule.
type BodyCondition struct {
	// Extractor is a JSONPath or XPath expression.
	Extractor string
	Matcher   StringMatcher
}

// StringMatcher represents a string matching rule.
// If Exact is non-empty, it's an exact match (prefixed with "=" in YAML).
// Otherwise Pattern matches either by equality or as a full regex.
type StringMatcher struct {
	Exact   string
	Pattern string
}

// ParseStringMatcher turns a raw YAML value into a matcher.
func ParseStringMatcher(s string) StringMatcher {
	if len(s) > 1 && s[0] == '=' {
		return StringMatcher{Exact: s[1:]}
	}
	return StringMatcher{Pattern: s}
}

// IsExact returns true if this matcher uses exact comparison.
func (m StringMatcher) IsExact() bool {
	return m.Exact != ""
}

// Value returns the raw string value to match against.
func (m StringMatcher) Value() string {
	if m.Exact != "" {
		return m.Exact
	}
	return m.Pattern
}

// Authorization is the credential a stub requires.
type Authorization struct {
	Scheme     string // "basic", "bearer" or "custom"
	Header     string // only for "custom"; defaults to Authorization
	Credential string
}

// Response defines one configured response of a stub.
type Response struct {
	Status  int
	Headers map[string]string
	// Body is nil when the stub has no body; the response is then zero-length.
	Body        *string
	BodyFile    string
	ContentType string
	// Latency is kept verbatim and validated when the response is served.
	Latency    string
	Substitute bool
}

// Policy groups optional per-stub behaviors.
type Policy struct {
	RateLimit *RateLimit
}

// RateLimit configures token-bucket rate limiting.
type RateLimit struct {
	Rate  float64
	Burst int
	Key   string
}
