package services

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/antchfx/xmlquery"
	"github.com/tidwall/gjson"

	"github.com/sophialabs/stubport/internal/domain/auth"
	"github.com/sophialabs/stubport/internal/domain/match"
	"github.com/sophialabs/stubport/internal/domain/stub"
)

// Compiler transforms stub definitions into compiled catalogue entries.
type Compiler struct {
	rootDir string
	regexes *regexCache
}

// NewCompiler creates a new Compiler bound to the given root directory for response file resolution.
func NewCompiler(rootDir string) (*Compiler, error) {
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root directory: %w", err)
	}
	return &Compiler{rootDir: absRoot, regexes: newRegexCache(defaultRegexCacheSize)}, nil
}

// CompileStub turns a Stub into a CompiledStub.
func (c *Compiler) CompileStub(s *stub.Stub) (*match.CompiledStub, error) {
	method, err := match.ParseMethod(s.Request.Method)
	if err != nil {
		return nil, fmt.Errorf("failed to compile stub %q: %w", s.ID, err)
	}

	cs := &match.CompiledStub{
		ID:         s.ID,
		Name:       s.Name,
		Method:     method,
		URL:        s.Request.URL,
		Cycle:      s.Cycle,
		SourceFile: s.SourceFile,
		SourceLine: s.SourceLine,
	}

	cs.Predicates, cs.URLCaptures, err = c.compileRequest(method, &s.Request)
	if err != nil {
		return nil, fmt.Errorf("failed to compile stub %q: %w", s.ID, err)
	}

	cs.Auth, err = compileAuthorization(s.Request.Authorization)
	if err != nil {
		return nil, fmt.Errorf("failed to compile authorization for %q: %w", s.ID, err)
	}

	if len(s.Responses) == 0 {
		return nil, fmt.Errorf("stub %q has no response", s.ID)
	}
	cs.Responses = make([]match.CompiledResponse, 0, len(s.Responses))
	for i := range s.Responses {
		resp, err := c.compileResponse(&s.Responses[i])
		if err != nil {
			return nil, fmt.Errorf("failed to compile response %d for %q: %w", i, s.ID, err)
		}
		cs.Responses = append(cs.Responses, resp)
	}

	if s.Policy != nil {
		cs.Policy, err = compilePolicy(s.Policy)
		if err != nil {
			return nil, fmt.Errorf("failed to compile policy for %q: %w", s.ID, err)
		}
	}

	return cs, nil
}

func (c *Compiler) compileRequest(method match.Method, r *stub.Request) ([]match.FieldPredicate, func(string) []string, error) {
	predicates := []match.FieldPredicate{{
		Field:     match.FieldMethod,
		Predicate: exactPredicate(string(method)),
	}}

	urlPred, captures, err := c.compileURL(r.URL)
	if err != nil {
		return nil, nil, err
	}
	predicates = append(predicates, match.FieldPredicate{Field: match.FieldURL, Predicate: urlPred})

	for _, name := range sortedKeys(r.Query) {
		predicates = append(predicates, match.FieldPredicate{
			Field:     match.QueryFieldPrefix + name,
			Predicate: c.compileStringMatcher(r.Query[name]),
		})
	}

	// Header names are canonicalized to match the descriptor's keys.
	for _, name := range sortedKeys(r.Headers) {
		predicates = append(predicates, match.FieldPredicate{
			Field:     match.HeaderFieldPrefix + http.CanonicalHeaderKey(name),
			Predicate: c.compileStringMatcher(r.Headers[name]),
		})
	}

	if r.Post != nil {
		predicates = append(predicates, match.FieldPredicate{
			Field:     match.FieldBody,
			Predicate: c.compileStringMatcher(*r.Post),
		})
	}

	if r.JSON != "" {
		if !gjson.Valid(r.JSON) {
			return nil, nil, fmt.Errorf("json body pattern is not valid JSON")
		}
		predicates = append(predicates, match.FieldPredicate{
			Field:     match.BodyFieldPrefix + "json",
			Predicate: jsonContainsPredicate(r.JSON),
		})
	}

	if r.Body != nil {
		bodyPreds, err := c.compileBody(r.Body)
		if err != nil {
			return nil, nil, err
		}
		predicates = append(predicates, bodyPreds...)
	}

	return predicates, captures, nil
}

// compileURL matches the path exactly when prefixed with "=" or when the
// url is not a valid regex, and as an anchored regex otherwise.
func (c *Compiler) compileURL(url string) (match.Predicate, func(string) []string, error) {
	if url == "" {
		return nil, nil, fmt.Errorf("url is required")
	}
	if strings.HasPrefix(url, "=") {
		return exactPredicate(url[1:]), nil, nil
	}

	re, err := c.regexes.anchored(url)
	if err != nil {
		return exactPredicate(url), nil, nil
	}
	pred := func(path string) bool {
		return path == url || re.MatchString(path)
	}
	captures := func(path string) []string {
		return re.FindStringSubmatch(path)
	}
	return pred, captures, nil
}

func (c *Compiler) compileBody(bc *stub.BodyClause) ([]match.FieldPredicate, error) {
	var predicates []match.FieldPredicate

	for _, cond := range bc.Conditions {
		predicates = append(predicates, c.compileBodyCondition(cond, bc.ContentType))
	}

	// Boolean combinators.
	if len(bc.All) > 0 {
		inner, err := c.compileBodyChildren(bc.All)
		if err != nil {
			return nil, err
		}
		predicates = append(predicates, match.FieldPredicate{
			Field:     match.BodyFieldPrefix + "all",
			Predicate: match.And(inner...),
		})
	}

	if len(bc.Any) > 0 {
		inner, err := c.compileBodyChildren(bc.Any)
		if err != nil {
			return nil, err
		}
		predicates = append(predicates, match.FieldPredicate{
			Field:     match.BodyFieldPrefix + "any",
			Predicate: match.Or(inner...),
		})
	}

	if bc.Not != nil {
		notPreds, err := c.compileBody(bc.Not)
		if err != nil {
			return nil, err
		}
		if len(notPreds) > 0 {
			predicates = append(predicates, match.FieldPredicate{
				Field:     match.BodyFieldPrefix + "not",
				Predicate: match.Not(match.And(unwrap(notPreds)...)),
			})
		}
	}

	return predicates, nil
}

// compileBodyChildren compiles each child clause into one conjunction.
func (c *Compiler) compileBodyChildren(children []stub.BodyClause) ([]match.Predicate, error) {
	out := make([]match.Predicate, 0, len(children))
	for i := range children {
		preds, err := c.compileBody(&children[i])
		if err != nil {
			return nil, err
		}
		out = append(out, match.And(unwrap(preds)...))
	}
	return out, nil
}

func unwrap(fps []match.FieldPredicate) []match.Predicate {
	out := make([]match.Predicate, 0, len(fps))
	for _, fp := range fps {
		out = append(out, fp.Predicate)
	}
	return out
}

func (c *Compiler) compileBodyCondition(cond stub.BodyCondition, contentType string) match.FieldPredicate {
	matcher := c.compileStringMatcher(cond.Matcher)

	switch strings.ToLower(contentType) {
	case "json":
		return match.FieldPredicate{
			Field:     match.BodyFieldPrefix + cond.Extractor,
			Predicate: jsonPathPredicate(cond.Extractor, matcher),
		}
	case "xml":
		return match.FieldPredicate{
			Field:     match.BodyFieldPrefix + cond.Extractor,
			Predicate: xpathPredicate(cond.Extractor, matcher),
		}
	default:
		// No content type specified: match against the raw body.
		return match.FieldPredicate{
			Field:     match.FieldBody,
			Predicate: matcher,
		}
	}
}

// compileStringMatcher matches exactly for "=" values. Other values match by
// equality or as a full regex; an empty pattern matches anything.
func (c *Compiler) compileStringMatcher(m stub.StringMatcher) match.Predicate {
	if m.IsExact() {
		return exactPredicate(m.Exact)
	}
	if m.Pattern == "" {
		return match.Always()
	}
	re, err := c.regexes.anchored(m.Pattern)
	if err != nil {
		return exactPredicate(m.Pattern)
	}
	pattern := m.Pattern
	return func(s string) bool {
		return s == pattern || re.MatchString(s)
	}
}

func exactPredicate(expected string) match.Predicate {
	return func(s string) bool {
		return s == expected
	}
}

// jsonPathPredicate creates a predicate that extracts a value via JSONPath and matches it.
func jsonPathPredicate(expr string, valueMatcher match.Predicate) match.Predicate {
	return func(body string) bool {
		var data any
		if err := decodeJSON(strings.NewReader(body), &data); err != nil {
			return false
		}

		result, err := jsonpath.Get(expr, data)
		if err != nil {
			return false
		}

		return valueMatcher(fmt.Sprintf("%v", result))
	}
}

// xpathPredicate creates a predicate that extracts a value via XPath and matches it.
func xpathPredicate(expr string, valueMatcher match.Predicate) match.Predicate {
	return func(body string) bool {
		doc, err := xmlquery.Parse(strings.NewReader(body))
		if err != nil {
			return false
		}

		node := xmlquery.FindOne(doc, expr)
		if node == nil {
			return false
		}

		return valueMatcher(node.InnerText())
	}
}

func compileAuthorization(a *stub.Authorization) (auth.Requirement, error) {
	if a == nil {
		return auth.NoRequirement, nil
	}
	scheme, err := auth.ParseScheme(a.Scheme)
	if err != nil {
		return auth.Requirement{}, err
	}
	return auth.NewRequirement(scheme, a.Header, a.Credential)
}

func (c *Compiler) compileResponse(r *stub.Response) (match.CompiledResponse, error) {
	if r.Status != 0 && (r.Status < 100 || r.Status > 599) {
		return match.CompiledResponse{}, fmt.Errorf("invalid status %d", r.Status)
	}

	resp := match.CompiledResponse{
		Status:     r.Status,
		Headers:    make(map[string]string, len(r.Headers)+1),
		Latency:    r.Latency,
		Substitute: r.Substitute,
	}
	for k, v := range r.Headers {
		resp.Headers[http.CanonicalHeaderKey(k)] = v
	}

	// Resolve body content (inline or from file).
	switch {
	case r.BodyFile != "":
		resolved, err := c.resolveBodyFilePath(r.BodyFile)
		if err != nil {
			return resp, err
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return resp, fmt.Errorf("failed to read response file %q: %w", r.BodyFile, err)
		}
		resp.Body = data
	case r.Body != nil:
		resp.Body = []byte(*r.Body)
	}

	if ct := responseContentType(r, resp.Headers, resp.Body); ct != "" {
		resp.ContentType = ct
		resp.Headers["Content-Type"] = ct
	}

	return resp, nil
}

// resolveBodyFilePath resolves and validates response file paths to prevent directory traversal.
func (c *Compiler) resolveBodyFilePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed in response file: %s", path)
	}

	resolved := filepath.Join(c.rootDir, path)

	// Evaluate symlinks and verify the path stays within rootDir.
	realPath, err := filepath.EvalSymlinks(resolved)
	if err != nil {
		realPath = filepath.Clean(resolved)
	}

	absRoot, err := filepath.EvalSymlinks(c.rootDir)
	if err != nil {
		absRoot = c.rootDir
	}

	if realPath != absRoot && !strings.HasPrefix(realPath, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("response file path %q escapes root directory", path)
	}

	return resolved, nil
}

func compilePolicy(p *stub.Policy) (*match.CompiledPolicy, error) {
	cp := &match.CompiledPolicy{}

	if p.RateLimit != nil {
		if p.RateLimit.Rate <= 0 {
			return nil, fmt.Errorf("rate_limit.rate must be positive")
		}
		burst := p.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		cp.RateLimit = &match.CompiledRateLimit{
			Rate:  p.RateLimit.Rate,
			Burst: burst,
			Key:   p.RateLimit.Key,
		}
	}

	return cp, nil
}

func sortedKeys(m map[string]stub.StringMatcher) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
