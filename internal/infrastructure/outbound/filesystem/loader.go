package filesystem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sophialabs/stubport/internal/domain/stub"
)

var _ stub.Loader = (*YAMLLoader)(nil)

// Header keys accepted as shorthand for an authorization block.
const (
	headerAuthBasic  = "authorization-basic"
	headerAuthBearer = "authorization-bearer"
	headerAuthCustom = "authorization-custom"
)

// YAMLLoader loads stubs from YAML files in a directory tree.
type YAMLLoader struct {
	rootDir  string
	resolver *IncludeResolver
}

// NewYAMLLoader creates a loader rooted at rootDir.
func NewYAMLLoader(rootDir string) (*YAMLLoader, error) {
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root directory: %w", err)
	}
	return &YAMLLoader{
		rootDir:  absRoot,
		resolver: NewIncludeResolver(absRoot),
	}, nil
}

// LoadAll walks the root directory in lexical order and returns the stubs of
// every .yaml/.yml file, in file order. YAML files pulled in by another file's
// !include are fragments, not stub files, and are skipped.
func (l *YAMLLoader) LoadAll(ctx context.Context) ([]*stub.Stub, error) {
	var files []*stubFile
	included := make(map[string]bool)

	err := filepath.WalkDir(l.rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !isYAMLFile(path) {
			return nil
		}

		f, err := parseStubFile(path)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		if f == nil {
			return nil
		}
		for _, target := range l.resolver.Targets(f.doc, filepath.Dir(path)) {
			included[target] = true
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk stubs directory: %w", err)
	}

	var stubs []*stub.Stub
	for _, f := range files {
		if included[f.path] {
			continue
		}
		loaded, err := l.loadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f.path, err)
		}
		stubs = append(stubs, loaded...)
	}
	return stubs, nil
}

type stubFile struct {
	path string
	doc  *yaml.Node
}

// parseStubFile returns nil for a file holding no documents.
func parseStubFile(path string) (*stubFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if root.Kind == 0 || (root.Kind == yaml.DocumentNode && len(root.Content) == 0) {
		return nil, nil
	}
	if root.Kind != yaml.DocumentNode {
		return nil, fmt.Errorf("unexpected YAML structure")
	}
	return &stubFile{path: path, doc: &root}, nil
}

func (l *YAMLLoader) loadFile(f *stubFile) ([]*stub.Stub, error) {
	path := f.path
	fileDir := filepath.Dir(path)
	if err := l.resolver.ResolveIncludes(f.doc, fileDir); err != nil {
		return nil, fmt.Errorf("failed to resolve includes: %w", err)
	}

	rel, err := filepath.Rel(l.rootDir, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	content := f.doc.Content[0]
	items := []*yaml.Node{content}
	if content.Kind == yaml.SequenceNode {
		items = content.Content
	}

	stubs := make([]*stub.Stub, 0, len(items))
	for i, item := range items {
		s, err := l.decodeStub(item, fileDir)
		if err != nil {
			return nil, fmt.Errorf("stub #%d (line %d): %w", i, item.Line, err)
		}
		s.SourceFile = path
		s.SourceLine = item.Line
		if s.ID == "" {
			s.ID = fmt.Sprintf("%s:%d", rel, item.Line)
		}
		stubs = append(stubs, s)
	}
	return stubs, nil
}

func (l *YAMLLoader) decodeStub(node *yaml.Node, fileDir string) (*stub.Stub, error) {
	var ys yamlStub
	if err := node.Decode(&ys); err != nil {
		return nil, fmt.Errorf("failed to decode stub: %w", err)
	}

	req, err := toRequest(&ys.Request)
	if err != nil {
		return nil, err
	}

	responses, err := l.toResponses(&ys.Response, fileDir)
	if err != nil {
		return nil, err
	}

	return &stub.Stub{
		ID:        ys.ID,
		Name:      ys.Name,
		Request:   req,
		Responses: responses,
		Cycle:     ys.Cycle,
		Policy:    toPolicy(ys.Policy),
	}, nil
}

func toRequest(yr *yamlRequest) (stub.Request, error) {
	req := stub.Request{
		Method: yr.Method,
		URL:    yr.URL,
		Query:  toMatchers(yr.Query),
		Body:   toBodyClause(yr.Body),
	}

	if yr.Post != nil {
		m := stub.ParseStringMatcher(*yr.Post)
		req.Post = &m
	}

	js, err := jsonPattern(&yr.JSON)
	if err != nil {
		return req, err
	}
	req.JSON = js

	if yr.Authorization != nil {
		req.Authorization = &stub.Authorization{
			Scheme:     yr.Authorization.Scheme,
			Header:     yr.Authorization.Header,
			Credential: yr.Authorization.Credential,
		}
	}

	headers := make(map[string]string, len(yr.Headers))
	for k, v := range yr.Headers {
		var scheme string
		switch strings.ToLower(k) {
		case headerAuthBasic:
			scheme = "basic"
		case headerAuthBearer:
			scheme = "bearer"
		case headerAuthCustom:
			scheme = "custom"
		default:
			headers[k] = v
			continue
		}
		if req.Authorization != nil {
			return req, fmt.Errorf("authorization is declared more than once")
		}
		req.Authorization = &stub.Authorization{Scheme: scheme, Credential: v}
	}
	req.Headers = toMatchers(headers)

	return req, nil
}

// jsonPattern accepts a JSON document written as a string or inline as YAML.
func jsonPattern(node *yaml.Node) (string, error) {
	switch node.Kind {
	case 0:
		return "", nil
	case yaml.ScalarNode:
		return node.Value, nil
	default:
		var v any
		if err := node.Decode(&v); err != nil {
			return "", fmt.Errorf("failed to decode json pattern: %w", err)
		}
		out, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("json pattern is not representable as JSON: %w", err)
		}
		return string(out), nil
	}
}

func toMatchers(raw map[string]string) map[string]stub.StringMatcher {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]stub.StringMatcher, len(raw))
	for k, v := range raw {
		out[k] = stub.ParseStringMatcher(v)
	}
	return out
}

func (l *YAMLLoader) toResponses(node *yaml.Node, fileDir string) ([]stub.Response, error) {
	var raw []yamlResponse
	switch node.Kind {
	case 0:
		return nil, fmt.Errorf("missing response")
	case yaml.MappingNode:
		var yr yamlResponse
		if err := node.Decode(&yr); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		raw = append(raw, yr)
	case yaml.SequenceNode:
		if err := node.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode responses: %w", err)
		}
		if len(raw) == 0 {
			return nil, fmt.Errorf("empty response list")
		}
	default:
		return nil, fmt.Errorf("response must be a mapping or a list")
	}

	out := make([]stub.Response, 0, len(raw))
	for _, yr := range raw {
		r := stub.Response{
			Status:      yr.Status,
			Headers:     yr.Headers,
			Body:        yr.Body,
			ContentType: yr.ContentType,
			Latency:     latencyValue(&yr.Latency),
			Substitute:  yr.Substitute,
		}
		if yr.File != "" {
			r.BodyFile = l.rootRelative(yr.File, fileDir)
		}
		out = append(out, r)
	}
	return out, nil
}

// latencyValue returns the latency as written. A list or mapping is passed on
// in its YAML form so it is rejected when served instead of read as no delay.
func latencyValue(node *yaml.Node) string {
	switch {
	case node.Kind == 0:
		return ""
	case node.Kind == yaml.ScalarNode && node.Tag == "!!null":
		return ""
	case node.Kind == yaml.ScalarNode:
		return strings.TrimSpace(node.Value)
	}
	out, err := yaml.Marshal(node)
	if err != nil || len(bytes.TrimSpace(out)) == 0 {
		return fmt.Sprintf("invalid latency at line %d", node.Line)
	}
	return string(bytes.TrimSpace(out))
}

// rootRelative rewrites a response file reference, given relative to the stub
// file or with an @root/ prefix, into a path relative to the loader root.
// Absolute paths are passed through and rejected at compile time.
func (l *YAMLLoader) rootRelative(ref, fileDir string) string {
	if filepath.IsAbs(ref) {
		return ref
	}
	var full string
	if rest, ok := strings.CutPrefix(ref, "@root/"); ok {
		full = filepath.Join(l.rootDir, rest)
	} else {
		full = filepath.Join(fileDir, ref)
	}
	rel, err := filepath.Rel(l.rootDir, full)
	if err != nil {
		return ref
	}
	return rel
}

func toBodyClause(yb *yamlBody) *stub.BodyClause {
	if yb == nil {
		return nil
	}

	bc := &stub.BodyClause{ContentType: yb.ContentType}
	for _, c := range yb.Conditions {
		bc.Conditions = append(bc.Conditions, stub.BodyCondition{
			Extractor: c.Extractor,
			Matcher:   stub.ParseStringMatcher(c.Matcher),
		})
	}
	for i := range yb.All {
		bc.All = append(bc.All, *toBodyClause(&yb.All[i]))
	}
	for i := range yb.Any {
		bc.Any = append(bc.Any, *toBodyClause(&yb.Any[i]))
	}
	bc.Not = toBodyClause(yb.Not)

	return bc
}

func toPolicy(yp *yamlPolicy) *stub.Policy {
	if yp == nil || yp.RateLimit == nil {
		return nil
	}
	return &stub.Policy{
		RateLimit: &stub.RateLimit{
			Rate:  yp.RateLimit.Rate,
			Burst: yp.RateLimit.Burst,
			Key:   yp.RateLimit.Key,
		},
	}
}
