package http_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sophialabs/stubport/internal/domain/match"
	"github.com/sophialabs/stubport/internal/domain/stub"
	"github.com/sophialabs/stubport/internal/domain/trace"
	inboundhttp "github.com/sophialabs/stubport/internal/infrastructure/inbound/http"
	"github.com/sophialabs/stubport/internal/infrastructure/outbound/clock"
	"github.com/sophialabs/stubport/internal/infrastructure/outbound/filesystem"
	"github.com/sophialabs/stubport/internal/infrastructure/services"
	"github.com/sophialabs/stubport/internal/infrastructure/usecases"
	"github.com/sophialabs/stubport/internal/testutil"
)

const stubsYAML = `
- id: health
  request:
    method: GET
    url: /api/health
  response:
    status: 200
    headers:
      X-Stub: "true"
    body: '{"status":"ok"}'
    content_type: application/json

- id: create-item
  request:
    method: POST
    url: /api/items
    post: '={"name":"widget"}'
  response:
    status: 201
    body: created

- id: secret
  request:
    method: GET
    url: /api/secret
    headers:
      authorization-basic: "bob:secret"
  response:
    status: 200
    body: classified

- id: empty
  request:
    method: DELETE
    url: /api/items/(\d+)
  response:
    status: 204
`

type testServer struct {
	srv     *inboundhttp.Server
	dir     string
	reloads int
}

func newTestServer(t *testing.T, admin bool, files map[string]string) *testServer {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		writeFile(t, filepath.Join(dir, name), content)
	}

	logger := &testutil.NoopLogger{}
	metrics := &testutil.NoopMetrics{}

	loader, err := filesystem.NewYAMLLoader(dir)
	if err != nil {
		t.Fatalf("NewYAMLLoader: %v", err)
	}
	compiler, err := services.NewCompiler(dir)
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}

	repo := services.NewStubRepository(match.NewEvaluator(), nil)
	traceBuf := trace.NewRingBuffer(50)
	loadUC := usecases.NewLoadStubsUseCase(loader, compiler, logger, metrics)
	handleReqUC := usecases.NewHandleRequestUseCase(repo, clock.New(), logger, metrics, traceBuf)

	ts := &testServer{dir: dir}
	ts.srv = inboundhttp.NewServer(handleReqUC, loadUC, repo, traceBuf, logger, inboundhttp.Options{
		Admin:    admin,
		Metrics:  http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "# metrics\n") }),
		OnReload: func() { ts.reloads++ },
	})
	return ts
}

func (ts *testServer) reload(t *testing.T) {
	t.Helper()
	if _, err := ts.srv.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
}

func (ts *testServer) do(req *http.Request) (*http.Response, string) {
	w := httptest.NewRecorder()
	ts.srv.ServeHTTP(w, req)
	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestServer_MatchesGET(t *testing.T) {
	ts := newTestServer(t, false, map[string]string{"stubs.yaml": stubsYAML})
	ts.reload(t)

	resp, body := ts.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body != `{"status":"ok"}` {
		t.Errorf("unexpected body: %s", body)
	}
	if resp.Header.Get("X-Stub") != "true" {
		t.Errorf("expected X-Stub header")
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type: %s", ct)
	}
}

func TestServer_POSTWithBody(t *testing.T) {
	ts := newTestServer(t, false, map[string]string{"stubs.yaml": stubsYAML})
	ts.reload(t)

	resp, body := ts.do(httptest.NewRequest(http.MethodPost, "/api/items", strings.NewReader(`{"name":"widget"}`)))
	if resp.StatusCode != http.StatusCreated || body != "created" {
		t.Errorf("expected 201 created, got %d %q", resp.StatusCode, body)
	}

	resp, _ = ts.do(httptest.NewRequest(http.MethodPost, "/api/items", strings.NewReader(`{"name":"gadget"}`)))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for a different body, got %d", resp.StatusCode)
	}
}

func TestServer_NoMatchReturnsDiagnostics(t *testing.T) {
	ts := newTestServer(t, false, map[string]string{"stubs.yaml": stubsYAML})
	ts.reload(t)

	resp, body := ts.do(httptest.NewRequest(http.MethodGet, "/api/unknown", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	var debug map[string]any
	if err := json.Unmarshal([]byte(body), &debug); err != nil {
		t.Fatalf("failed to parse not-found body: %v", err)
	}
	if debug["error"] != "no_match" {
		t.Errorf("expected error 'no_match', got %v", debug["error"])
	}
	if debug["path"] != "/api/unknown" {
		t.Errorf("expected path in body, got %v", debug["path"])
	}
}

func TestServer_Unauthorized(t *testing.T) {
	ts := newTestServer(t, false, map[string]string{"stubs.yaml": stubsYAML})
	ts.reload(t)

	resp, body := ts.do(httptest.NewRequest(http.MethodGet, "/api/secret", nil))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if body != "no authorization header" {
		t.Errorf("unexpected body: %q", body)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/secret", nil)
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("bob:wrong")))
	resp, body = ts.do(req)
	if resp.StatusCode != http.StatusUnauthorized || body != "credential mismatch" {
		t.Errorf("expected 401 credential mismatch, got %d %q", resp.StatusCode, body)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/secret", nil)
	req.SetBasicAuth("bob", "secret")
	resp, body = ts.do(req)
	if resp.StatusCode != http.StatusOK || body != "classified" {
		t.Errorf("expected 200 classified, got %d %q", resp.StatusCode, body)
	}
}

func TestServer_EmptyBodyResponse(t *testing.T) {
	ts := newTestServer(t, false, map[string]string{"stubs.yaml": stubsYAML})
	ts.reload(t)

	resp, body := ts.do(httptest.NewRequest(http.MethodDelete, "/api/items/42", nil))
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}
	if body != "" {
		t.Errorf("expected empty body, got %q", body)
	}
}

func TestServer_UnsupportedMethod(t *testing.T) {
	ts := newTestServer(t, false, map[string]string{"stubs.yaml": stubsYAML})
	ts.reload(t)

	resp, body := ts.do(httptest.NewRequest("PROPFIND", "/api/health", nil))
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
	if body != "unsupported method" {
		t.Errorf("unexpected body: %q", body)
	}
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, false, map[string]string{"stubs.yaml": stubsYAML})

	resp, _ := ts.do(httptest.NewRequest(http.MethodGet, "/__admin/health", nil))
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before the first load, got %d", resp.StatusCode)
	}

	ts.reload(t)
	resp, body := ts.do(httptest.NewRequest(http.MethodGet, "/__admin/health", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var health map[string]any
	if err := json.Unmarshal([]byte(body), &health); err != nil {
		t.Fatal(err)
	}
	if health["stubs"] != float64(4) || health["version"] != float64(1) {
		t.Errorf("unexpected health body: %v", health)
	}
}

func TestServer_AdminDisabledFallsThroughToStubs(t *testing.T) {
	ts := newTestServer(t, false, map[string]string{"stubs.yaml": stubsYAML})
	ts.reload(t)

	resp, body := ts.do(httptest.NewRequest(http.MethodGet, "/__admin/stubs", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "no_match") {
		t.Errorf("expected the stub not-found body, got %s", body)
	}
}

func TestServer_AdminListsStubsWithHits(t *testing.T) {
	ts := newTestServer(t, true, map[string]string{"stubs.yaml": stubsYAML})
	ts.reload(t)

	ts.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	ts.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))

	resp, body := ts.do(httptest.NewRequest(http.MethodGet, "/__admin/stubs", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var stubs []map[string]any
	if err := json.Unmarshal([]byte(body), &stubs); err != nil {
		t.Fatalf("failed to parse stubs: %v", err)
	}
	if len(stubs) != 4 {
		t.Fatalf("expected 4 stubs, got %d", len(stubs))
	}
	if stubs[0]["id"] != "health" || stubs[0]["hits"] != float64(2) {
		t.Errorf("unexpected first stub: %v", stubs[0])
	}
	if stubs[2]["auth"] != "basic" {
		t.Errorf("expected basic auth on secret, got %v", stubs[2]["auth"])
	}
	if src, _ := stubs[0]["source"].(string); !strings.HasSuffix(src, "stubs.yaml:2") {
		t.Errorf("unexpected source: %v", stubs[0]["source"])
	}
}

func TestServer_AdminGetStubAndHits(t *testing.T) {
	ts := newTestServer(t, true, map[string]string{"stubs.yaml": stubsYAML})
	ts.reload(t)
	ts.do(httptest.NewRequest(http.MethodPost, "/api/items", strings.NewReader(`{"name":"widget"}`)))

	resp, body := ts.do(httptest.NewRequest(http.MethodGet, "/__admin/stubs/create-item/hits", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var hits services.HitCount
	if err := json.Unmarshal([]byte(body), &hits); err != nil {
		t.Fatal(err)
	}
	if hits.ID != "create-item" || hits.Hits != 1 {
		t.Errorf("unexpected hits: %+v", hits)
	}

	resp, body = ts.do(httptest.NewRequest(http.MethodGet, "/__admin/stubs/create-item", nil))
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"method": "POST"`) {
		t.Errorf("unexpected stub detail: %d %s", resp.StatusCode, body)
	}

	resp, _ = ts.do(httptest.NewRequest(http.MethodGet, "/__admin/stubs/missing/hits", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown stub, got %d", resp.StatusCode)
	}
	resp, _ = ts.do(httptest.NewRequest(http.MethodGet, "/__admin/stubs/missing", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown stub, got %d", resp.StatusCode)
	}
}

func TestServer_AdminTrace(t *testing.T) {
	ts := newTestServer(t, true, map[string]string{"stubs.yaml": stubsYAML})
	ts.reload(t)

	ts.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	ts.do(httptest.NewRequest(http.MethodGet, "/api/nothing", nil))
	ts.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?last=1", 1},
		{"?last=bogus", 3},
		{"?stub=health", 2},
		{"?outcome=not_found", 1},
		{"?stub=health&outcome=not_found", 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			_, body := ts.do(httptest.NewRequest(http.MethodGet, "/__admin/trace"+tt.query, nil))
			var entries []trace.Entry
			if err := json.Unmarshal([]byte(body), &entries); err != nil {
				t.Fatalf("failed to parse trace: %v", err)
			}
			if len(entries) != tt.want {
				t.Errorf("expected %d entries, got %d", tt.want, len(entries))
			}
		})
	}
}

func TestServer_AdminTraceShowsClientAddress(t *testing.T) {
	ts := newTestServer(t, true, map[string]string{"stubs.yaml": stubsYAML})
	ts.reload(t)

	proxied := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	proxied.Header.Set("X-Forwarded-For", "198.51.100.4")
	ts.do(proxied)

	direct := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	direct.RemoteAddr = "192.0.2.9:5150"
	ts.do(direct)

	_, body := ts.do(httptest.NewRequest(http.MethodGet, "/__admin/trace", nil))
	var entries []trace.Entry
	if err := json.Unmarshal([]byte(body), &entries); err != nil {
		t.Fatalf("failed to parse trace: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	got := map[string]bool{entries[0].RemoteAddr: true, entries[1].RemoteAddr: true}
	if !got["198.51.100.4"] {
		t.Errorf("expected the forwarded client address, got %+v", got)
	}
	if !got["192.0.2.9:5150"] {
		t.Errorf("expected the peer address, got %+v", got)
	}
}

func TestServer_AdminReload(t *testing.T) {
	ts := newTestServer(t, true, map[string]string{"stubs.yaml": stubsYAML})
	ts.reload(t)

	writeFile(t, filepath.Join(ts.dir, "extra.yaml"), `
id: extra
request:
  method: GET
  url: /api/extra
response:
  body: more
`)

	resp, body := ts.do(httptest.NewRequest(http.MethodPost, "/__admin/reload", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(body, `"version": 2`) {
		t.Errorf("expected version 2 in body, got %s", body)
	}
	if ts.reloads != 2 {
		t.Errorf("expected the reload hook to run twice, got %d", ts.reloads)
	}

	resp, body = ts.do(httptest.NewRequest(http.MethodGet, "/api/extra", nil))
	if resp.StatusCode != http.StatusOK || body != "more" {
		t.Errorf("expected the new stub to serve, got %d %q", resp.StatusCode, body)
	}
}

func TestServer_FailedReloadKeepsCatalogue(t *testing.T) {
	ts := newTestServer(t, true, map[string]string{"stubs.yaml": stubsYAML})
	ts.reload(t)

	writeFile(t, filepath.Join(ts.dir, "broken.yaml"), "request: [unclosed\n")

	resp, body := ts.do(httptest.NewRequest(http.MethodPost, "/__admin/reload", nil))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "reload_failed") {
		t.Errorf("unexpected body: %s", body)
	}
	if ts.reloads != 1 {
		t.Errorf("reload hook must not run on failure, ran %d times", ts.reloads)
	}

	resp, _ = ts.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected the previous catalogue to keep serving, got %d", resp.StatusCode)
	}
}

func TestServer_AdminMetrics(t *testing.T) {
	ts := newTestServer(t, true, nil)

	resp, body := ts.do(httptest.NewRequest(http.MethodGet, "/__admin/metrics", nil))
	if resp.StatusCode != http.StatusOK || body != "# metrics\n" {
		t.Errorf("expected the metrics handler, got %d %q", resp.StatusCode, body)
	}
}

func TestServer_AdminRouteWithOtherMethodIsStubTraffic(t *testing.T) {
	ts := newTestServer(t, true, map[string]string{"admin.yaml": `
request:
  method: DELETE
  url: /__admin/stubs
response:
  status: 202
`})
	ts.reload(t)

	resp, _ := ts.do(httptest.NewRequest(http.MethodDelete, "/__admin/stubs", nil))
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("expected the stub to answer, got %d", resp.StatusCode)
	}
}

// gatedLoader blocks its first LoadAll until release is closed.
type gatedLoader struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (l *gatedLoader) LoadAll(ctx context.Context) ([]*stub.Stub, error) {
	l.mu.Lock()
	l.calls++
	call := l.calls
	l.mu.Unlock()

	id := "new"
	if call == 1 {
		close(l.entered)
		<-l.release
		id = "old"
	}
	body := id
	return []*stub.Stub{{
		ID:        id,
		Request:   stub.Request{Method: http.MethodGet, URL: "/" + id},
		Responses: []stub.Response{{Status: http.StatusOK, Body: &body}},
	}}, nil
}

func TestServer_OverlappingReloadsPublishInOrder(t *testing.T) {
	dir := t.TempDir()
	logger := &testutil.NoopLogger{}
	metrics := &testutil.NoopMetrics{}
	compiler, err := services.NewCompiler(dir)
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}

	loader := &gatedLoader{entered: make(chan struct{}), release: make(chan struct{})}
	repo := services.NewStubRepository(match.NewEvaluator(), nil)
	traceBuf := trace.NewRingBuffer(10)
	srv := inboundhttp.NewServer(
		usecases.NewHandleRequestUseCase(repo, clock.New(), logger, metrics, traceBuf),
		usecases.NewLoadStubsUseCase(loader, compiler, logger, metrics),
		repo, traceBuf, logger, inboundhttp.Options{},
	)

	first := make(chan error, 1)
	go func() {
		_, err := srv.Reload(context.Background())
		first <- err
	}()
	<-loader.entered

	second := make(chan error, 1)
	go func() {
		_, err := srv.Reload(context.Background())
		second <- err
	}()

	time.Sleep(50 * time.Millisecond)
	close(loader.release)

	for _, ch := range []chan error{first, second} {
		select {
		case err := <-ch:
			if err != nil {
				t.Fatalf("Reload: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Reload did not return")
		}
	}

	if v := repo.Version(); v != 2 {
		t.Errorf("expected version 2, got %d", v)
	}
	if _, ok := repo.Snapshot().Lookup("new"); !ok {
		t.Error("expected the later load to be the live catalogue")
	}
	if _, ok := repo.Snapshot().Lookup("old"); ok {
		t.Error("the earlier load must not publish over the later one")
	}
}
