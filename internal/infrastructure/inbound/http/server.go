package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sophialabs/stubport/internal/domain/match"
	"github.com/sophialabs/stubport/internal/domain/stub"
	"github.com/sophialabs/stubport/internal/domain/trace"
	"github.com/sophialabs/stubport/internal/infrastructure/ports"
	"github.com/sophialabs/stubport/internal/infrastructure/services"
	"github.com/sophialabs/stubport/internal/infrastructure/usecases"
)

// AdminPrefix is where the admin API is mounted.
const AdminPrefix = "/__admin"

const defaultTraceLast = 10

// Options tune which parts of the server are exposed.
type Options struct {
	// Admin mounts the admin API. Health is always served.
	Admin bool
	// Metrics is served at /__admin/metrics when set.
	Metrics http.Handler
	// OnReload runs after every successful catalogue reload.
	OnReload func()
}

// Server is the HTTP front of the stub server. Every request that is not an
// admin route is handed to the request lifecycle.
type Server struct {
	router      *chi.Mux
	handleReqUC *usecases.HandleRequestUseCase
	loadUC      *usecases.LoadStubsUseCase
	repo        *services.StubRepository
	traceBuf    *trace.RingBuffer
	logger      ports.Logger
	opts        Options
	ready       atomic.Bool
	// reloadMu keeps load and publish of one reload together.
	reloadMu sync.Mutex
}

// NewServer creates a new Server.
func NewServer(
	handleReqUC *usecases.HandleRequestUseCase,
	loadUC *usecases.LoadStubsUseCase,
	repo *services.StubRepository,
	traceBuf *trace.RingBuffer,
	logger ports.Logger,
	opts Options,
) *Server {
	s := &Server{
		handleReqUC: handleReqUC,
		loadUC:      loadUC,
		repo:        repo,
		traceBuf:    traceBuf,
		logger:      logger,
		opts:        opts,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	// Stub traffic is whatever no admin route claims, including methods chi
	// does not know.
	r.NotFound(s.stubHandler)
	r.MethodNotAllowed(s.stubHandler)

	r.Route(AdminPrefix, func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		if !s.opts.Admin {
			return
		}
		r.Get("/stubs", s.handleListStubs)
		r.Get("/stubs/{stubID}", s.handleGetStub)
		r.Get("/stubs/{stubID}/hits", s.handleGetHits)
		r.Get("/trace", s.handleGetTrace)
		r.Post("/reload", s.handleReload)
		if s.opts.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
		}
	})

	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Reload loads and compiles the stub directory and publishes the result.
// On failure the current catalogue stays in place. Concurrent calls run one
// after another, so the last reload to return has read the newest files.
func (s *Server) Reload(ctx context.Context) (uint64, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	cat, err := s.loadUC.Execute(ctx)
	if err != nil {
		return 0, err
	}
	version := s.repo.Reload(cat)
	s.ready.Store(true)
	if s.opts.OnReload != nil {
		s.opts.OnReload()
	}
	s.logger.Info("catalogue published", "version", version, "stubs", cat.Len())
	return version, nil
}

// Ready reports whether a catalogue has been published.
func (s *Server) Ready() bool {
	return s.ready.Load()
}

func (s *Server) stubHandler(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	in := usecases.InboundRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      r.URL.Query(),
		Headers:    r.Header,
		Body:       r.Body,
		RemoteAddr: r.RemoteAddr,
	}

	result := s.handleReqUC.Execute(r.Context(), in, newResponseSink(w))
	if result.Err != nil {
		s.logger.Debug("response not completed", "method", r.Method, "path", r.URL.Path, "stage", result.Stage.String(), "error", result.Err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, map[string]string{"status": "loading"})
		return
	}
	writeJSON(w, map[string]any{
		"status":  "ok",
		"version": s.repo.Version(),
		"stubs":   s.repo.Snapshot().Len(),
	})
}

type stubSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Method    string `json:"method"`
	URL       string `json:"url"`
	Source    string `json:"source,omitempty"`
	Responses int    `json:"responses"`
	Cycle     bool   `json:"cycle,omitempty"`
	Auth      string `json:"auth,omitempty"`
	Hits      int64  `json:"hits"`
}

func (s *Server) handleListStubs(w http.ResponseWriter, _ *http.Request) {
	cat := s.repo.Snapshot()
	out := make([]stubSummary, 0, cat.Len())
	for _, cs := range cat.All() {
		out = append(out, summarize(cs))
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, out)
}

func (s *Server) handleGetStub(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "stubID")
	cs, ok := s.repo.Snapshot().Lookup(id)
	if !ok {
		writeNotFound(w, id)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, summarize(cs))
}

func summarize(cs *match.CompiledStub) stubSummary {
	sum := stubSummary{
		ID:        cs.ID,
		Name:      cs.Name,
		Method:    string(cs.Method),
		URL:       cs.URL,
		Responses: len(cs.Responses),
		Cycle:     cs.Cycle,
		Auth:      cs.Auth.Scheme.String(),
		Hits:      cs.Hits(),
	}
	if cs.SourceFile != "" {
		sum.Source = fmt.Sprintf("%s:%d", cs.SourceFile, cs.SourceLine)
	}
	return sum
}

func (s *Server) handleGetHits(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "stubID")
	hits, err := s.repo.HitsFor(id)
	if errors.Is(err, stub.ErrNotFound) {
		writeNotFound(w, id)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, services.HitCount{ID: id, Hits: hits})
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n := defaultTraceLast
	if lastParam := q.Get("last"); lastParam != "" {
		if parsed, err := strconv.Atoi(lastParam); err == nil && parsed > 0 {
			n = parsed
		}
	}

	stubID, kind := q.Get("stub"), q.Get("outcome")
	var keep func(trace.Entry) bool
	if stubID != "" || kind != "" {
		keep = func(e trace.Entry) bool {
			return (stubID == "" || e.MatchedID == stubID) && (kind == "" || e.Outcome == kind)
		}
	}

	entries := s.traceBuf.Find(n, keep)
	if entries == nil {
		entries = []trace.Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, entries)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	version, err := s.Reload(r.Context())
	if err != nil {
		s.logger.Error("reload failed", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		writeJSON(w, map[string]string{
			"error":   "reload_failed",
			"message": err.Error(),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":  "ok",
		"version": version,
		"stubs":   s.repo.Snapshot().Len(),
	})
}

func writeNotFound(w http.ResponseWriter, id string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	writeJSON(w, map[string]string{
		"error":   "not_found",
		"message": fmt.Sprintf("stub %q does not exist", id),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
