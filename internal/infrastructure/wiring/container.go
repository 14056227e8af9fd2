package wiring

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sophialabs/stubport/internal/domain/match"
	"github.com/sophialabs/stubport/internal/domain/trace"
	inboundhttp "github.com/sophialabs/stubport/internal/infrastructure/inbound/http"
	"github.com/sophialabs/stubport/internal/infrastructure/outbound/clock"
	"github.com/sophialabs/stubport/internal/infrastructure/outbound/filesystem"
	"github.com/sophialabs/stubport/internal/infrastructure/outbound/metrics"
	"github.com/sophialabs/stubport/internal/infrastructure/outbound/ratelimit"
	"github.com/sophialabs/stubport/internal/infrastructure/ports"
	"github.com/sophialabs/stubport/internal/infrastructure/services"
	"github.com/sophialabs/stubport/internal/infrastructure/usecases"
)

// Params holds the subset of configuration needed to construct infrastructure components.
type Params struct {
	RootDir        string
	TraceSize      int
	RateLimiterTTL time.Duration
	MaxBodyBytes   int64
	Admin          bool
	Logger         ports.Logger
}

// Container owns the construction and lifecycle of all infrastructure components.
type Container struct {
	logger           ports.Logger
	server           *inboundhttp.Server
	repo             *services.StubRepository
	loadUC           *usecases.LoadStubsUseCase
	rateLimiterStore *ratelimit.TokenBucketStore
	metrics          *metrics.Prometheus
	traceBuf         *trace.RingBuffer
	closeOnce        sync.Once
}

// New constructs all infrastructure components. Fallible operations (loader,
// compiler) run before goroutine-starting operations (rate limiter store) to
// avoid goroutine leaks on early failure.
func New(p Params) (*Container, error) {
	info, err := os.Stat(p.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to access root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", p.RootDir)
	}

	loader, err := filesystem.NewYAMLLoader(p.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create loader: %w", err)
	}

	compiler, err := services.NewCompiler(p.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create compiler: %w", err)
	}

	clk := clock.New()

	// Start background goroutine only after all fallible ops succeed.
	rateLimiterStore := ratelimit.NewTokenBucketStore(clk, p.RateLimiterTTL)

	prom := metrics.NewPrometheus()
	traceBuf := trace.NewRingBuffer(p.TraceSize)
	repo := services.NewStubRepository(match.NewEvaluator(), rateLimiterStore)

	loadUC := usecases.NewLoadStubsUseCase(loader, compiler, p.Logger, prom)
	handleReqUC := usecases.NewHandleRequestUseCase(repo, clk, p.Logger, prom, traceBuf)
	handleReqUC.SetMaxBodyBytes(p.MaxBodyBytes)

	// Buckets belong to the catalogue they were created for.
	server := inboundhttp.NewServer(handleReqUC, loadUC, repo, traceBuf, p.Logger, inboundhttp.Options{
		Admin:    p.Admin,
		Metrics:  prom.Handler(),
		OnReload: rateLimiterStore.Reset,
	})

	return &Container{
		logger:           p.Logger,
		server:           server,
		repo:             repo,
		loadUC:           loadUC,
		rateLimiterStore: rateLimiterStore,
		metrics:          prom,
		traceBuf:         traceBuf,
	}, nil
}

// Close releases resources held by the container. It is idempotent.
func (c *Container) Close() {
	c.closeOnce.Do(func() {
		c.rateLimiterStore.Stop()
	})
}

// Logger returns the logger passed at construction time.
func (c *Container) Logger() ports.Logger {
	return c.logger
}

// Server returns the HTTP stub server.
func (c *Container) Server() *inboundhttp.Server {
	return c.server
}

// Repository returns the live stub repository.
func (c *Container) Repository() *services.StubRepository {
	return c.repo
}

// LoadStubsUseCase returns the use case for loading and compiling stubs.
func (c *Container) LoadStubsUseCase() *usecases.LoadStubsUseCase {
	return c.loadUC
}

// RateLimiterStore returns the token bucket store for rate limiting.
func (c *Container) RateLimiterStore() *ratelimit.TokenBucketStore {
	return c.rateLimiterStore
}

// Metrics returns the Prometheus recorder.
func (c *Container) Metrics() *metrics.Prometheus {
	return c.metrics
}

// TraceBuf returns the trace ring buffer.
func (c *Container) TraceBuf() *trace.RingBuffer {
	return c.traceBuf
}
