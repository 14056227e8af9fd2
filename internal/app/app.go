package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/sophialabs/stubport/internal/infrastructure/outbound/filesystem"
	"github.com/sophialabs/stubport/internal/infrastructure/outbound/logging"
	"github.com/sophialabs/stubport/internal/infrastructure/wiring"
)

// App is the thin lifecycle manager that delegates dependency construction to wiring.Container.
type App struct {
	cfg        Config
	logOut     io.WriteCloser
	container  *wiring.Container
	httpServer *http.Server
}

// New constructs the application by creating a logger, wiring infrastructure
// components via the container, and setting up the HTTP server.
func New(cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logOut := logging.Output(cfg.LogFile)
	logger, err := logging.Build(cfg.LogBackend, cfg.LogLevel, cfg.LogFormat, logOut)
	if err != nil {
		_ = logOut.Close()
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	container, err := wiring.New(wiring.Params{
		RootDir:        cfg.RootDir,
		TraceSize:      cfg.TraceSize,
		RateLimiterTTL: cfg.RateLimiterTTL,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		Admin:          cfg.Admin,
		Logger:         logger,
	})
	if err != nil {
		_ = logOut.Close()
		return nil, fmt.Errorf("failed to wire infrastructure: %w", err)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      container.Server(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logOut:     logOut,
		container:  container,
		httpServer: httpServer,
	}, nil
}

// Handler returns the HTTP handler serving stubs and the admin API.
func (a *App) Handler() http.Handler {
	return a.container.Server()
}

// Run executes the full application lifecycle: load stubs, start watcher,
// serve HTTP, and handle graceful shutdown on SIGINT/SIGTERM or context cancellation.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	logger := a.container.Logger()
	server := a.container.Server()

	if _, err := server.Reload(ctx); err != nil {
		return fmt.Errorf("failed to load stubs: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.Watch {
		if watcher := a.setupWatcher(ctx); watcher != nil {
			defer watcher.Stop()
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting stubport server", "addr", a.httpServer.Addr, "root", a.cfg.RootDir, "admin", a.cfg.Admin)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func (a *App) setupWatcher(ctx context.Context) *filesystem.Watcher {
	logger := a.container.Logger()
	server := a.container.Server()

	watcher, err := filesystem.NewWatcher(a.cfg.RootDir, a.cfg.WatcherDebounce, logger, func(changed []string) {
		logger.Info("stub files changed", "files", len(changed))
		if _, err := server.Reload(ctx); err != nil {
			logger.Error("hot reload failed, keeping the current catalogue", "error", err)
			return
		}
		logger.Info("hot reload complete")
	})
	if err != nil {
		logger.Warn("file watcher not available", "error", err)
		return nil
	}

	watcher.Start()
	logger.Info("file watcher started", "root", a.cfg.RootDir)
	return watcher
}

func (a *App) close() {
	a.container.Close()
	if s, ok := a.container.Logger().(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
	_ = a.logOut.Close()
}
