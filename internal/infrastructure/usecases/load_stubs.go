package usecases

import (
	"context"
	"fmt"
	"strings"

	"github.com/sophialabs/stubport/internal/domain/match"
	"github.com/sophialabs/stubport/internal/domain/stub"
	"github.com/sophialabs/stubport/internal/infrastructure/ports"
	"github.com/sophialabs/stubport/internal/infrastructure/services"
)

// LoadStubsUseCase loads all stubs, compiles them, and builds a catalogue.
type LoadStubsUseCase struct {
	loader   stub.Loader
	compiler *services.Compiler
	logger   ports.Logger
	metrics  ports.Metrics
}

// NewLoadStubsUseCase creates a new use case.
func NewLoadStubsUseCase(loader stub.Loader, compiler *services.Compiler, logger ports.Logger, metrics ports.Metrics) *LoadStubsUseCase {
	return &LoadStubsUseCase{
		loader:   loader,
		compiler: compiler,
		logger:   logger,
		metrics:  metrics,
	}
}

// Execute returns a fully built catalogue. Stubs that fail to compile are
// logged and left out; a load failure or a duplicate ID fails the whole call so
// the caller can keep serving its current catalogue.
func (uc *LoadStubsUseCase) Execute(ctx context.Context) (*services.Catalogue, error) {
	stubs, err := uc.loader.LoadAll(ctx)
	if err != nil {
		uc.metrics.ObserveReload(false, 0)
		return nil, fmt.Errorf("failed to load stubs: %w", err)
	}

	uc.logger.Info("loaded stubs", "count", len(stubs))

	entries := make([]*match.CompiledStub, 0, len(stubs))
	failed := 0
	for _, s := range stubs {
		cs, err := uc.compiler.CompileStub(s)
		if err != nil {
			failed++
			uc.logger.Warn("failed to compile stub", "id", s.ID, "file", s.SourceFile, "line", s.SourceLine, "error", err)
			continue
		}
		entries = append(entries, cs)
		uc.logger.Debug("compiled stub", "id", cs.ID, "method", cs.Method, "url", cs.URL)
	}

	cat, err := services.NewCatalogue(entries)
	if err != nil {
		uc.metrics.ObserveReload(false, 0)
		return nil, err
	}

	if failed > 0 {
		uc.logger.Warn("some stubs failed to compile", "errors", failed)
	}

	args := []any{"stubs", cat.Len()}
	for _, m := range match.Methods() {
		if n := cat.CountByMethod(m); n > 0 {
			args = append(args, strings.ToLower(string(m)), n)
		}
	}
	uc.logger.Info("stub catalogue built", args...)
	uc.metrics.ObserveReload(true, cat.Len())

	return cat, nil
}
