package flows

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xkilldash9x/reqhijack/api/schemas"
	"github.com/xkilldash9x/reqhijack/internal/graphbuilder"
	"github.com/xkilldash9x/reqhijack/internal/knowledgegraph"
	"github.com/xkilldash9x/reqhijack/internal/reporting"
	"go.uber.org/zap"
)

// GraphSource provides the program graph of a page.
type GraphSource interface {
	Graph(ctx context.Context, page Page) (schemas.ProgramGraph, error)
}

// MemorySource serves in-memory graphs. A page's graph.json snapshot is loaded when present;
// otherwise the page scripts are parsed on demand.
type MemorySource struct {
	builder graphbuilder.Builder
	workers int
	log     *zap.Logger
}

// NewMemorySource creates a source parsing scripts with builder, up to workers at a time.
func NewMemorySource(builder graphbuilder.Builder, workers int, logger *zap.Logger) *MemorySource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemorySource{builder: builder, workers: workers, log: logger.Named("MemorySource")}
}

// Graph implements GraphSource.
func (s *MemorySource) Graph(ctx context.Context, page Page) (schemas.ProgramGraph, error) {
	kg := knowledgegraph.NewInMemoryKG(s.log)

	data, err := os.ReadFile(filepath.Join(page.Dir, reporting.GraphFile))
	switch {
	case err == nil:
		var sg schemas.Subgraph
		if err := reporting.Unmarshal(data, &sg); err != nil {
			return nil, fmt.Errorf("malformed graph snapshot in %s: %w", page.Dir, err)
		}
		if err := kg.Import(ctx, sg); err != nil {
			return nil, err
		}
		return kg, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read graph snapshot: %w", err)
	}

	roots, err := graphbuilder.BuildDir(ctx, s.builder, page.Dir, page.Hash, kg, s.workers)
	if err != nil {
		return nil, fmt.Errorf("failed to build graph of %s: %w", page.Dir, err)
	}
	nodes, edges := kg.Len()
	s.log.Debug("Built page graph", zap.String("page", page.Hash), zap.Int("scripts", len(roots)),
		zap.Int("nodes", nodes), zap.Int("edges", edges))
	return kg, nil
}

// PostgresSource serves the page-scoped view of a shared PostgreSQL graph.
type PostgresSource struct {
	KG *knowledgegraph.PostgresKG
}

// Graph implements GraphSource.
func (s PostgresSource) Graph(_ context.Context, page Page) (schemas.ProgramGraph, error) {
	return s.KG.Scoped(page.Hash), nil
}

// WriteSnapshot stores a page graph as graph.json so later stages skip re-parsing.
func WriteSnapshot(dir string, kg *knowledgegraph.InMemoryKG) error {
	data, err := reporting.MarshalIndent(kg.Export())
	if err != nil {
		return fmt.Errorf("failed to encode graph snapshot: %w", err)
	}
	return reporting.WriteAtomic(dir, reporting.File{Name: reporting.GraphFile, Data: data})
}
