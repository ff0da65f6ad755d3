package results

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/xkilldash9x/reqhijack/api/schemas"
	"github.com/xkilldash9x/reqhijack/internal/reporting"
	"github.com/xkilldash9x/reqhijack/internal/results/providers"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PatternsDir is the directory under the output directory receiving the pattern files.
const PatternsDir = "patterns"

// Summary describes a finished categorizer run.
type Summary struct {
	RunID string
	Slug  string
	Pairs int
	// MissingPairs counts pairs without a flow count file.
	MissingPairs int
	Flows        int
	Stats        *schemas.PatternStats
}

// Pipeline categorizes the taint flows of a crawl and writes the pattern statistics.
type Pipeline struct {
	provider  providers.Provider
	outputDir string
	workers   int
	store     schemas.FlowStore
	logger    *zap.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithWorkers sets how many (source, sink) pairs are processed concurrently.
func WithWorkers(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithStore additionally persists the statistics of each run.
func WithStore(store schemas.FlowStore) PipelineOption {
	return func(p *Pipeline) { p.store = store }
}

// NewPipeline creates a pipeline reading inputs from provider and writing the pattern files
// under outputDir/patterns.
func NewPipeline(provider providers.Provider, outputDir string, logger *zap.Logger, opts ...PipelineOption) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		provider:  provider,
		outputDir: outputDir,
		workers:   1,
		logger:    logger.Named("results_pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes every pair of the selection. Each worker fills a private aggregate and the
// aggregates are merged once all pairs are done.
func (p *Pipeline) Run(ctx context.Context, sel Selection) (*Summary, error) {
	index, err := p.provider.Webpages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load webpage index: %w", err)
	}

	pairs := sel.Pairs()
	p.logger.Info("Starting categorization", zap.String("slug", sel.Slug()), zap.Int("pairs", len(pairs)))

	aggregates := make([]*Aggregate, len(pairs))
	missing := make([]bool, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, pair := range pairs {
		g.Go(func() error {
			agg := NewAggregate()
			found, err := p.processPair(gctx, index, pair, agg)
			if err != nil {
				return err
			}
			aggregates[i], missing[i] = agg, !found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := NewAggregate()
	summary := &Summary{RunID: uuid.NewString(), Slug: sel.Slug(), Pairs: len(pairs)}
	for i, agg := range aggregates {
		total.Merge(agg)
		if missing[i] {
			summary.MissingPairs++
		}
	}
	summary.Flows = total.Flows()
	summary.Stats = total.Counts()

	if err := reporting.WritePatternStats(filepath.Join(p.outputDir, PatternsDir), summary.Slug, summary.Stats); err != nil {
		return nil, err
	}
	if p.store != nil {
		if err := p.store.SavePatternStats(ctx, summary.RunID, summary.Slug, summary.Stats); err != nil {
			return nil, fmt.Errorf("failed to persist pattern stats: %w", err)
		}
	}
	p.logger.Info("Categorization complete",
		zap.String("run_id", summary.RunID),
		zap.Int("flows", summary.Flows),
		zap.Int("missing_pairs", summary.MissingPairs))
	return summary, nil
}

// processPair adds the flows of one (source, sink) pair to agg. found is false when the pair
// has no flow count file.
func (p *Pipeline) processPair(ctx context.Context, index schemas.WebpageIndex, pair Pair, agg *Aggregate) (bool, error) {
	counts, err := p.provider.FlowCounts(ctx, pair.Source, pair.Sink)
	if err != nil {
		if errors.Is(err, providers.ErrNotFound) {
			p.logger.Warn("Flow count file missing", zap.String("source", pair.Source), zap.String("sink", pair.Sink))
			return false, nil
		}
		return false, err
	}

	for _, website := range sortedKeys(counts) {
		if !index.HasWebsite(website) {
			continue
		}
		for _, webpage := range sortedKeys(counts[website]) {
			if !index.Contains(website, webpage) {
				continue
			}
			entries, err := p.provider.Taintflows(ctx, website, webpage, pair.Source, pair.Sink)
			if err != nil {
				if errors.Is(err, providers.ErrNotFound) {
					p.logger.Warn("Taintflow file missing", zap.String("website", website), zap.String("webpage", webpage),
						zap.String("source", pair.Source), zap.String("sink", pair.Sink))
					continue
				}
				return false, err
			}
			for _, entry := range entries {
				for _, span := range entry.Taint {
					agg.Add(pair.Sink, website, webpage, Categorize(pair.Sink, entry.Sink, entry.Str, span))
				}
			}
		}
	}
	return true, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
