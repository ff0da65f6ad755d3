package flows

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchSummary counts the outcome of a batch run.
type BatchSummary struct {
	Analyzed int
	Skipped  int
	Failed   int
}

// Batch analyzes many pages concurrently.
type Batch struct {
	analyzer *Analyzer
	workers  int
	log      *zap.Logger
}

// NewBatch creates a batch running up to workers page analyses at a time.
func NewBatch(analyzer *Analyzer, workers int, logger *zap.Logger) *Batch {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = 1
	}
	return &Batch{analyzer: analyzer, workers: workers, log: logger.Named("FlowBatch")}
}

// Run analyzes every page. Pages without a sink list are skipped and failing pages are
// logged; neither stops the batch. Only cancellation is returned as an error.
func (b *Batch) Run(ctx context.Context, pages []Page) (BatchSummary, error) {
	var analyzed, skipped, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, page := range pages {
		page := page
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			_, err := b.analyzer.AnalyzePage(gctx, page)
			switch {
			case err == nil:
				analyzed.Add(1)
			case errors.Is(err, ErrSinkListMissing):
				b.log.Warn("Skipping page without sink list", zap.String("dir", page.Dir))
				skipped.Add(1)
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				b.log.Error("Page analysis failed", zap.String("dir", page.Dir), zap.Error(err))
				failed.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	summary := BatchSummary{Analyzed: int(analyzed.Load()), Skipped: int(skipped.Load()), Failed: int(failed.Load())}
	b.log.Info("Batch finished",
		zap.Int("analyzed", summary.Analyzed), zap.Int("skipped", summary.Skipped), zap.Int("failed", summary.Failed))
	return summary, err
}
