package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xkilldash9x/reqhijack/api/schemas"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Run kinds recorded in flow_runs.
const (
	RunFlows    = "flows"
	RunPatterns = "patterns"
)

// Statistic names of the pattern_stats rows.
const (
	StatFlows = "flows"
	StatPages = "pages"
	StatSites = "sites"
)

const (
	sqlInsertRun = `
        INSERT INTO flow_runs (run_id, kind, created_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (run_id) DO NOTHING;
    `
	sqlUpsertFlow = `
        INSERT INTO flows (run_id, webpage, node_id, script, cfg_node_id, loc, sink_type, sink_code, semantic_types)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (run_id, webpage, node_id) DO UPDATE SET
            script = EXCLUDED.script,
            cfg_node_id = EXCLUDED.cfg_node_id,
            loc = EXCLUDED.loc,
            sink_type = EXCLUDED.sink_type,
            sink_code = EXCLUDED.sink_code,
            semantic_types = EXCLUDED.semantic_types;
    `
)

var (
	sliceColumns = []string{"run_id", "webpage", "node_id", "variable", "slice_index", "loc", "code"}
	statColumns  = []string{"run_id", "slug", "statistic", "sink", "pattern", "count"}
)

// Store is the PostgreSQL implementation of schemas.FlowStore.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

var _ schemas.FlowStore = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
		now:  time.Now,
	}, nil
}

// EnsureSchema creates the result tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create result schema: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction and commits when it succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a commit reports pgx.ErrTxClosed.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) insertRun(ctx context.Context, tx pgx.Tx, runID, kind string) error {
	if _, err := tx.Exec(ctx, sqlInsertRun, runID, kind, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to record run %s: %w", runID, err)
	}
	return nil
}

// SaveFlowReport upserts the flows of one page and bulk-copies their slices.
func (s *Store) SaveFlowReport(ctx context.Context, runID string, report *schemas.FlowReport) error {
	if report == nil {
		return errors.New("flow report must not be nil")
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := s.insertRun(ctx, tx, runID, RunFlows); err != nil {
			return err
		}

		var slices [][]any
		for _, f := range report.Flows {
			semanticTypes := f.SemanticTypes
			if semanticTypes == nil {
				semanticTypes = []string{}
			}
			if _, err := tx.Exec(ctx, sqlUpsertFlow,
				runID, f.Webpage, f.NodeID, f.Script, f.CFGNodeID, f.Loc, f.SinkType, f.SinkCode, semanticTypes,
			); err != nil {
				return fmt.Errorf("failed to upsert flow %s: %w", f.NodeID, err)
			}
			for _, variable := range sortedKeys(f.ProgramSlices) {
				for _, sl := range f.ProgramSlices[variable].Slices {
					index, err := strconv.Atoi(sl.Index)
					if err != nil {
						return fmt.Errorf("invalid slice index %q of flow %s: %w", sl.Index, f.NodeID, err)
					}
					slices = append(slices, []any{runID, f.Webpage, f.NodeID, variable, index, sl.Loc, sl.Code})
				}
			}
		}

		if err := copyRows(ctx, tx, "flow_slices", sliceColumns, slices); err != nil {
			return err
		}
		s.log.Debug("Persisted flow report",
			zap.String("run_id", runID), zap.String("url", report.URL),
			zap.Int("flows", len(report.Flows)), zap.Int("slices", len(slices)))
		return nil
	})
}

// SavePatternStats bulk-copies the six count maps of a categorizer run. Global maps are
// stored with an empty sink.
func (s *Store) SavePatternStats(ctx context.Context, runID, slug string, stats *schemas.PatternStats) error {
	if stats == nil {
		return errors.New("pattern stats must not be nil")
	}
	var rows [][]any
	add := func(statistic, sink string, counts map[string]int) {
		for _, pattern := range sortedKeys(counts) {
			rows = append(rows, []any{runID, slug, statistic, sink, pattern, counts[pattern]})
		}
	}
	add(StatFlows, "", stats.Patterns)
	add(StatPages, "", stats.PatternsWB)
	add(StatSites, "", stats.PatternsWS)
	for _, group := range []struct {
		statistic string
		bySink    map[string]map[string]int
	}{
		{StatFlows, stats.SinkPatterns},
		{StatPages, stats.SinkPatternsWB},
		{StatSites, stats.SinkPatternsWS},
	} {
		for _, sink := range sortedKeys(group.bySink) {
			add(group.statistic, sink, group.bySink[sink])
		}
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := s.insertRun(ctx, tx, runID, RunPatterns); err != nil {
			return err
		}
		if err := copyRows(ctx, tx, "pattern_stats", statColumns, rows); err != nil {
			return err
		}
		s.log.Debug("Persisted pattern stats", zap.String("run_id", runID), zap.String("slug", slug), zap.Int("rows", len(rows)))
		return nil
	})
}

func copyRows(ctx context.Context, tx pgx.Tx, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy %s: %w", table, err)
	}
	if int(copyCount) != len(rows) {
		return fmt.Errorf("mismatch in copied %s count: expected %d, got %d", table, len(rows), copyCount)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
