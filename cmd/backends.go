package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/reqhijack/api/schemas"
	"github.com/xkilldash9x/reqhijack/internal/analysis/static/flows"
	"github.com/xkilldash9x/reqhijack/internal/config"
	"github.com/xkilldash9x/reqhijack/internal/graphbuilder"
	"github.com/xkilldash9x/reqhijack/internal/knowledgegraph"
	"github.com/xkilldash9x/reqhijack/internal/store"
)

// connect opens and pings a pool for the configured database.
func connect(ctx context.Context, cfg config.Interface) (*pgxpool.Pool, error) {
	url := cfg.Database().URL
	if url == "" {
		return nil, errors.New("database URL is not configured (REQHIJACK_DATABASE_URL)")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func usesPostgres(cfg config.Interface) bool {
	return strings.EqualFold(cfg.Graph().Backend, config.BackendPostgres)
}

// newPostgresKG opens the shared graph and makes sure its tables exist.
func newPostgresKG(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*knowledgegraph.PostgresKG, func(), error) {
	pool, err := connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	kg := knowledgegraph.NewPostgresKG(pool, logger, knowledgegraph.WithRateLimit(cfg.Graph().QueryRate, cfg.Graph().QueryBurst))
	if err := kg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return kg, pool.Close, nil
}

// newGraphSource returns the page graph source of the configured backend and a cleanup func.
func newGraphSource(ctx context.Context, cfg config.Interface, logger *zap.Logger) (flows.GraphSource, func(), error) {
	if usesPostgres(cfg) {
		kg, cleanup, err := newPostgresKG(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return flows.PostgresSource{KG: kg}, cleanup, nil
	}
	builder, err := graphbuilder.New(strings.ToLower(cfg.Graph().Frontend), logger)
	if err != nil {
		return nil, nil, err
	}
	return flows.NewMemorySource(builder, cfg.Analysis().Workers, logger), func() {}, nil
}

// newFlowStore opens the result store when enabled. A nil store means persistence is off.
func newFlowStore(ctx context.Context, cfg config.Interface, logger *zap.Logger, enabled bool) (schemas.FlowStore, func(), error) {
	if !enabled {
		return nil, func() {}, nil
	}
	pool, err := connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	s, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed")
	}
	return s, cleanup, nil
}
