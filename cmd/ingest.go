package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/reqhijack/internal/analysis/static/flows"
	"github.com/xkilldash9x/reqhijack/internal/config"
	"github.com/xkilldash9x/reqhijack/internal/graphbuilder"
	"github.com/xkilldash9x/reqhijack/internal/knowledgegraph"
	"github.com/xkilldash9x/reqhijack/internal/observability"
)

func newIngestCmd() *cobra.Command {
	var pageDir, frontend string

	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Parse the scripts of a page directory into the program graph",
		Long: `Parses every *.js file of a page directory. With the memory backend the graph is
written to graph.json inside the page directory; with the postgres backend it is
bulk-loaded into the shared graph tables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if frontend != "" {
				cfg.SetGraphFrontend(frontend)
				if err := graphConfig(cfg).Validate(); err != nil {
					return err
				}
			}
			nodes, edges, err := runIngest(ctx, observability.GetLogger(), cfg, pageDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %s: %d nodes, %d edges\n", pageDir, nodes, edges)
			return nil
		},
	}

	ingestCmd.Flags().StringVar(&pageDir, "page", "", "Page directory holding the crawled scripts (required)")
	_ = ingestCmd.MarkFlagRequired("page")
	ingestCmd.Flags().StringVar(&frontend, "frontend", "", "Script parser: treesitter or goja (overrides graph.frontend)")
	return ingestCmd
}

func graphConfig(cfg config.Interface) *config.GraphConfig {
	g := cfg.Graph()
	return &g
}

// runIngest builds the page graph in memory and hands it to the configured backend.
func runIngest(ctx context.Context, logger *zap.Logger, cfg config.Interface, pageDir string) (int, int, error) {
	builder, err := graphbuilder.New(strings.ToLower(cfg.Graph().Frontend), logger)
	if err != nil {
		return 0, 0, err
	}
	page := flows.NewPage(pageDir, "")
	kg := knowledgegraph.NewInMemoryKG(logger)
	roots, err := graphbuilder.BuildDir(ctx, builder, page.Dir, page.Hash, kg, cfg.Analysis().Workers)
	if err != nil {
		return 0, 0, err
	}
	nodes, edges := kg.Len()

	if usesPostgres(cfg) {
		pg, cleanup, err := newPostgresKG(ctx, cfg, logger)
		if err != nil {
			return 0, 0, err
		}
		defer cleanup()
		if err := pg.Load(ctx, kg.Export()); err != nil {
			return 0, 0, fmt.Errorf("failed to load graph of %s: %w", page.Hash, err)
		}
	} else if err := flows.WriteSnapshot(page.Dir, kg); err != nil {
		return 0, 0, err
	}

	logger.Info("Page ingested",
		zap.String("page", page.Hash),
		zap.String("backend", cfg.Graph().Backend),
		zap.Int("scripts", len(roots)),
		zap.Int("nodes", nodes),
		zap.Int("edges", edges))
	return nodes, edges, nil
}
