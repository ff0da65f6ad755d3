package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/reqhijack/api/schemas"
	"github.com/xkilldash9x/reqhijack/internal/analysis/static/flows"
	"github.com/xkilldash9x/reqhijack/internal/analysis/static/slicer"
	"github.com/xkilldash9x/reqhijack/internal/config"
	"github.com/xkilldash9x/reqhijack/internal/observability"
	"github.com/xkilldash9x/reqhijack/internal/reporting"
)

func newDetectCmd() *cobra.Command {
	var pageDir string

	detectCmd := &cobra.Command{
		Use:   "detect",
		Short: "Locate the request sinks of a page and write sinks.out.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			list, err := runDetect(ctx, observability.GetLogger(), cfg, pageDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Found %d sinks in %s\n", len(list.Sinks), pageDir)
			return nil
		},
	}

	detectCmd.Flags().StringVar(&pageDir, "page", "", "Page directory to scan (required)")
	_ = detectCmd.MarkFlagRequired("page")
	return detectCmd
}

func runDetect(ctx context.Context, logger *zap.Logger, cfg config.Interface, pageDir string) (*schemas.SinkList, error) {
	source, cleanup, err := newGraphSource(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	page := flows.NewPage(pageDir, "")
	g, err := source.Graph(ctx, page)
	if err != nil {
		return nil, err
	}
	list, err := flows.NewDetector(g, logger, slicer.WithMaxDepth(cfg.Analysis().MaxResolveDepth)).Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("sink detection failed for %s: %w", page.Hash, err)
	}
	if err := reporting.WriteSinkList(page.Dir, list); err != nil {
		return nil, err
	}
	logger.Info("Sinks detected", zap.String("page", page.Hash), zap.Int("sinks", len(list.Sinks)))
	return list, nil
}
