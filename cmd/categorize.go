package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/reqhijack/internal/config"
	"github.com/xkilldash9x/reqhijack/internal/observability"
	"github.com/xkilldash9x/reqhijack/internal/results"
	"github.com/xkilldash9x/reqhijack/internal/results/providers"
)

func newCategorizeCmd() *cobra.Command {
	var source, sink string

	categorizeCmd := &cobra.Command{
		Use:   "categorize",
		Short: "Categorize observed taint flows by the URL components they control",
		Long: `Reads the per-pair flow count files and per-page taint flow files of a crawl and writes
the six pattern statistics files under OUTPUT_DIR/patterns. Either side may be ALL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			sel, err := results.ParseSelection(source, sink)
			if err != nil {
				return err
			}
			return runCategorize(ctx, observability.GetLogger(), cfg, sel, cmd.OutOrStdout())
		},
	}

	categorizeCmd.Flags().StringVarP(&source, "source", "A", results.All, "Taint source type, or ALL")
	categorizeCmd.Flags().StringVarP(&sink, "sink", "S", results.All, "Sink type, or ALL")
	return categorizeCmd
}

func runCategorize(ctx context.Context, logger *zap.Logger, cfg config.Interface, sel results.Selection, out io.Writer) error {
	flowStore, cleanup, err := newFlowStore(ctx, cfg, logger, cfg.Categorize().Persist)
	if err != nil {
		return err
	}
	defer cleanup()

	paths := cfg.Paths()
	opts := []results.PipelineOption{results.WithWorkers(cfg.Categorize().Workers)}
	if flowStore != nil {
		opts = append(opts, results.WithStore(flowStore))
	}
	provider := providers.FileProvider{InputDir: paths.InputDir, OutputDir: paths.OutputDir, DataDir: paths.DataDir}

	summary, err := results.NewPipeline(provider, paths.OutputDir, logger, opts...).Run(ctx, sel)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Categorized %d flows over %d pairs (%d without flow counts); patterns written with prefix %q\n",
		summary.Flows, summary.Pairs, summary.MissingPairs, summary.Slug)
	return nil
}
