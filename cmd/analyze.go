package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/reqhijack/internal/analysis/static/flows"
	"github.com/xkilldash9x/reqhijack/internal/config"
	"github.com/xkilldash9x/reqhijack/internal/observability"
)

type analyzeOptions struct {
	pageDir string
	url     string
	all     bool
	workers int
}

func newAnalyzeCmd() *cobra.Command {
	var opts analyzeOptions

	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Resolve the taint flows of sinks and write sinks.flows.out",
		Long: `Reads a page's sinks.out.json, resolves every taintable identifier of each sink into
program slices and writes sinks.flows.out and sinks.flows.out.json next to it.
With --all every page listed in the input directory's webpages_final.json is analyzed.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.all == (opts.pageDir != "") {
				return errors.New("exactly one of --page or --all is required")
			}
			if opts.all && opts.url != "" {
				return errors.New("--url applies to a single --page only")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if opts.workers > 0 {
				cfg.SetAnalysisWorkers(opts.workers)
			}
			return runAnalyze(ctx, observability.GetLogger(), cfg, opts, cmd.OutOrStdout())
		},
	}

	analyzeCmd.Flags().StringVar(&opts.pageDir, "page", "", "Page directory holding sinks.out.json")
	analyzeCmd.Flags().StringVar(&opts.url, "url", "", "Webpage URL for the report header (default: url.out or the page hash)")
	analyzeCmd.Flags().BoolVar(&opts.all, "all", false, "Analyze every page of the input webpage list")
	analyzeCmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "Pages analyzed concurrently with --all (overrides analysis.workers)")
	return analyzeCmd
}

func runAnalyze(ctx context.Context, logger *zap.Logger, cfg config.Interface, opts analyzeOptions, out io.Writer) error {
	source, cleanupSource, err := newGraphSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanupSource()

	flowStore, cleanupStore, err := newFlowStore(ctx, cfg, logger, cfg.Analysis().Persist)
	if err != nil {
		return err
	}
	defer cleanupStore()

	analyzerOpts := []flows.Option{
		flows.WithMaxDepth(cfg.Analysis().MaxResolveDepth),
		flows.WithBeautify(cfg.Analysis().Beautify),
	}
	if flowStore != nil {
		analyzerOpts = append(analyzerOpts, flows.WithStore(flowStore))
	}
	analyzer := flows.NewAnalyzer(source, logger, analyzerOpts...)

	if !opts.all {
		report, err := analyzer.AnalyzePage(ctx, flows.NewPage(opts.pageDir, opts.url))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Reported %d flows for %s\n", len(report.Flows), report.URL)
		return nil
	}

	paths := cfg.Paths()
	pages, err := flows.ReadPages(paths.InputDir, paths.DataDir)
	if err != nil {
		return err
	}
	summary, err := flows.NewBatch(analyzer, cfg.Analysis().Workers, logger).Run(ctx, pages)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Analyzed %d pages (%d skipped, %d failed)\n", summary.Analyzed, summary.Skipped, summary.Failed)
	return nil
}
