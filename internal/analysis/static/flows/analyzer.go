package flows

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xkilldash9x/reqhijack/api/schemas"
	"github.com/xkilldash9x/reqhijack/internal/analysis/core"
	"github.com/xkilldash9x/reqhijack/internal/analysis/static/semantic"
	"github.com/xkilldash9x/reqhijack/internal/analysis/static/slicer"
	"github.com/xkilldash9x/reqhijack/internal/knowledgegraph"
	"github.com/xkilldash9x/reqhijack/internal/reporting"
	"go.uber.org/zap"
)

// Analyzer builds and writes the flow report of a page.
type Analyzer struct {
	*core.BaseAnalyzer
	source   GraphSource
	store    schemas.FlowStore
	maxDepth int
	beautify bool
	now      func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithStore additionally persists every report.
func WithStore(store schemas.FlowStore) Option {
	return func(a *Analyzer) { a.store = store }
}

// WithMaxDepth bounds alias resolution.
func WithMaxDepth(depth int) Option {
	return func(a *Analyzer) { a.maxDepth = depth }
}

// WithBeautify toggles the layout of slices that contain functions.
func WithBeautify(enabled bool) Option {
	return func(a *Analyzer) { a.beautify = enabled }
}

// WithClock replaces the report timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// NewAnalyzer creates an analyzer reading page graphs from source.
func NewAnalyzer(source GraphSource, logger *zap.Logger, opts ...Option) *Analyzer {
	a := &Analyzer{
		BaseAnalyzer: core.NewBaseAnalyzer("FlowReporter", "resolves sink flows into program slices", core.StageAnalyze, logger),
		source:       source,
		maxDepth:     slicer.DefaultMaxDepth,
		beautify:     true,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AnalyzePage builds the page's report and writes sinks.flows.out and sinks.flows.out.json
// into its directory.
func (a *Analyzer) AnalyzePage(ctx context.Context, page Page) (*schemas.FlowReport, error) {
	report, err := a.Report(ctx, page)
	if err != nil {
		return nil, err
	}
	if err := reporting.WriteFlowReport(page.Dir, report); err != nil {
		return nil, err
	}
	if a.store != nil {
		runID := uuid.NewString()
		if err := a.store.SaveFlowReport(ctx, runID, report); err != nil {
			return nil, fmt.Errorf("failed to persist flow report of %s: %w", page.Hash, err)
		}
		a.Logger.Debug("Persisted flow report", zap.String("page", page.Hash), zap.String("run_id", runID))
	}
	a.Logger.Info("Page analyzed", zap.String("page", page.Hash), zap.Int("flows", len(report.Flows)))
	return report, nil
}

// Report builds the flow report of a page without writing it.
func (a *Analyzer) Report(ctx context.Context, page Page) (*schemas.FlowReport, error) {
	list, err := reporting.ReadSinkList(page.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w in %s", ErrSinkListMissing, page.Dir)
		}
		return nil, err
	}
	g, err := a.source.Graph(ctx, page)
	if err != nil {
		return nil, err
	}
	sl := slicer.New(g, a.Logger, slicer.WithMaxDepth(a.maxDepth))

	report := &schemas.FlowReport{URL: page.URL, Flows: []schemas.Flow{}, GeneratedAt: a.now()}
	position := map[string]int{}
	for _, sink := range list.Sinks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		flow, err := a.flow(ctx, g, sl, page, sink)
		if err != nil {
			return nil, err
		}
		// A repeated sink keeps its first position and its latest content.
		nid := sink.SinkType + "__nid=" + string(sink.ID) + "__Loc=" + sink.Location
		if i, dup := position[nid]; dup {
			report.Flows[i] = flow
			continue
		}
		position[nid] = len(report.Flows)
		report.Flows = append(report.Flows, flow)
	}
	return report, nil
}

func (a *Analyzer) flow(ctx context.Context, g schemas.ProgramGraph, sl *slicer.Slicer, page Page, sink schemas.SinkRecord) (schemas.Flow, error) {
	script := sink.Script
	if i := strings.LastIndex(script, "/"); i >= 0 {
		script = script[i+1:]
	}
	flow := schemas.Flow{
		Webpage:       page.Hash,
		Script:        script,
		NodeID:        string(sink.ID),
		Loc:           sink.Location,
		SinkType:      sink.SinkType,
		SinkCode:      sink.SinkCode,
		ProgramSlices: map[string]schemas.VariableSlices{},
	}

	types := core.SemanticSet{}
	var categories []string
	for cat, possible := range sink.TaintPossibility {
		if possible {
			categories = append(categories, cat)
		}
	}
	sort.Strings(categories)
	var names []string
	seen := map[string]struct{}{}
	for _, cat := range categories {
		types.Add(core.SemanticType(cat))
		for _, name := range sink.SinkIdentifiers[cat] {
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
	}

	cfg, err := a.cfgNode(ctx, g, string(sink.ID))
	if err != nil {
		return schemas.Flow{}, err
	}
	flow.CFGNodeID = cfg.ID

	for _, name := range names {
		res, err := sl.Resolve(ctx, name, cfg)
		if err != nil {
			return schemas.Flow{}, fmt.Errorf("failed to resolve %q for sink %s: %w", name, sink.ID, err)
		}
		varTypes := semantic.Classify(res.Slices)
		types.Add(varTypes...)
		if len(res.Slices) == 0 {
			continue
		}
		vs := schemas.VariableSlices{SemanticTypes: core.Strings(varTypes), Slices: make([]schemas.SliceRecord, 0, len(res.Slices))}
		for i, s := range res.Slices {
			code := s.Code
			if a.beautify && strings.Contains(code, "function(") {
				code = Beautify(code)
			}
			vs.Slices = append(vs.Slices, schemas.SliceRecord{Index: strconv.Itoa(i + 1), Loc: s.Location.Line(), Code: code})
		}
		flow.ProgramSlices[name] = vs
		flow.Variables = append(flow.Variables, name)
	}
	flow.SemanticTypes = core.Strings(types.Sorted())
	return flow, nil
}

// cfgNode returns the statement carrying the sink. A sink id absent from the graph yields a
// zero node, which resolves names without scope ordering.
func (a *Analyzer) cfgNode(ctx context.Context, g schemas.ProgramGraph, id string) (schemas.Node, error) {
	cfg, ok, err := knowledgegraph.TopmostStatement(ctx, g, id)
	switch {
	case errors.Is(err, schemas.ErrNodeNotFound):
		a.Logger.Warn("Sink node not in page graph", zap.String("node_id", id))
		return schemas.Node{}, nil
	case err != nil:
		return schemas.Node{}, err
	case !ok:
		return g.GetNode(ctx, id)
	}
	return cfg, nil
}
