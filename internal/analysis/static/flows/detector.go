package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/xkilldash9x/reqhijack/api/schemas"
	"github.com/xkilldash9x/reqhijack/internal/analysis/core"
	"github.com/xkilldash9x/reqhijack/internal/analysis/static/semantic"
	"github.com/xkilldash9x/reqhijack/internal/analysis/static/sinks"
	"github.com/xkilldash9x/reqhijack/internal/analysis/static/slicer"
	"github.com/xkilldash9x/reqhijack/internal/knowledgegraph"
	"go.uber.org/zap"
)

// Detector produces a page's sink list: every matched sink together with the identifiers
// that may carry attacker input into it, grouped by semantic type.
type Detector struct {
	*core.BaseAnalyzer
	g       schemas.ProgramGraph
	matcher *sinks.Matcher
	slicer  *slicer.Slicer
	scripts map[string]string // root id -> script name
}

// NewDetector creates a detector over one page graph.
func NewDetector(g schemas.ProgramGraph, logger *zap.Logger, opts ...slicer.Option) *Detector {
	base := core.NewBaseAnalyzer("SinkDetector", "lists sinks and their taintable identifiers", core.StageDetect, logger)
	return &Detector{
		BaseAnalyzer: base,
		g:            g,
		matcher:      sinks.NewMatcher(g, base.Logger),
		slicer:       slicer.New(g, base.Logger, opts...),
		scripts:      make(map[string]string),
	}
}

// Detect runs the sink catalog and describes every match.
func (d *Detector) Detect(ctx context.Context) (*schemas.SinkList, error) {
	matches, err := d.matcher.MatchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("sink matching failed: %w", err)
	}
	list := &schemas.SinkList{Sinks: make([]schemas.SinkRecord, 0, len(matches))}
	for _, m := range matches {
		rec, err := d.describe(ctx, m)
		if err != nil {
			return nil, err
		}
		list.Sinks = append(list.Sinks, rec)
	}
	d.Logger.Info("Sink detection finished", zap.Int("sinks", len(list.Sinks)))
	return list, nil
}

func (d *Detector) describe(ctx context.Context, m core.SinkMatch) (schemas.SinkRecord, error) {
	code, err := knowledgegraph.CodeExpression(ctx, d.g, m.Call.ID)
	if err != nil {
		return schemas.SinkRecord{}, err
	}
	script, err := d.scriptOf(ctx, m.Call.ID)
	if err != nil {
		return schemas.SinkRecord{}, err
	}
	rec := schemas.SinkRecord{
		ID:               schemas.SinkID(m.Call.ID),
		Location:         m.Call.Location.String(),
		SinkType:         string(m.Kind),
		SinkCode:         code,
		Script:           script,
		SinkIdentifiers:  map[string][]string{},
		TaintPossibility: map[string]bool{},
	}

	values := []schemas.Node{m.Argument}
	if m.Secondary != nil {
		values = append(values, *m.Secondary)
	}
	seen := map[string]struct{}{}
	for _, v := range values {
		// Sources read directly inside the argument need no resolution.
		text, err := knowledgegraph.CodeExpression(ctx, d.g, v.ID)
		if err != nil {
			return schemas.SinkRecord{}, err
		}
		for _, t := range semantic.Match(text) {
			rec.TaintPossibility[string(t)] = true
			if _, ok := rec.SinkIdentifiers[string(t)]; !ok {
				rec.SinkIdentifiers[string(t)] = []string{}
			}
		}

		names, err := slicer.Mentioned(ctx, d.g, v.ID)
		if err != nil {
			return schemas.SinkRecord{}, err
		}
		for _, name := range names {
			if _, dup := seen[name]; dup || !isPlainName(name) {
				continue
			}
			seen[name] = struct{}{}
			res, err := d.slicer.Resolve(ctx, name, m.Statement)
			if err != nil {
				return schemas.SinkRecord{}, err
			}
			for _, t := range semantic.Classify(res.Slices) {
				key := string(t)
				rec.SinkIdentifiers[key] = append(rec.SinkIdentifiers[key], name)
				rec.TaintPossibility[key] = rec.TaintPossibility[key] || t != core.NonReachable
			}
		}
	}
	return rec, nil
}

// isPlainName reports whether an identifier names a variable rather than a member path.
func isPlainName(name string) bool {
	return name != "" && !strings.ContainsAny(name, ".[(")
}

// scriptOf returns the name stored on the Program node above id.
func (d *Detector) scriptOf(ctx context.Context, id string) (string, error) {
	ancestors, err := knowledgegraph.Ancestors(ctx, d.g, id)
	if err != nil {
		return "", err
	}
	if len(ancestors) == 0 {
		return "", nil
	}
	root := ancestors[len(ancestors)-1]
	if name, ok := d.scripts[root.ID]; ok {
		return name, nil
	}
	name := ""
	if root.Type == schemas.NodeProgram {
		name = root.Value
	}
	d.scripts[root.ID] = name
	return name, nil
}
