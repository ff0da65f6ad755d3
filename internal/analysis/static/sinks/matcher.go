package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/xkilldash9x/reqhijack/api/schemas"
	"github.com/xkilldash9x/reqhijack/internal/analysis/core"
	"go.uber.org/zap"
)

// ErrUnknownKind is returned by Match for a kind missing from the catalog.
var ErrUnknownKind = errors.New("unknown sink kind")

// Matcher runs the sink catalog over one program graph.
type Matcher struct {
	*core.BaseAnalyzer
	engine  *Engine
	catalog []Pattern
	calls   map[core.SinkKind]Pattern
}

// NewMatcher creates a matcher with the default catalog.
func NewMatcher(g schemas.ProgramGraph, logger *zap.Logger) *Matcher {
	return &Matcher{
		BaseAnalyzer: core.NewBaseAnalyzer("SinkMatcher", "locates request-sending sinks", core.StageDetect, logger),
		engine:       NewEngine(g),
		catalog:      Catalog(),
		calls:        CallPatterns(),
	}
}

// MatchAll runs every catalog pattern, in catalog order.
func (m *Matcher) MatchAll(ctx context.Context) ([]core.SinkMatch, error) {
	out := []core.SinkMatch{}
	for _, p := range m.catalog {
		matches, err := m.run(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	m.Logger.Debug("Sink matching finished", zap.Int("matches", len(out)))
	return out, nil
}

// Match runs the catalog pattern of one kind.
func (m *Matcher) Match(ctx context.Context, kind core.SinkKind) ([]core.SinkMatch, error) {
	for _, p := range m.catalog {
		if p.Kind == kind {
			return m.run(ctx, p)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// MatchCall checks one known call node against the per-call variant of kind. Kinds without
// a per-call variant yield no matches.
func (m *Matcher) MatchCall(ctx context.Context, callID string, kind core.SinkKind) ([]core.SinkMatch, error) {
	p, ok := m.calls[kind]
	if !ok {
		return []core.SinkMatch{}, nil
	}
	call, err := m.engine.g.GetNode(ctx, callID)
	if err != nil {
		if errors.Is(err, schemas.ErrNodeNotFound) {
			return []core.SinkMatch{}, nil
		}
		return nil, err
	}
	bindings, err := m.engine.MatchAt(ctx, p, call)
	if err != nil {
		return nil, err
	}
	return toMatches(kind, bindings), nil
}

func (m *Matcher) run(ctx context.Context, p Pattern) ([]core.SinkMatch, error) {
	bindings, err := m.engine.Run(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("sink pattern %s failed: %w", p.Kind, err)
	}
	matches := toMatches(p.Kind, bindings)
	if len(matches) > 0 {
		m.Logger.Debug("Sink pattern matched", zap.String("kind", string(p.Kind)), zap.Int("matches", len(matches)))
	}
	return matches, nil
}

// toMatches converts bindings, keeping the first binding per (call, argument). Multi-hop
// edges walk nearest first, so the first binding holds the closest statement.
func toMatches(kind core.SinkKind, bindings []Binding) []core.SinkMatch {
	out := []core.SinkMatch{}
	seen := map[string]struct{}{}
	for _, b := range bindings {
		call, arg := b[BindCall], b[BindArgument]
		key := call.ID + "|" + arg.ID
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		match := core.SinkMatch{Kind: kind, Statement: b[BindStatement], Call: call, Argument: arg}
		if n, ok := b[BindSecondary]; ok {
			n := n
			match.Secondary = &n
		}
		if n, ok := b[BindEnclosing]; ok {
			n := n
			match.Enclosing = &n
		}
		out = append(out, match)
	}
	return out
}
