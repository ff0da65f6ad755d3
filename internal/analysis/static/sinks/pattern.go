// Package sinks locates request-sending call sites in a program graph. Each supported API is
// described by a declarative Pattern over typed nodes and AST_parentOf edges and evaluated by
// a small backtracking Engine.
package sinks

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/reqhijack/api/schemas"
	"github.com/xkilldash9x/reqhijack/internal/analysis/core"
	"github.com/xkilldash9x/reqhijack/internal/knowledgegraph"
)

// Direction selects which way an EdgeSpec walks.
type Direction int

const (
	// Down follows parent->child edges.
	Down Direction = iota
	// Up follows child->parent edges.
	Up
)

// AnyArg accepts an argument edge at any position.
const AnyArg = schemas.NoArgIndex

// maxHops bounds variable-length edges.
const maxHops = 32

// NodeSpec constrains one node and the edges leaving it.
type NodeSpec struct {
	// Bind names the matched node in the resulting Binding. A name already bound must refer to
	// the same node.
	Bind string
	// Types accepts any of the listed node types. Empty accepts every type.
	Types []schemas.NodeType
	// Code requires an exact source text.
	Code string
	// CodeNot rejects one exact source text.
	CodeNot string
	// Edges are all required to match, except optional ones.
	Edges []EdgeSpec
}

// EdgeSpec walks from the current node to a neighbour that must satisfy Node.
type EdgeSpec struct {
	Direction Direction
	// Relation restricts the edge adjacent to the reached node. Empty accepts any relation.
	Relation schemas.RelationType
	// Arg selects the position of an arguments edge and is ignored for other relations.
	Arg int
	// MinHops and MaxHops bound the walk length. Zero values mean exactly one hop.
	MinHops, MaxHops int
	// Optional edges keep the binding unchanged when nothing matches.
	Optional bool
	Node     NodeSpec
}

// Binding maps bind names to matched nodes.
type Binding map[string]schemas.Node

func (b Binding) with(name string, n schemas.Node) Binding {
	out := make(Binding, len(b)+1)
	for k, v := range b {
		out[k] = v
	}
	out[name] = n
	return out
}

// Filter inspects a complete binding and rejects it by returning false.
type Filter func(ctx context.Context, g schemas.ProgramGraph, b Binding) (bool, error)

// Pattern is one sink query.
type Pattern struct {
	Kind   core.SinkKind
	Anchor NodeSpec
	Filter Filter
}

func (s NodeSpec) accepts(n schemas.Node) bool {
	if len(s.Types) > 0 {
		ok := false
		for _, t := range s.Types {
			if n.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if s.Code != "" && n.Code != s.Code {
		return false
	}
	if s.CodeNot != "" && n.Code == s.CodeNot {
		return false
	}
	return true
}

func (e EdgeSpec) hops() (int, int) {
	lo, hi := e.MinHops, e.MaxHops
	if lo <= 0 {
		lo = 1
	}
	if hi < lo {
		hi = lo
	}
	if hi > maxHops {
		hi = maxHops
	}
	return lo, hi
}

func (e EdgeSpec) accepts(edge schemas.Edge) bool {
	if e.Relation == "" {
		return true
	}
	if edge.Relation != e.Relation {
		return false
	}
	return e.Relation != schemas.RelArguments || e.Arg == AnyArg || edge.ArgIndex == e.Arg
}

// Engine evaluates patterns against one graph.
type Engine struct {
	g schemas.ProgramGraph
}

// NewEngine creates an engine over g.
func NewEngine(g schemas.ProgramGraph) *Engine {
	return &Engine{g: g}
}

// Run returns every binding of p. Anchor candidates are fetched by type and code, so an
// anchor with a literal Code is the cheapest starting point.
func (e *Engine) Run(ctx context.Context, p Pattern) ([]Binding, error) {
	anchors, err := e.anchors(ctx, p.Anchor)
	if err != nil {
		return nil, err
	}
	var out []Binding
	for _, a := range anchors {
		bs, err := e.MatchAt(ctx, p, a)
		if err != nil {
			return nil, err
		}
		out = append(out, bs...)
	}
	return out, nil
}

// MatchAt evaluates p with its anchor fixed to n.
func (e *Engine) MatchAt(ctx context.Context, p Pattern, n schemas.Node) ([]Binding, error) {
	bs, err := e.match(ctx, p.Anchor, n, Binding{})
	if err != nil || p.Filter == nil {
		return bs, err
	}
	kept := bs[:0]
	for _, b := range bs {
		ok, err := p.Filter(ctx, e.g, b)
		if err != nil {
			return nil, fmt.Errorf("filter for %s failed: %w", p.Kind, err)
		}
		if ok {
			kept = append(kept, b)
		}
	}
	return kept, nil
}

func (e *Engine) anchors(ctx context.Context, spec NodeSpec) ([]schemas.Node, error) {
	if len(spec.Types) == 0 {
		return e.g.FindNodes(ctx, schemas.NodeFilter{Code: spec.Code})
	}
	var out []schemas.Node
	for _, t := range spec.Types {
		nodes, err := e.g.FindNodes(ctx, schemas.NodeFilter{Type: t, Code: spec.Code})
		if err != nil {
			return nil, err
		}
		out = append(out, nodes...)
	}
	return out, nil
}

func (e *Engine) match(ctx context.Context, spec NodeSpec, n schemas.Node, b Binding) ([]Binding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !spec.accepts(n) {
		return nil, nil
	}
	if spec.Bind != "" {
		if prev, ok := b[spec.Bind]; ok && prev.ID != n.ID {
			return nil, nil
		}
		b = b.with(spec.Bind, n)
	}

	results := []Binding{b}
	for _, edge := range spec.Edges {
		candidates, err := e.traverse(ctx, n.ID, edge)
		if err != nil {
			return nil, err
		}
		var next []Binding
		for _, cur := range results {
			var matched []Binding
			for _, c := range candidates {
				bs, err := e.match(ctx, edge.Node, c, cur)
				if err != nil {
					return nil, err
				}
				matched = append(matched, bs...)
			}
			if len(matched) == 0 && edge.Optional {
				matched = []Binding{cur}
			}
			next = append(next, matched...)
		}
		if len(next) == 0 {
			return nil, nil
		}
		results = next
	}
	return results, nil
}

// traverse returns the nodes reachable from id along edge, nearest first.
func (e *Engine) traverse(ctx context.Context, id string, edge EdgeSpec) ([]schemas.Node, error) {
	lo, hi := edge.hops()
	if edge.Direction == Up {
		return e.up(ctx, id, edge, lo, hi)
	}
	return e.down(ctx, id, edge, lo, hi)
}

func (e *Engine) up(ctx context.Context, id string, edge EdgeSpec, lo, hi int) ([]schemas.Node, error) {
	var out []schemas.Node
	current := id
	for depth := 1; depth <= hi; depth++ {
		parent, ok, err := e.g.Parent(ctx, current)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if depth >= lo && edge.accepts(parent) {
			n, err := e.g.GetNode(ctx, parent.From)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		current = parent.From
	}
	return out, nil
}

func (e *Engine) down(ctx context.Context, id string, edge EdgeSpec, lo, hi int) ([]schemas.Node, error) {
	var out []schemas.Node
	frontier := []string{id}
	for depth := 1; depth <= hi && len(frontier) > 0; depth++ {
		var next []string
		for _, from := range frontier {
			edges, err := e.g.Children(ctx, from)
			if err != nil {
				return nil, err
			}
			for _, child := range edges {
				next = append(next, child.To)
				if depth < lo || !edge.accepts(child) {
					continue
				}
				n, err := e.g.GetNode(ctx, child.To)
				if err != nil {
					return nil, err
				}
				out = append(out, n)
			}
		}
		frontier = next
	}
	return out, nil
}

// boundToConstructor reports whether the object expression was initialized or assigned with
// `new ctor(...)` anywhere in the graph.
func boundToConstructor(ctx context.Context, g schemas.ProgramGraph, obj schemas.Node, ctor string) (bool, error) {
	if obj.Code == "" {
		return false, nil
	}
	refs, err := g.FindNodes(ctx, schemas.NodeFilter{Type: obj.Type, Code: obj.Code})
	if err != nil {
		return false, err
	}
	for _, ref := range refs {
		edge, ok, err := g.Parent(ctx, ref.ID)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		var valueRel schemas.RelationType
		switch edge.Relation {
		case schemas.RelID:
			valueRel = schemas.RelInit
		case schemas.RelLeft:
			valueRel = schemas.RelRight
		default:
			continue
		}
		values, err := knowledgegraph.ChildrenByRelation(ctx, g, edge.From, valueRel, AnyArg)
		if err != nil {
			return false, err
		}
		for _, v := range values {
			if v.Type != schemas.NodeNewExpression {
				continue
			}
			callees, err := knowledgegraph.ChildrenByRelation(ctx, g, v.ID, schemas.RelCallee, AnyArg)
			if err != nil {
				return false, err
			}
			if len(callees) > 0 && callees[0].Code == ctor {
				return true, nil
			}
		}
	}
	return false, nil
}
