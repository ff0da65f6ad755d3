// Package slicer resolves the candidate values of a JavaScript variable by walking its
// declarations backwards through the program graph.
package slicer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/reqhijack/api/schemas"
	"github.com/xkilldash9x/reqhijack/internal/analysis/core"
	"github.com/xkilldash9x/reqhijack/internal/knowledgegraph"
	"go.uber.org/zap"
)

// DefaultMaxDepth bounds alias hops when no explicit depth is configured.
const DefaultMaxDepth = 16

// maxSlices caps one resolution when declarators fan out on every hop.
const maxSlices = 1 << 12

// Status qualifies how a resolution ended.
type Status int

const (
	// StatusResolved means every chain ended in a non-alias initializer.
	StatusResolved Status = iota
	// StatusUnknown means no declarator with an initializer binds the name.
	StatusUnknown
	// StatusCycle means a chain aliased back to a name already on it.
	StatusCycle
	// StatusTruncated means a chain exceeded the depth bound.
	StatusTruncated
)

func (s Status) String() string {
	switch s {
	case StatusResolved:
		return "resolved"
	case StatusUnknown:
		return "unknown"
	case StatusCycle:
		return "cycle"
	case StatusTruncated:
		return "truncated"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Resolution is the ordered slice chain of one variable.
type Resolution struct {
	Name   string
	Slices []core.ProgramSlice
	Status Status
}

// Slicer resolves variable values against a program graph. It is safe for concurrent use
// when the underlying graph is.
type Slicer struct {
	g        schemas.ProgramGraph
	maxDepth int
	log      *zap.Logger
}

// Option configures a Slicer.
type Option func(*Slicer)

// WithMaxDepth sets the alias hop bound. Non-positive values keep the default.
func WithMaxDepth(depth int) Option {
	return func(s *Slicer) {
		if depth > 0 {
			s.maxDepth = depth
		}
	}
}

// New creates a slicer over g.
func New(g schemas.ProgramGraph, logger *zap.Logger, opts ...Option) *Slicer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Slicer{g: g, maxDepth: DefaultMaxDepth, log: logger.Named("slicer")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// declarator is one `name = init` binding found in the graph.
type declarator struct {
	declaration schemas.Node
	declarator  schemas.Node
	init        schemas.Node
}

// workItem is either a name awaiting declarator lookup or a declarator awaiting rendering.
type workItem struct {
	name  string
	decl  *declarator
	chain []string
	depth int
	// usage orders the declarators of name, local scopes first.
	usage schemas.Node
}

func onChain(chain []string, name string) bool {
	for _, c := range chain {
		if c == name {
			return true
		}
	}
	return false
}

// Resolve returns every slice chain for name, visiting declarators local to usage first.
// A zero usage node disables scope ordering. Chains are emitted depth first: a declarator's
// slice, then the chain of the name it aliases, then the next declarator.
func (s *Slicer) Resolve(ctx context.Context, name string, usage schemas.Node) (Resolution, error) {
	res := Resolution{Name: name, Status: StatusResolved}
	if name == "" {
		res.Status = StatusUnknown
		return res, nil
	}

	stack := []workItem{{name: name, chain: []string{name}, usage: usage}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return Resolution{}, err
		}
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if item.decl == nil {
			decls, err := s.declarators(ctx, item.name, item.usage)
			if err != nil {
				return Resolution{}, err
			}
			for i := len(decls) - 1; i >= 0; i-- {
				d := decls[i]
				stack = append(stack, workItem{name: item.name, decl: &d, chain: item.chain, depth: item.depth})
			}
			continue
		}

		slice, alias, err := s.render(ctx, item.name, *item.decl)
		if err != nil {
			return Resolution{}, err
		}
		res.Slices = append(res.Slices, slice)
		if len(res.Slices) >= maxSlices {
			s.log.Warn("Resolution truncated at slice cap", zap.String("name", name), zap.Int("slices", len(res.Slices)))
			res.Status = worse(res.Status, StatusTruncated)
			break
		}
		if alias == "" {
			continue
		}

		switch {
		case onChain(item.chain, alias):
			s.log.Debug("Alias cycle stopped", zap.String("name", name), zap.Strings("chain", append(item.chain, alias)))
			res.Status = worse(res.Status, StatusCycle)
		case item.depth+1 > s.maxDepth:
			s.log.Warn("Resolution truncated at depth bound", zap.String("name", name), zap.Int("max_depth", s.maxDepth))
			res.Status = worse(res.Status, StatusTruncated)
		default:
			chain := append(append(make([]string, 0, len(item.chain)+1), item.chain...), alias)
			stack = append(stack, workItem{name: alias, chain: chain, depth: item.depth + 1, usage: item.decl.declarator})
		}
	}

	if len(res.Slices) == 0 {
		res.Status = StatusUnknown
	}
	return res, nil
}

// worse keeps the most severe of two statuses.
func worse(a, b Status) Status {
	if b > a {
		return b
	}
	return a
}

// declarators finds the initialized declarators binding name, ordered local-first.
func (s *Slicer) declarators(ctx context.Context, name string, usage schemas.Node) ([]declarator, error) {
	idents, err := s.g.FindNodes(ctx, schemas.NodeFilter{Type: schemas.NodeIdentifier, Code: name})
	if err != nil {
		return nil, fmt.Errorf("failed to look up identifier %q: %w", name, err)
	}

	var out []declarator
	for _, ident := range idents {
		edge, ok, err := s.g.Parent(ctx, ident.ID)
		if err != nil {
			return nil, err
		}
		if !ok || edge.Relation != schemas.RelID {
			continue
		}
		vdtor, err := s.g.GetNode(ctx, edge.From)
		if err != nil {
			return nil, err
		}
		if vdtor.Type != schemas.NodeVariableDeclarator {
			continue
		}
		up, ok, err := s.g.Parent(ctx, vdtor.ID)
		if err != nil {
			return nil, err
		}
		if !ok || up.Relation != schemas.RelDeclarations {
			continue
		}
		vdtion, err := s.g.GetNode(ctx, up.From)
		if err != nil {
			return nil, err
		}
		inits, err := knowledgegraph.ChildrenByRelation(ctx, s.g, vdtor.ID, schemas.RelInit, schemas.NoArgIndex)
		if err != nil {
			return nil, err
		}
		if len(inits) == 0 {
			continue
		}
		out = append(out, declarator{declaration: vdtion, declarator: vdtor, init: inits[0]})
	}

	if usage.ID == "" || len(out) < 2 {
		return out, nil
	}
	return s.localFirst(ctx, out, usage)
}

// localFirst orders declarators by how closely their scope encloses usage: the innermost
// shared function first, then outer functions, then global scope, then unrelated functions.
func (s *Slicer) localFirst(ctx context.Context, decls []declarator, usage schemas.Node) ([]declarator, error) {
	scopes, err := knowledgegraph.EnclosingFunctions(ctx, s.g, usage.ID)
	if err != nil {
		return nil, err
	}
	rankOf := make(map[string]int, len(scopes))
	for i, id := range scopes {
		rankOf[id] = i
	}

	ranks := make([]int, len(decls))
	for i, d := range decls {
		fns, err := knowledgegraph.EnclosingFunctions(ctx, s.g, d.declaration.ID)
		if err != nil {
			return nil, err
		}
		switch {
		case len(fns) == 0:
			ranks[i] = len(scopes)
		default:
			if r, ok := rankOf[fns[0]]; ok {
				ranks[i] = r
			} else {
				ranks[i] = len(scopes) + 1
			}
		}
	}

	idx := make([]int, len(decls))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return ranks[idx[a]] < ranks[idx[b]] })
	out := make([]declarator, len(decls))
	for i, j := range idx {
		out[i] = decls[j]
	}
	return out, nil
}

// render produces the slice of one declarator and the name it aliases, if any.
func (s *Slicer) render(ctx context.Context, name string, d declarator) (core.ProgramSlice, string, error) {
	kind := d.declaration.Kind
	if kind == "" {
		kind = "var"
	}
	slice := core.ProgramSlice{NodeID: d.declaration.ID, Location: d.declaration.Location}

	var alias string
	switch d.init.Type {
	case schemas.NodeLiteral:
		slice.Code = fmt.Sprintf("%s %s = \"%s\"", kind, name, LiteralValue(d.init))
	case schemas.NodeIdentifier:
		alias = d.init.Code
		slice.Code = fmt.Sprintf("%s %s = %s", kind, name, alias)
		slice.Identifiers = []string{alias}
	case schemas.NodeFunctionExpression, schemas.NodeArrowFunctionExpression:
		slice.Code = fmt.Sprintf("%s %s = function(){ ... }", kind, name)
	default:
		expr, err := knowledgegraph.CodeExpression(ctx, s.g, d.init.ID)
		if err != nil {
			return core.ProgramSlice{}, "", err
		}
		slice.Code = fmt.Sprintf("%s %s = %s", kind, name, expr)
		idents, err := Mentioned(ctx, s.g, d.init.ID)
		if err != nil {
			return core.ProgramSlice{}, "", err
		}
		slice.Identifiers = idents
	}
	return slice, alias, nil
}

// LiteralValue returns the text a literal contributes to a slice. An object-looking value
// that was not written as "{}" is replaced by the literal's raw source.
func LiteralValue(n schemas.Node) string {
	if n.Value == "{}" && strings.TrimSpace(strings.Trim(strings.Trim(n.Raw, "'"), `"`)) != n.Value {
		return n.Raw
	}
	return n.Value
}

// Mentioned lists the identifier and member-expression texts of a subtree in pre-order,
// deduplicated. Function bodies are not entered.
func Mentioned(ctx context.Context, g schemas.ProgramGraph, id string) ([]string, error) {
	var out []string
	seen := map[string]struct{}{}
	add := func(code string) {
		if code == "" {
			return
		}
		if _, dup := seen[code]; dup {
			return
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}

	stack := []string{id}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, err := g.GetNode(ctx, cur)
		if err != nil {
			return nil, err
		}
		if n.Type.IsFunction() {
			continue
		}
		if n.Type == schemas.NodeIdentifier || n.Type == schemas.NodeMemberExpression {
			add(n.Code)
		}
		edges, err := g.Children(ctx, cur)
		if err != nil {
			return nil, err
		}
		for i := len(edges) - 1; i >= 0; i-- {
			// Static property names and object keys are labels, not variables.
			if !n.Computed && (edges[i].Relation == schemas.RelProperty || edges[i].Relation == schemas.RelKey) {
				continue
			}
			stack = append(stack, edges[i].To)
		}
	}
	return out, nil
}
