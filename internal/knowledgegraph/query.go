package knowledgegraph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/reqhijack/api/schemas"
)

// maxWalk bounds every traversal so that a corrupt (cyclic) graph cannot hang a query.
const maxWalk = 1 << 20

// Subtree returns the node and all of its descendants in pre-order.
func Subtree(ctx context.Context, g schemas.ProgramGraph, id string) ([]schemas.Node, error) {
	root, err := g.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	out := []schemas.Node{}
	seen := map[string]struct{}{}
	stack := []schemas.Node{root}
	for len(stack) > 0 && len(out) < maxWalk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)

		edges, err := g.Children(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		// Push in reverse so the first child is visited first.
		for i := len(edges) - 1; i >= 0; i-- {
			child, err := g.GetNode(ctx, edges[i].To)
			if err != nil {
				if errors.Is(err, schemas.ErrNodeNotFound) {
					continue
				}
				return nil, err
			}
			stack = append(stack, child)
		}
	}
	return out, nil
}

// ChildrenByRelation returns the children reached through rel. For argument edges, arg
// selects a position; pass schemas.NoArgIndex to accept any position.
func ChildrenByRelation(ctx context.Context, g schemas.ProgramGraph, id string, rel schemas.RelationType, arg int) ([]schemas.Node, error) {
	edges, err := g.Children(ctx, id)
	if err != nil {
		return nil, err
	}
	var out []schemas.Node
	for _, e := range edges {
		if e.Relation != rel || (arg != schemas.NoArgIndex && e.ArgIndex != arg) {
			continue
		}
		n, err := g.GetNode(ctx, e.To)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Ancestors walks parent edges from id (exclusive) up to the root and returns them nearest
// first.
func Ancestors(ctx context.Context, g schemas.ProgramGraph, id string) ([]schemas.Node, error) {
	var out []schemas.Node
	current := id
	for i := 0; i < maxWalk; i++ {
		edge, ok, err := g.Parent(ctx, current)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		n, err := g.GetNode(ctx, edge.From)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
		current = n.ID
	}
	return nil, fmt.Errorf("ancestor walk from '%s' exceeded %d steps", id, maxWalk)
}

// TopmostStatement returns the statement that carries the node, ie. the CFG-level node of
// the expression tree the node belongs to. A node that is itself a statement is returned
// unchanged. ok is false when no statement encloses the node.
func TopmostStatement(ctx context.Context, g schemas.ProgramGraph, id string) (schemas.Node, bool, error) {
	n, err := g.GetNode(ctx, id)
	if err != nil {
		return schemas.Node{}, false, err
	}
	if n.Type.IsStatement() {
		return n, true, nil
	}
	ancestors, err := Ancestors(ctx, g, id)
	if err != nil {
		return schemas.Node{}, false, err
	}
	for _, a := range ancestors {
		if a.Type.IsStatement() {
			return a, true, nil
		}
	}
	return schemas.Node{}, false, nil
}

// EnclosingFunctions returns the ids of the function nodes enclosing id, innermost first.
// An empty result means global scope.
func EnclosingFunctions(ctx context.Context, g schemas.ProgramGraph, id string) ([]string, error) {
	ancestors, err := Ancestors(ctx, g, id)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, a := range ancestors {
		if a.Type.IsFunction() {
			out = append(out, a.ID)
		}
	}
	return out, nil
}

// CodeExpression returns the source text of a subtree. Nodes carrying their own Code are
// returned verbatim; otherwise the text is rebuilt from the tree.
func CodeExpression(ctx context.Context, g schemas.ProgramGraph, id string) (string, error) {
	r := &renderer{ctx: ctx, g: g}
	out := r.render(id, 0)
	if r.err != nil {
		return "", r.err
	}
	return out, nil
}

type renderer struct {
	ctx context.Context
	g   schemas.ProgramGraph
	err error
}

func (r *renderer) children(id string) map[schemas.RelationType][]string {
	edges, err := r.g.Children(r.ctx, id)
	if err != nil {
		r.err = err
		return nil
	}
	out := make(map[schemas.RelationType][]string)
	for _, e := range edges {
		out[e.Relation] = append(out[e.Relation], e.To)
	}
	return out
}

func (r *renderer) renderAll(ids []string, depth int, sep string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, r.render(id, depth))
	}
	return strings.Join(parts, sep)
}

func (r *renderer) first(ids []string, depth int) string {
	if len(ids) == 0 {
		return ""
	}
	return r.render(ids[0], depth)
}

func (r *renderer) render(id string, depth int) string {
	if r.err != nil || depth > 256 {
		return ""
	}
	n, err := r.g.GetNode(r.ctx, id)
	if err != nil {
		r.err = err
		return ""
	}
	if n.Code != "" {
		return n.Code
	}
	d := depth + 1
	c := r.children(id)
	switch n.Type {
	case schemas.NodeLiteral:
		if n.Raw != "" {
			return n.Raw
		}
		return n.Value
	case schemas.NodeThisExpression:
		return "this"
	case schemas.NodeMemberExpression:
		if n.Computed {
			return r.first(c[schemas.RelObject], d) + "[" + r.first(c[schemas.RelProperty], d) + "]"
		}
		return r.first(c[schemas.RelObject], d) + "." + r.first(c[schemas.RelProperty], d)
	case schemas.NodeCallExpression:
		return r.first(c[schemas.RelCallee], d) + "(" + r.renderAll(c[schemas.RelArguments], d, ", ") + ")"
	case schemas.NodeNewExpression:
		return "new " + r.first(c[schemas.RelCallee], d) + "(" + r.renderAll(c[schemas.RelArguments], d, ", ") + ")"
	case schemas.NodeBinaryExpression, schemas.NodeLogicalExpression, schemas.NodeAssignmentExpression:
		return r.first(c[schemas.RelLeft], d) + " " + n.Operator + " " + r.first(c[schemas.RelRight], d)
	case schemas.NodeUnaryExpression, schemas.NodeUpdateExpression:
		arg := r.first(c[schemas.RelArgument], d)
		if len(n.Operator) > 1 && n.Operator != "++" && n.Operator != "--" {
			return n.Operator + " " + arg
		}
		return n.Operator + arg
	case schemas.NodeConditionalExpression:
		return r.first(c[schemas.RelTest], d) + " ? " + r.first(c[schemas.RelConsequent], d) + " : " + r.first(c[schemas.RelAlternate], d)
	case schemas.NodeObjectExpression:
		return "{" + r.renderAll(c[schemas.RelProperties], d, ", ") + "}"
	case schemas.NodeProperty:
		return r.first(c[schemas.RelKey], d) + ": " + r.first(c[schemas.RelValue], d)
	case schemas.NodeArrayExpression:
		return "[" + r.renderAll(c[schemas.RelElements], d, ", ") + "]"
	case schemas.NodeSequenceExpression:
		return r.renderAll(c[schemas.RelExpressions], d, ", ")
	case schemas.NodeSpreadElement:
		return "..." + r.first(c[schemas.RelArgument], d)
	case schemas.NodeFunctionExpression, schemas.NodeArrowFunctionExpression:
		return "function(" + r.renderAll(c[schemas.RelParams], d, ", ") + "){ ... }"
	case schemas.NodeTemplateLiteral:
		return "`" + r.renderAll(c[schemas.RelExpressions], d, "") + "`"
	case schemas.NodeExpressionStatement:
		return r.first(c[schemas.RelExpression], d) + ";"
	case schemas.NodeVariableDeclarator:
		init := r.first(c[schemas.RelInit], d)
		if init == "" {
			return r.first(c[schemas.RelID], d)
		}
		return r.first(c[schemas.RelID], d) + " = " + init
	case schemas.NodeVariableDeclaration:
		return n.Kind + " " + r.renderAll(c[schemas.RelDeclarations], d, ", ") + ";"
	}
	return ""
}
