package graphbuilder

import (
	"context"
	"fmt"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
	"github.com/dop251/goja/token"
	"github.com/xkilldash9x/reqhijack/api/schemas"
	"go.uber.org/zap"
)

// GojaBuilder builds graphs with the goja ECMAScript parser. Unlike tree-sitter it rejects
// scripts with syntax errors.
type GojaBuilder struct {
	log *zap.Logger
}

// Build implements Builder.
func (b *GojaBuilder) Build(ctx context.Context, script Script, w schemas.GraphWriter) (string, error) {
	prog, err := parser.ParseFile(nil, script.Name, string(script.Source), 0)
	if err != nil {
		return "", fmt.Errorf("goja failed to parse %s: %w", script.Name, err)
	}

	g := &gojaWalker{e: newEmitter(ctx, w, script), name: script.Name}
	id, err := g.program(prog)
	if err != nil {
		return "", fmt.Errorf("failed to build graph for %s: %w", script.Name, err)
	}
	b.log.Debug("Built program graph",
		zap.String("script", script.Name),
		zap.Int("nodes", g.e.nodes),
		zap.Int("edges", g.e.edges))
	return id, nil
}

type gojaWalker struct {
	e    *emitter
	name string
}

// span converts goja's 1-based file indexes into byte offsets.
func span(n ast.Node) (int, int) {
	return int(n.Idx0()) - 1, int(n.Idx1()) - 1
}

func (g *gojaWalker) emitSpan(typ schemas.NodeType, start, end int, decorate func(*schemas.Node)) (string, error) {
	node := schemas.Node{Type: typ, Location: g.e.location(start, end)}
	if carriesCode(typ) {
		node.Code = g.e.text(start, end)
	}
	if decorate != nil {
		decorate(&node)
	}
	return g.e.emit(node)
}

func (g *gojaWalker) emit(typ schemas.NodeType, n ast.Node, decorate func(*schemas.Node)) (string, error) {
	start, end := span(n)
	return g.emitSpan(typ, start, end, decorate)
}

func (g *gojaWalker) attach(parent string, child ast.Node, rel schemas.RelationType, arg int) error {
	id, err := g.visit(child)
	if err != nil {
		return err
	}
	return g.e.link(parent, id, rel, arg)
}

func (g *gojaWalker) program(prog *ast.Program) (string, error) {
	id, err := g.emitSpan(schemas.NodeProgram, 0, len(g.e.src), func(n *schemas.Node) { n.Value = g.name })
	if err != nil {
		return "", err
	}
	for i, stmt := range prog.Body {
		if err := g.attach(id, stmt, schemas.RelBody, i); err != nil {
			return "", err
		}
	}
	return id, nil
}

// semicolon extends a statement end over its terminating semicolon, which goja leaves out
// of the statement span.
func (g *gojaWalker) semicolon(end int) int {
	i := end
	for i < len(g.e.src) && (g.e.src[i] == ' ' || g.e.src[i] == '\t') {
		i++
	}
	if i < len(g.e.src) && g.e.src[i] == ';' {
		return i + 1
	}
	return end
}

// isNil catches typed nil pointers stored in ast interfaces.
func isNil(n ast.Node) bool {
	switch v := n.(type) {
	case nil:
		return true
	case *ast.BlockStatement:
		return v == nil
	case *ast.Identifier:
		return v == nil
	case *ast.FunctionLiteral:
		return v == nil
	case *ast.CatchStatement:
		return v == nil
	}
	return false
}

func (g *gojaWalker) visit(node ast.Node) (string, error) {
	if isNil(node) {
		return "", nil
	}
	switch n := node.(type) {
	case *ast.ExpressionStatement:
		start, end := span(n)
		id, err := g.emitSpan(schemas.NodeExpressionStatement, start, g.semicolon(end), nil)
		if err != nil {
			return "", err
		}
		return id, g.attach(id, n.Expression, schemas.RelExpression, schemas.NoArgIndex)

	case *ast.VariableStatement:
		return g.declaration(n, "var", n.List)

	case *ast.LexicalDeclaration:
		return g.declaration(n, n.Token.String(), n.List)

	case *ast.Binding:
		id, err := g.emit(schemas.NodeVariableDeclarator, n, nil)
		if err != nil {
			return "", err
		}
		if err := g.attach(id, n.Target, schemas.RelID, schemas.NoArgIndex); err != nil {
			return "", err
		}
		if n.Initializer == nil {
			return id, nil
		}
		return id, g.attach(id, n.Initializer, schemas.RelInit, schemas.NoArgIndex)

	case *ast.CallExpression:
		return g.call(schemas.NodeCallExpression, n, n.Callee, n.ArgumentList)

	case *ast.NewExpression:
		return g.call(schemas.NodeNewExpression, n, n.Callee, n.ArgumentList)

	case *ast.DotExpression:
		id, err := g.emit(schemas.NodeMemberExpression, n, nil)
		if err != nil {
			return "", err
		}
		if err := g.attach(id, n.Left, schemas.RelObject, schemas.NoArgIndex); err != nil {
			return "", err
		}
		prop := n.Identifier
		return id, g.attach(id, &prop, schemas.RelProperty, schemas.NoArgIndex)

	case *ast.BracketExpression:
		id, err := g.emit(schemas.NodeMemberExpression, n, func(node *schemas.Node) { node.Computed = true })
		if err != nil {
			return "", err
		}
		if err := g.attach(id, n.Left, schemas.RelObject, schemas.NoArgIndex); err != nil {
			return "", err
		}
		return id, g.attach(id, n.Member, schemas.RelProperty, schemas.NoArgIndex)

	case *ast.Identifier:
		start := int(n.Idx) - 1
		return g.emitSpan(schemas.NodeIdentifier, start, start+len(n.Name.String()), nil)

	case *ast.StringLiteral:
		return g.emit(schemas.NodeLiteral, n, func(node *schemas.Node) {
			node.Raw = n.Literal
			node.Value = n.Value.String()
		})

	case *ast.NumberLiteral:
		return g.emit(schemas.NodeLiteral, n, func(node *schemas.Node) {
			node.Raw = n.Literal
			node.Value = n.Literal
		})

	case *ast.BooleanLiteral:
		return g.emit(schemas.NodeLiteral, n, func(node *schemas.Node) {
			node.Raw = n.Literal
			node.Value = n.Literal
		})

	case *ast.NullLiteral:
		return g.emit(schemas.NodeLiteral, n, func(node *schemas.Node) {
			node.Raw = "null"
			node.Value = "null"
		})

	case *ast.RegExpLiteral:
		return g.emit(schemas.NodeLiteral, n, func(node *schemas.Node) {
			node.Raw = n.Literal
			node.Value = n.Literal
		})

	case *ast.TemplateLiteral:
		if n.Tag != nil {
			// A tagged template is a call with the template as its only argument.
			id, err := g.emit(schemas.NodeCallExpression, n, nil)
			if err != nil {
				return "", err
			}
			if err := g.attach(id, n.Tag, schemas.RelCallee, schemas.NoArgIndex); err != nil {
				return "", err
			}
			tmpl, err := g.template(n, int(n.OpenQuote)-1)
			if err != nil {
				return "", err
			}
			return id, g.e.link(id, tmpl, schemas.RelArguments, 0)
		}
		return g.template(n, int(n.OpenQuote)-1)

	case *ast.ObjectLiteral:
		id, err := g.emit(schemas.NodeObjectExpression, n, nil)
		if err != nil {
			return "", err
		}
		for _, p := range n.Value {
			if err := g.attach(id, p, schemas.RelProperties, schemas.NoArgIndex); err != nil {
				return "", err
			}
		}
		return id, nil

	case *ast.PropertyKeyed:
		id, err := g.emit(schemas.NodeProperty, n, func(node *schemas.Node) {
			node.Kind = string(n.Kind)
			node.Computed = n.Computed
		})
		if err != nil {
			return "", err
		}
		if err := g.propertyKey(id, n); err != nil {
			return "", err
		}
		return id, g.attach(id, n.Value, schemas.RelValue, schemas.NoArgIndex)

	case *ast.PropertyShort:
		id, err := g.emit(schemas.NodeProperty, n, func(node *schemas.Node) { node.Kind = "init" })
		if err != nil {
			return "", err
		}
		name := n.Name
		if err := g.attach(id, &name, schemas.RelKey, schemas.NoArgIndex); err != nil {
			return "", err
		}
		value := ast.Expression(&name)
		if n.Initializer != nil {
			value = n.Initializer
		}
		return id, g.attach(id, value, schemas.RelValue, schemas.NoArgIndex)

	case *ast.SpreadElement:
		id, err := g.emit(schemas.NodeSpreadElement, n, nil)
		if err != nil {
			return "", err
		}
		return id, g.attach(id, n.Expression, schemas.RelArgument, schemas.NoArgIndex)

	case *ast.ArrayLiteral:
		id, err := g.emit(schemas.NodeArrayExpression, n, nil)
		if err != nil {
			return "", err
		}
		for _, el := range n.Value {
			if el == nil {
				continue
			}
			if err := g.attach(id, el, schemas.RelElements, schemas.NoArgIndex); err != nil {
				return "", err
			}
		}
		return id, nil

	case *ast.FunctionLiteral:
		return g.function(schemas.NodeFunctionExpression, n, n.Name, n.ParameterList, n.Body)

	case *ast.FunctionDeclaration:
		return g.function(schemas.NodeFunctionDeclaration, n, n.Function.Name, n.Function.ParameterList, n.Function.Body)

	case *ast.ArrowFunctionLiteral:
		var body ast.Node
		switch b := n.Body.(type) {
		case *ast.BlockStatement:
			body = b
		case *ast.ExpressionBody:
			body = b.Expression
		}
		return g.function(schemas.NodeArrowFunctionExpression, n, nil, n.ParameterList, body)

	case *ast.BlockStatement:
		id, err := g.emit(schemas.NodeBlockStatement, n, nil)
		if err != nil {
			return "", err
		}
		return id, g.statements(id, n.List)

	case *ast.ReturnStatement:
		id, err := g.emit(schemas.NodeReturnStatement, n, nil)
		if err != nil {
			return "", err
		}
		if n.Argument == nil {
			return id, nil
		}
		return id, g.attach(id, n.Argument, schemas.RelArgument, schemas.NoArgIndex)

	case *ast.ThrowStatement:
		id, err := g.emit(schemas.NodeThrowStatement, n, nil)
		if err != nil {
			return "", err
		}
		return id, g.attach(id, n.Argument, schemas.RelArgument, schemas.NoArgIndex)

	case *ast.IfStatement:
		id, err := g.emit(schemas.NodeIfStatement, n, nil)
		if err != nil {
			return "", err
		}
		if err := g.attach(id, n.Test, schemas.RelTest, schemas.NoArgIndex); err != nil {
			return "", err
		}
		if err := g.attach(id, n.Consequent, schemas.RelConsequent, schemas.NoArgIndex); err != nil {
			return "", err
		}
		if n.Alternate == nil {
			return id, nil
		}
		return id, g.attach(id, n.Alternate, schemas.RelAlternate, schemas.NoArgIndex)

	case *ast.WhileStatement:
		return g.loop(n, n.Test, n.Body)

	case *ast.DoWhileStatement:
		return g.loop(n, n.Test, n.Body)

	case *ast.ForStatement:
		id, err := g.emit(schemas.NodeForStatement, n, nil)
		if err != nil {
			return "", err
		}
		for _, part := range []ast.Expression{n.Test, n.Update} {
			if part == nil {
				continue
			}
			if err := g.attach(id, part, schemas.RelTest, schemas.NoArgIndex); err != nil {
				return "", err
			}
		}
		return id, g.attach(id, n.Body, schemas.RelBody, schemas.NoArgIndex)

	case *ast.ForInStatement:
		return g.loop(n, n.Source, n.Body)

	case *ast.ForOfStatement:
		return g.loop(n, n.Source, n.Body)

	case *ast.TryStatement:
		id, err := g.emit(schemas.NodeTryStatement, n, nil)
		if err != nil {
			return "", err
		}
		if err := g.attach(id, n.Body, schemas.RelBlock, schemas.NoArgIndex); err != nil {
			return "", err
		}
		if n.Catch != nil {
			if err := g.attach(id, n.Catch.Body, schemas.RelHandler, schemas.NoArgIndex); err != nil {
				return "", err
			}
		}
		if n.Finally != nil {
			return id, g.attach(id, n.Finally, schemas.RelFinalizer, schemas.NoArgIndex)
		}
		return id, nil

	case *ast.EmptyStatement:
		return g.emit(schemas.NodeEmptyStatement, n, nil)

	case *ast.BinaryExpression:
		typ := schemas.NodeBinaryExpression
		switch n.Operator {
		case token.LOGICAL_AND, token.LOGICAL_OR, token.COALESCE:
			typ = schemas.NodeLogicalExpression
		}
		return g.binary(typ, n, n.Operator.String(), n.Left, n.Right)

	case *ast.AssignExpression:
		op := "="
		if n.Operator != token.ASSIGN {
			op = n.Operator.String() + "="
		}
		return g.binary(schemas.NodeAssignmentExpression, n, op, n.Left, n.Right)

	case *ast.ConditionalExpression:
		id, err := g.emit(schemas.NodeConditionalExpression, n, nil)
		if err != nil {
			return "", err
		}
		if err := g.attach(id, n.Test, schemas.RelTest, schemas.NoArgIndex); err != nil {
			return "", err
		}
		if err := g.attach(id, n.Consequent, schemas.RelConsequent, schemas.NoArgIndex); err != nil {
			return "", err
		}
		return id, g.attach(id, n.Alternate, schemas.RelAlternate, schemas.NoArgIndex)

	case *ast.UnaryExpression:
		typ := schemas.NodeUnaryExpression
		if n.Operator == token.INCREMENT || n.Operator == token.DECREMENT {
			typ = schemas.NodeUpdateExpression
		}
		id, err := g.emit(typ, n, func(node *schemas.Node) { node.Operator = n.Operator.String() })
		if err != nil {
			return "", err
		}
		return id, g.attach(id, n.Operand, schemas.RelArgument, schemas.NoArgIndex)

	case *ast.AwaitExpression:
		id, err := g.emit(schemas.NodeUnaryExpression, n, func(node *schemas.Node) { node.Operator = "await" })
		if err != nil {
			return "", err
		}
		return id, g.attach(id, n.Argument, schemas.RelArgument, schemas.NoArgIndex)

	case *ast.SequenceExpression:
		id, err := g.emit(schemas.NodeSequenceExpression, n, nil)
		if err != nil {
			return "", err
		}
		for _, e := range n.Sequence {
			if err := g.attach(id, e, schemas.RelExpressions, schemas.NoArgIndex); err != nil {
				return "", err
			}
		}
		return id, nil

	case *ast.ThisExpression:
		return g.emit(schemas.NodeThisExpression, n, nil)

	case *ast.OptionalChain:
		return g.visit(n.Expression)

	case *ast.Optional:
		return g.visit(n.Expression)
	}

	// Unsupported constructs are kept as opaque nodes.
	return g.emit(schemas.NodeUnknown, node, func(n *schemas.Node) { n.Kind = fmt.Sprintf("%T", node) })
}

// propertyKey links an object key. goja parses bare keys as string literals; they are
// emitted as identifiers so both front-ends agree on `{url: x}`.
func (g *gojaWalker) propertyKey(parent string, n *ast.PropertyKeyed) error {
	lit, ok := n.Key.(*ast.StringLiteral)
	if n.Computed || !ok || strings.HasPrefix(lit.Literal, `"`) || strings.HasPrefix(lit.Literal, "'") {
		return g.attach(parent, n.Key, schemas.RelKey, schemas.NoArgIndex)
	}
	start := int(lit.Idx) - 1
	id, err := g.emitSpan(schemas.NodeIdentifier, start, start+len(lit.Literal), nil)
	if err != nil {
		return err
	}
	return g.e.link(parent, id, schemas.RelKey, schemas.NoArgIndex)
}

func (g *gojaWalker) statements(parent string, list []ast.Statement) error {
	for _, stmt := range list {
		if err := g.attach(parent, stmt, schemas.RelBody, schemas.NoArgIndex); err != nil {
			return err
		}
	}
	return nil
}

func (g *gojaWalker) declaration(n ast.Node, kind string, list []*ast.Binding) (string, error) {
	start, end := span(n)
	id, err := g.emitSpan(schemas.NodeVariableDeclaration, start, g.semicolon(end), func(node *schemas.Node) { node.Kind = kind })
	if err != nil {
		return "", err
	}
	for _, b := range list {
		if err := g.attach(id, b, schemas.RelDeclarations, schemas.NoArgIndex); err != nil {
			return "", err
		}
	}
	return id, nil
}

func (g *gojaWalker) call(typ schemas.NodeType, n ast.Node, callee ast.Expression, args []ast.Expression) (string, error) {
	id, err := g.emit(typ, n, nil)
	if err != nil {
		return "", err
	}
	if err := g.attach(id, callee, schemas.RelCallee, schemas.NoArgIndex); err != nil {
		return "", err
	}
	for i, a := range args {
		if err := g.attach(id, a, schemas.RelArguments, i); err != nil {
			return "", err
		}
	}
	return id, nil
}

func (g *gojaWalker) template(n *ast.TemplateLiteral, start int) (string, error) {
	id, err := g.emitSpan(schemas.NodeTemplateLiteral, start, int(n.CloseQuote), nil)
	if err != nil {
		return "", err
	}
	for _, e := range n.Expressions {
		if err := g.attach(id, e, schemas.RelExpressions, schemas.NoArgIndex); err != nil {
			return "", err
		}
	}
	return id, nil
}

func (g *gojaWalker) function(typ schemas.NodeType, n ast.Node, name *ast.Identifier, params *ast.ParameterList, body ast.Node) (string, error) {
	id, err := g.emit(typ, n, nil)
	if err != nil {
		return "", err
	}
	if name != nil {
		if err := g.attach(id, name, schemas.RelID, schemas.NoArgIndex); err != nil {
			return "", err
		}
	}
	if params != nil {
		for _, p := range params.List {
			if err := g.attach(id, p.Target, schemas.RelParams, schemas.NoArgIndex); err != nil {
				return "", err
			}
		}
		if params.Rest != nil {
			if err := g.attach(id, params.Rest, schemas.RelParams, schemas.NoArgIndex); err != nil {
				return "", err
			}
		}
	}
	if body == nil {
		return id, nil
	}
	return id, g.attach(id, body, schemas.RelBody, schemas.NoArgIndex)
}

func (g *gojaWalker) loop(n ast.Node, test ast.Expression, body ast.Statement) (string, error) {
	typ := schemas.NodeWhileStatement
	switch n.(type) {
	case *ast.ForInStatement, *ast.ForOfStatement:
		typ = schemas.NodeForStatement
	}
	id, err := g.emit(typ, n, nil)
	if err != nil {
		return "", err
	}
	if test != nil {
		if err := g.attach(id, test, schemas.RelTest, schemas.NoArgIndex); err != nil {
			return "", err
		}
	}
	return id, g.attach(id, body, schemas.RelBody, schemas.NoArgIndex)
}

func (g *gojaWalker) binary(typ schemas.NodeType, n ast.Node, op string, left, right ast.Expression) (string, error) {
	id, err := g.emit(typ, n, func(node *schemas.Node) { node.Operator = op })
	if err != nil {
		return "", err
	}
	if err := g.attach(id, left, schemas.RelLeft, schemas.NoArgIndex); err != nil {
		return "", err
	}
	return id, g.attach(id, right, schemas.RelRight, schemas.NoArgIndex)
}
