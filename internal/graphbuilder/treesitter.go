package graphbuilder

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/xkilldash9x/reqhijack/api/schemas"
	"go.uber.org/zap"
)

// TreeSitterBuilder builds graphs with the tree-sitter JavaScript grammar. Syntax errors are
// tolerated: the erroneous regions become Unknown nodes and the rest of the script is kept.
type TreeSitterBuilder struct {
	log *zap.Logger
}

// Build implements Builder.
func (b *TreeSitterBuilder) Build(ctx context.Context, script Script, w schemas.GraphWriter) (string, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, script.Source)
	if err != nil {
		return "", fmt.Errorf("tree-sitter failed to parse %s: %w", script.Name, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		b.log.Warn("Tree-sitter detected syntax errors; the graph may be incomplete", zap.String("script", script.Name))
	}

	t := &tsWalker{e: newEmitter(ctx, w, script), src: script.Source, name: script.Name}
	id, err := t.visit(root)
	if err != nil {
		return "", fmt.Errorf("failed to build graph for %s: %w", script.Name, err)
	}
	b.log.Debug("Built program graph",
		zap.String("script", script.Name),
		zap.Int("nodes", t.e.nodes),
		zap.Int("edges", t.e.edges))
	return id, nil
}

type tsWalker struct {
	e    *emitter
	src  []byte
	name string
}

func (t *tsWalker) newNode(typ schemas.NodeType, n *sitter.Node) schemas.Node {
	sp, ep := n.StartPoint(), n.EndPoint()
	node := schemas.Node{
		Type: typ,
		Location: schemas.Location{
			StartLine:   int(sp.Row) + 1,
			StartColumn: int(sp.Column),
			EndLine:     int(ep.Row) + 1,
			EndColumn:   int(ep.Column),
		},
	}
	if carriesCode(typ) {
		node.Code = n.Content(t.src)
	}
	return node
}

// namedChildren lists the named children of n without comments.
func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	count := int(n.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		c := n.NamedChild(i)
		if c == nil || c.Type() == "comment" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func firstNamed(n *sitter.Node) *sitter.Node {
	if cs := namedChildren(n); len(cs) > 0 {
		return cs[0]
	}
	return nil
}

// unwrap strips parentheses.
func unwrap(n *sitter.Node) *sitter.Node {
	for n != nil && n.Type() == "parenthesized_expression" {
		n = firstNamed(n)
	}
	return n
}

func (t *tsWalker) attach(parent string, child *sitter.Node, rel schemas.RelationType, arg int) error {
	if child == nil {
		return nil
	}
	id, err := t.visit(child)
	if err != nil {
		return err
	}
	return t.e.link(parent, id, rel, arg)
}

func (t *tsWalker) attachAll(parent string, children []*sitter.Node, rel schemas.RelationType) error {
	for i, c := range children {
		if err := t.attach(parent, c, rel, i); err != nil {
			return err
		}
	}
	return nil
}

// attachField attaches the child stored under a grammar field.
func (t *tsWalker) attachField(parent string, n *sitter.Node, field string, rel schemas.RelationType) error {
	return t.attach(parent, unwrap(n.ChildByFieldName(field)), rel, schemas.NoArgIndex)
}

func (t *tsWalker) emit(typ schemas.NodeType, n *sitter.Node, decorate func(*schemas.Node)) (string, error) {
	node := t.newNode(typ, n)
	if decorate != nil {
		decorate(&node)
	}
	return t.e.emit(node)
}

func (t *tsWalker) visit(n *sitter.Node) (string, error) {
	if n == nil || n.IsNull() {
		return "", nil
	}
	switch n.Type() {
	case "comment", "hash_bang_line":
		return "", nil

	case "program":
		id, err := t.emit(schemas.NodeProgram, n, func(node *schemas.Node) { node.Value = t.name })
		if err != nil {
			return "", err
		}
		return id, t.attachAll(id, namedChildren(n), schemas.RelBody)

	case "statement_block":
		return t.container(schemas.NodeBlockStatement, n, schemas.RelBody)

	case "expression_statement":
		id, err := t.emit(schemas.NodeExpressionStatement, n, nil)
		if err != nil {
			return "", err
		}
		return id, t.attach(id, unwrap(firstNamed(n)), schemas.RelExpression, schemas.NoArgIndex)

	case "variable_declaration", "lexical_declaration":
		id, err := t.emit(schemas.NodeVariableDeclaration, n, func(node *schemas.Node) {
			if n.ChildCount() > 0 {
				node.Kind = n.Child(0).Content(t.src)
			}
		})
		if err != nil {
			return "", err
		}
		return id, t.attachAll(id, namedChildren(n), schemas.RelDeclarations)

	case "variable_declarator":
		id, err := t.emit(schemas.NodeVariableDeclarator, n, nil)
		if err != nil {
			return "", err
		}
		if err := t.attachField(id, n, "name", schemas.RelID); err != nil {
			return "", err
		}
		return id, t.attachField(id, n, "value", schemas.RelInit)

	case "call_expression":
		return t.call(schemas.NodeCallExpression, n, "function")

	case "new_expression":
		return t.call(schemas.NodeNewExpression, n, "constructor")

	case "member_expression":
		id, err := t.emit(schemas.NodeMemberExpression, n, nil)
		if err != nil {
			return "", err
		}
		if err := t.attachField(id, n, "object", schemas.RelObject); err != nil {
			return "", err
		}
		return id, t.attachField(id, n, "property", schemas.RelProperty)

	case "subscript_expression":
		id, err := t.emit(schemas.NodeMemberExpression, n, func(node *schemas.Node) { node.Computed = true })
		if err != nil {
			return "", err
		}
		if err := t.attachField(id, n, "object", schemas.RelObject); err != nil {
			return "", err
		}
		return id, t.attachField(id, n, "index", schemas.RelProperty)

	case "identifier", "property_identifier", "shorthand_property_identifier",
		"private_property_identifier", "statement_identifier", "undefined", "super":
		return t.emit(schemas.NodeIdentifier, n, nil)

	case "string":
		return t.emit(schemas.NodeLiteral, n, func(node *schemas.Node) {
			node.Raw = node.Code
			node.Value = stripQuotes(node.Code)
		})

	case "number", "true", "false", "null", "regex":
		return t.emit(schemas.NodeLiteral, n, func(node *schemas.Node) {
			node.Raw = node.Code
			node.Value = node.Code
		})

	case "template_string":
		id, err := t.emit(schemas.NodeTemplateLiteral, n, nil)
		if err != nil {
			return "", err
		}
		var exprs []*sitter.Node
		for _, c := range namedChildren(n) {
			if c.Type() == "template_substitution" {
				exprs = append(exprs, unwrap(firstNamed(c)))
			}
		}
		return id, t.attachAll(id, exprs, schemas.RelExpressions)

	case "object":
		id, err := t.emit(schemas.NodeObjectExpression, n, nil)
		if err != nil {
			return "", err
		}
		for i, c := range namedChildren(n) {
			if c.Type() != "shorthand_property_identifier" {
				if err := t.attach(id, c, schemas.RelProperties, i); err != nil {
					return "", err
				}
				continue
			}
			prop, err := t.shorthand(c)
			if err != nil {
				return "", err
			}
			if err := t.e.link(id, prop, schemas.RelProperties, i); err != nil {
				return "", err
			}
		}
		return id, nil

	case "pair":
		return t.property(n)

	case "method_definition":
		id, err := t.emit(schemas.NodeProperty, n, func(node *schemas.Node) { node.Kind = "init" })
		if err != nil {
			return "", err
		}
		if err := t.attachField(id, n, "name", schemas.RelKey); err != nil {
			return "", err
		}
		fn, err := t.function(schemas.NodeFunctionExpression, n)
		if err != nil {
			return "", err
		}
		return id, t.e.link(id, fn, schemas.RelValue, schemas.NoArgIndex)

	case "computed_property_name":
		return t.visit(unwrap(firstNamed(n)))

	case "array":
		id, err := t.emit(schemas.NodeArrayExpression, n, nil)
		if err != nil {
			return "", err
		}
		return id, t.attachAll(id, namedChildren(n), schemas.RelElements)

	case "function", "function_expression", "generator_function":
		return t.function(schemas.NodeFunctionExpression, n)

	case "arrow_function":
		return t.function(schemas.NodeArrowFunctionExpression, n)

	case "function_declaration", "generator_function_declaration":
		return t.function(schemas.NodeFunctionDeclaration, n)

	case "return_statement":
		return t.withArgument(schemas.NodeReturnStatement, n)

	case "throw_statement":
		return t.withArgument(schemas.NodeThrowStatement, n)

	case "spread_element":
		return t.withArgument(schemas.NodeSpreadElement, n)

	case "await_expression":
		id, err := t.emit(schemas.NodeUnaryExpression, n, func(node *schemas.Node) { node.Operator = "await" })
		if err != nil {
			return "", err
		}
		return id, t.attach(id, unwrap(firstNamed(n)), schemas.RelArgument, schemas.NoArgIndex)

	case "empty_statement":
		return t.emit(schemas.NodeEmptyStatement, n, nil)

	case "if_statement":
		id, err := t.emit(schemas.NodeIfStatement, n, nil)
		if err != nil {
			return "", err
		}
		if err := t.attachField(id, n, "condition", schemas.RelTest); err != nil {
			return "", err
		}
		if err := t.attachField(id, n, "consequence", schemas.RelConsequent); err != nil {
			return "", err
		}
		alt := n.ChildByFieldName("alternative")
		if alt != nil && alt.Type() == "else_clause" {
			alt = firstNamed(alt)
		}
		return id, t.attach(id, alt, schemas.RelAlternate, schemas.NoArgIndex)

	case "while_statement", "do_statement":
		id, err := t.emit(schemas.NodeWhileStatement, n, nil)
		if err != nil {
			return "", err
		}
		if err := t.attachField(id, n, "condition", schemas.RelTest); err != nil {
			return "", err
		}
		return id, t.attachField(id, n, "body", schemas.RelBody)

	case "for_statement", "for_in_statement":
		id, err := t.emit(schemas.NodeForStatement, n, nil)
		if err != nil {
			return "", err
		}
		body := n.ChildByFieldName("body")
		for _, c := range namedChildren(n) {
			if body != nil && sameNode(c, body) {
				continue
			}
			if err := t.attach(id, unwrap(c), schemas.RelTest, schemas.NoArgIndex); err != nil {
				return "", err
			}
		}
		return id, t.attach(id, body, schemas.RelBody, schemas.NoArgIndex)

	case "try_statement":
		id, err := t.emit(schemas.NodeTryStatement, n, nil)
		if err != nil {
			return "", err
		}
		if err := t.attachField(id, n, "body", schemas.RelBlock); err != nil {
			return "", err
		}
		if handler := n.ChildByFieldName("handler"); handler != nil {
			if err := t.attachField(id, handler, "body", schemas.RelHandler); err != nil {
				return "", err
			}
		}
		if finalizer := n.ChildByFieldName("finalizer"); finalizer != nil {
			if err := t.attachField(id, finalizer, "body", schemas.RelFinalizer); err != nil {
				return "", err
			}
		}
		return id, nil

	case "binary_expression":
		op := t.operator(n)
		typ := schemas.NodeBinaryExpression
		if op == "&&" || op == "||" || op == "??" {
			typ = schemas.NodeLogicalExpression
		}
		return t.binary(typ, n, op)

	case "assignment_expression":
		return t.binary(schemas.NodeAssignmentExpression, n, "=")

	case "augmented_assignment_expression":
		return t.binary(schemas.NodeAssignmentExpression, n, t.operator(n))

	case "ternary_expression":
		id, err := t.emit(schemas.NodeConditionalExpression, n, nil)
		if err != nil {
			return "", err
		}
		if err := t.attachField(id, n, "condition", schemas.RelTest); err != nil {
			return "", err
		}
		if err := t.attachField(id, n, "consequence", schemas.RelConsequent); err != nil {
			return "", err
		}
		return id, t.attachField(id, n, "alternative", schemas.RelAlternate)

	case "unary_expression":
		id, err := t.emit(schemas.NodeUnaryExpression, n, func(node *schemas.Node) { node.Operator = t.operator(n) })
		if err != nil {
			return "", err
		}
		return id, t.attachField(id, n, "argument", schemas.RelArgument)

	case "update_expression":
		id, err := t.emit(schemas.NodeUpdateExpression, n, func(node *schemas.Node) { node.Operator = t.operator(n) })
		if err != nil {
			return "", err
		}
		return id, t.attachField(id, n, "argument", schemas.RelArgument)

	case "sequence_expression":
		id, err := t.emit(schemas.NodeSequenceExpression, n, nil)
		if err != nil {
			return "", err
		}
		return id, t.attachAll(id, flattenSequence(n), schemas.RelExpressions)

	case "parenthesized_expression":
		return t.visit(unwrap(n))

	case "this":
		return t.emit(schemas.NodeThisExpression, n, nil)
	}

	// Anything else is kept as an opaque node so that its nested calls are still reachable.
	id, err := t.emit(schemas.NodeUnknown, n, func(node *schemas.Node) { node.Kind = n.Type() })
	if err != nil {
		return "", err
	}
	return id, t.attachAll(id, namedChildren(n), schemas.RelBody)
}

func (t *tsWalker) container(typ schemas.NodeType, n *sitter.Node, rel schemas.RelationType) (string, error) {
	id, err := t.emit(typ, n, nil)
	if err != nil {
		return "", err
	}
	return id, t.attachAll(id, namedChildren(n), rel)
}

func (t *tsWalker) withArgument(typ schemas.NodeType, n *sitter.Node) (string, error) {
	id, err := t.emit(typ, n, nil)
	if err != nil {
		return "", err
	}
	return id, t.attach(id, unwrap(firstNamed(n)), schemas.RelArgument, schemas.NoArgIndex)
}

func (t *tsWalker) call(typ schemas.NodeType, n *sitter.Node, calleeField string) (string, error) {
	id, err := t.emit(typ, n, nil)
	if err != nil {
		return "", err
	}
	if err := t.attachField(id, n, calleeField, schemas.RelCallee); err != nil {
		return "", err
	}
	args := n.ChildByFieldName("arguments")
	if args == nil {
		return id, nil
	}
	if args.Type() == "template_string" {
		return id, t.attach(id, args, schemas.RelArguments, 0)
	}
	var list []*sitter.Node
	for _, a := range namedChildren(args) {
		list = append(list, unwrap(a))
	}
	return id, t.attachAll(id, list, schemas.RelArguments)
}

func (t *tsWalker) property(n *sitter.Node) (string, error) {
	key := n.ChildByFieldName("key")
	id, err := t.emit(schemas.NodeProperty, n, func(node *schemas.Node) {
		node.Kind = "init"
		node.Computed = key != nil && key.Type() == "computed_property_name"
	})
	if err != nil {
		return "", err
	}
	if err := t.attach(id, key, schemas.RelKey, schemas.NoArgIndex); err != nil {
		return "", err
	}
	return id, t.attachField(id, n, "value", schemas.RelValue)
}

// shorthand expands `{url}` into a Property whose key and value are both the identifier.
func (t *tsWalker) shorthand(n *sitter.Node) (string, error) {
	id, err := t.emit(schemas.NodeProperty, n, func(node *schemas.Node) { node.Kind = "init" })
	if err != nil {
		return "", err
	}
	if err := t.attach(id, n, schemas.RelKey, schemas.NoArgIndex); err != nil {
		return "", err
	}
	return id, t.attach(id, n, schemas.RelValue, schemas.NoArgIndex)
}

func (t *tsWalker) function(typ schemas.NodeType, n *sitter.Node) (string, error) {
	id, err := t.emit(typ, n, nil)
	if err != nil {
		return "", err
	}
	if name := n.ChildByFieldName("name"); name != nil && n.Type() != "method_definition" {
		if err := t.attach(id, name, schemas.RelID, schemas.NoArgIndex); err != nil {
			return "", err
		}
	}
	if single := n.ChildByFieldName("parameter"); single != nil {
		if err := t.attach(id, single, schemas.RelParams, schemas.NoArgIndex); err != nil {
			return "", err
		}
	}
	for _, p := range namedChildren(n.ChildByFieldName("parameters")) {
		if err := t.attach(id, p, schemas.RelParams, schemas.NoArgIndex); err != nil {
			return "", err
		}
	}
	return id, t.attachField(id, n, "body", schemas.RelBody)
}

func (t *tsWalker) binary(typ schemas.NodeType, n *sitter.Node, op string) (string, error) {
	id, err := t.emit(typ, n, func(node *schemas.Node) { node.Operator = op })
	if err != nil {
		return "", err
	}
	if err := t.attachField(id, n, "left", schemas.RelLeft); err != nil {
		return "", err
	}
	return id, t.attachField(id, n, "right", schemas.RelRight)
}

func (t *tsWalker) operator(n *sitter.Node) string {
	if op := n.ChildByFieldName("operator"); op != nil {
		return op.Content(t.src)
	}
	return ""
}

// flattenSequence collects the operands of nested comma expressions.
func flattenSequence(n *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for _, c := range namedChildren(n) {
		if c.Type() == "sequence_expression" {
			out = append(out, flattenSequence(c)...)
			continue
		}
		out = append(out, unwrap(c))
	}
	return out
}

func sameNode(a, b *sitter.Node) bool {
	return a.Type() == b.Type() && a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte()
}
