package sinks

import (
	"context"

	"github.com/xkilldash9x/reqhijack/api/schemas"
	"github.com/xkilldash9x/reqhijack/internal/analysis/core"
)

// Bind names shared by every catalog pattern.
const (
	BindStatement = "statement"
	BindCall      = "call"
	BindArgument  = "argument"
	BindSecondary = "secondary"
	BindEnclosing = "enclosing"
	BindReceiver  = "receiver"
)

// -- Pattern construction helpers --

func node(bind string, types ...schemas.NodeType) NodeSpec {
	return NodeSpec{Bind: bind, Types: types}
}

func ident(code string) NodeSpec {
	return NodeSpec{Types: []schemas.NodeType{schemas.NodeIdentifier}, Code: code}
}

func (s NodeSpec) with(edges ...EdgeSpec) NodeSpec {
	s.Edges = append(append([]EdgeSpec(nil), s.Edges...), edges...)
	return s
}

func down(rel schemas.RelationType, n NodeSpec) EdgeSpec {
	return EdgeSpec{Direction: Down, Relation: rel, Arg: AnyArg, Node: n}
}

func up(rel schemas.RelationType, n NodeSpec) EdgeSpec {
	return EdgeSpec{Direction: Up, Relation: rel, Arg: AnyArg, Node: n}
}

func upWithin(lo, hi int, n NodeSpec) EdgeSpec {
	return EdgeSpec{Direction: Up, Arg: AnyArg, MinHops: lo, MaxHops: hi, Node: n}
}

func arg(i int, n NodeSpec) EdgeSpec {
	return EdgeSpec{Direction: Down, Relation: schemas.RelArguments, Arg: i, Node: n}
}

func optional(e EdgeSpec) EdgeSpec {
	e.Optional = true
	return e
}

// statementTypes are the node types a constructor call may hang off.
var statementTypes = []schemas.NodeType{
	schemas.NodeExpressionStatement, schemas.NodeVariableDeclaration, schemas.NodeReturnStatement,
	schemas.NodeIfStatement, schemas.NodeThrowStatement, schemas.NodeForStatement, schemas.NodeWhileStatement,
}

// exprStatement binds the ExpressionStatement directly holding the call.
func exprStatement() EdgeSpec {
	return up(schemas.RelExpression, node(BindStatement, schemas.NodeExpressionStatement))
}

func argument(i int) EdgeSpec {
	return arg(i, node(BindArgument))
}

// methodCall anchors on `<receiver>.<method>(...)` and continues with the call's edges.
func methodCall(method string, receiver NodeSpec, call ...EdgeSpec) NodeSpec {
	return ident(method).with(
		up(schemas.RelProperty, node("", schemas.NodeMemberExpression).with(
			down(schemas.RelObject, receiver),
			up(schemas.RelCallee, node(BindCall, schemas.NodeCallExpression).with(call...)),
		)),
	)
}

// functionCall anchors on `<name>(...)`.
func functionCall(name string, call ...EdgeSpec) NodeSpec {
	return ident(name).with(
		up(schemas.RelCallee, node(BindCall, schemas.NodeCallExpression).with(call...)),
	)
}

// construction anchors on `new <name>(...)`.
func construction(name string, argIndex int) NodeSpec {
	return ident(name).with(
		up(schemas.RelCallee, node(BindCall, schemas.NodeNewExpression).with(
			upWithin(1, 10, node(BindStatement, statementTypes...)),
			argument(argIndex),
		)),
	)
}

// urlProperty matches an object literal carrying `url: <value>` and binds the value.
func urlProperty(valueBind string) EdgeSpec {
	return down(schemas.RelProperties, node("", schemas.NodeProperty).with(
		down(schemas.RelKey, ident("url")),
		down(schemas.RelValue, node(valueBind)),
	))
}

// wrapperParent matches the optional declaration or statement above a wrapper call's parent.
func wrapperParent() EdgeSpec {
	return up("", node(BindStatement).with(
		optional(up("", node(BindEnclosing, schemas.NodeVariableDeclaration, schemas.NodeExpressionStatement))),
	))
}

func receiverIsWebSocket(ctx context.Context, g schemas.ProgramGraph, b Binding) (bool, error) {
	return boundToConstructor(ctx, g, b[BindReceiver], "WebSocket")
}

func receiverIsNotWebSocket(ctx context.Context, g schemas.ProgramGraph, b Binding) (bool, error) {
	ws, err := receiverIsWebSocket(ctx, g, b)
	return !ws, err
}

// Catalog returns the sink patterns in reporting order.
func Catalog() []Pattern {
	return []Pattern{
		{
			Kind: core.SinkWindowOpen,
			Anchor: methodCall("open", NodeSpec{Code: "window"},
				exprStatement(), argument(0)),
		},
		{
			Kind: core.SinkXHROpen,
			Anchor: methodCall("open", NodeSpec{CodeNot: "window"},
				exprStatement(), argument(1)),
		},
		{
			Kind:   core.SinkFetch,
			Anchor: functionCall("fetch", exprStatement(), argument(0)),
		},
		{
			// Chained calls such as $.ajax({...}).done(...) sit several levels below the statement.
			Kind: core.SinkAjax,
			Anchor: methodCall("ajax", node("", schemas.NodeIdentifier),
				upWithin(1, 10, node(BindStatement, schemas.NodeExpressionStatement)),
				arg(0, node(BindArgument).with(optional(urlProperty(BindSecondary)))),
			),
		},
		{
			Kind:   core.SinkXHRPost,
			Anchor: functionCall("xhrPost", exprStatement(), argument(1)),
		},
		{
			Kind:   core.SinkAsyncRequest,
			Anchor: methodCall("asyncRequest", NodeSpec{}, wrapperParent(), argument(1)),
		},
		{
			Kind:   core.SinkSetForm,
			Anchor: methodCall("setForm", NodeSpec{}, argument(0), wrapperParent()),
		},
		{
			Kind: core.SinkPageSpeed,
			Anchor: methodCall("Run",
				node("", schemas.NodeMemberExpression).with(
					down(schemas.RelProperty, ident("CriticalImages")),
					down(schemas.RelObject, ident("pagespeed")),
				),
				exprStatement(), argument(1)),
		},
		{
			// The settings Property itself is reported as the sink node.
			Kind: core.SinkAjaxSettings,
			Anchor: ident("ajaxSettings").with(
				up(schemas.RelKey, node(BindCall, schemas.NodeProperty).with(
					down(schemas.RelValue, node("", schemas.NodeObjectExpression).with(urlProperty(BindArgument))),
					up(schemas.RelProperties, node("", schemas.NodeObjectExpression).with(
						up(schemas.RelArguments, node("", schemas.NodeCallExpression).with(
							upWithin(1, 5, node(BindStatement, schemas.NodeExpressionStatement)),
						)),
					)),
				)),
			),
		},
		{
			Kind:   core.SinkXHRSend,
			Anchor: methodCall("send", node(BindReceiver), exprStatement(), argument(0)),
			Filter: receiverIsNotWebSocket,
		},
		{
			Kind:   core.SinkXHRSetHeader,
			Anchor: methodCall("setRequestHeader", NodeSpec{}, exprStatement(), argument(1)),
		},
		{
			Kind:   core.SinkWebSocket,
			Anchor: construction("WebSocket", 0),
		},
		{
			Kind:   core.SinkWebSocketSend,
			Anchor: methodCall("send", node(BindReceiver), exprStatement(), argument(0)),
			Filter: receiverIsWebSocket,
		},
		{
			Kind:   core.SinkEventSource,
			Anchor: construction("EventSource", 0),
		},
	}
}

// CallPatterns returns the per-call variants used to re-check a known call node. Their
// anchor is the call expression itself.
func CallPatterns() map[core.SinkKind]Pattern {
	call := func(callee NodeSpec, argEdge EdgeSpec) NodeSpec {
		return node(BindCall, schemas.NodeCallExpression).with(
			exprStatement(),
			down(schemas.RelCallee, callee),
			argEdge,
		)
	}
	member := func(property string, object ...EdgeSpec) NodeSpec {
		return node("", schemas.NodeMemberExpression).with(
			append([]EdgeSpec{down(schemas.RelProperty, ident(property))}, object...)...,
		)
	}
	return map[core.SinkKind]Pattern{
		core.SinkFetch: {
			Kind:   core.SinkFetch,
			Anchor: call(ident("fetch"), argument(0)),
		},
		core.SinkXHROpen: {
			Kind:   core.SinkXHROpen,
			Anchor: call(member("open"), argument(1)),
		},
		core.SinkAjax: {
			Kind: core.SinkAjax,
			Anchor: call(member("ajax", down(schemas.RelObject, ident("$"))),
				arg(0, node("", schemas.NodeObjectExpression).with(urlProperty(BindArgument)))),
		},
		core.SinkAsyncRequest: {
			Kind:   core.SinkAsyncRequest,
			Anchor: call(member("asyncRequest"), argument(1)),
		},
	}
}
