package schemas

import (
	"fmt"
	"strings"
)

// -- Program Graph Data Model --

// NodeType is the ESTree type tag of a program graph node.
type NodeType string

const (
	NodeProgram                 NodeType = "Program"
	NodeExpressionStatement     NodeType = "ExpressionStatement"
	NodeVariableDeclaration     NodeType = "VariableDeclaration"
	NodeVariableDeclarator      NodeType = "VariableDeclarator"
	NodeFunctionDeclaration     NodeType = "FunctionDeclaration"
	NodeBlockStatement          NodeType = "BlockStatement"
	NodeReturnStatement         NodeType = "ReturnStatement"
	NodeIfStatement             NodeType = "IfStatement"
	NodeForStatement            NodeType = "ForStatement"
	NodeWhileStatement          NodeType = "WhileStatement"
	NodeTryStatement            NodeType = "TryStatement"
	NodeThrowStatement          NodeType = "ThrowStatement"
	NodeEmptyStatement          NodeType = "EmptyStatement"
	NodeCallExpression          NodeType = "CallExpression"
	NodeNewExpression           NodeType = "NewExpression"
	NodeMemberExpression        NodeType = "MemberExpression"
	NodeIdentifier              NodeType = "Identifier"
	NodeLiteral                 NodeType = "Literal"
	NodeTemplateLiteral         NodeType = "TemplateLiteral"
	NodeObjectExpression        NodeType = "ObjectExpression"
	NodeArrayExpression         NodeType = "ArrayExpression"
	NodeProperty                NodeType = "Property"
	NodeFunctionExpression      NodeType = "FunctionExpression"
	NodeArrowFunctionExpression NodeType = "ArrowFunctionExpression"
	NodeBinaryExpression        NodeType = "BinaryExpression"
	NodeLogicalExpression       NodeType = "LogicalExpression"
	NodeAssignmentExpression    NodeType = "AssignmentExpression"
	NodeConditionalExpression   NodeType = "ConditionalExpression"
	NodeUnaryExpression         NodeType = "UnaryExpression"
	NodeUpdateExpression        NodeType = "UpdateExpression"
	NodeSequenceExpression      NodeType = "SequenceExpression"
	NodeThisExpression          NodeType = "ThisExpression"
	NodeSpreadElement           NodeType = "SpreadElement"
	NodeUnknown                 NodeType = "Unknown"
)

// IsStatement reports whether nodes of this type sit at statement level.
func (t NodeType) IsStatement() bool {
	switch t {
	case NodeExpressionStatement, NodeVariableDeclaration, NodeFunctionDeclaration,
		NodeBlockStatement, NodeReturnStatement, NodeIfStatement, NodeForStatement,
		NodeWhileStatement, NodeTryStatement, NodeThrowStatement, NodeEmptyStatement:
		return true
	}
	return false
}

// IsFunction reports whether nodes of this type open a function scope.
func (t NodeType) IsFunction() bool {
	return t == NodeFunctionDeclaration || t == NodeFunctionExpression || t == NodeArrowFunctionExpression
}

// RelationType names the ESTree field an AST_parentOf edge descends through.
type RelationType string

const (
	RelBody         RelationType = "body"
	RelExpression   RelationType = "expression"
	RelExpressions  RelationType = "expressions"
	RelCallee       RelationType = "callee"
	RelArguments    RelationType = "arguments"
	RelObject       RelationType = "object"
	RelProperty     RelationType = "property"
	RelProperties   RelationType = "properties"
	RelKey          RelationType = "key"
	RelValue        RelationType = "value"
	RelDeclarations RelationType = "declarations"
	RelID           RelationType = "id"
	RelInit         RelationType = "init"
	RelLeft         RelationType = "left"
	RelRight        RelationType = "right"
	RelTest         RelationType = "test"
	RelConsequent   RelationType = "consequent"
	RelAlternate    RelationType = "alternate"
	RelArgument     RelationType = "argument"
	RelParams       RelationType = "params"
	RelElements     RelationType = "elements"
	RelUpdate       RelationType = "update"
	RelBlock        RelationType = "block"
	RelHandler      RelationType = "handler"
	RelFinalizer    RelationType = "finalizer"
)

// EdgeLabel is the label every program graph edge carries.
const EdgeLabel = "AST_parentOf"

// NoArgIndex marks edges that are not call-argument edges.
const NoArgIndex = -1

// Location is a node's source span. Lines are 1-based, columns 0-based.
type Location struct {
	StartLine   int `json:"start_line"`
	StartColumn int `json:"start_column"`
	EndLine     int `json:"end_line"`
	EndColumn   int `json:"end_column"`
}

// String renders the location in the esprima-style form used by sink lists.
func (l Location) String() string {
	return fmt.Sprintf("{start: {line: %d, column: %d}, end: {line: %d, column: %d}}",
		l.StartLine, l.StartColumn, l.EndLine, l.EndColumn)
}

// Line returns the start line as text.
func (l Location) Line() string {
	return fmt.Sprintf("%d", l.StartLine)
}

// IsZero reports whether the location was never set.
func (l Location) IsZero() bool {
	return l == Location{}
}

// ParseLocation reads a location rendered by Location.String. Whitespace is ignored.
func ParseLocation(s string) (Location, error) {
	var l Location
	compact := strings.Join(strings.Fields(s), "")
	_, err := fmt.Sscanf(compact, "{start:{line:%d,column:%d},end:{line:%d,column:%d}}",
		&l.StartLine, &l.StartColumn, &l.EndLine, &l.EndColumn)
	if err != nil {
		return Location{}, fmt.Errorf("malformed location %q: %w", s, err)
	}
	return l, nil
}

// LineOf extracts the start line from a location string. Unparseable input is returned as-is
// so that report rendering never fails on a foreign location format.
func LineOf(s string) string {
	l, err := ParseLocation(s)
	if err != nil {
		return s
	}
	return l.Line()
}

// Node is one immutable record of the program graph.
type Node struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	Code     string   `json:"code,omitempty"`
	Value    string   `json:"value,omitempty"`
	Raw      string   `json:"raw,omitempty"`
	Kind     string   `json:"kind,omitempty"`
	Operator string   `json:"operator,omitempty"`
	Computed bool     `json:"computed,omitempty"`
	Location Location `json:"location"`
}

// Edge is a directed AST_parentOf relation from parent to child.
type Edge struct {
	ID       string       `json:"id"`
	From     string       `json:"from"`
	To       string       `json:"to"`
	Relation RelationType `json:"relation"`
	ArgIndex int          `json:"arg_index"`
}

// Subgraph is a serializable slice of a program graph.
type Subgraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeFilter selects nodes by type and, optionally, exact code.
type NodeFilter struct {
	Type NodeType
	Code string
}

// Matches reports whether the node satisfies the filter.
func (f NodeFilter) Matches(n Node) bool {
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	if f.Code != "" && n.Code != f.Code {
		return false
	}
	return true
}
