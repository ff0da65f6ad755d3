// Package graphbuilder turns JavaScript source into the program graph consumed by the
// analysis stages. Two front-ends are available: a fault tolerant tree-sitter parser and the
// stricter goja ECMAScript parser.
package graphbuilder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/xkilldash9x/reqhijack/api/schemas"
	"github.com/xkilldash9x/reqhijack/internal/config"
	"go.uber.org/zap"
)

// ErrUnsupportedFrontend is returned by New for an unknown front-end name.
var ErrUnsupportedFrontend = errors.New("unsupported graph frontend")

// Script is one unit of JavaScript source.
type Script struct {
	Name   string
	Source []byte
	// IDPrefix namespaces the node ids of this script. A random prefix is used when empty.
	IDPrefix string
}

// Builder parses a script and writes its AST into a graph, returning the id of the Program node.
// The Program node's Value holds the script name.
type Builder interface {
	Build(ctx context.Context, script Script, w schemas.GraphWriter) (string, error)
}

// New returns the builder for a front-end name.
func New(frontend string, logger *zap.Logger) (Builder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(frontend) {
	case config.FrontendTreeSitter, "":
		return &TreeSitterBuilder{log: logger.Named("treesitter")}, nil
	case config.FrontendGoja:
		return &GojaBuilder{log: logger.Named("goja")}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFrontend, frontend)
}

// ctxCheckInterval is how many nodes are emitted between context checks.
const ctxCheckInterval = 512

// emitter allocates ids and writes nodes and edges for a single script.
type emitter struct {
	ctx    context.Context
	w      schemas.GraphWriter
	src    []byte
	prefix string
	nodes  int
	edges  int
	lines  []int // byte offset of every line start
}

func newEmitter(ctx context.Context, w schemas.GraphWriter, script Script) *emitter {
	prefix := script.IDPrefix
	if prefix == "" {
		prefix = uuid.NewString()[:8]
	}
	lines := []int{0}
	for i, b := range script.Source {
		if b == '\n' {
			lines = append(lines, i+1)
		}
	}
	return &emitter{ctx: ctx, w: w, src: script.Source, prefix: prefix, lines: lines}
}

// position converts a byte offset into a 1-based line and 0-based column.
func (e *emitter) position(offset int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > len(e.src) {
		offset = len(e.src)
	}
	line := sort.Search(len(e.lines), func(i int) bool { return e.lines[i] > offset }) - 1
	return line + 1, offset - e.lines[line]
}

func (e *emitter) location(start, end int) schemas.Location {
	sl, sc := e.position(start)
	el, ec := e.position(end)
	return schemas.Location{StartLine: sl, StartColumn: sc, EndLine: el, EndColumn: ec}
}

// text returns the source between two byte offsets, clamped to the buffer.
func (e *emitter) text(start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(e.src) {
		end = len(e.src)
	}
	if start >= end {
		return ""
	}
	return string(e.src[start:end])
}

func (e *emitter) emit(n schemas.Node) (string, error) {
	if e.nodes%ctxCheckInterval == 0 {
		if err := e.ctx.Err(); err != nil {
			return "", err
		}
	}
	n.ID = fmt.Sprintf("%s:%d", e.prefix, e.nodes)
	e.nodes++
	if n.Type == "" {
		n.Type = schemas.NodeUnknown
	}
	if err := e.w.AddNode(e.ctx, n); err != nil {
		return "", fmt.Errorf("failed to add node %s: %w", n.ID, err)
	}
	return n.ID, nil
}

func (e *emitter) link(from, to string, rel schemas.RelationType, arg int) error {
	if from == "" || to == "" {
		return nil
	}
	if rel != schemas.RelArguments {
		arg = schemas.NoArgIndex
	}
	edge := schemas.Edge{
		ID:       fmt.Sprintf("%s:e%d", e.prefix, e.edges),
		From:     from,
		To:       to,
		Relation: rel,
		ArgIndex: arg,
	}
	e.edges++
	if err := e.w.AddEdge(e.ctx, edge); err != nil {
		return fmt.Errorf("failed to add edge %s: %w", edge.ID, err)
	}
	return nil
}

// stripQuotes removes one pair of matching JS string delimiters.
func stripQuotes(raw string) string {
	if len(raw) >= 2 {
		q := raw[0]
		if (q == '"' || q == '\'' || q == '`') && raw[len(raw)-1] == q {
			return raw[1 : len(raw)-1]
		}
	}
	return raw
}

// carriesCode reports whether a node type stores its source text. Statement containers and
// functions are rebuilt on demand so that deep nesting does not multiply the script size.
func carriesCode(t schemas.NodeType) bool {
	switch t {
	case schemas.NodeProgram, schemas.NodeBlockStatement, schemas.NodeIfStatement,
		schemas.NodeForStatement, schemas.NodeWhileStatement, schemas.NodeTryStatement,
		schemas.NodeFunctionDeclaration, schemas.NodeFunctionExpression, schemas.NodeArrowFunctionExpression:
		return false
	}
	return true
}
