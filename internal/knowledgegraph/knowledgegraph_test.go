package knowledgegraph

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/reqhijack/api/schemas"
	"go.uber.org/zap"
)

// -- Test Fixture Setup --

// kgTestFixture holds shared resources for the knowledge graph tests.
type kgTestFixture struct {
	Logger *zap.Logger
}

var globalFixture *kgTestFixture

func TestMain(m *testing.M) {
	globalFixture = &kgTestFixture{Logger: zap.NewNop()}
	exitCode := m.Run()
	_ = globalFixture.Logger.Sync()
	os.Exit(exitCode)
}

// -- Test Helper Functions --

// graphSpec is a compact way to describe a tree: each entry is a node and the edge that
// attaches it to its parent.
type graphSpec struct {
	node   schemas.Node
	parent string
	rel    schemas.RelationType
	arg    int
}

func loc(line, col, endCol int) schemas.Location {
	return schemas.Location{StartLine: line, StartColumn: col, EndLine: line, EndColumn: endCol}
}

// fetchProgram describes:
//
//	var url = window.location.hash;
//	fetch(url);
func fetchProgram() []graphSpec {
	return []graphSpec{
		{node: schemas.Node{ID: "p:0", Type: schemas.NodeProgram}},
		{node: schemas.Node{ID: "p:1", Type: schemas.NodeVariableDeclaration, Kind: "var", Code: "var url = window.location.hash;", Location: loc(1, 0, 31)}, parent: "p:0", rel: schemas.RelBody},
		{node: schemas.Node{ID: "p:2", Type: schemas.NodeVariableDeclarator, Code: "url = window.location.hash", Location: loc(1, 4, 30)}, parent: "p:1", rel: schemas.RelDeclarations},
		{node: schemas.Node{ID: "p:3", Type: schemas.NodeIdentifier, Code: "url", Location: loc(1, 4, 7)}, parent: "p:2", rel: schemas.RelID},
		{node: schemas.Node{ID: "p:4", Type: schemas.NodeMemberExpression, Code: "window.location.hash", Location: loc(1, 10, 30)}, parent: "p:2", rel: schemas.RelInit},
		{node: schemas.Node{ID: "p:5", Type: schemas.NodeMemberExpression, Code: "window.location", Location: loc(1, 10, 25)}, parent: "p:4", rel: schemas.RelObject},
		{node: schemas.Node{ID: "p:6", Type: schemas.NodeIdentifier, Code: "window", Location: loc(1, 10, 16)}, parent: "p:5", rel: schemas.RelObject},
		{node: schemas.Node{ID: "p:7", Type: schemas.NodeIdentifier, Code: "location", Location: loc(1, 17, 25)}, parent: "p:5", rel: schemas.RelProperty},
		{node: schemas.Node{ID: "p:8", Type: schemas.NodeIdentifier, Code: "hash", Location: loc(1, 26, 30)}, parent: "p:4", rel: schemas.RelProperty},
		{node: schemas.Node{ID: "p:9", Type: schemas.NodeExpressionStatement, Code: "fetch(url);", Location: loc(2, 0, 11)}, parent: "p:0", rel: schemas.RelBody},
		{node: schemas.Node{ID: "p:10", Type: schemas.NodeCallExpression, Code: "fetch(url)", Location: loc(2, 0, 10)}, parent: "p:9", rel: schemas.RelExpression},
		{node: schemas.Node{ID: "p:11", Type: schemas.NodeIdentifier, Code: "fetch", Location: loc(2, 0, 5)}, parent: "p:10", rel: schemas.RelCallee},
		{node: schemas.Node{ID: "p:12", Type: schemas.NodeIdentifier, Code: "url", Location: loc(2, 6, 9)}, parent: "p:10", rel: schemas.RelArguments, arg: 0},
	}
}

func buildKG(t *testing.T, spec []graphSpec) *InMemoryKG {
	t.Helper()
	ctx := context.Background()
	kg := NewInMemoryKG(globalFixture.Logger)
	for _, s := range spec {
		require.NoError(t, kg.AddNode(ctx, s.node))
	}
	for i, s := range spec {
		if s.parent == "" {
			continue
		}
		arg := schemas.NoArgIndex
		if s.rel == schemas.RelArguments {
			arg = s.arg
		}
		edge := schemas.Edge{ID: fmt.Sprintf("e:%d", i), From: s.parent, To: s.node.ID, Relation: s.rel, ArgIndex: arg}
		require.NoError(t, kg.AddEdge(ctx, edge))
	}
	return kg
}

// getTestKG returns a graph holding the fetch program.
func getTestKG(t *testing.T) *InMemoryKG {
	t.Helper()
	return buildKG(t, fetchProgram())
}

// -- Test Cases for InMemoryKG --

func TestNewInMemoryKG(t *testing.T) {
	t.Parallel()

	t.Run("should create KG with provided logger", func(t *testing.T) {
		t.Parallel()
		kg := NewInMemoryKG(globalFixture.Logger)
		nodes, edges := kg.Len()
		assert.Zero(t, nodes)
		assert.Zero(t, edges)
	})

	t.Run("should not panic if nil logger is provided", func(t *testing.T) {
		t.Parallel()
		assert.NotPanics(t, func() { NewInMemoryKG(nil) })
	})
}

func TestAddAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kg := getTestKG(t)

	t.Run("should get an existing node", func(t *testing.T) {
		t.Parallel()
		node, err := kg.GetNode(ctx, "p:4")
		require.NoError(t, err)
		assert.Equal(t, schemas.NodeMemberExpression, node.Type)
		assert.Equal(t, "window.location.hash", node.Code)
	})

	t.Run("should return ErrNodeNotFound for unknown ids", func(t *testing.T) {
		t.Parallel()
		_, err := kg.GetNode(ctx, "missing")
		assert.ErrorIs(t, err, schemas.ErrNodeNotFound)
		_, err = kg.Children(ctx, "missing")
		assert.ErrorIs(t, err, schemas.ErrNodeNotFound)
		_, _, err = kg.Parent(ctx, "missing")
		assert.ErrorIs(t, err, schemas.ErrNodeNotFound)
	})

	t.Run("should reject empty node ids", func(t *testing.T) {
		t.Parallel()
		fresh := NewInMemoryKG(nil)
		assert.Error(t, fresh.AddNode(ctx, schemas.Node{Type: schemas.NodeIdentifier}))
	})

	t.Run("should count nodes and edges", func(t *testing.T) {
		t.Parallel()
		nodes, edges := kg.Len()
		assert.Equal(t, 13, nodes)
		assert.Equal(t, 12, edges)
	})
}

func TestAddEdgeValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kg := getTestKG(t)

	t.Run("missing source", func(t *testing.T) {
		err := kg.AddEdge(ctx, schemas.Edge{ID: "x", From: "nope", To: "p:3", Relation: schemas.RelBody})
		assert.ErrorContains(t, err, "source node")
	})

	t.Run("missing destination", func(t *testing.T) {
		err := kg.AddEdge(ctx, schemas.Edge{ID: "x", From: "p:0", To: "nope", Relation: schemas.RelBody})
		assert.ErrorContains(t, err, "destination node")
	})

	t.Run("second parent", func(t *testing.T) {
		err := kg.AddEdge(ctx, schemas.Edge{ID: "x", From: "p:0", To: "p:3", Relation: schemas.RelBody})
		assert.ErrorContains(t, err, "already has parent")
	})
}

func TestNodeOverwriteKeepsTypeIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kg := getTestKG(t)

	require.NoError(t, kg.AddNode(ctx, schemas.Node{ID: "p:3", Type: schemas.NodeLiteral, Value: "x"}))

	idents, err := kg.FindNodes(ctx, schemas.NodeFilter{Type: schemas.NodeIdentifier, Code: "url"})
	require.NoError(t, err)
	require.Len(t, idents, 1)
	assert.Equal(t, "p:12", idents[0].ID)

	literals, err := kg.FindNodes(ctx, schemas.NodeFilter{Type: schemas.NodeLiteral})
	require.NoError(t, err)
	require.Len(t, literals, 1)
	assert.Equal(t, "p:3", literals[0].ID)
}

func TestChildrenOrdersArguments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kg := NewInMemoryKG(nil)
	for _, n := range []schemas.Node{
		{ID: "call", Type: schemas.NodeCallExpression},
		{ID: "callee", Type: schemas.NodeIdentifier, Code: "f"},
		{ID: "a1", Type: schemas.NodeLiteral, Value: "1"},
		{ID: "a0", Type: schemas.NodeLiteral, Value: "0"},
	} {
		require.NoError(t, kg.AddNode(ctx, n))
	}
	require.NoError(t, kg.AddEdge(ctx, schemas.Edge{ID: "e1", From: "call", To: "a1", Relation: schemas.RelArguments, ArgIndex: 1}))
	require.NoError(t, kg.AddEdge(ctx, schemas.Edge{ID: "e0", From: "call", To: "callee", Relation: schemas.RelCallee, ArgIndex: schemas.NoArgIndex}))
	require.NoError(t, kg.AddEdge(ctx, schemas.Edge{ID: "e2", From: "call", To: "a0", Relation: schemas.RelArguments, ArgIndex: 0}))

	edges, err := kg.Children(ctx, "call")
	require.NoError(t, err)
	require.Len(t, edges, 3)
	assert.Equal(t, "a0", edges[0].To)
	assert.Equal(t, "callee", edges[1].To, "non-argument edges keep their slot")
	assert.Equal(t, "a1", edges[2].To)
}

func TestParent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kg := getTestKG(t)

	edge, ok, err := kg.Parent(ctx, "p:12")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p:10", edge.From)
	assert.Equal(t, 0, edge.ArgIndex)

	_, ok, err = kg.Parent(ctx, "p:0")
	require.NoError(t, err)
	assert.False(t, ok, "the program root has no parent")
}

func TestFindNodes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kg := getTestKG(t)

	t.Run("by type preserves insertion order", func(t *testing.T) {
		nodes, err := kg.FindNodes(ctx, schemas.NodeFilter{Type: schemas.NodeMemberExpression})
		require.NoError(t, err)
		require.Len(t, nodes, 2)
		assert.Equal(t, "p:4", nodes[0].ID)
		assert.Equal(t, "p:5", nodes[1].ID)
	})

	t.Run("by code only", func(t *testing.T) {
		nodes, err := kg.FindNodes(ctx, schemas.NodeFilter{Code: "url"})
		require.NoError(t, err)
		require.Len(t, nodes, 2)
		assert.Equal(t, "p:3", nodes[0].ID)
		assert.Equal(t, "p:12", nodes[1].ID)
	})

	t.Run("empty filter returns everything", func(t *testing.T) {
		nodes, err := kg.FindNodes(ctx, schemas.NodeFilter{})
		require.NoError(t, err)
		assert.Len(t, nodes, 13)
	})
}

func TestExportImport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kg := getTestKG(t)

	sg := kg.Export()
	assert.Len(t, sg.Nodes, 13)
	assert.Len(t, sg.Edges, 12)

	clone := NewInMemoryKG(nil)
	require.NoError(t, clone.Import(ctx, sg))
	code, err := CodeExpression(ctx, clone, "p:10")
	require.NoError(t, err)
	assert.Equal(t, "fetch(url)", code)
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kg := NewInMemoryKG(nil)
	require.NoError(t, kg.AddNode(ctx, schemas.Node{ID: "root", Type: schemas.NodeProgram}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("n:%d", i)
			assert.NoError(t, kg.AddNode(ctx, schemas.Node{ID: id, Type: schemas.NodeExpressionStatement}))
			assert.NoError(t, kg.AddEdge(ctx, schemas.Edge{ID: "e" + id, From: "root", To: id, Relation: schemas.RelBody, ArgIndex: schemas.NoArgIndex}))
			_, _ = kg.Children(ctx, "root")
			_, _ = kg.FindNodes(ctx, schemas.NodeFilter{Type: schemas.NodeExpressionStatement})
		}(i)
	}
	wg.Wait()

	edges, err := kg.Children(ctx, "root")
	require.NoError(t, err)
	assert.Len(t, edges, 50)
}
