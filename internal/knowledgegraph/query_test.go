package knowledgegraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/reqhijack/api/schemas"
)

func ids(nodes []schemas.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestSubtree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kg := getTestKG(t)

	nodes, err := Subtree(ctx, kg, "p:2")
	require.NoError(t, err)
	assert.Equal(t, []string{"p:2", "p:3", "p:4", "p:5", "p:6", "p:7", "p:8"}, ids(nodes))

	_, err = Subtree(ctx, kg, "missing")
	assert.ErrorIs(t, err, schemas.ErrNodeNotFound)
}

func TestSubtreeHonoursCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Subtree(ctx, getTestKG(t), "p:0")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChildrenByRelation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kg := getTestKG(t)

	args, err := ChildrenByRelation(ctx, kg, "p:10", schemas.RelArguments, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"p:12"}, ids(args))

	none, err := ChildrenByRelation(ctx, kg, "p:10", schemas.RelArguments, 1)
	require.NoError(t, err)
	assert.Empty(t, none)

	callee, err := ChildrenByRelation(ctx, kg, "p:10", schemas.RelCallee, schemas.NoArgIndex)
	require.NoError(t, err)
	assert.Equal(t, []string{"p:11"}, ids(callee))
}

func TestAncestorsAndStatements(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kg := getTestKG(t)

	ancestors, err := Ancestors(ctx, kg, "p:6")
	require.NoError(t, err)
	assert.Equal(t, []string{"p:5", "p:4", "p:2", "p:1", "p:0"}, ids(ancestors))

	stmt, ok, err := TopmostStatement(ctx, kg, "p:12")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p:9", stmt.ID)

	stmt, ok, err = TopmostStatement(ctx, kg, "p:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p:1", stmt.ID, "a statement is its own topmost statement")

	_, ok, err = TopmostStatement(ctx, kg, "p:0")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnclosingFunctions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	// function outer() { var inner = function() { x; }; }
	kg := buildKG(t, []graphSpec{
		{node: schemas.Node{ID: "f:0", Type: schemas.NodeProgram}},
		{node: schemas.Node{ID: "f:1", Type: schemas.NodeFunctionDeclaration}, parent: "f:0", rel: schemas.RelBody},
		{node: schemas.Node{ID: "f:2", Type: schemas.NodeBlockStatement}, parent: "f:1", rel: schemas.RelBody},
		{node: schemas.Node{ID: "f:3", Type: schemas.NodeVariableDeclaration, Kind: "var"}, parent: "f:2", rel: schemas.RelBody},
		{node: schemas.Node{ID: "f:4", Type: schemas.NodeVariableDeclarator}, parent: "f:3", rel: schemas.RelDeclarations},
		{node: schemas.Node{ID: "f:5", Type: schemas.NodeFunctionExpression}, parent: "f:4", rel: schemas.RelInit},
		{node: schemas.Node{ID: "f:6", Type: schemas.NodeBlockStatement}, parent: "f:5", rel: schemas.RelBody},
		{node: schemas.Node{ID: "f:7", Type: schemas.NodeExpressionStatement}, parent: "f:6", rel: schemas.RelBody},
		{node: schemas.Node{ID: "f:8", Type: schemas.NodeIdentifier, Code: "x"}, parent: "f:7", rel: schemas.RelExpression},
	})

	fns, err := EnclosingFunctions(ctx, kg, "f:8")
	require.NoError(t, err)
	assert.Equal(t, []string{"f:5", "f:1"}, fns)

	global, err := EnclosingFunctions(ctx, kg, "f:1")
	require.NoError(t, err)
	assert.Empty(t, global)
}

func TestCodeExpression(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("returns stored code verbatim", func(t *testing.T) {
		code, err := CodeExpression(ctx, getTestKG(t), "p:4")
		require.NoError(t, err)
		assert.Equal(t, "window.location.hash", code)
	})

	t.Run("rebuilds code from structure", func(t *testing.T) {
		// $.ajax({url: base + "/x", async: true})
		kg := buildKG(t, []graphSpec{
			{node: schemas.Node{ID: "c:0", Type: schemas.NodeCallExpression}},
			{node: schemas.Node{ID: "c:1", Type: schemas.NodeMemberExpression}, parent: "c:0", rel: schemas.RelCallee},
			{node: schemas.Node{ID: "c:2", Type: schemas.NodeIdentifier, Code: "$"}, parent: "c:1", rel: schemas.RelObject},
			{node: schemas.Node{ID: "c:3", Type: schemas.NodeIdentifier, Code: "ajax"}, parent: "c:1", rel: schemas.RelProperty},
			{node: schemas.Node{ID: "c:4", Type: schemas.NodeObjectExpression}, parent: "c:0", rel: schemas.RelArguments, arg: 0},
			{node: schemas.Node{ID: "c:5", Type: schemas.NodeProperty}, parent: "c:4", rel: schemas.RelProperties},
			{node: schemas.Node{ID: "c:6", Type: schemas.NodeIdentifier, Code: "url"}, parent: "c:5", rel: schemas.RelKey},
			{node: schemas.Node{ID: "c:7", Type: schemas.NodeBinaryExpression, Operator: "+"}, parent: "c:5", rel: schemas.RelValue},
			{node: schemas.Node{ID: "c:8", Type: schemas.NodeIdentifier, Code: "base"}, parent: "c:7", rel: schemas.RelLeft},
			{node: schemas.Node{ID: "c:9", Type: schemas.NodeLiteral, Value: "/x", Raw: `"/x"`}, parent: "c:7", rel: schemas.RelRight},
			{node: schemas.Node{ID: "c:10", Type: schemas.NodeProperty}, parent: "c:4", rel: schemas.RelProperties},
			{node: schemas.Node{ID: "c:11", Type: schemas.NodeIdentifier, Code: "async"}, parent: "c:10", rel: schemas.RelKey},
			{node: schemas.Node{ID: "c:12", Type: schemas.NodeLiteral, Value: "true"}, parent: "c:10", rel: schemas.RelValue},
		})
		code, err := CodeExpression(ctx, kg, "c:0")
		require.NoError(t, err)
		assert.Equal(t, `$.ajax({url: base + "/x", async: true})`, code)
	})

	t.Run("functions collapse their body", func(t *testing.T) {
		kg := buildKG(t, []graphSpec{
			{node: schemas.Node{ID: "g:0", Type: schemas.NodeFunctionExpression}},
			{node: schemas.Node{ID: "g:1", Type: schemas.NodeIdentifier, Code: "a"}, parent: "g:0", rel: schemas.RelParams},
			{node: schemas.Node{ID: "g:2", Type: schemas.NodeIdentifier, Code: "b"}, parent: "g:0", rel: schemas.RelParams},
			{node: schemas.Node{ID: "g:3", Type: schemas.NodeBlockStatement}, parent: "g:0", rel: schemas.RelBody},
		})
		code, err := CodeExpression(ctx, kg, "g:0")
		require.NoError(t, err)
		assert.Equal(t, "function(a, b){ ... }", code)
	})

	t.Run("unknown node", func(t *testing.T) {
		_, err := CodeExpression(ctx, getTestKG(t), "missing")
		assert.ErrorIs(t, err, schemas.ErrNodeNotFound)
	})
}
