package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrecall/internal/induction"
)

// seedGraph builds:
//
//	a -> b -> c -> d
//	e -> b
func seedGraph(t *testing.T) *GraphStore {
	t.Helper()
	g := openTestDB(t).Graph()
	ctx := context.Background()
	for _, n := range []Node{{"a", "Retry Policy"}, {"b", "Backoff"}, {"c", ""}, {"d", "Jitter"}, {"e", "retry policy"}} {
		require.NoError(t, g.AddNode(ctx, n.ID, n.Label))
	}
	for _, e := range [][2]string{{"a", "b"}, {"b", "c"}, {"c", "d"}, {"e", "b"}} {
		require.NoError(t, g.AddEdge(ctx, e[0], e[1], 1))
	}
	return g
}

func TestGraph_NeighborsBreadthFirst(t *testing.T) {
	g := seedGraph(t)

	got, err := g.Neighbors(context.Background(), "a", 3)
	require.NoError(t, err)

	assert.Equal(t, []induction.Neighbor{
		{NodeID: "b", Distance: 1},
		{NodeID: "c", Distance: 2},
		{NodeID: "e", Distance: 2},
		{NodeID: "d", Distance: 3},
	}, got)
}

func TestGraph_NeighborsRespectsDepth(t *testing.T) {
	g := seedGraph(t)

	got, err := g.Neighbors(context.Background(), "d", 1)
	require.NoError(t, err)
	assert.Equal(t, []induction.Neighbor{{NodeID: "c", Distance: 1}}, got, "edges are walked backwards too")

	got, err = g.Neighbors(context.Background(), "d", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = g.Neighbors(context.Background(), "missing", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGraph_Labels(t *testing.T) {
	g := seedGraph(t)
	ctx := context.Background()

	ids, err := g.FindByLabel(ctx, "RETRY POLICY")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "e"}, ids)

	nodes, err := g.LabeledNodes(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 4)

	// Relabel in place
	require.NoError(t, g.AddNode(ctx, "c", "Circuit Breaker"))
	ids, err = g.FindByLabel(ctx, "circuit breaker")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids)
}

func TestGraph_EdgesKeepMaxWeight(t *testing.T) {
	g := seedGraph(t)
	ctx := context.Background()

	require.NoError(t, g.AddEdge(ctx, "a", "b", 0.2))
	require.NoError(t, g.AddEdge(ctx, "a", "b", 3))
	require.NoError(t, g.AddEdge(ctx, "a", "a", 1), "self links are ignored")

	var w float64
	require.NoError(t, g.db.QueryRowContext(ctx, `SELECT weight FROM graph_edges WHERE src='a' AND dst='b'`).Scan(&w))
	assert.Equal(t, 3.0, w)

	nodes, edges, err := g.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, nodes)
	assert.Equal(t, 4, edges)
}
