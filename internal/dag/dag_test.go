package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chain(t *testing.T, ids ...string) *Graph {
	t.Helper()
	g := New()
	for _, id := range ids {
		g.AddNode(id)
	}
	for i := 1; i < len(ids); i++ {
		require.NoError(t, g.AddEdge(ids[i-1], ids[i]))
	}
	return g
}

func TestNew(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.NotNil(t, g.nodes)
	assert.Empty(t, g.nodes)
}

func TestAddNode(t *testing.T) {
	g := New()

	g.AddNode("a")
	assert.Len(t, g.nodes, 1)
	nodeA, ok := g.nodes["a"]
	require.True(t, ok)
	assert.Equal(t, "a", nodeA.id)
	assert.NotNil(t, nodeA.deps)
	assert.NotNil(t, nodeA.dependents)

	g.AddNode("a") // Test idempotency
	assert.Len(t, g.nodes, 1)

	g.AddNode("b")
	assert.Len(t, g.nodes, 2)
}

func TestAddEdge(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := chain(t, "a", "b")

		nodeA := g.nodes["a"]
		nodeB := g.nodes["b"]

		assert.Contains(t, nodeA.dependents, "b")
		assert.Equal(t, nodeB, nodeA.dependents["b"])
		assert.Contains(t, nodeB.deps, "a")
		assert.Equal(t, nodeA, nodeB.deps["a"])
	})

	t.Run("error cases", func(t *testing.T) {
		g := chain(t, "a", "b", "c")

		err := g.AddEdge("dne", "a")
		assert.ErrorContains(t, err, "source node not found")

		err = g.AddEdge("a", "dne")
		assert.ErrorContains(t, err, "destination node not found")

		err = g.AddEdge("a", "a")
		assert.ErrorContains(t, err, "self-referential edge")

		err = g.AddEdge("c", "a")
		assert.ErrorContains(t, err, "cycle detected")
		assert.NotContains(t, g.nodes["a"].deps, "c", "rejected edge must not be recorded")
		assert.NoError(t, g.DetectCycles())
	})
}

func TestRemove(t *testing.T) {
	g := chain(t, "a", "b", "c")

	g.RemoveEdge("a", "b")
	deps, err := g.Dependents("a")
	require.NoError(t, err)
	assert.Empty(t, deps)
	assert.Empty(t, g.nodes["b"].deps)

	g.RemoveNode("b")
	assert.NotContains(t, g.nodes, "b")
	assert.Empty(t, g.nodes["c"].deps)
	_, err = g.Dependents("b")
	assert.ErrorContains(t, err, "node not found")
}

func TestTopologicalSort(t *testing.T) {
	g := New()
	for _, id := range []string{"d", "c", "b", "a"} {
		g.AddNode(id)
	}
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))
	require.NoError(t, g.AddEdge("a", "c"))

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "a", "b", "c"}, order)
}

func TestDownstreamAndBetween(t *testing.T) {
	//    a -> b -> c -> e
	//         b -> d -> e
	//    x -> d
	g := New()
	for _, id := range []string{"a", "b", "c", "d", "e", "x"} {
		g.AddNode(id)
	}
	for _, e := range [][2]string{{"a", "b"}, {"b", "c"}, {"c", "e"}, {"b", "d"}, {"d", "e"}, {"x", "d"}} {
		require.NoError(t, g.AddEdge(e[0], e[1]))
	}

	down, err := g.Downstream("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d", "e"}, down)

	between, err := g.Between("a", "e")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, between)

	between, err = g.Between("c", "d")
	require.NoError(t, err)
	assert.Empty(t, between)
}

func TestDetectCycles(t *testing.T) {
	t.Run("empty graph has no cycles", func(t *testing.T) {
		assert.NoError(t, New().DetectCycles())
	})

	t.Run("valid dag has no cycles", func(t *testing.T) {
		g := chain(t, "a", "b", "c", "d")
		require.NoError(t, g.AddEdge("a", "c")) // Transitive edge
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("cycle built behind the API is detected", func(t *testing.T) {
		g := chain(t, "x", "y", "z")
		g.nodes["x"].deps["z"] = g.nodes["z"]
		g.nodes["z"].dependents["x"] = g.nodes["x"]

		err := g.DetectCycles()
		assert.ErrorContains(t, err, "cycle detected")
		_, err = g.TopologicalSort()
		assert.ErrorContains(t, err, "cycle detected")
	})
}
