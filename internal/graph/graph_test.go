package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/rastersched/internal/task"
)

func TestInsertNode(t *testing.T) {
	t.Parallel()

	g := New()
	a := task.NewRaster("a", 1)

	require.NoError(t, g.InsertNode(a, RasterTaskPriorityBase, 0))
	assert.ErrorIs(t, g.InsertNode(a, RasterTaskPriorityBase+1, 0), ErrDuplicateNode)

	n, ok := g.Node(a)
	require.True(t, ok)
	assert.Equal(t, RasterTaskPriorityBase, n.Priority)
	assert.Equal(t, 1, g.Len())

	_, ok = g.Node(task.NewRaster("a", 1))
	assert.False(t, ok)
}

func TestZeroValueGraphAcceptsNodes(t *testing.T) {
	t.Parallel()

	var g TaskGraph
	require.NoError(t, g.InsertNode(task.NewRaster("a", 1), RasterTaskPriorityBase, 0))
	assert.NoError(t, g.Validate())
}

func TestDependencies(t *testing.T) {
	t.Parallel()

	g := New()
	a, b := task.NewRaster("a", 1), task.NewRaster("b", 2)
	s := task.NewSentinel("all", nil)
	g.AddEdge(a, s)
	g.AddEdge(b, s)

	assert.Equal(t, []*task.Task{a, b}, g.Dependencies(s))
	assert.Empty(t, g.Dependencies(a))
}

func TestValidate(t *testing.T) {
	t.Parallel()

	t.Run("valid graph with sentinel", func(t *testing.T) {
		g := New()
		a, b := task.NewRaster("a", 1), task.NewRaster("b", 2)
		s := task.NewSentinel("all", nil)
		require.NoError(t, g.InsertNode(a, RasterTaskPriorityBase, 0))
		require.NoError(t, g.InsertNode(b, RasterTaskPriorityBase+1, 1))
		require.NoError(t, g.InsertNode(s, AllFinishedPriority, 2))
		g.AddEdge(a, b)
		g.AddEdge(a, s)
		g.AddEdge(b, s)
		assert.NoError(t, g.Validate())
	})

	t.Run("edge to missing node", func(t *testing.T) {
		g := New()
		a := task.NewRaster("a", 1)
		require.NoError(t, g.InsertNode(a, RasterTaskPriorityBase, 0))
		g.AddEdge(task.NewRaster("ghost", 9), a)
		assert.ErrorIs(t, g.Validate(), ErrUnknownNode)
	})

	t.Run("count mismatch", func(t *testing.T) {
		g := New()
		a, b := task.NewRaster("a", 1), task.NewRaster("b", 2)
		require.NoError(t, g.InsertNode(a, RasterTaskPriorityBase, 0))
		require.NoError(t, g.InsertNode(b, RasterTaskPriorityBase+1, 0))
		g.AddEdge(a, b)
		assert.ErrorIs(t, g.Validate(), ErrDependencyCount)
	})

	t.Run("self edge", func(t *testing.T) {
		g := New()
		a := task.NewRaster("a", 1)
		require.NoError(t, g.InsertNode(a, RasterTaskPriorityBase, 1))
		g.AddEdge(a, a)
		assert.ErrorIs(t, g.Validate(), ErrCycle)
	})

	t.Run("longer cycle", func(t *testing.T) {
		g := New()
		a, b, c := task.NewRaster("a", 1), task.NewRaster("b", 2), task.NewRaster("c", 3)
		require.NoError(t, g.InsertNode(a, RasterTaskPriorityBase, 1))
		require.NoError(t, g.InsertNode(b, RasterTaskPriorityBase+1, 1))
		require.NoError(t, g.InsertNode(c, RasterTaskPriorityBase+2, 1))
		g.AddEdge(a, b)
		g.AddEdge(b, c)
		g.AddEdge(c, a)
		err := g.Validate()
		assert.ErrorIs(t, err, ErrCycle)
		assert.ErrorContains(t, err, "cycle detected")
	})

	t.Run("cycle in a disjoint component", func(t *testing.T) {
		g := New()
		a, b := task.NewRaster("a", 1), task.NewRaster("b", 2)
		x, y := task.NewRaster("x", 3), task.NewRaster("y", 4)
		require.NoError(t, g.InsertNode(a, 1, 0))
		require.NoError(t, g.InsertNode(b, 2, 1))
		require.NoError(t, g.InsertNode(x, 3, 1))
		require.NoError(t, g.InsertNode(y, 4, 1))
		g.AddEdge(a, b)
		g.AddEdge(x, y)
		g.AddEdge(y, x)
		assert.ErrorIs(t, g.Validate(), ErrCycle)
	})
}
