package app

import (
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/rastersched/internal/config"
	"github.com/vk/rastersched/internal/task"
)

// newDependentTiles returns a tile set over x, which depends on y.
func newDependentTiles(t *testing.T) *tileSet {
	t.Helper()
	scene := &config.Scene{
		TileSize: 4,
		Tiles: []*config.Tile{
			{Name: "x", Column: 0, DependsOn: []string{"y"}, Polygon: [][2]float64{{0, 0}, {4, 0}, {4, 4}}},
			{Name: "y", Column: 1, Polygon: [][2]float64{{0, 0}, {4, 0}, {4, 4}}},
		},
	}
	return newTileSet(scene, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func complete(t *testing.T, tasks ...*task.Task) {
	t.Helper()
	for _, tk := range tasks {
		require.NoError(t, tk.MarkExecuting())
		require.NoError(t, tk.DidComplete())
	}
}

func names(q *task.Queue) []string {
	var out []string
	for _, t := range q.Tasks() {
		out = append(out, t.Name())
	}
	return out
}

func TestTileSet_Queue(t *testing.T) {
	t.Parallel()

	t.Run("uncompleted dependency is pulled in first", func(t *testing.T) {
		ts := newDependentTiles(t)
		q, err := ts.queue(&config.Round{Name: "a", Tiles: []string{"x"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"y", "x"}, names(q))
		x, y := q.Tasks()[1], q.Tasks()[0]
		assert.Equal(t, []*task.Task{y}, x.Dependencies())
	})

	t.Run("repainted dependent waits for the repainted dependency", func(t *testing.T) {
		ts := newDependentTiles(t)
		first, err := ts.queue(&config.Round{Name: "a", Tiles: []string{"x"}})
		require.NoError(t, err)
		complete(t, first.Tasks()...)

		q, err := ts.queue(&config.Round{Name: "b", Tiles: []string{"x", "y"}})
		require.NoError(t, err)
		if diff := cmp.Diff([]string{"y", "x"}, names(q)); diff != "" {
			t.Errorf("queue order mismatch (-want +got):\n%s", diff)
		}
		y, x := q.Tasks()[0], q.Tasks()[1]
		assert.Equal(t, []*task.Task{y}, x.Dependencies())
		for _, old := range first.Tasks() {
			assert.NotSame(t, old, x)
			assert.NotSame(t, old, y)
		}
	})

	t.Run("completed dependency outside the round is not repainted", func(t *testing.T) {
		ts := newDependentTiles(t)
		first, err := ts.queue(&config.Round{Name: "a", Tiles: []string{"x"}})
		require.NoError(t, err)
		complete(t, first.Tasks()...)

		q, err := ts.queue(&config.Round{Name: "b", Tiles: []string{"x"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"x"}, names(q))
		assert.Equal(t, []*task.Task{first.Tasks()[0]}, q.Tasks()[0].Dependencies())
	})

	t.Run("pending dependent is reused and rewired", func(t *testing.T) {
		ts := newDependentTiles(t)
		first, err := ts.queue(&config.Round{Name: "a", Tiles: []string{"x"}})
		require.NoError(t, err)
		oldY, oldX := first.Tasks()[0], first.Tasks()[1]
		complete(t, oldY)

		q, err := ts.queue(&config.Round{Name: "b", Tiles: []string{"x", "y"}})
		require.NoError(t, err)
		y, x := q.Tasks()[0], q.Tasks()[1]
		assert.Same(t, oldX, x)
		assert.NotSame(t, oldY, y)
		assert.Equal(t, []*task.Task{y}, x.Dependencies())
	})

	t.Run("started dependent keeps its dependencies", func(t *testing.T) {
		ts := newDependentTiles(t)
		first, err := ts.queue(&config.Round{Name: "a", Tiles: []string{"x"}})
		require.NoError(t, err)
		oldY, oldX := first.Tasks()[0], first.Tasks()[1]
		complete(t, oldY)
		require.NoError(t, oldX.MarkExecuting())

		q, err := ts.queue(&config.Round{Name: "b", Tiles: []string{"x", "y"}})
		require.NoError(t, err)
		assert.Same(t, oldX, q.Tasks()[1])
		assert.Equal(t, []*task.Task{oldY}, oldX.Dependencies())
	})

	t.Run("unknown tile", func(t *testing.T) {
		ts := newDependentTiles(t)
		_, err := ts.queue(&config.Round{Name: "a", Tiles: []string{"z"}})
		assert.ErrorIs(t, err, config.ErrUnknownTile)
	})
}
