package app

import (
	"fmt"
	"image/color"
	"log/slog"
	"slices"

	"github.com/vk/rastersched/internal/config"
	"github.com/vk/rastersched/internal/raster"
	"github.com/vk/rastersched/internal/task"
)

// tileSet keeps the latest task of every tile and turns rounds into queues.
type tileSet struct {
	scene   *config.Scene
	columns int
	logger  *slog.Logger
	current map[string]*task.Task
	failed  int
}

func newTileSet(scene *config.Scene, logger *slog.Logger) *tileSet {
	columns, _ := scene.GridSize()
	return &tileSet{
		scene:   scene,
		columns: columns,
		logger:  logger,
		current: make(map[string]*task.Task, len(scene.Tiles)),
	}
}

// resourceID maps a grid position to its resource.
func resourceID(t *config.Tile, columns int) task.ResourceID {
	return task.ResourceID(t.Row*columns + t.Column)
}

// queue builds the task queue for r. A tile keeps a task that has not
// completed yet and gets a fresh one otherwise. Dependencies are queued ahead
// of their dependents when they are listed in r or have not completed, and
// dependents wait on the task queued for them in this round.
func (ts *tileSet) queue(r *config.Round) (*task.Queue, error) {
	q := task.NewQueue()
	listed := make(map[string]bool, len(r.Tiles))
	for _, name := range r.Tiles {
		listed[name] = true
	}
	queued := make(map[string]*task.Task)
	visiting := make(map[string]bool)

	var ensure func(name string) (*task.Task, error)
	ensure = func(name string) (*task.Task, error) {
		if t, ok := queued[name]; ok {
			return t, nil
		}
		if visiting[name] {
			return nil, fmt.Errorf("tile %q: %w", name, config.ErrDependencyCycle)
		}
		tile, ok := ts.scene.Tile(name)
		if !ok {
			return nil, fmt.Errorf("tile %q: %w", name, config.ErrUnknownTile)
		}
		visiting[name] = true
		defer delete(visiting, name)

		deps := make([]*task.Task, 0, len(tile.DependsOn))
		for _, dep := range tile.DependsOn {
			if prev := ts.current[dep]; prev != nil && prev.HasCompleted() && !listed[dep] {
				deps = append(deps, prev)
				continue
			}
			d, err := ensure(dep)
			if err != nil {
				return nil, err
			}
			deps = append(deps, d)
		}

		t := ts.current[name]
		switch {
		case t == nil || t.HasCompleted():
			t = ts.newTask(tile, deps)
			ts.current[name] = t
		case !slices.Equal(t.Dependencies(), deps):
			// A task picked up by a worker in the meantime keeps its edges;
			// the executor ignores edges into started nodes.
			if err := t.SetDependencies(deps...); err != nil {
				ts.logger.Debug("Tile already painting, keeping its dependencies.", "task", t.String(), "error", err)
			} else {
				ts.logger.Debug("Tile rewired to this round's dependencies.", "task", t.String())
			}
		}
		q.Append(t)
		queued[name] = t
		return t, nil
	}

	for _, name := range r.Tiles {
		if _, err := ensure(name); err != nil {
			return nil, fmt.Errorf("round %q: %w", r.Name, err)
		}
	}
	return q, nil
}

func (ts *tileSet) newTask(tile *config.Tile, deps []*task.Task) *task.Task {
	shape := raster.Shape{
		Color:   color.RGBA{R: tile.Color[0], G: tile.Color[1], B: tile.Color[2], A: tile.Color[3]},
		Polygon: tile.Polygon,
	}
	opts := []task.Option{
		task.WithBody(raster.Body(shape)),
		task.WithReply(ts.reply),
	}
	if len(deps) > 0 {
		opts = append(opts, task.DependsOn(deps...))
	}
	if tile.RequiredForActivation {
		opts = append(opts, task.RequiredForActivation())
	}
	if tile.GPU {
		opts = append(opts, task.UseGPU())
	}
	return task.NewRaster(tile.Name, resourceID(tile, ts.columns), opts...)
}

func (ts *tileSet) reply(t *task.Task, r task.Result) {
	if !r.OK() {
		ts.failed++
		ts.logger.Warn("Tile failed to paint.", "task", t.String(), "error", r.Err)
		return
	}
	ts.logger.Debug("Tile painted.", "task", t.String(), "resource", t.Resource())
}
