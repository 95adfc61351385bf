package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/rastersched/internal/ctxlog"
	"github.com/vk/rastersched/internal/graph"
	"github.com/vk/rastersched/internal/task"
)

// ErrNotRaster is returned when a queue contains a sentinel.
var ErrNotRaster = errors.New("only raster tasks can be scheduled")

// round is the output of buildGraph.
type round struct {
	graph           *graph.TaskGraph
	allFinished     *task.Task
	activationReady *task.Task
	gpu             []*task.Task
}

// ScheduleTasks starts a new round from q, replacing the current one. The
// first queued task is the most urgent. A malformed queue is rejected and the
// current round stays in place.
func (s *Scheduler) ScheduleTasks(ctx context.Context, q *task.Queue) error {
	logger := ctxlog.FromContext(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if err := validateQueue(q); err != nil {
		s.metrics.RoundsRejected.Inc()
		logger.Error("Rejected malformed task queue.", "error", err)
		return fmt.Errorf("scheduling tasks: %w", err)
	}

	id := s.round + 1
	r, err := s.buildGraph(id, q)
	if err != nil {
		s.metrics.RoundsRejected.Inc()
		logger.Error("Rejected malformed task queue.", "error", err)
		return fmt.Errorf("scheduling tasks: %w", err)
	}

	attached := s.acquire(ctx, r.graph)
	if err := s.runner.SetTaskGraph(ctx, r.graph); err != nil {
		for _, t := range attached {
			if t.Acquired() {
				if rerr := s.broker.Release(t); rerr != nil {
					logger.Error("Failed to release buffer of unsubmitted task.", "task", t.String(), "error", rerr)
				}
			}
			t.Detach()
		}
		return fmt.Errorf("submitting task graph: %w", err)
	}

	if !s.allPending {
		s.roundStarted = time.Now()
		logger.Debug("Round started.", "round", id)
	}
	for _, n := range r.graph.Nodes {
		s.inFlight[n.Task] = flight{round: id, graph: true}
	}
	s.round = id
	s.graph = r.graph
	s.allFinished = r.allFinished
	s.activationReady = r.activationReady
	s.allPending = true
	s.activationPending = true
	s.metrics.RoundsScheduled.Inc()

	if len(r.gpu) > 0 {
		s.dispatchGPU(ctx, id, r.gpu)
	}
	s.metrics.TasksInFlight.Set(float64(len(s.inFlight)))

	logger.Info("🚀 Round rasterizing.",
		"round", id,
		"graph_tasks", r.graph.Len()-2,
		"gpu_tasks", len(r.gpu),
		"state", s.stateLocked(),
	)
	return nil
}

// validateQueue rejects queues that would produce an undefined graph. A
// dependency must either be queued in the same round or already completed.
func validateQueue(q *task.Queue) error {
	queued := make(map[*task.Task]bool, q.Len())
	for _, t := range q.Tasks() {
		if queued[t] {
			return fmt.Errorf("%s: %w", t, graph.ErrDuplicateNode)
		}
		queued[t] = true
	}
	for _, t := range q.Tasks() {
		if t.Kind() == task.KindSentinel {
			return fmt.Errorf("%s: %w", t, ErrNotRaster)
		}
		if t.HasCompleted() {
			return fmt.Errorf("%s: %w", t, task.ErrAlreadyCompleted)
		}
		if t.UsesGPU() && len(t.Dependencies()) > 0 {
			return fmt.Errorf("%s has dependencies: %w", t, graph.ErrGPUDependency)
		}
		for _, dep := range t.Dependencies() {
			switch {
			case dep.UsesGPU():
				return fmt.Errorf("%s depends on %s: %w", t, dep, graph.ErrGPUDependency)
			case queued[dep], dep.HasCompleted():
			default:
				return fmt.Errorf("%s depends on %s: %w", t, dep, graph.ErrUnknownDependency)
			}
		}
	}
	return nil
}

// buildGraph numbers graph tasks in queue order, wires them to the two
// sentinels of the round and collects GPU-path tasks into a separate batch.
func (s *Scheduler) buildGraph(id uint64, q *task.Queue) (*round, error) {
	r := &round{graph: graph.New()}
	r.allFinished = task.NewSentinel(fmt.Sprintf("all_finished/%d", id), s.sentinelReply(id, SignalAllFinished))
	r.activationReady = task.NewSentinel(fmt.Sprintf("required_for_activation/%d", id), s.sentinelReply(id, SignalRequiredForActivation))

	queued := make(map[*task.Task]bool, q.Len())
	for _, t := range q.Tasks() {
		queued[t] = true
	}

	priority := graph.RasterTaskPriorityBase
	allCount, activationCount := 0, 0
	for _, t := range q.Tasks() {
		if t.UsesGPU() {
			r.gpu = append(r.gpu, t)
			continue
		}

		deps := 0
		for _, dep := range t.Dependencies() {
			if !queued[dep] {
				// Completed in an earlier round.
				continue
			}
			r.graph.AddEdge(dep, t)
			deps++
		}
		if err := r.graph.InsertNode(t, priority, deps); err != nil {
			return nil, err
		}
		priority++

		r.graph.AddEdge(t, r.allFinished)
		allCount++
		if t.IsRequiredForActivation() {
			r.graph.AddEdge(t, r.activationReady)
			activationCount++
		}
	}

	if err := r.graph.InsertNode(r.activationReady, graph.RequiredForActivationFinishedPriority, activationCount); err != nil {
		return nil, err
	}
	if err := r.graph.InsertNode(r.allFinished, graph.AllFinishedPriority, allCount); err != nil {
		return nil, err
	}
	if err := r.graph.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// acquire maps buffers for the graph tasks that are new to the scheduler and
// returns every task it attached, including failed acquisitions. A failed
// acquisition leaves the task scheduled; its body fails without running.
func (s *Scheduler) acquire(ctx context.Context, g *graph.TaskGraph) []*task.Task {
	logger := ctxlog.FromContext(ctx)
	var attached []*task.Task
	for _, n := range g.Nodes {
		t := n.Task
		if t.Kind() == task.KindSentinel {
			continue
		}
		if _, ok := s.inFlight[t]; ok {
			continue
		}
		buf, err := s.broker.Acquire(t)
		t.Attach(buf, err)
		attached = append(attached, t)
		if err != nil {
			logger.Error("Failed to acquire raster buffer.", "task", t.String(), "error", err)
		}
	}
	return attached
}

// dispatchGPU maps GPU-path tasks and hands them to the GPU context. If the
// context refuses the batch, its tasks are finalized as failed right away.
func (s *Scheduler) dispatchGPU(ctx context.Context, id uint64, batch []*task.Task) {
	logger := ctxlog.FromContext(ctx)

	fresh := batch[:0:0]
	for _, t := range batch {
		if _, ok := s.inFlight[t]; ok {
			continue
		}
		buf, err := s.broker.Acquire(t)
		t.Attach(buf, err)
		if err != nil {
			logger.Error("Failed to acquire direct raster buffer.", "task", t.String(), "error", err)
		}
		s.inFlight[t] = flight{round: id}
		fresh = append(fresh, t)
	}
	if len(fresh) == 0 {
		return
	}

	if err := s.gpu.Run(ctx, fresh); err != nil {
		logger.Error("GPU context rejected batch.", "tasks", len(fresh), "error", err)
		for _, t := range fresh {
			t.RecordRun(fmt.Errorf("dispatching %s: %w", t, err))
			s.finalize(ctx, t, false)
		}
		return
	}
	logger.Debug("Dispatched GPU batch.", "round", id, "tasks", len(fresh))
}
