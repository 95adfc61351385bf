// Package executor runs task graphs on a pool of worker goroutines.
//
// The Runner accepts one graph at a time. Submitting a new graph replaces the
// previous one: nodes that already started keep running, unstarted nodes of
// the previous graph that are absent from the new one run to completion, and
// unstarted sentinels of the previous graph are cancelled. Finished nodes are
// reported through CollectCompletedTasks and only unlock their dependents once
// the origin side calls CompleteTask.
package executor

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/vk/rastersched/internal/ctxlog"
	"github.com/vk/rastersched/internal/graph"
	"github.com/vk/rastersched/internal/task"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrClosed is returned once the runner has been shut down.
	ErrClosed = errors.New("executor is shut down")
	// ErrNotFinished is returned when CompleteTask is called for a task the
	// runner has not reported as finished.
	ErrNotFinished = errors.New("task has not finished running")
)

type phase int

const (
	phaseWaiting phase = iota
	phaseReady
	phaseRunning
	phaseFinished
)

// nodeState tracks one task from insertion until CompleteTask.
type nodeState struct {
	task       *task.Task
	priority   graph.Priority
	deps       []*task.Task
	dependents []*nodeState
	remaining  int
	phase      phase
	heapIndex  int
	seq        uint64
}

// Stats is a point-in-time view of the runner.
type Stats struct {
	Tracked  int
	Ready    int
	Running  int
	Finished int
}

// Runner is an in-process task graph runner.
type Runner struct {
	logger    *slog.Logger
	mu        sync.Mutex
	cond      *sync.Cond
	nodes     map[*task.Task]*nodeState
	ready     readyQueue
	completed []*task.Task
	running   int
	seq       uint64
	closed    bool

	workers errgroup.Group
}

// New starts a runner with the given number of workers. Task bodies receive
// ctx; cancelling it fails running bodies but does not stop the workers.
func New(ctx context.Context, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	r := &Runner{
		logger: ctxlog.FromContext(ctx),
		nodes:  make(map[*task.Task]*nodeState),
	}
	r.cond = sync.NewCond(&r.mu)

	r.logger.Debug("Starting worker pool.", "workers", workers)
	for i := 0; i < workers; i++ {
		workerID := i
		r.workers.Go(func() error {
			r.worker(ctx, workerID)
			return nil
		})
	}
	return r
}

// SetTaskGraph replaces the current graph with g.
func (r *Runner) SetTaskGraph(ctx context.Context, g *graph.TaskGraph) error {
	logger := ctxlog.FromContext(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	deps := make(map[*task.Task][]*task.Task, g.Len())
	for _, e := range g.Edges {
		deps[e.To] = append(deps[e.To], e.From)
	}

	retired, canceled := 0, 0
	for t, ns := range r.nodes {
		if _, ok := g.Node(t); ok || ns.phase >= phaseRunning {
			continue
		}
		if t.Kind() == task.KindSentinel {
			r.cancel(ns)
			canceled++
			continue
		}
		retired++
	}

	for _, n := range g.Nodes {
		ns, ok := r.nodes[n.Task]
		if ok && ns.phase >= phaseRunning {
			continue
		}
		if !ok {
			ns = &nodeState{task: n.Task, heapIndex: -1}
			r.nodes[n.Task] = ns
		}
		ns.priority = n.Priority
		ns.deps = deps[n.Task]
	}

	r.relink()
	r.cond.Broadcast()

	logger.Debug("Task graph replaced.",
		"nodes", g.Len(),
		"edges", len(g.Edges),
		"retired", retired,
		"canceled_sentinels", canceled,
		"ready", r.ready.Len(),
	)
	return nil
}

// CollectCompletedTasks returns the tasks that finished since the last call.
// It never blocks on running work.
func (r *Runner) CollectCompletedTasks() []*task.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.completed
	r.completed = nil
	return out
}

// CompleteTask tells the runner that t passed its origin-side completion.
// Dependents whose last dependency this was become runnable.
func (r *Runner) CompleteTask(t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ns, ok := r.nodes[t]
	if !ok || ns.phase != phaseFinished {
		return fmt.Errorf("%s: %w", t, ErrNotFinished)
	}
	delete(r.nodes, t)
	var unlocked []*nodeState
	for _, d := range ns.dependents {
		if d.phase >= phaseRunning {
			continue
		}
		d.remaining--
		if d.remaining == 0 {
			unlocked = append(unlocked, d)
		}
	}
	r.makeAllReady(unlocked)
	r.cond.Broadcast()
	return nil
}

// WaitIdle blocks until no node is runnable or running. Nodes waiting on a
// dependency that has not been completed do not count.
func (r *Runner) WaitIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for !r.closed && (r.ready.Len() > 0 || r.running > 0) {
		r.cond.Wait()
	}
}

// Stats returns the current node counts.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Tracked:  len(r.nodes),
		Ready:    r.ready.Len(),
		Running:  r.running,
		Finished: len(r.completed),
	}
}

// Shutdown stops the workers once their current task returns. Runnable nodes
// that have not started are abandoned.
func (r *Runner) Shutdown() error {
	r.mu.Lock()
	r.closed = true
	r.cond.Broadcast()
	r.mu.Unlock()
	return r.workers.Wait()
}

// relink recomputes dependency counts and dependents for every node that has
// not started, then moves nodes between the waiting and ready sets.
func (r *Runner) relink() {
	for _, ns := range r.nodes {
		ns.dependents = ns.dependents[:0]
	}
	var unlocked []*nodeState
	for _, ns := range r.nodes {
		if ns.phase >= phaseRunning {
			continue
		}
		ns.remaining = 0
		for _, dep := range ns.deps {
			dns, tracked := r.nodes[dep]
			if !tracked {
				// Already completed on the origin side.
				continue
			}
			dns.dependents = append(dns.dependents, ns)
			ns.remaining++
		}
		switch {
		case ns.remaining == 0:
			unlocked = append(unlocked, ns)
		case ns.phase == phaseReady:
			heap.Remove(&r.ready, ns.heapIndex)
			ns.phase = phaseWaiting
		}
	}
	r.makeAllReady(unlocked)
}

// makeAllReady makes nodes ready in priority order, so nodes finished inline
// are reported most urgent first.
func (r *Runner) makeAllReady(nodes []*nodeState) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].priority < nodes[j].priority })
	for _, ns := range nodes {
		r.makeReady(ns)
	}
}

func (r *Runner) makeReady(ns *nodeState) {
	if ns.task.Kind() == task.KindSentinel {
		r.finishInline(ns)
		return
	}
	if ns.phase == phaseReady {
		heap.Fix(&r.ready, ns.heapIndex)
		return
	}
	ns.phase = phaseReady
	r.seq++
	ns.seq = r.seq
	heap.Push(&r.ready, ns)
}

// finishInline reports a no-op node as finished without a worker hop.
func (r *Runner) finishInline(ns *nodeState) {
	if ns.phase >= phaseRunning {
		return
	}
	if ns.phase == phaseReady {
		heap.Remove(&r.ready, ns.heapIndex)
	}
	if err := ns.task.MarkExecuting(); err != nil {
		r.logger.Error("Sentinel was finished twice.", "task", ns.task.String(), "error", err)
	}
	ns.task.RecordRun(nil)
	ns.phase = phaseFinished
	r.completed = append(r.completed, ns.task)
}

func (r *Runner) cancel(ns *nodeState) {
	if ns.phase == phaseReady {
		heap.Remove(&r.ready, ns.heapIndex)
	}
	ns.task.RecordCanceled()
	ns.phase = phaseFinished
	r.completed = append(r.completed, ns.task)
}
