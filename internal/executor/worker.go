package executor

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/vk/rastersched/internal/ctxlog"
	"github.com/vk/rastersched/internal/task"
)

// worker is the core processing loop for a single concurrent worker.
func (r *Runner) worker(ctx context.Context, workerID int) {
	logger := ctxlog.FromContext(ctx).With("workerID", workerID)
	logger.Debug("Worker started.")

	for {
		ns := r.next()
		if ns == nil {
			logger.Debug("Worker finished.")
			return
		}
		t := ns.task
		taskLogger := logger.With("task", t.String())

		if err := t.MarkExecuting(); err != nil {
			taskLogger.Error("Task was handed to a worker twice.", "error", err)
		}
		taskLogger.Debug("Worker picked up task for execution.", "priority", ns.priority)

		err := runBody(ctx, t)
		if err != nil {
			taskLogger.Warn("Task body failed.", "error", err)
		} else {
			taskLogger.Debug("Task body succeeded.")
		}
		r.finish(ns, err)
	}
}

// next blocks until a node is runnable and claims the most urgent one. It
// returns nil once the runner is closed.
func (r *Runner) next() *nodeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.ready.Len() == 0 && !r.closed {
		r.cond.Wait()
	}
	if r.closed {
		return nil
	}
	ns := heap.Pop(&r.ready).(*nodeState)
	ns.phase = phaseRunning
	r.running++
	return ns
}

func (r *Runner) finish(ns *nodeState, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ns.task.RecordRun(err)
	ns.phase = phaseFinished
	r.running--
	r.completed = append(r.completed, ns.task)
	r.cond.Broadcast()
}

func runBody(ctx context.Context, t *task.Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task %s panicked: %v", t, p)
		}
	}()
	return t.Run(ctx)
}
