// Package gpu runs GPU-path raster tasks on a single goroutine locked to its
// OS thread, standing in for a context bound to one thread.
package gpu

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/vk/rastersched/internal/ctxlog"
	"github.com/vk/rastersched/internal/task"
)

// ErrClosed is returned when a batch is submitted after Close.
var ErrClosed = errors.New("gpu context is closed")

// Context executes batches in submission order, one task at a time.
type Context struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []*task.Task
	completed []*task.Task
	busy      bool
	closed    bool
	done      chan struct{}
}

// New starts the context's goroutine. Task bodies receive ctx.
func New(ctx context.Context) *Context {
	c := &Context{done: make(chan struct{})}
	c.cond = sync.NewCond(&c.mu)
	go c.loop(ctx)
	return c
}

// Run enqueues a batch without waiting for it to execute.
func (c *Context) Run(ctx context.Context, batch []*task.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.queue = append(c.queue, batch...)
	c.cond.Broadcast()
	ctxlog.FromContext(ctx).Debug("GPU batch queued.", "tasks", len(batch), "queued", len(c.queue))
	return nil
}

// CollectCompletedTasks returns the tasks finished since the last call.
func (c *Context) CollectCompletedTasks() []*task.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.completed
	c.completed = nil
	return out
}

// WaitIdle blocks until every queued task has executed.
func (c *Context) WaitIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.closed && (len(c.queue) > 0 || c.busy) {
		c.cond.Wait()
	}
}

// Pending returns the number of tasks queued or executing.
func (c *Context) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.queue)
	if c.busy {
		n++
	}
	return n
}

// Close stops the goroutine after the task it is executing. Queued tasks are
// dropped.
func (c *Context) Close() error {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
	<-c.done
	return nil
}

func (c *Context) loop(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(c.done)

	logger := ctxlog.FromContext(ctx).With("component", "gpu")
	logger.Debug("GPU context started.")
	for {
		t := c.next()
		if t == nil {
			logger.Debug("GPU context stopped.")
			return
		}
		if err := t.MarkExecuting(); err != nil {
			logger.Error("GPU task was queued twice.", "task", t.String(), "error", err)
		}
		err := run(ctx, t)
		if err != nil {
			logger.Warn("GPU task failed.", "task", t.String(), "error", err)
		}

		c.mu.Lock()
		t.RecordRun(err)
		c.busy = false
		c.completed = append(c.completed, t)
		c.cond.Broadcast()
		c.mu.Unlock()
	}
}

func (c *Context) next() *task.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) == 0 && !c.closed {
		c.cond.Wait()
	}
	if c.closed {
		return nil
	}
	t := c.queue[0]
	c.queue = c.queue[1:]
	c.busy = true
	return t
}

func run(ctx context.Context, t *task.Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("gpu task %s panicked: %v", t, p)
		}
	}()
	return t.Run(ctx)
}
