// Package scheduler turns prioritized queues of raster tasks into task graphs,
// hands them to an executor and reconciles completions into two signals: all
// tasks of the round finished, and the tasks required for activation
// finished.
//
// All methods run on the origin goroutine and are mutually exclusive. Task
// bodies run elsewhere; their completions are finalized here in a fixed order:
// WillComplete, CompleteOnOrigin (buffer release), DidComplete, RunReply.
package scheduler

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/vk/rastersched/internal/ctxlog"
	"github.com/vk/rastersched/internal/graph"
	"github.com/vk/rastersched/internal/metrics"
	"github.com/vk/rastersched/internal/task"
)

// ErrClosed is returned by ScheduleTasks after Shutdown.
var ErrClosed = errors.New("scheduler is shut down")

// Client receives the aggregate completion signals. Callbacks run with the
// scheduler locked and must not call back into it.
type Client interface {
	DidFinishRunningTasks()
	DidFinishRunningTasksRequiredForActivation()
}

// Runner is the worker pool executing task graphs.
type Runner interface {
	SetTaskGraph(ctx context.Context, g *graph.TaskGraph) error
	CollectCompletedTasks() []*task.Task
	CompleteTask(t *task.Task) error
	WaitIdle()
}

// GPUContext executes GPU-path batches outside the graph.
type GPUContext interface {
	Run(ctx context.Context, batch []*task.Task) error
	CollectCompletedTasks() []*task.Task
	WaitIdle()
}

// Broker maps and unmaps raster buffers.
type Broker interface {
	Acquire(t *task.Task) (*image.RGBA, error)
	Release(t *task.Task) error
}

type flight struct {
	round uint64
	graph bool
}

// Scheduler is the raster worker pool front end.
type Scheduler struct {
	mu      sync.Mutex
	logger  *slog.Logger
	runner  Runner
	gpu     GPUContext
	broker  Broker
	client  Client
	metrics *metrics.Metrics

	round             uint64
	graph             *graph.TaskGraph
	allFinished       *task.Task
	activationReady   *task.Task
	allPending        bool
	activationPending bool
	roundStarted      time.Time
	closed            bool

	// inFlight owns every task handed to an executor until it is finalized,
	// including tasks of rounds that were replaced.
	inFlight       map[*task.Task]flight
	events         []Event
	eventLimit     int
	completedTotal int
}

// DefaultEventLimit is the number of signals Events keeps.
const DefaultEventLimit = 256

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics makes the scheduler report to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithEventLimit keeps only the last n signals in the event log.
func WithEventLimit(n int) Option {
	return func(s *Scheduler) { s.eventLimit = max(n, 1) }
}

// New returns a scheduler. The logger is taken from ctx and used for
// sentinel replies.
func New(ctx context.Context, runner Runner, gpu GPUContext, broker Broker, client Client, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:     ctxlog.FromContext(ctx),
		runner:     runner,
		gpu:        gpu,
		broker:     broker,
		client:     client,
		inFlight:   make(map[*task.Task]flight),
		eventLimit: DefaultEventLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	return s
}

// State returns a snapshot of the scheduler.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Scheduler) stateLocked() State {
	st := State{
		Round:             s.round,
		AllPending:        s.allPending,
		ActivationPending: s.activationPending,
		CompletedTotal:    s.completedTotal,
	}
	for t, f := range s.inFlight {
		switch {
		case t.Kind() == task.KindSentinel:
		case f.graph:
			st.InFlight++
		default:
			st.GPUInFlight++
		}
	}
	return st
}

// Events returns the most recent signals, oldest first. The log is bounded by
// the event limit.
func (s *Scheduler) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Graph returns the graph of the current round, or nil before the first one.
func (s *Scheduler) Graph() *graph.TaskGraph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph
}

// Flush blocks until every task handed to an executor so far has finished and
// been finalized. It must not be called while a task body waits on the caller.
func (s *Scheduler) Flush(ctx context.Context) {
	for {
		s.runner.WaitIdle()
		s.gpu.WaitIdle()

		s.mu.Lock()
		n := s.drain(ctx)
		left := len(s.inFlight)
		s.mu.Unlock()
		if n == 0 || left == 0 {
			return
		}
	}
}

// Shutdown retires the current round, waits for running work and finalizes
// everything so every acquired buffer is released. The executors are left
// running; their owner stops them.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.runner.SetTaskGraph(ctx, graph.New())
	s.mu.Unlock()
	if err != nil {
		logger.Error("Failed to retire the current round.", "error", err)
	}

	s.Flush(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.allPending = false
	s.activationPending = false
	s.metrics.TasksInFlight.Set(0)
	logger.Info("Scheduler shut down.", "state", s.stateLocked())
	return err
}
