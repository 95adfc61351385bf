package task

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
)

var (
	// ErrAlreadyCompleted is returned when a completed task is finalized or
	// scheduled again.
	ErrAlreadyCompleted = errors.New("task already completed")
	// ErrInvalidTransition is returned for a state change that would move a
	// task backwards.
	ErrInvalidTransition = errors.New("invalid task state transition")
	// ErrNoBuffer is returned by a raster body that runs without a buffer.
	ErrNoBuffer = errors.New("no raster buffer acquired")
)

// ResourceID identifies the render target a raster task paints into.
type ResourceID uint64

// Body is the work a task performs off the origin goroutine.
type Body func(ctx context.Context, t *Task) error

// ReplyFunc is invoked on the origin goroutine as the last lifecycle stage.
type ReplyFunc func(t *Task, r Result)

// Result is what the executor reports about a finished task.
type Result struct {
	// Err is the body's error, or the buffer acquisition error when the
	// body never ran.
	Err error
	// Canceled is set for tasks retired by the executor before they ran.
	Canceled bool
}

// OK reports whether the task ran and succeeded.
func (r Result) OK() bool { return r.Err == nil && !r.Canceled }

var nextID atomic.Uint64

// Task is one unit of rasterization work.
type Task struct {
	id       uint64
	name     string
	kind     Kind
	resource ResourceID
	deps     []*Task

	requiredForActivation bool

	body  Body
	reply ReplyFunc
	state atomic.Int32

	// Fields below are owned by the origin goroutine, except result which is
	// written by the executor before the task is handed back.
	buffer     *image.RGBA
	acquired   bool
	acquireErr error
	result     Result
	finalizing bool
}

// Option configures a raster task.
type Option func(*Task)

// DependsOn appends dependencies that must complete before the task may run.
func DependsOn(deps ...*Task) Option {
	return func(t *Task) { t.deps = append(t.deps, deps...) }
}

// RequiredForActivation marks the task as part of the activation subset.
func RequiredForActivation() Option {
	return func(t *Task) { t.requiredForActivation = true }
}

// UseGPU routes the task to the GPU path.
func UseGPU() Option {
	return func(t *Task) { t.kind = KindGPURaster }
}

// WithBody sets the work performed while the task executes.
func WithBody(b Body) Option {
	return func(t *Task) { t.body = b }
}

// WithReply sets the per-task reply invoked after completion.
func WithReply(fn ReplyFunc) Option {
	return func(t *Task) { t.reply = fn }
}

// NewRaster creates a raster task painting into the given resource.
func NewRaster(name string, res ResourceID, opts ...Option) *Task {
	t := &Task{
		id:       nextID.Add(1),
		name:     name,
		kind:     KindRaster,
		resource: res,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewSentinel creates a no-op task whose reply fires once every dependency
// edge pointing at it has been satisfied.
func NewSentinel(name string, reply ReplyFunc) *Task {
	return &Task{
		id:    nextID.Add(1),
		name:  name,
		kind:  KindSentinel,
		reply: reply,
	}
}

// ID returns a process-unique number used for logging.
func (t *Task) ID() uint64 { return t.id }

// Name returns the human readable task name.
func (t *Task) Name() string { return t.name }

// String implements fmt.Stringer.
func (t *Task) String() string { return fmt.Sprintf("%s#%d", t.name, t.id) }

// Kind returns the variant discriminant.
func (t *Task) Kind() Kind { return t.kind }

// UsesGPU reports whether the task bypasses the dependency graph.
func (t *Task) UsesGPU() bool { return t.kind == KindGPURaster }

// IsRequiredForActivation reports whether the task gates activation.
func (t *Task) IsRequiredForActivation() bool { return t.requiredForActivation }

// Resource returns the render target the task paints into.
func (t *Task) Resource() ResourceID { return t.resource }

// Dependencies returns the tasks this task depends on, in declaration order.
func (t *Task) Dependencies() []*Task { return t.deps }

// AddDependency appends dependencies after construction. It must not be
// called once the task has been scheduled.
func (t *Task) AddDependency(deps ...*Task) {
	t.deps = append(t.deps, deps...)
}

// SetDependencies replaces the dependencies of a task that has not started.
// Only the goroutine that schedules rounds may call it, between rounds.
func (t *Task) SetDependencies(deps ...*Task) error {
	if st := t.State(); st != Pending {
		return fmt.Errorf("%s is %s: %w", t, st, ErrInvalidTransition)
	}
	t.deps = append([]*Task(nil), deps...)
	return nil
}

// State returns the current execution state.
func (t *Task) State() State { return State(t.state.Load()) }

// HasCompleted reports whether the task passed DidComplete.
func (t *Task) HasCompleted() bool { return t.State() == Completed }

// Result returns what the executor reported for the task.
func (t *Task) Result() Result { return t.result }

// Buffer returns the raster buffer attached at acquisition, or nil.
func (t *Task) Buffer() *image.RGBA { return t.buffer }

// Acquired reports whether the broker handed the task a buffer.
func (t *Task) Acquired() bool { return t.acquired }

// AcquireErr returns the error the broker reported when acquiring the buffer.
func (t *Task) AcquireErr() error { return t.acquireErr }

// Attach records the outcome of buffer acquisition. It runs on the origin
// goroutine before the task is handed to an executor.
func (t *Task) Attach(buf *image.RGBA, err error) {
	if err != nil {
		t.acquireErr = err
		return
	}
	t.buffer = buf
	t.acquired = true
	t.acquireErr = nil
}

// Detach forgets the buffer attached to the task.
func (t *Task) Detach() {
	t.buffer = nil
	t.acquired = false
	t.acquireErr = nil
}

// MarkExecuting moves the task from Pending to Executing.
func (t *Task) MarkExecuting() error {
	return t.transition(Pending, Executing)
}

// Run executes the task body. A raster task whose buffer could not be
// acquired fails without running its body.
func (t *Task) Run(ctx context.Context) error {
	if t.kind == KindSentinel {
		return nil
	}
	if t.acquireErr != nil {
		return fmt.Errorf("raster task %s: %w", t, t.acquireErr)
	}
	if t.body == nil {
		return nil
	}
	return t.body(ctx, t)
}

// RecordRun stores the outcome of a completed Run.
func (t *Task) RecordRun(err error) {
	t.result = Result{Err: err}
}

// RecordCanceled marks the task as finished without having run.
func (t *Task) RecordCanceled() {
	t.result = Result{Canceled: true}
}

func (t *Task) transition(from, to State) error {
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("%s: %s -> %s: %w", t, from, to, ErrInvalidTransition)
	}
	if !t.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("%s: expected %s, got %s: %w", t, from, t.State(), ErrInvalidTransition)
	}
	return nil
}
