package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/rastersched/internal/graph"
	"github.com/vk/rastersched/internal/task"
	"github.com/vk/rastersched/internal/testutil"
)

type runLog struct {
	mu    sync.Mutex
	names []string
}

func (l *runLog) body(err error) task.Body {
	return func(_ context.Context, t *task.Task) error {
		l.mu.Lock()
		l.names = append(l.names, t.Name())
		l.mu.Unlock()
		return err
	}
}

func (l *runLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

func newRunner(t *testing.T, workers int) (*Runner, context.Context) {
	t.Helper()
	ctx := testutil.Context(t)
	r := New(ctx, workers)
	t.Cleanup(func() { require.NoError(t, r.Shutdown()) })
	return r, ctx
}

func names(ts []*task.Task) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Name())
	}
	return out
}

func TestRunner_PrefersUrgentPriorities(t *testing.T) {
	t.Parallel()
	r, ctx := newRunner(t, 1)

	log := &runLog{}
	a := task.NewRaster("a", 1, task.WithBody(log.body(nil)))
	b := task.NewRaster("b", 2, task.WithBody(log.body(nil)))
	c := task.NewRaster("c", 3, task.WithBody(log.body(nil)))

	g := graph.New()
	require.NoError(t, g.InsertNode(a, 30, 0))
	require.NoError(t, g.InsertNode(b, 10, 0))
	require.NoError(t, g.InsertNode(c, 20, 0))
	require.NoError(t, r.SetTaskGraph(ctx, g))

	r.WaitIdle()
	if diff := cmp.Diff([]string{"b", "c", "a"}, log.get()); diff != "" {
		t.Errorf("run order mismatch (-want +got):\n%s", diff)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, names(r.CollectCompletedTasks()))
}

func TestRunner_DependentsWaitForCompleteTask(t *testing.T) {
	t.Parallel()
	r, ctx := newRunner(t, 2)

	log := &runLog{}
	a := task.NewRaster("a", 1, task.WithBody(log.body(nil)))
	b := task.NewRaster("b", 2, task.DependsOn(a), task.WithBody(log.body(nil)))

	g := graph.New()
	require.NoError(t, g.InsertNode(a, 1, 0))
	require.NoError(t, g.InsertNode(b, 2, 1))
	g.AddEdge(a, b)
	require.NoError(t, r.SetTaskGraph(ctx, g))

	r.WaitIdle()
	assert.Equal(t, []string{"a"}, names(r.CollectCompletedTasks()))
	assert.Equal(t, task.Pending, b.State(), "b must not run before a is completed on the origin side")

	require.NoError(t, r.CompleteTask(a))
	r.WaitIdle()
	assert.Equal(t, []string{"b"}, names(r.CollectCompletedTasks()))
	assert.Equal(t, []string{"a", "b"}, log.get())
}

func TestRunner_SentinelsFinishInline(t *testing.T) {
	t.Parallel()
	r, ctx := newRunner(t, 1)

	a := task.NewRaster("a", 1)
	all := task.NewSentinel("all", nil)
	empty := task.NewSentinel("empty", nil)

	g := graph.New()
	require.NoError(t, g.InsertNode(a, 1, 0))
	require.NoError(t, g.InsertNode(empty, graph.RequiredForActivationFinishedPriority, 0))
	require.NoError(t, g.InsertNode(all, graph.AllFinishedPriority, 1))
	g.AddEdge(a, all)
	require.NoError(t, r.SetTaskGraph(ctx, g))

	r.WaitIdle()
	assert.ElementsMatch(t, []string{"a", "empty"}, names(r.CollectCompletedTasks()))

	require.NoError(t, r.CompleteTask(a))
	done := r.CollectCompletedTasks()
	assert.Equal(t, []string{"all"}, names(done), "sentinel is reported as soon as its last dependency completes")
	assert.True(t, done[0].Result().OK())
}

func TestRunner_InlineFinishLogsStartedSentinel(t *testing.T) {
	t.Parallel()
	ctx, logs := testutil.ContextWithLog(t)
	r := New(ctx, 1)
	t.Cleanup(func() { require.NoError(t, r.Shutdown()) })

	s := task.NewSentinel("s", nil)
	require.NoError(t, s.MarkExecuting())

	g := graph.New()
	require.NoError(t, g.InsertNode(s, graph.AllFinishedPriority, 0))
	require.NoError(t, r.SetTaskGraph(ctx, g))

	assert.Equal(t, []string{"s"}, names(r.CollectCompletedTasks()))
	assert.Contains(t, logs.String(), "Sentinel was finished twice.")
}

func TestRunner_ReplacingGraph(t *testing.T) {
	t.Parallel()
	// One worker, so y cannot start while x holds it.
	r, ctx := newRunner(t, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	x := task.NewRaster("x", 1, task.WithBody(func(context.Context, *task.Task) error {
		close(started)
		<-release
		return nil
	}))
	a := task.NewRaster("a", 2, task.DependsOn(x))
	s1 := task.NewSentinel("s1", nil)

	g1 := graph.New()
	require.NoError(t, g1.InsertNode(x, 1, 0))
	require.NoError(t, g1.InsertNode(a, 2, 1))
	require.NoError(t, g1.InsertNode(s1, graph.AllFinishedPriority, 1))
	g1.AddEdge(x, a)
	g1.AddEdge(a, s1)
	require.NoError(t, r.SetTaskGraph(ctx, g1))
	<-started

	y := task.NewRaster("y", 3)
	s2 := task.NewSentinel("s2", nil)
	g2 := graph.New()
	require.NoError(t, g2.InsertNode(y, 1, 0))
	require.NoError(t, g2.InsertNode(s2, graph.AllFinishedPriority, 1))
	g2.AddEdge(y, s2)
	require.NoError(t, r.SetTaskGraph(ctx, g2))

	canceled := r.CollectCompletedTasks()
	require.Equal(t, []string{"s1"}, names(canceled))
	assert.True(t, canceled[0].Result().Canceled)

	close(release)
	r.WaitIdle()
	assert.ElementsMatch(t, []string{"x", "y"}, names(r.CollectCompletedTasks()))
	require.NoError(t, r.CompleteTask(s1))
	require.NoError(t, r.CompleteTask(y))
	assert.Equal(t, []string{"s2"}, names(r.CollectCompletedTasks()))
	require.NoError(t, r.CompleteTask(s2))

	// The retired task a still runs once x completes.
	require.NoError(t, r.CompleteTask(x))
	r.WaitIdle()
	done := r.CollectCompletedTasks()
	require.Equal(t, []string{"a"}, names(done))
	assert.True(t, done[0].Result().OK())
	require.NoError(t, r.CompleteTask(a))
	assert.Zero(t, r.Stats().Tracked)
}

func TestRunner_RequeuedTaskIsNotRunTwice(t *testing.T) {
	t.Parallel()
	r, ctx := newRunner(t, 1)

	log := &runLog{}
	a := task.NewRaster("a", 1, task.WithBody(log.body(nil)))

	for i := 0; i < 2; i++ {
		g := graph.New()
		require.NoError(t, g.InsertNode(a, graph.Priority(i+1), 0))
		require.NoError(t, r.SetTaskGraph(ctx, g))
		r.WaitIdle()
	}
	assert.Equal(t, []string{"a"}, names(r.CollectCompletedTasks()))
	assert.Equal(t, []string{"a"}, log.get())
}

func TestRunner_FailuresAreReported(t *testing.T) {
	t.Parallel()
	r, ctx := newRunner(t, 2)

	boom := errors.New("boom")
	log := &runLog{}
	failing := task.NewRaster("failing", 1, task.WithBody(log.body(boom)))
	panicking := task.NewRaster("panicking", 2, task.WithBody(func(context.Context, *task.Task) error {
		panic("bad tile")
	}))

	g := graph.New()
	require.NoError(t, g.InsertNode(failing, 1, 0))
	require.NoError(t, g.InsertNode(panicking, 2, 0))
	require.NoError(t, r.SetTaskGraph(ctx, g))
	r.WaitIdle()

	require.Len(t, r.CollectCompletedTasks(), 2)
	assert.ErrorIs(t, failing.Result().Err, boom)
	assert.ErrorContains(t, panicking.Result().Err, "panicked")
}

func TestRunner_CompleteTaskErrors(t *testing.T) {
	t.Parallel()
	r, _ := newRunner(t, 1)

	assert.ErrorIs(t, r.CompleteTask(task.NewRaster("ghost", 1)), ErrNotFinished)
}

func TestRunner_ClosedRejectsGraphs(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t)
	r := New(ctx, 1)
	require.NoError(t, r.Shutdown())
	assert.ErrorIs(t, r.SetTaskGraph(ctx, graph.New()), ErrClosed)
}
