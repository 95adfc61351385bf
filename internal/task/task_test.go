package task

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReleaser struct {
	released []*Task
	err      error
}

func (r *countingReleaser) Release(t *Task) error {
	r.released = append(r.released, t)
	return r.err
}

func TestNewRaster_Options(t *testing.T) {
	t.Parallel()

	dep := NewRaster("dep", 1)
	tk := NewRaster("tile", 7, DependsOn(dep), RequiredForActivation(), UseGPU())

	assert.Equal(t, KindGPURaster, tk.Kind())
	assert.True(t, tk.UsesGPU())
	assert.True(t, tk.IsRequiredForActivation())
	assert.Equal(t, ResourceID(7), tk.Resource())
	assert.Equal(t, []*Task{dep}, tk.Dependencies())
	assert.Equal(t, Pending, tk.State())
	assert.NotEqual(t, dep.ID(), tk.ID())
}

func TestStateTransitions(t *testing.T) {
	t.Parallel()

	t.Run("forward moves succeed", func(t *testing.T) {
		tk := NewRaster("a", 1)
		require.NoError(t, tk.MarkExecuting())
		assert.Equal(t, Executing, tk.State())
		require.NoError(t, tk.DidComplete())
		assert.True(t, tk.HasCompleted())
	})

	t.Run("executing twice is rejected", func(t *testing.T) {
		tk := NewRaster("a", 1)
		require.NoError(t, tk.MarkExecuting())
		assert.ErrorIs(t, tk.MarkExecuting(), ErrInvalidTransition)
	})

	t.Run("completed never regresses", func(t *testing.T) {
		tk := NewRaster("a", 1)
		require.NoError(t, tk.DidComplete())
		assert.ErrorIs(t, tk.MarkExecuting(), ErrInvalidTransition)
		assert.ErrorIs(t, tk.DidComplete(), ErrAlreadyCompleted)
		assert.Equal(t, Completed, tk.State())
	})
}

func TestLifecycle_RasterReleasesOnce(t *testing.T) {
	t.Parallel()

	var got []Result
	tk := NewRaster("a", 1, WithReply(func(_ *Task, r Result) { got = append(got, r) }))
	tk.Attach(image.NewRGBA(image.Rect(0, 0, 4, 4)), nil)
	require.True(t, tk.Acquired())
	tk.RecordRun(nil)

	rel := &countingReleaser{}
	require.NoError(t, tk.WillComplete())
	require.NoError(t, tk.CompleteOnOrigin(rel))
	require.NoError(t, tk.DidComplete())
	tk.RunReply()

	assert.Equal(t, []*Task{tk}, rel.released)
	assert.False(t, tk.Acquired())
	assert.Nil(t, tk.Buffer())
	require.Len(t, got, 1)
	assert.True(t, got[0].OK())

	assert.ErrorIs(t, tk.WillComplete(), ErrAlreadyCompleted)
}

func TestLifecycle_SentinelHasNoResource(t *testing.T) {
	t.Parallel()

	fired := 0
	s := NewSentinel("all", func(*Task, Result) { fired++ })
	rel := &countingReleaser{}

	require.NoError(t, s.WillComplete())
	require.NoError(t, s.CompleteOnOrigin(rel))
	require.NoError(t, s.DidComplete())
	s.RunReply()

	assert.Empty(t, rel.released)
	assert.Equal(t, 1, fired)
}

func TestLifecycle_ReleaseErrorIsReported(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tk := NewRaster("a", 1)
	tk.Attach(image.NewRGBA(image.Rect(0, 0, 1, 1)), nil)

	require.NoError(t, tk.WillComplete())
	err := tk.CompleteOnOrigin(&countingReleaser{err: boom})
	assert.ErrorIs(t, err, boom)
	assert.False(t, tk.Acquired(), "a failed release must not be retried")
}

func TestRun_AcquireFailureSkipsBody(t *testing.T) {
	t.Parallel()

	ran := false
	noBuf := errors.New("out of buffers")
	tk := NewRaster("a", 1, WithBody(func(context.Context, *Task) error {
		ran = true
		return nil
	}))
	tk.Attach(nil, noBuf)

	err := tk.Run(context.Background())
	assert.ErrorIs(t, err, noBuf)
	assert.False(t, ran)
	assert.False(t, tk.Acquired())
}

func TestQueue(t *testing.T) {
	t.Parallel()

	a := NewRaster("a", 1, RequiredForActivation())
	b := NewRaster("b", 2)
	g := NewRaster("g", 3, RequiredForActivation(), UseGPU())
	q := NewQueue(a, b, g)

	assert.Equal(t, 3, q.Len())
	assert.True(t, q.Contains(b))
	assert.False(t, q.Contains(NewRaster("b", 2)), "tasks compare by identity")
	assert.Equal(t, 1, q.RequiredForActivationCount())

	var nilQueue *Queue
	assert.Zero(t, nilQueue.Len())
}

func TestAttach_SuccessClearsEarlierFailure(t *testing.T) {
	t.Parallel()

	tk := NewRaster("a", 1)
	tk.Attach(nil, errors.New("no memory"))
	require.Error(t, tk.AcquireErr())
	require.False(t, tk.Acquired())

	tk.Attach(image.NewRGBA(image.Rect(0, 0, 4, 4)), nil)
	assert.NoError(t, tk.AcquireErr())
	assert.True(t, tk.Acquired())
}

func TestSetDependencies(t *testing.T) {
	t.Parallel()

	old, repl := NewRaster("old", 1), NewRaster("new", 1)
	tk := NewRaster("a", 2, DependsOn(old))
	require.NoError(t, tk.SetDependencies(repl))
	assert.Equal(t, []*Task{repl}, tk.Dependencies())

	require.NoError(t, tk.MarkExecuting())
	assert.ErrorIs(t, tk.SetDependencies(old), ErrInvalidTransition)
	assert.Equal(t, []*Task{repl}, tk.Dependencies())
}
