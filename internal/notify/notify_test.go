package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/rastersched/internal/testutil"
)

type recordingEmitter struct {
	events []string
	args   [][]any
	err    error
}

func (e *recordingEmitter) Emit(event string, args ...any) error {
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, event)
	e.args = append(e.args, args)
	return nil
}

func TestForwarder_Publish(t *testing.T) {
	ctx := testutil.Context(t)
	e := &recordingEmitter{}
	closed := 0
	f := New(ctx, e, func() { closed++ })

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, f.Publish(3, "all_finished", at))

	require.Equal(t, []string{Event}, e.events)
	assert.Equal(t, []any{Message{Round: 3, Signal: "all_finished", At: "2026-01-02T03:04:05Z"}}, e.args[0])
	assert.Equal(t, 1, f.Sent())

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.Equal(t, 1, closed)
	assert.ErrorIs(t, f.Publish(4, "all_finished", at), ErrClosed)
}

func TestForwarder_PublishError(t *testing.T) {
	ctx := testutil.Context(t)
	boom := errors.New("socket gone")
	f := New(ctx, &recordingEmitter{err: boom}, nil)

	err := f.Publish(1, "required_for_activation", time.Now())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, f.Sent())
	assert.NoError(t, f.Close())
}

func TestDial_BadURL(t *testing.T) {
	ctx := testutil.Context(t)
	_, err := Dial(ctx, Options{URL: "://nope"})
	assert.ErrorContains(t, err, "failed to parse URL")
}
