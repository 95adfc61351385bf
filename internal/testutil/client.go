package testutil

import (
	"image"
	"sync"

	"github.com/vk/rastersched/internal/task"
)

// Signal names recorded by RecordingClient.
const (
	SignalActivation = "activation"
	SignalAll        = "all"
)

// RecordingClient records the aggregate completion signals in arrival order.
type RecordingClient struct {
	mu      sync.Mutex
	signals []string
}

// DidFinishRunningTasks records an all-finished signal.
func (c *RecordingClient) DidFinishRunningTasks() {
	c.record(SignalAll)
}

// DidFinishRunningTasksRequiredForActivation records an activation signal.
func (c *RecordingClient) DidFinishRunningTasksRequiredForActivation() {
	c.record(SignalActivation)
}

func (c *RecordingClient) record(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals = append(c.signals, s)
}

// Signals returns a copy of the recorded signals.
func (c *RecordingClient) Signals() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.signals...)
}

// Count returns how often the named signal fired.
func (c *RecordingClient) Count(signal string) int {
	n := 0
	for _, s := range c.Signals() {
		if s == signal {
			n++
		}
	}
	return n
}

// BrokerCall is one recorded Acquire or Release.
type BrokerCall struct {
	Op    string
	Task  *task.Task
	State task.State
}

// CountingBroker wraps a broker and records every call together with the
// task's state at the time of the call.
type CountingBroker struct {
	Inner interface {
		Acquire(t *task.Task) (*image.RGBA, error)
		Release(t *task.Task) error
	}

	mu    sync.Mutex
	calls []BrokerCall
}

// Acquire implements the broker contract.
func (b *CountingBroker) Acquire(t *task.Task) (*image.RGBA, error) {
	b.record("acquire", t)
	return b.Inner.Acquire(t)
}

// Release implements the broker contract.
func (b *CountingBroker) Release(t *task.Task) error {
	b.record("release", t)
	return b.Inner.Release(t)
}

func (b *CountingBroker) record(op string, t *task.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, BrokerCall{Op: op, Task: t, State: t.State()})
}

// Calls returns the calls made for t, in order.
func (b *CountingBroker) Calls(t *task.Task) []BrokerCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []BrokerCall
	for _, c := range b.calls {
		if c.Task == t {
			out = append(out, c)
		}
	}
	return out
}
