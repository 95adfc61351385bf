package app

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vk/rastersched/internal/notify"
	"github.com/vk/rastersched/internal/scheduler"
)

// frameClient receives the scheduler's signals. It runs under the
// scheduler's lock, so it only reads the round it was told about.
type frameClient struct {
	logger   *slog.Logger
	notifier *notify.Forwarder
	round    atomic.Uint64

	activations atomic.Int64
	finished    atomic.Int64
}

func (c *frameClient) DidFinishRunningTasksRequiredForActivation() {
	c.activations.Add(1)
	c.forward(scheduler.SignalRequiredForActivation)
}

func (c *frameClient) DidFinishRunningTasks() {
	c.finished.Add(1)
	c.forward(scheduler.SignalAllFinished)
}

func (c *frameClient) forward(sig scheduler.Signal) {
	round := c.round.Load()
	c.logger.Debug("Client received signal.", "round", round, "signal", sig.String())
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Publish(round, sig.String(), time.Now()); err != nil {
		c.logger.Warn("Failed to forward signal.", "round", round, "signal", sig.String(), "error", err)
	}
}
