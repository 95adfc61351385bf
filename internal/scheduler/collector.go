package scheduler

import (
	"context"
	"time"

	"github.com/vk/rastersched/internal/ctxlog"
	"github.com/vk/rastersched/internal/task"
)

// CheckForCompletedTasks finalizes every task the executors reported as
// finished. It never waits for running work.
func (s *Scheduler) CheckForCompletedTasks(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	n := s.drain(ctx)
	s.metrics.ObserveDrain(start)
	if n > 0 {
		ctxlog.FromContext(ctx).Debug("Drained completed tasks.", "tasks", n, "state", s.stateLocked())
	}
}

// drain runs the completion stages for everything collected from the graph
// runner, repeating while completing tasks makes further nodes finish, then
// does the same for the GPU context. It returns the number of reports
// processed.
func (s *Scheduler) drain(ctx context.Context) int {
	n := 0
	for {
		done := s.runner.CollectCompletedTasks()
		if len(done) == 0 {
			break
		}
		for _, t := range done {
			s.finalize(ctx, t, true)
		}
		n += len(done)
	}
	for _, t := range s.gpu.CollectCompletedTasks() {
		s.finalize(ctx, t, false)
		n++
	}
	s.metrics.TasksInFlight.Set(float64(len(s.inFlight)))
	return n
}

// finalize runs the four completion stages for t in their fixed order.
func (s *Scheduler) finalize(ctx context.Context, t *task.Task, viaGraph bool) {
	logger := ctxlog.FromContext(ctx).With("task", t.String())

	if err := t.WillComplete(); err != nil {
		s.metrics.DoubleCompletions.Inc()
		logger.Warn("Ignoring duplicate completion report.", "error", err)
		return
	}
	if err := t.CompleteOnOrigin(s.broker); err != nil {
		logger.Error("Failed to release raster buffer.", "error", err)
	}
	if err := t.DidComplete(); err != nil {
		logger.Warn("Task completed twice.", "error", err)
	}
	t.RunReply()

	if viaGraph {
		if err := s.runner.CompleteTask(t); err != nil {
			logger.Error("Executor rejected completion.", "error", err)
		}
	}

	f, tracked := s.inFlight[t]
	if !tracked {
		logger.Warn("Completed a task that was not in flight.")
	}
	delete(s.inFlight, t)

	if t.Kind() == task.KindSentinel {
		return
	}
	s.completedTotal++
	kind := t.Kind().String()
	s.metrics.TasksCompleted.WithLabelValues(kind).Inc()
	if res := t.Result(); !res.OK() {
		s.metrics.TasksFailed.WithLabelValues(kind).Inc()
		logger.Warn("Task finished with an error.", "round", f.round, "error", res.Err)
		return
	}
	logger.Debug("Task completed.", "round", f.round)
}

// sentinelReply returns the reply of one of round id's sentinels. Replies of
// sentinels that are no longer current are ignored, so a replaced round can
// never raise a signal on behalf of its successor.
func (s *Scheduler) sentinelReply(id uint64, sig Signal) task.ReplyFunc {
	return func(t *task.Task, res task.Result) {
		logger := s.logger.With("round", id, "signal", sig.String())

		current := s.allFinished
		if sig == SignalRequiredForActivation {
			current = s.activationReady
		}
		if res.Canceled || t != current {
			logger.Debug("Ignoring sentinel of a replaced round.", "canceled", res.Canceled)
			return
		}

		s.recordEvent(Event{Round: id, Signal: sig, At: time.Now()})
		s.metrics.Signals.WithLabelValues(sig.String()).Inc()

		switch sig {
		case SignalRequiredForActivation:
			s.activationPending = false
			logger.Info("Tasks required for activation finished.")
			s.client.DidFinishRunningTasksRequiredForActivation()
		case SignalAllFinished:
			s.allPending = false
			logger.Info("✅ All tasks finished.", "duration", time.Since(s.roundStarted))
			s.client.DidFinishRunningTasks()
		}
	}
}

func (s *Scheduler) recordEvent(e Event) {
	if len(s.events) >= s.eventLimit {
		n := copy(s.events, s.events[len(s.events)-s.eventLimit+1:])
		s.events = s.events[:n]
	}
	s.events = append(s.events, e)
}
