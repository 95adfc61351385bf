package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/rastersched/internal/ctxlog"
	"github.com/vk/rastersched/internal/executor"
	"github.com/vk/rastersched/internal/gpu"
	"github.com/vk/rastersched/internal/notify"
	"github.com/vk/rastersched/internal/scheduler"
)

// Run schedules every round of the scene, one per frame, drains completions
// each frame and finally waits for all outstanding work.
func (a *App) Run(ctx context.Context) (err error) {
	logger := a.logger
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("App.Run method started.")

	runner := executor.New(ctx, a.config.WorkerCount)
	gpuCtx := gpu.New(ctx)
	defer func() {
		err = errors.Join(err, runner.Shutdown(), gpuCtx.Close())
	}()

	client := &frameClient{logger: logger}
	if a.config.NotifyURL != "" {
		f, derr := notify.Dial(ctx, notify.Options{URL: a.config.NotifyURL, Namespace: a.config.NotifyNamespace})
		if derr != nil {
			return fmt.Errorf("connecting notifier: %w", derr)
		}
		defer f.Close()
		client.notifier = f
	}

	sched := scheduler.New(ctx, runner, gpuCtx, a.provider, client, scheduler.WithMetrics(a.metrics))
	a.sched.Store(sched)
	a.healthCheckServer()
	defer func() {
		err = errors.Join(err, a.closeHealthCheckServer())
	}()

	tiles := newTileSet(a.scene, logger)
	frames := max(a.config.Frames, len(a.scene.Rounds))
	logger.Info("🚀 Starting frame loop...", "frames", frames, "rounds", len(a.scene.Rounds), "workers", a.config.WorkerCount)

	var tick <-chan time.Time
	if a.config.FrameInterval > 0 {
		ticker := time.NewTicker(a.config.FrameInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	start := time.Now()
loop:
	for frame := 0; frame < frames; frame++ {
		if frame < len(a.scene.Rounds) {
			round := a.scene.Rounds[frame]
			q, qerr := tiles.queue(round)
			if qerr != nil {
				return qerr
			}
			if serr := sched.ScheduleTasks(ctx, q); serr != nil {
				return fmt.Errorf("frame %d: %w", frame, serr)
			}
			client.round.Store(sched.State().Round)
			logger.Debug("Round scheduled.", "frame", frame, "round", round.Name, "tasks", q.Len())
		}
		sched.CheckForCompletedTasks(ctx)

		if tick == nil {
			if ctx.Err() != nil {
				break loop
			}
			continue
		}
		select {
		case <-tick:
		case <-ctx.Done():
			logger.Warn("Frame loop interrupted.", "frame", frame, "error", ctx.Err())
			break loop
		}
	}

	sched.Flush(ctx)
	if serr := sched.Shutdown(ctx); serr != nil {
		return fmt.Errorf("shutting down scheduler: %w", serr)
	}

	state := sched.State()
	logger.Info("🏁 Frame loop finished.",
		"duration", time.Since(start),
		"state", state,
		"activation_signals", client.activations.Load(),
		"finished_signals", client.finished.Load(),
		"failed_tiles", tiles.failed,
		"format", a.provider.Format(),
	)

	if a.config.OutPath != "" {
		if werr := a.writePNG(a.config.OutPath); werr != nil {
			return werr
		}
		logger.Info("Wrote tile grid.", "path", a.config.OutPath)
	}
	var errs []error
	if err := ctx.Err(); err != nil {
		errs = append(errs, fmt.Errorf("frame loop interrupted: %w", err))
	}
	if tiles.failed > 0 {
		errs = append(errs, fmt.Errorf("%d tiles failed to paint", tiles.failed))
	}
	return errors.Join(errs...)
}
