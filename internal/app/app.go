package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vk/rastersched/internal/config"
	"github.com/vk/rastersched/internal/ctxlog"
	"github.com/vk/rastersched/internal/metrics"
	"github.com/vk/rastersched/internal/resource"
	"github.com/vk/rastersched/internal/scheduler"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	ctx      context.Context
	logger   *slog.Logger
	config   *Config
	scene    *config.Scene
	provider *resource.Provider
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	sched      atomic.Pointer[scheduler.Scheduler]
	httpServer *http.Server
}

// NewApp is the constructor for the main application. It loads and validates
// the scene and prepares an isolated logger and metrics registry.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	scene, err := loader.Load(ctx, cfg.ScenePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load scene: %w", err)
	}
	logger.Debug("Scene loaded.", "tiles", len(scene.Tiles), "rounds", len(scene.Rounds), "tile_size", scene.TileSize)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &App{
		outW:     outW,
		ctx:      ctx,
		logger:   logger,
		config:   cfg,
		scene:    scene,
		provider: resource.NewProvider(scene.TileSize),
		registry: reg,
		metrics:  metrics.New(reg),
	}, nil
}

// Scene returns the loaded scene. This is primarily for testing.
func (a *App) Scene() *config.Scene {
	return a.scene
}

// Provider returns the raster buffer provider. This is primarily for testing.
func (a *App) Provider() *resource.Provider {
	return a.provider
}
