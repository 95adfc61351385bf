package app

import (
	"errors"
	"fmt"
	"time"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ScenePath string // hcl file or directory

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	WorkerCount     int

	// Frames is the minimum number of frames to run. Round k is scheduled
	// at frame k, so at least one frame per round is always run.
	Frames        int
	FrameInterval time.Duration

	NotifyURL       string
	NotifyNamespace string

	OutPath string // optional PNG of the final tile grid
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.ScenePath == "" {
		return nil, errors.New("ScenePath is a required configuration field and cannot be empty")
	}
	if cfg.WorkerCount < 1 {
		return nil, fmt.Errorf("WorkerCount must be at least 1, got %d", cfg.WorkerCount)
	}
	if cfg.Frames < 0 {
		return nil, fmt.Errorf("Frames must not be negative, got %d", cfg.Frames)
	}
	if cfg.FrameInterval < 0 {
		return nil, fmt.Errorf("FrameInterval must not be negative, got %s", cfg.FrameInterval)
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	switch cfg.LogFormat {
	case "", "text", "json":
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.LogFormat)
	}
	return &cfg, nil
}
