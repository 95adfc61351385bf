package scheduler

import (
	"log/slog"
	"time"
)

// Signal is one of the two aggregate completion signals.
type Signal int

const (
	// SignalRequiredForActivation fires once the activation subset finished.
	SignalRequiredForActivation Signal = iota
	// SignalAllFinished fires once every graph task of the round finished.
	SignalAllFinished
)

func (s Signal) String() string {
	switch s {
	case SignalRequiredForActivation:
		return "required_for_activation"
	case SignalAllFinished:
		return "all_finished"
	default:
		return "unknown"
	}
}

// Event records one raised signal.
type Event struct {
	Round  uint64
	Signal Signal
	At     time.Time
}

// State is a point-in-time view of the scheduler.
type State struct {
	Round             uint64 `json:"round"`
	AllPending        bool   `json:"all_pending"`
	ActivationPending bool   `json:"activation_pending"`
	InFlight          int    `json:"in_flight"`
	GPUInFlight       int    `json:"gpu_in_flight"`
	CompletedTotal    int    `json:"completed_total"`
}

// LogValue implements slog.LogValuer.
func (s State) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("round", s.Round),
		slog.Bool("all_pending", s.AllPending),
		slog.Bool("activation_pending", s.ActivationPending),
		slog.Int("in_flight", s.InFlight),
		slog.Int("gpu_in_flight", s.GPUInFlight),
		slog.Int("completed_total", s.CompletedTotal),
	)
}
