package task

import "fmt"

// State is the execution state of a task. It only ever moves forward.
type State int32

const (
	// Pending tasks have not been picked up for execution yet.
	Pending State = iota
	// Executing tasks have been handed to a worker or the GPU context.
	Executing
	// Completed tasks have passed DidComplete on the origin goroutine.
	Completed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Executing:
		return "EXECUTING"
	case Completed:
		return "COMPLETED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// isAllowedTransition reports whether from -> to is a legal move.
// Pending -> Completed is only taken by tasks cancelled before they ran.
func isAllowedTransition(from, to State) bool {
	switch from {
	case Pending:
		return to == Executing || to == Completed
	case Executing:
		return to == Completed
	default:
		return false
	}
}

// Kind is the discriminant of the task variant.
type Kind int

const (
	// KindRaster paints a tile on the worker pool through an image-backed buffer.
	KindRaster Kind = iota
	// KindGPURaster paints a tile on the GPU context through a direct buffer.
	KindGPURaster
	// KindSentinel is a no-op task aggregating the completion of its dependencies.
	KindSentinel
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindRaster:
		return "raster"
	case KindGPURaster:
		return "gpu_raster"
	case KindSentinel:
		return "sentinel"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}
