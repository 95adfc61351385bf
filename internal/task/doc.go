// Package task defines the unit of rasterization work handled by the
// scheduler.
//
// A Task is a closed variant: its Kind says whether it paints a tile on the
// worker pool (KindRaster), paints a tile on the GPU context (KindGPURaster)
// or only aggregates the completion of other tasks (KindSentinel). The four
// origin-side lifecycle stages (WillComplete, CompleteOnOrigin, DidComplete,
// RunReply) switch on that kind instead of relying on per-type overrides.
//
// Tasks are compared by identity. Two tasks with identical fields are still
// different tasks.
package task
