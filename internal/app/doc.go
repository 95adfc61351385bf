// Package app contains the core application logic. It wires the scene
// loader, the raster scheduler and its executors together and drives them
// from a frame loop, decoupled from any specific entrypoint like a CLI.
package app
