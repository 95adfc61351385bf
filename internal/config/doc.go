// Package config defines the format-agnostic scene model: the tiles to
// rasterize, how they depend on each other and the rounds in which they are
// scheduled. Concrete loaders, such as the HCL one, live in separate packages.
package config
