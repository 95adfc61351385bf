package config

import "context"

// Loader is the interface for a format-specific scene loader.
type Loader interface {
	// Load reads every scene file found under paths, translates it into the
	// format-agnostic model and validates the result.
	Load(ctx context.Context, paths ...string) (*Scene, error)
}
