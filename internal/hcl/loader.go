package hcl

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/rastersched/internal/config"
	"github.com/vk/rastersched/internal/ctxlog"
	"github.com/vk/rastersched/internal/fsutil"
)

// DefaultTileSize is used when no file declares a scene block.
const DefaultTileSize = 64

var (
	// ErrNoFiles is returned when no .hcl file is found under the given paths.
	ErrNoFiles = errors.New("no scene files found")
	// ErrConflictingScene is returned when two scene blocks disagree.
	ErrConflictingScene = errors.New("conflicting scene blocks")
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL scene loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every .hcl file under paths, merges their blocks in file order
// and returns the validated scene.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Scene, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := fsutil.FindFiles(".hcl", paths...)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%v: %w", paths, ErrNoFiles)
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	parser := hclparse.NewParser()
	var scene *sceneBlock
	var tiles []*tileBlock
	var rounds []*roundBlock

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, nil, &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}

		for _, s := range root.Scenes {
			if scene != nil && scene.TileSize != s.TileSize {
				return nil, fmt.Errorf("%s: tile_size %d vs %d: %w", file, scene.TileSize, s.TileSize, ErrConflictingScene)
			}
			scene = s
		}
		tiles = append(tiles, root.Tiles...)
		rounds = append(rounds, root.Rounds...)
	}

	out := &config.Scene{TileSize: DefaultTileSize}
	if scene != nil {
		out.TileSize = scene.TileSize
	}
	evalCtx := newEvalContext(out.TileSize)
	for _, tb := range tiles {
		t, err := translateTile(tb, evalCtx, out.TileSize)
		if err != nil {
			return nil, err
		}
		out.Tiles = append(out.Tiles, t)
	}
	for _, rb := range rounds {
		out.Rounds = append(out.Rounds, &config.Round{Name: rb.Name, Tiles: rb.Tiles})
	}

	out.Normalize()
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scene: %w", err)
	}

	logger.Debug("HCL loading complete.", "tile_size", out.TileSize, "tiles", len(out.Tiles), "rounds", len(out.Rounds))
	return out, nil
}

// diagsError turns diagnostics into an error, or nil when there are none.
func diagsError(diags hcl.Diagnostics) error {
	if diags.HasErrors() {
		return diags
	}
	return nil
}
