package hcl

import "github.com/hashicorp/hcl/v2"

// fileRoot is a struct used to decode all possible top-level blocks from any file.
type fileRoot struct {
	Scenes []*sceneBlock `hcl:"scene,block"`
	Tiles  []*tileBlock  `hcl:"tile,block"`
	Rounds []*roundBlock `hcl:"round,block"`
	Remain hcl.Body      `hcl:",remain"`
}

// sceneBlock holds scene-wide settings.
type sceneBlock struct {
	TileSize int `hcl:"tile_size"`
}

// tileBlock represents a `tile` block. Color and polygon are kept as
// expressions and evaluated once the tile size is known.
type tileBlock struct {
	Name                  string         `hcl:"name,label"`
	Column                int            `hcl:"column"`
	Row                   int            `hcl:"row"`
	RequiredForActivation bool           `hcl:"required_for_activation,optional"`
	GPU                   bool           `hcl:"gpu,optional"`
	DependsOn             []string       `hcl:"depends_on,optional"`
	Color                 hcl.Expression `hcl:"color,optional"`
	Polygon               hcl.Expression `hcl:"polygon,optional"`
}

// roundBlock represents a `round` block listing tiles in queue order.
type roundBlock struct {
	Name  string   `hcl:"name,label"`
	Tiles []string `hcl:"tiles"`
}
