// This file contains the logic for translating decoded HCL blocks into the
// format-agnostic scene model.

package hcl

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/rastersched/internal/config"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	"github.com/zclconf/go-cty/cty/gocty"
)

var defaultColor = [4]uint8{255, 255, 255, 255}

// newEvalContext exposes the tile size and a few numeric functions to shape
// expressions.
func newEvalContext(tileSize int) *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"tile_size": cty.NumberIntVal(int64(tileSize)),
		},
		Functions: map[string]function.Function{
			"min":   stdlib.MinFunc,
			"max":   stdlib.MaxFunc,
			"abs":   stdlib.AbsoluteFunc,
			"floor": stdlib.FloorFunc,
			"ceil":  stdlib.CeilFunc,
		},
	}
}

// translateTile converts a tile block into the agnostic model.
func translateTile(b *tileBlock, evalCtx *hcl.EvalContext, tileSize int) (*config.Tile, error) {
	t := &config.Tile{
		Name:                  b.Name,
		Column:                b.Column,
		Row:                   b.Row,
		RequiredForActivation: b.RequiredForActivation,
		GPU:                   b.GPU,
		DependsOn:             b.DependsOn,
	}

	color, err := translateColor(b.Color, evalCtx)
	if err != nil {
		return nil, fmt.Errorf("tile %q: %w", b.Name, err)
	}
	t.Color = color

	polygon, err := translatePolygon(b.Polygon, evalCtx, tileSize)
	if err != nil {
		return nil, fmt.Errorf("tile %q: %w", b.Name, err)
	}
	t.Polygon = polygon
	return t, nil
}

// translateColor evaluates an [r, g, b, a] list. A missing color is opaque white.
func translateColor(expr hcl.Expression, evalCtx *hcl.EvalContext) ([4]uint8, error) {
	val, err := evaluate(expr, evalCtx)
	if err != nil || val.IsNull() {
		return defaultColor, err
	}
	var channels []int
	if err := decode(val, cty.List(cty.Number), &channels); err != nil {
		return [4]uint8{}, fmt.Errorf("color: %w", err)
	}
	if len(channels) != 4 {
		return [4]uint8{}, fmt.Errorf("color needs 4 channels, got %d: %w", len(channels), config.ErrInvalidShape)
	}
	var out [4]uint8
	for i, c := range channels {
		if c < 0 || c > 255 {
			return [4]uint8{}, fmt.Errorf("color channel %d out of range: %w", c, config.ErrInvalidShape)
		}
		out[i] = uint8(c)
	}
	return out, nil
}

// translatePolygon evaluates a list of [x, y] points. A missing polygon
// covers the whole tile.
func translatePolygon(expr hcl.Expression, evalCtx *hcl.EvalContext, tileSize int) ([][2]float64, error) {
	val, err := evaluate(expr, evalCtx)
	if err != nil {
		return nil, err
	}
	if val.IsNull() {
		s := float64(tileSize)
		return [][2]float64{{0, 0}, {s, 0}, {s, s}, {0, s}}, nil
	}

	var points [][]float64
	if err := decode(val, cty.List(cty.List(cty.Number)), &points); err != nil {
		return nil, fmt.Errorf("polygon: %w", err)
	}
	out := make([][2]float64, 0, len(points))
	for i, p := range points {
		if len(p) != 2 {
			return nil, fmt.Errorf("polygon point %d has %d coordinates: %w", i, len(p), config.ErrInvalidShape)
		}
		out = append(out, [2]float64{p[0], p[1]})
	}
	return out, nil
}

func evaluate(expr hcl.Expression, evalCtx *hcl.EvalContext) (cty.Value, error) {
	if expr == nil {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	val, diags := expr.Value(evalCtx)
	if err := diagsError(diags); err != nil {
		return cty.NilVal, err
	}
	return val, nil
}

// decode converts val to ty and stores it in the Go value pointed to by target.
func decode(val cty.Value, ty cty.Type, target any) error {
	converted, err := convert.Convert(val, ty)
	if err != nil {
		return fmt.Errorf("cannot convert %s to %s: %w", val.Type().FriendlyName(), ty.FriendlyName(), err)
	}
	return gocty.FromCtyValue(converted, target)
}
