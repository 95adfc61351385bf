// Package raster paints tile contents into acquired buffers.
package raster

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/vk/rastersched/internal/task"
	"golang.org/x/image/vector"
)

// ErrDegenerate is returned for polygons with fewer than three points.
var ErrDegenerate = errors.New("polygon needs at least three points")

// Shape is a filled polygon in tile-local pixel coordinates.
type Shape struct {
	Color   color.RGBA
	Polygon [][2]float64
}

// Paint clears dst and fills the shape's polygon with its color.
func Paint(dst *image.RGBA, s Shape) error {
	if len(s.Polygon) < 3 {
		return fmt.Errorf("%d points: %w", len(s.Polygon), ErrDegenerate)
	}
	b := dst.Bounds()
	clear(dst.Pix)

	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.MoveTo(float32(s.Polygon[0][0]), float32(s.Polygon[0][1]))
	for _, p := range s.Polygon[1:] {
		z.LineTo(float32(p[0]), float32(p[1]))
	}
	z.ClosePath()
	z.Draw(dst, b, image.NewUniform(s.Color), image.Point{})
	return nil
}

// Body returns a task body painting s into the task's buffer.
func Body(s Shape) task.Body {
	return func(ctx context.Context, t *task.Task) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		buf := t.Buffer()
		if buf == nil {
			return fmt.Errorf("painting %s: %w", t, task.ErrNoBuffer)
		}
		return Paint(buf, s)
	}
}
