package app

import (
	"fmt"
	"image"
	"image/png"
	"os"

	xdraw "golang.org/x/image/draw"
)

// compose assembles the painted tiles into one image.
func (a *App) compose() *image.RGBA {
	size := a.scene.TileSize
	columns, rows := a.scene.GridSize()
	canvas := image.NewRGBA(image.Rect(0, 0, columns*size, rows*size))
	for _, tile := range a.scene.Tiles {
		img := a.provider.Snapshot(resourceID(tile, columns))
		if img == nil {
			continue
		}
		at := image.Pt(tile.Column*size, tile.Row*size)
		xdraw.Copy(canvas, at, img, img.Bounds(), xdraw.Src, nil)
	}
	return canvas
}

// writePNG writes the composed tile grid to path.
func (a *App) writePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	if err := png.Encode(f, a.compose()); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return f.Close()
}
