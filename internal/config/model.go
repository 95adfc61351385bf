package config

import (
	"errors"
	"fmt"
)

// DefaultRoundName names the round used when a scene declares none.
const DefaultRoundName = "default"

var (
	ErrInvalidTileSize   = errors.New("tile size must be positive")
	ErrNoTiles           = errors.New("scene has no tiles")
	ErrDuplicateTile     = errors.New("duplicate tile name")
	ErrDuplicatePosition = errors.New("two tiles share a grid position")
	ErrInvalidPosition   = errors.New("tile position must not be negative")
	ErrUnknownTile       = errors.New("unknown tile")
	ErrGPUDependency     = errors.New("gpu tiles cannot have or be dependencies")
	ErrDependencyCycle   = errors.New("tile dependencies form a cycle")
	ErrInvalidShape      = errors.New("invalid tile shape")
	ErrDuplicateRound    = errors.New("duplicate round name")
)

// Scene is the unified representation of a scene file.
type Scene struct {
	TileSize int
	Tiles    []*Tile
	Rounds   []*Round
}

// Tile is one cell of the tile grid and the shape painted into it.
type Tile struct {
	Name                  string
	Column                int
	Row                   int
	RequiredForActivation bool
	GPU                   bool
	DependsOn             []string
	Color                 [4]uint8
	Polygon               [][2]float64
}

// Round lists the tiles scheduled together, most urgent first.
type Round struct {
	Name  string
	Tiles []string
}

// Tile returns the tile with the given name.
func (s *Scene) Tile(name string) (*Tile, bool) {
	for _, t := range s.Tiles {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// GridSize returns the number of columns and rows spanned by the tiles.
func (s *Scene) GridSize() (columns, rows int) {
	for _, t := range s.Tiles {
		columns = max(columns, t.Column+1)
		rows = max(rows, t.Row+1)
	}
	return columns, rows
}

// Normalize fills in the default round when the scene declares none.
func (s *Scene) Normalize() {
	if len(s.Rounds) > 0 {
		return
	}
	r := &Round{Name: DefaultRoundName}
	for _, t := range s.Tiles {
		r.Tiles = append(r.Tiles, t.Name)
	}
	s.Rounds = []*Round{r}
}

// Validate checks the scene for problems the scheduler would reject later.
func (s *Scene) Validate() error {
	if s.TileSize <= 0 {
		return fmt.Errorf("%d: %w", s.TileSize, ErrInvalidTileSize)
	}
	if len(s.Tiles) == 0 {
		return ErrNoTiles
	}

	byName := make(map[string]*Tile, len(s.Tiles))
	positions := make(map[[2]int]string, len(s.Tiles))
	for _, t := range s.Tiles {
		if _, ok := byName[t.Name]; ok {
			return fmt.Errorf("tile %q: %w", t.Name, ErrDuplicateTile)
		}
		byName[t.Name] = t
		if t.Column < 0 || t.Row < 0 {
			return fmt.Errorf("tile %q at (%d, %d): %w", t.Name, t.Column, t.Row, ErrInvalidPosition)
		}
		pos := [2]int{t.Column, t.Row}
		if other, ok := positions[pos]; ok {
			return fmt.Errorf("tiles %q and %q at (%d, %d): %w", other, t.Name, t.Column, t.Row, ErrDuplicatePosition)
		}
		positions[pos] = t.Name
		if len(t.Polygon) < 3 {
			return fmt.Errorf("tile %q has %d polygon points: %w", t.Name, len(t.Polygon), ErrInvalidShape)
		}
	}

	for _, t := range s.Tiles {
		if t.GPU && len(t.DependsOn) > 0 {
			return fmt.Errorf("tile %q: %w", t.Name, ErrGPUDependency)
		}
		for _, dep := range t.DependsOn {
			d, ok := byName[dep]
			if !ok {
				return fmt.Errorf("tile %q depends on %q: %w", t.Name, dep, ErrUnknownTile)
			}
			if d.GPU {
				return fmt.Errorf("tile %q depends on %q: %w", t.Name, dep, ErrGPUDependency)
			}
		}
	}
	if err := detectCycles(s.Tiles, byName); err != nil {
		return err
	}

	rounds := make(map[string]bool, len(s.Rounds))
	for _, r := range s.Rounds {
		if rounds[r.Name] {
			return fmt.Errorf("round %q: %w", r.Name, ErrDuplicateRound)
		}
		rounds[r.Name] = true
		for _, name := range r.Tiles {
			if _, ok := byName[name]; !ok {
				return fmt.Errorf("round %q lists %q: %w", r.Name, name, ErrUnknownTile)
			}
		}
	}
	return nil
}

// detectCycles runs a depth-first search over tile dependencies.
func detectCycles(tiles []*Tile, byName map[string]*Tile) error {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(tiles))

	var visit func(t *Tile) error
	visit = func(t *Tile) error {
		switch state[t.Name] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("involving tile %q: %w", t.Name, ErrDependencyCycle)
		}
		state[t.Name] = visiting
		for _, dep := range t.DependsOn {
			if err := visit(byName[dep]); err != nil {
				return err
			}
		}
		state[t.Name] = visited
		return nil
	}

	for _, t := range tiles {
		if err := visit(t); err != nil {
			return err
		}
	}
	return nil
}
