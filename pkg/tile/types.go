package tile

import (
	"errors"
	"fmt"
)

// Axis indices used by Geometry arrays
const (
	AxisA = iota // rows
	AxisB        // columns
)

var (
	// ErrInvalidGeometry is matched by every *GeometryError.
	ErrInvalidGeometry = errors.New("invalid tiling geometry")

	// ErrIndexOutOfRange is returned for negative batch indices or
	// non-positive batch sizes.
	ErrIndexOutOfRange = errors.New("batch index out of range")
)

// GeometryError reports the parameter that made a tiling impossible
type GeometryError struct {
	Field string
	Value int
	// Reason defaults to "must be positive"
	Reason string
}

func (e *GeometryError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "must be positive"
	}
	return fmt.Sprintf("invalid tiling geometry: %s %s, got %d", e.Field, reason, e.Value)
}

func (e *GeometryError) Unwrap() error {
	return ErrInvalidGeometry
}

// Shape is the height and width of a 2D raster
type Shape struct {
	Height int `json:"height"`
	Width  int `json:"width"`
}

// Dim returns the extent along the given axis.
func (s Shape) Dim(axis int) int {
	if axis == AxisA {
		return s.Height
	}
	return s.Width
}

// Geometry describes how an image is padded and where windows start.
//
// Padded.Dim(i) == Tiles[i]*WindowSize and Tiles[i] == ceil(Image.Dim(i)/WindowSize).
// Offset[i] is the floor-divided centering offset of the original image
// inside the padded canvas.
type Geometry struct {
	Image      Shape  `json:"image"`
	WindowSize int    `json:"window_size"`
	StepSize   int    `json:"step_size"`
	Tiles      [2]int `json:"tiles_per_axis"`
	Padded     Shape  `json:"padded_shape"`
	Offset     [2]int `json:"offset"`
	StartsA    []int  `json:"starts_a"`
	StartsB    []int  `json:"starts_b"`
}

// Count returns the number of valid window starts along each axis.
func (g *Geometry) Count() (int, int) {
	return len(g.StartsA), len(g.StartsB)
}

// Len returns the total number of tiles.
func (g *Geometry) Len() int {
	return len(g.StartsA) * len(g.StartsB)
}

// Unravel maps a flat tile index to its (row, column) position in the
// tile grid, row-major.
func (g *Geometry) Unravel(k int) (int, int) {
	cb := len(g.StartsB)
	return k / cb, k % cb
}

// Origin returns the top-left padded coordinate of the window with flat index k.
func (g *Geometry) Origin(k int) (int, int) {
	ia, ib := g.Unravel(k)
	return g.StartsA[ia], g.StartsB[ib]
}

// Center returns the padded coordinate of the center pixel of window k.
func (g *Geometry) Center(k int) (int, int) {
	a, b := g.Origin(k)
	return a + g.WindowSize/2, b + g.WindowSize/2
}

// ToImage converts a padded coordinate to original image coordinates. ok is
// false when the coordinate lies in the padding.
func (g *Geometry) ToImage(a, b int) (y, x int, ok bool) {
	y = a - g.Offset[AxisA]
	x = b - g.Offset[AxisB]
	ok = y >= 0 && x >= 0 && y < g.Image.Height && x < g.Image.Width
	return y, x, ok
}

// Batch is one slice of the tile sequence. All slices are parallel.
type Batch struct {
	// Indices are the flat tile indices, ascending.
	Indices []int
	// Origins are the top-left padded coordinates as (a, b) pairs.
	Origins [][2]int
	// Windows are WindowSize x WindowSize rasters, 3 channels for
	// single-channel sources.
	Windows []*Raster
	// Centers hold the pixel at [w/2, w/2] of the un-replicated padded image,
	// one value per source channel.
	Centers [][]float32
}

// Len returns the number of tiles in the batch.
func (b *Batch) Len() int {
	return len(b.Indices)
}
