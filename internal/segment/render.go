package segment

import (
	"image"
	"image/color"

	"github.com/aetherspritee/msirs/internal/catalog"
)

// Scatter projects tile labels onto original image pixels.
//
// Each tile labels the StepSize x StepSize block whose top-left pixel is the
// tile's center, translated from padded to image coordinates by the grid
// offset. Pixels no block reaches stay catalog.Unlabeled.
func (m *LabelMap) Scatter() [][]int {
	g := m.Geometry
	out := make([][]int, g.Image.Height)
	for y := range out {
		row := make([]int, g.Image.Width)
		for x := range row {
			row[x] = catalog.Unlabeled
		}
		out[y] = row
	}

	half := g.WindowSize / 2
	for ia, a := range g.StartsA {
		for ib, b := range g.StartsB {
			label := m.Labels[ia*m.Cols+ib]
			if label == catalog.Unlabeled {
				continue
			}
			y0 := a + half - g.Offset[0]
			x0 := b + half - g.Offset[1]
			for y := max(y0, 0); y < min(y0+g.StepSize, g.Image.Height); y++ {
				for x := max(x0, 0); x < min(x0+g.StepSize, g.Image.Width); x++ {
					out[y][x] = label
				}
			}
		}
	}
	return out
}

// Render paints the scattered label map with category colours. Unlabeled and
// unknown pixels are transparent.
func (m *LabelMap) Render(cat *catalog.Catalog) *image.NRGBA {
	g := m.Geometry
	img := image.NewNRGBA(image.Rect(0, 0, g.Image.Width, g.Image.Height))
	for y, row := range m.Scatter() {
		for x, label := range row {
			if label == catalog.Unlabeled {
				continue
			}
			img.SetNRGBA(x, y, cat.Color(label))
		}
	}
	return img
}

// Grid paints one pixel per tile, which is the compact form of the label map.
func (m *LabelMap) Grid(cat *catalog.Catalog) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, m.Cols, m.Rows))
	for k, label := range m.Labels {
		c := color.NRGBA{}
		if label != catalog.Unlabeled {
			c = cat.Color(label)
		}
		img.SetNRGBA(k%m.Cols, k/m.Cols, c)
	}
	return img
}
