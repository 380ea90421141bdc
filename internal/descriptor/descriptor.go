// Package descriptor is the boundary to the network that classifies windows
// and computes image descriptors. The network itself runs elsewhere.
package descriptor

import (
	"context"

	"github.com/aetherspritee/msirs/pkg/tile"
)

// Classifier assigns one category ID to every window, in input order.
type Classifier interface {
	Classify(ctx context.Context, windows []*tile.Raster) ([]int, error)
}

// Describer computes a fixed-length descriptor for a whole image.
type Describer interface {
	Describe(ctx context.Context, img *tile.Raster) ([]float32, error)
}

// Service offers both capabilities.
type Service interface {
	Classifier
	Describer
}
