package tile

import "fmt"

// Sampler serves batches of windows cut from a padded image.
//
// The padded image is built once in NewSampler and only read afterwards, so
// a Sampler may be shared by goroutines calling Batch concurrently.
type Sampler struct {
	geom   *Geometry
	padded *Raster
}

// NewSampler validates img, computes its geometry and pads it.
func NewSampler(img *Raster, windowSize, stepSize int) (*Sampler, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	geom, err := NewGeometry(img.Shape(), windowSize, stepSize)
	if err != nil {
		return nil, err
	}
	return &Sampler{
		geom:   geom,
		padded: img.Pad(geom),
	}, nil
}

// Geometry returns the tiling geometry. Callers must not modify it.
func (s *Sampler) Geometry() *Geometry {
	return s.geom
}

// Padded returns the padded image. Callers must not modify it.
func (s *Sampler) Padded() *Raster {
	return s.padded
}

// Len returns the total number of tiles.
func (s *Sampler) Len() int {
	return s.geom.Len()
}

// NumBatches returns how many batches of batchSize cover all tiles.
func (s *Sampler) NumBatches(batchSize int) int {
	if batchSize <= 0 {
		return 0
	}
	return (s.Len() + batchSize - 1) / batchSize
}

// Batch returns tiles [index*size, min((index+1)*size, Len())) in row-major
// order. A batch starting at or past Len() is empty.
func (s *Sampler) Batch(index, size int) (*Batch, error) {
	if index < 0 || size <= 0 {
		return nil, fmt.Errorf("%w: index %d, size %d", ErrIndexOutOfRange, index, size)
	}

	n := s.Len()
	if n == 0 || index > (n-1)/size {
		return &Batch{}, nil
	}
	low := index * size
	high := min(low+size, n)

	w := s.geom.WindowSize
	half := w / 2
	batch := &Batch{
		Indices: make([]int, 0, high-low),
		Origins: make([][2]int, 0, high-low),
		Windows: make([]*Raster, 0, high-low),
		Centers: make([][]float32, 0, high-low),
	}
	for k := low; k < high; k++ {
		a, b := s.geom.Origin(k)
		batch.Indices = append(batch.Indices, k)
		batch.Origins = append(batch.Origins, [2]int{a, b})
		batch.Windows = append(batch.Windows, s.padded.Window(a, b, w))
		batch.Centers = append(batch.Centers, s.padded.Pixel(a+half, b+half))
	}
	return batch, nil
}
