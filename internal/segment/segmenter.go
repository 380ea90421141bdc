package segment

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/aetherspritee/msirs/internal/catalog"
	"github.com/aetherspritee/msirs/internal/descriptor"
	"github.com/aetherspritee/msirs/pkg/tile"
)

// Options contains the dense-classification parameters
type Options struct {
	WindowSize int
	StepSize   int
	BatchSize  int
	Workers    int
}

// BatchError wraps a classifier failure with the batch it happened in
type BatchError struct {
	Batch int
	Tiles int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d (%d tiles): %v", e.Batch, e.Tiles, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Segmenter classifies every window of an image
type Segmenter struct {
	classifier descriptor.Classifier
	opts       Options
}

// New creates a new segmenter instance
func New(classifier descriptor.Classifier, opts Options) *Segmenter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Segmenter{
		classifier: classifier,
		opts:       opts,
	}
}

// Segment samples img with the configured window and step, classifies all
// tiles batch by batch and returns the assembled label map.
//
// Batches run concurrently; the first failing batch cancels the rest and its
// error is returned as a *BatchError.
func (s *Segmenter) Segment(ctx context.Context, img *tile.Raster) (*LabelMap, error) {
	sampler, err := tile.NewSampler(img, s.opts.WindowSize, s.opts.StepSize)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, sampler)
}

// Run classifies all tiles served by sampler
func (s *Segmenter) Run(ctx context.Context, sampler *tile.Sampler) (*LabelMap, error) {
	geom := sampler.Geometry()
	lm := NewLabelMap(geom)
	if sampler.Len() == 0 {
		return lm, nil
	}

	start := time.Now()
	n := sampler.NumBatches(s.opts.BatchSize)
	p := pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(s.opts.Workers)

	for i := 0; i < n; i++ {
		i := i
		p.Go(func(ctx context.Context) error {
			batch, err := sampler.Batch(i, s.opts.BatchSize)
			if err != nil {
				return &BatchError{Batch: i, Err: err}
			}
			labels, err := s.classifier.Classify(ctx, batch.Windows)
			if err != nil {
				return &BatchError{Batch: i, Tiles: batch.Len(), Err: err}
			}
			if len(labels) != batch.Len() {
				return &BatchError{
					Batch: i,
					Tiles: batch.Len(),
					Err:   fmt.Errorf("classifier returned %d labels", len(labels)),
				}
			}
			// batches own disjoint index ranges
			for j, k := range batch.Indices {
				lm.Labels[k] = labels[j]
			}
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}

	log.Printf("segmented %dx%d image: %d tiles in %d batches, %v",
		geom.Image.Height, geom.Image.Width, sampler.Len(), n, time.Since(start).Round(time.Millisecond))
	return lm, nil
}

// LabelMap holds one category per tile, laid out as the tile grid
type LabelMap struct {
	Geometry *tile.Geometry `json:"geometry"`
	Rows     int            `json:"rows"`
	Cols     int            `json:"cols"`
	Labels   []int          `json:"labels"`
}

// NewLabelMap allocates a label map for geom with every tile unlabeled
func NewLabelMap(geom *tile.Geometry) *LabelMap {
	rows, cols := geom.Count()
	labels := make([]int, rows*cols)
	for i := range labels {
		labels[i] = catalog.Unlabeled
	}
	return &LabelMap{
		Geometry: geom,
		Rows:     rows,
		Cols:     cols,
		Labels:   labels,
	}
}

// At returns the label of the tile at grid position (row, col)
func (m *LabelMap) At(row, col int) int {
	return m.Labels[row*m.Cols+col]
}

// Missing returns the flat indices of tiles that never received a label
func (m *LabelMap) Missing() []int {
	var out []int
	for k, l := range m.Labels {
		if l == catalog.Unlabeled {
			out = append(out, k)
		}
	}
	return out
}

// Counts returns how many tiles carry each label
func (m *LabelMap) Counts() map[int]int {
	out := make(map[int]int)
	for _, l := range m.Labels {
		out[l]++
	}
	return out
}
