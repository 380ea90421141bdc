package tile

import (
	"errors"
	"math"
	"sync"
	"testing"
)

// createIndexRaster fills a single-channel raster with row*1000+col
func createIndexRaster(height, width int) *Raster {
	r := NewRaster(height, width, 1)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r.Set(y, x, 0, float32(y*1000+x))
		}
	}
	return r
}

func TestSampler_Len(t *testing.T) {
	s, err := NewSampler(createIndexRaster(500, 500), 224, 4)
	if err != nil {
		t.Fatalf("NewSampler failed: %v", err)
	}

	ca, cb := s.Geometry().Count()
	if s.Len() != ca*cb || s.Len() != 12544 {
		t.Errorf("Expected %d tiles, got %d", ca*cb, s.Len())
	}
	if s.NumBatches(64) != 196 {
		t.Errorf("Expected 196 batches of 64, got %d", s.NumBatches(64))
	}
}

func TestSampler_BatchesCoverSequence(t *testing.T) {
	s, err := NewSampler(createIndexRaster(50, 70), 16, 3)
	if err != nil {
		t.Fatalf("NewSampler failed: %v", err)
	}

	for _, size := range []int{1, 7, 64, s.Len(), s.Len() + 5} {
		var seen []int
		for i := 0; i < s.NumBatches(size); i++ {
			b, err := s.Batch(i, size)
			if err != nil {
				t.Fatalf("Batch(%d, %d) failed: %v", i, size, err)
			}
			if b.Len() == 0 {
				t.Fatalf("Batch(%d, %d) is empty", i, size)
			}
			seen = append(seen, b.Indices...)
		}
		if len(seen) != s.Len() {
			t.Fatalf("size %d: got %d tiles, want %d", size, len(seen), s.Len())
		}
		for k, idx := range seen {
			if idx != k {
				t.Fatalf("size %d: position %d holds tile %d", size, k, idx)
			}
		}
	}
}

func TestSampler_CenterLabels(t *testing.T) {
	const window = 16
	s, err := NewSampler(createIndexRaster(50, 70), window, 3)
	if err != nil {
		t.Fatalf("NewSampler failed: %v", err)
	}
	g := s.Geometry()

	b, err := s.Batch(0, s.Len())
	if err != nil {
		t.Fatalf("Batch failed: %v", err)
	}

	for i, origin := range b.Origins {
		a, bb := origin[0], origin[1]
		y, x, ok := g.ToImage(a+window/2, bb+window/2)
		want := float32(0)
		if ok {
			want = float32(y*1000 + x)
		}
		if got := b.Centers[i][0]; got != want {
			t.Errorf("tile at (%d, %d): center %v, want %v", a, bb, got, want)
		}
	}
}

func TestSampler_CenterLabelFormula(t *testing.T) {
	const window = 224
	s, err := NewSampler(createIndexRaster(500, 500), window, 4)
	if err != nil {
		t.Fatalf("NewSampler failed: %v", err)
	}

	// last tile of the first batch of 200
	b, err := s.Batch(3, 200)
	if err != nil {
		t.Fatalf("Batch failed: %v", err)
	}
	for i, origin := range b.Origins {
		a, bb := origin[0], origin[1]
		want := float32((a+window/2-86)*1000 + (bb + window/2 - 86))
		if b.Centers[i][0] != want {
			t.Fatalf("tile %d: center %v, want %v", b.Indices[i], b.Centers[i][0], want)
		}
	}
}

func TestSampler_WindowReplication(t *testing.T) {
	s, err := NewSampler(createIndexRaster(20, 20), 8, 4)
	if err != nil {
		t.Fatalf("NewSampler failed: %v", err)
	}

	b, err := s.Batch(1, 3)
	if err != nil {
		t.Fatalf("Batch failed: %v", err)
	}
	padded := s.Padded()
	for i, w := range b.Windows {
		if w.Height != 8 || w.Width != 8 || w.Channels != 3 {
			t.Fatalf("window %d has shape %dx%dx%d", i, w.Height, w.Width, w.Channels)
		}
		a, bb := b.Origins[i][0], b.Origins[i][1]
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				want := padded.At(a+y, bb+x, 0)
				for c := 0; c < 3; c++ {
					if got := w.At(y, x, c); got != want {
						t.Fatalf("window %d pixel (%d, %d, %d) = %v, want %v", i, y, x, c, got, want)
					}
				}
			}
		}
	}
}

func TestSampler_ColorSourceKeepsChannels(t *testing.T) {
	img := NewRaster(10, 10, 3)
	for i := range img.Pix {
		img.Pix[i] = float32(i % 3)
	}
	s, err := NewSampler(img, 4, 2)
	if err != nil {
		t.Fatalf("NewSampler failed: %v", err)
	}

	b, err := s.Batch(0, 1)
	if err != nil {
		t.Fatalf("Batch failed: %v", err)
	}
	if b.Windows[0].Channels != 3 || len(b.Centers[0]) != 3 {
		t.Errorf("Expected 3 channels, got window %d and center %d", b.Windows[0].Channels, len(b.Centers[0]))
	}
}

func TestSampler_OutOfRange(t *testing.T) {
	s, err := NewSampler(createIndexRaster(30, 30), 8, 4)
	if err != nil {
		t.Fatalf("NewSampler failed: %v", err)
	}

	b, err := s.Batch(s.Len(), 1)
	if err != nil {
		t.Fatalf("Batch past the end should not fail: %v", err)
	}
	if b.Len() != 0 {
		t.Errorf("Expected empty batch past the end, got %d tiles", b.Len())
	}

	for _, tc := range []struct{ index, size int }{
		{1<<62 + 1, 2},
		{1 << 62, 4},
		{1, math.MaxInt},
		{math.MaxInt, math.MaxInt},
	} {
		b, err := s.Batch(tc.index, tc.size)
		if err != nil {
			t.Fatalf("Batch(%d, %d) failed: %v", tc.index, tc.size, err)
		}
		if b.Len() != 0 {
			t.Errorf("Batch(%d, %d): expected empty batch, got indices %v", tc.index, tc.size, b.Indices)
		}
	}

	last, err := s.Batch(0, math.MaxInt)
	if err != nil || last.Len() != s.Len() {
		t.Errorf("Batch(0, MaxInt) should hold every tile, got %d, %v", last.Len(), err)
	}

	if _, err := s.Batch(-1, 4); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Expected ErrIndexOutOfRange for negative index, got %v", err)
	}
	if _, err := s.Batch(0, 0); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Expected ErrIndexOutOfRange for zero size, got %v", err)
	}
}

func TestSampler_Idempotent(t *testing.T) {
	s, err := NewSampler(createIndexRaster(40, 40), 8, 2)
	if err != nil {
		t.Fatalf("NewSampler failed: %v", err)
	}

	first, _ := s.Batch(5, 10)
	_, _ = s.Batch(0, 10)
	again, _ := s.Batch(5, 10)
	for i := range first.Indices {
		if first.Indices[i] != again.Indices[i] || first.Centers[i][0] != again.Centers[i][0] {
			t.Fatalf("Batch(5, 10) changed between calls at position %d", i)
		}
	}
}

func TestSampler_ConcurrentBatches(t *testing.T) {
	s, err := NewSampler(createIndexRaster(64, 64), 16, 2)
	if err != nil {
		t.Fatalf("NewSampler failed: %v", err)
	}

	const size = 32
	n := s.NumBatches(size)
	got := make([]int, s.Len())
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := s.Batch(i, size)
			if err != nil {
				t.Errorf("Batch(%d) failed: %v", i, err)
				return
			}
			for _, k := range b.Indices {
				got[k]++
			}
		}(i)
	}
	wg.Wait()

	for k, c := range got {
		if c != 1 {
			t.Fatalf("tile %d produced %d times", k, c)
		}
	}
}

func TestNewSampler_InvalidRaster(t *testing.T) {
	if _, err := NewSampler(&Raster{Height: 0, Width: 4, Channels: 1}, 4, 1); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("Expected ErrInvalidGeometry, got %v", err)
	}
	if _, err := NewSampler(createIndexRaster(8, 8), 4, 0); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("Expected ErrInvalidGeometry, got %v", err)
	}
}
