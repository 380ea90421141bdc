package tile

import (
	"fmt"
	"image"
	"image/color"
)

// Raster is a row-major numeric image with interleaved channels
type Raster struct {
	Height   int
	Width    int
	Channels int
	Pix      []float32
}

// NewRaster allocates a zero-filled raster.
func NewRaster(height, width, channels int) *Raster {
	return &Raster{
		Height:   height,
		Width:    width,
		Channels: channels,
		Pix:      make([]float32, height*width*channels),
	}
}

// Shape returns the raster's height and width.
func (r *Raster) Shape() Shape {
	return Shape{Height: r.Height, Width: r.Width}
}

// At returns the value at row y, column x, channel c.
func (r *Raster) At(y, x, c int) float32 {
	return r.Pix[(y*r.Width+x)*r.Channels+c]
}

// Set stores v at row y, column x, channel c.
func (r *Raster) Set(y, x, c int, v float32) {
	r.Pix[(y*r.Width+x)*r.Channels+c] = v
}

// Pixel returns a copy of all channels at (y, x).
func (r *Raster) Pixel(y, x int) []float32 {
	i := (y*r.Width + x) * r.Channels
	px := make([]float32, r.Channels)
	copy(px, r.Pix[i:i+r.Channels])
	return px
}

// Validate checks that the buffer matches the declared dimensions.
func (r *Raster) Validate() error {
	if r.Height <= 0 || r.Width <= 0 {
		return &GeometryError{Field: "image dimension", Value: min(r.Height, r.Width)}
	}
	if r.Channels <= 0 {
		return &GeometryError{Field: "channels", Value: r.Channels}
	}
	if len(r.Pix) != r.Height*r.Width*r.Channels {
		return fmt.Errorf("raster buffer holds %d values, want %dx%dx%d", len(r.Pix), r.Height, r.Width, r.Channels)
	}
	return nil
}

// Pad copies r into a zero canvas of the grid's padded shape, placing the
// original content at the grid offset.
func (r *Raster) Pad(g *Geometry) *Raster {
	out := NewRaster(g.Padded.Height, g.Padded.Width, r.Channels)
	oa, ob := g.Offset[AxisA], g.Offset[AxisB]
	rowLen := r.Width * r.Channels
	for y := 0; y < r.Height; y++ {
		src := r.Pix[y*rowLen : (y+1)*rowLen]
		dst := ((y+oa)*out.Width + ob) * out.Channels
		copy(out.Pix[dst:dst+rowLen], src)
	}
	return out
}

// Window extracts the size x size sub-raster whose top-left corner is (a, b).
// Single-channel content is replicated to three channels.
func (r *Raster) Window(a, b, size int) *Raster {
	if r.Channels == 1 {
		out := NewRaster(size, size, 3)
		for y := 0; y < size; y++ {
			src := r.Pix[(a+y)*r.Width+b : (a+y)*r.Width+b+size]
			dst := out.Pix[y*size*3 : (y+1)*size*3]
			for x, v := range src {
				dst[x*3] = v
				dst[x*3+1] = v
				dst[x*3+2] = v
			}
		}
		return out
	}

	out := NewRaster(size, size, r.Channels)
	rowLen := size * r.Channels
	for y := 0; y < size; y++ {
		src := ((a+y)*r.Width + b) * r.Channels
		copy(out.Pix[y*rowLen:(y+1)*rowLen], r.Pix[src:src+rowLen])
	}
	return out
}

// Resize returns r scaled to height x width by bilinear interpolation with
// half-pixel centers. Values stay float32 and keep their native range.
func (r *Raster) Resize(height, width int) *Raster {
	out := NewRaster(height, width, r.Channels)
	sy := float64(r.Height) / float64(height)
	sx := float64(r.Width) / float64(width)
	for y := 0; y < height; y++ {
		y0, y1, wy := bilinearTaps((float64(y)+0.5)*sy-0.5, r.Height)
		for x := 0; x < width; x++ {
			x0, x1, wx := bilinearTaps((float64(x)+0.5)*sx-0.5, r.Width)
			dst := out.Pix[(y*width+x)*r.Channels:]
			for c := 0; c < r.Channels; c++ {
				top := lerp(r.At(y0, x0, c), r.At(y0, x1, c), wx)
				bottom := lerp(r.At(y1, x0, c), r.At(y1, x1, c), wx)
				dst[c] = lerp(top, bottom, wy)
			}
		}
	}
	return out
}

// bilinearTaps returns the two source indices around f and the weight of
// the second, clamped to [0, n-1].
func bilinearTaps(f float64, n int) (int, int, float32) {
	if f <= 0 {
		return 0, 0, 0
	}
	i := int(f)
	if i >= n-1 {
		return n - 1, n - 1, 0
	}
	return i, i + 1, float32(f - float64(i))
}

func lerp(a, b, t float32) float32 {
	return a + (b-a)*t
}

// FromImage converts img into a raster. Grayscale images keep one channel,
// everything else becomes RGB with alpha dropped.
func FromImage(img image.Image) *Raster {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch src := img.(type) {
	case *image.Gray:
		r := NewRaster(h, w, 1)
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+w]
			for x, v := range row {
				r.Pix[y*w+x] = float32(v)
			}
		}
		return r
	case *image.Gray16:
		r := NewRaster(h, w, 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r.Pix[y*w+x] = float32(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return r
	}

	r := NewRaster(h, w, 3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := (y*w + x) * 3
			r.Pix[i] = float32(c.R)
			r.Pix[i+1] = float32(c.G)
			r.Pix[i+2] = float32(c.B)
		}
	}
	return r
}

// ToImage converts the raster to an 8-bit image, clamping values to [0, 255].
// One-channel rasters become *image.Gray, others *image.NRGBA.
func (r *Raster) ToImage() image.Image {
	rect := image.Rect(0, 0, r.Width, r.Height)
	if r.Channels == 1 {
		img := image.NewGray(rect)
		for i, v := range r.Pix {
			img.Pix[i] = clampByte(v)
		}
		return img
	}

	img := image.NewNRGBA(rect)
	for p := 0; p < r.Width*r.Height; p++ {
		src := r.Pix[p*r.Channels:]
		dst := img.Pix[p*4 : p*4+4]
		if r.Channels >= 3 {
			dst[0], dst[1], dst[2] = clampByte(src[0]), clampByte(src[1]), clampByte(src[2])
		} else {
			v := clampByte(src[0])
			dst[0], dst[1], dst[2] = v, v, v
		}
		dst[3] = 255
	}
	return img
}

func clampByte(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
