package tile

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// Format identifies a decoded image container
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatTIFF Format = "tiff"
	FormatWebP Format = "webp"
)

// Processor loads source images from files, URLs and byte buffers
type Processor struct {
	client    *http.Client
	userAgent string
}

// NewProcessor creates a new image processor
func NewProcessor(userAgent string) *Processor {
	return &Processor{
		client:    &http.Client{Timeout: 60 * time.Second},
		userAgent: userAgent,
	}
}

// DetectFormat sniffs the container format from magic bytes
func DetectFormat(data []byte) (Format, error) {
	switch {
	case len(data) >= 4 && bytes.Equal(data[:4], []byte{0x89, 0x50, 0x4E, 0x47}):
		return FormatPNG, nil
	case len(data) >= 2 && bytes.Equal(data[:2], []byte{0xFF, 0xD8}):
		return FormatJPEG, nil
	case len(data) >= 4 && (bytes.Equal(data[:4], []byte("II*\x00")) || bytes.Equal(data[:4], []byte("MM\x00*"))):
		return FormatTIFF, nil
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWebP, nil
	}
	return "", fmt.Errorf("unrecognized image format")
}

// Decode detects the image format and decodes it
func (p *Processor) Decode(data []byte) (image.Image, Format, error) {
	format, err := DetectFormat(data)
	if err != nil {
		return nil, "", err
	}

	var img image.Image
	switch format {
	case FormatTIFF:
		img, err = tiff.Decode(bytes.NewReader(data))
	case FormatWebP:
		img, err = webp.Decode(bytes.NewReader(data))
	default:
		img, err = imaging.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", format, err)
	}
	return img, format, nil
}

// DecodeRaster decodes data straight into a raster
func (p *Processor) DecodeRaster(data []byte) (*Raster, error) {
	img, _, err := p.Decode(data)
	if err != nil {
		return nil, err
	}
	return FromImage(img), nil
}

// Read returns the raw bytes of a file path or http(s) URL
func (p *Processor) Read(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.Download(ctx, source)
	}
	return os.ReadFile(filepath.Clean(source))
}

// Download fetches an image from the given URL
func (p *Processor) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	return io.ReadAll(resp.Body)
}

// Extension returns the file extension conventionally used for format
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatTIFF:
		return ".tif"
	case FormatWebP:
		return ".webp"
	}
	return ".png"
}

// ContentType returns the MIME type for format
func (f Format) ContentType() string {
	return "image/" + string(f)
}
