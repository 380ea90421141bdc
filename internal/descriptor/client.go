package descriptor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aetherspritee/msirs/pkg/tile"
)

// ModelError is returned when the inference server rejects a request
type ModelError struct {
	StatusCode int
	Body       string
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model server returned HTTP %d: %s", e.StatusCode, e.Body)
}

// ClientOptions configures a Client
type ClientOptions struct {
	URL             string
	Classifier      string
	Descriptor      string
	DescriptorLayer string
	InputSize       int
	Rescale         float32
	Timeout         time.Duration
}

// Client talks to a TensorFlow Serving compatible REST endpoint
type Client struct {
	opts       ClientOptions
	httpClient *http.Client
}

// predictRequest is the row-format predict body
type predictRequest struct {
	SignatureName string          `json:"signature_name,omitempty"`
	Instances     [][][][]float32 `json:"instances"`
}

type predictResponse struct {
	Predictions [][]float64 `json:"predictions"`
	Error       string      `json:"error,omitempty"`
}

// NewClient creates a new inference client
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("model URL is required")
	}
	if opts.InputSize <= 0 {
		opts.InputSize = 224
	}
	if opts.Rescale == 0 {
		opts.Rescale = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	opts.URL = strings.TrimSuffix(opts.URL, "/")

	return &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}, nil
}

// Classify returns the arg-max category for each window
func (c *Client) Classify(ctx context.Context, windows []*tile.Raster) ([]int, error) {
	if len(windows) == 0 {
		return nil, nil
	}

	instances := make([][][][]float32, len(windows))
	for i, w := range windows {
		instances[i] = c.tensor(w)
	}

	preds, err := c.predict(ctx, c.opts.Classifier, "", instances)
	if err != nil {
		return nil, err
	}
	if len(preds) != len(windows) {
		return nil, fmt.Errorf("model returned %d predictions for %d windows", len(preds), len(windows))
	}

	labels := make([]int, len(preds))
	for i, p := range preds {
		labels[i] = argmax(p)
	}
	return labels, nil
}

// Describe returns the descriptor of img
func (c *Client) Describe(ctx context.Context, img *tile.Raster) ([]float32, error) {
	preds, err := c.predict(ctx, c.opts.Descriptor, c.opts.DescriptorLayer, [][][][]float32{c.tensor(img)})
	if err != nil {
		return nil, err
	}
	if len(preds) != 1 || len(preds[0]) == 0 {
		return nil, fmt.Errorf("model returned no descriptor")
	}

	vec := make([]float32, len(preds[0]))
	for i, v := range preds[0] {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Prepare converts img to the network input: three channels, resized to
// InputSize x InputSize, scaled by Rescale. Pixel values keep the source's
// range, so 16-bit rasters are not clipped to 8 bits.
func (c *Client) Prepare(img *tile.Raster) *tile.Raster {
	n := c.opts.InputSize
	r := img
	if r.Height != n || r.Width != n {
		r = r.Resize(n, n)
	}
	if r.Channels == 1 {
		r = r.Window(0, 0, n)
	}
	if c.opts.Rescale != 1 {
		scaled := tile.NewRaster(r.Height, r.Width, r.Channels)
		for i, v := range r.Pix {
			scaled.Pix[i] = v * c.opts.Rescale
		}
		r = scaled
	}
	return r
}

// tensor lays the prepared raster out as height x width x channels
func (c *Client) tensor(img *tile.Raster) [][][]float32 {
	r := c.Prepare(img)
	out := make([][][]float32, r.Height)
	for y := range out {
		out[y] = make([][]float32, r.Width)
		for x := range out[y] {
			i := (y*r.Width + x) * r.Channels
			out[y][x] = r.Pix[i : i+r.Channels]
		}
	}
	return out
}

func (c *Client) predict(ctx context.Context, model, signature string, instances [][][][]float32) ([][]float64, error) {
	body, err := json.Marshal(predictRequest{SignatureName: signature, Instances: instances})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/models/%s:predict", c.opts.URL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read model response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ModelError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var out predictResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}
	if out.Error != "" {
		return nil, &ModelError{StatusCode: resp.StatusCode, Body: out.Error}
	}
	return out.Predictions, nil
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
