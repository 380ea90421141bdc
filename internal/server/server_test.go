package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aetherspritee/msirs/internal/api"
	"github.com/aetherspritee/msirs/internal/catalog"
	"github.com/aetherspritee/msirs/internal/config"
	"github.com/aetherspritee/msirs/internal/descriptor"
	"github.com/aetherspritee/msirs/internal/index"
	"github.com/aetherspritee/msirs/internal/retrieval"
	"github.com/aetherspritee/msirs/internal/storage"
	"github.com/aetherspritee/msirs/pkg/tile"
)

// fakeModel labels every window as a crater and describes images by their
// mean intensity
type fakeModel struct {
	err error
}

func (f *fakeModel) Classify(ctx context.Context, windows []*tile.Raster) ([]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]int, len(windows))
	for i := range out {
		out[i] = 3
	}
	return out, nil
}

func (f *fakeModel) Describe(ctx context.Context, img *tile.Raster) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	var sum float32
	for _, v := range img.Pix {
		sum += v
	}
	return []float32{sum / float32(len(img.Pix)), 1}, nil
}

// Test server setup
func setupTestServer(t *testing.T, model *fakeModel) *httptest.Server {
	t.Helper()

	store, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	idx, err := index.NewMemory(index.Euclidean)
	if err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}
	processor := tile.NewProcessor("msirs-test")
	cat := catalog.Default()
	pipeline := retrieval.New(model, model, idx, store, processor, cat, retrieval.Options{TopK: 3})

	r := chi.NewRouter()

	// Add middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	// Create server implementation
	apiServer := NewServer("1.0.0-test", Options{
		Classifier: model,
		Pipeline:   pipeline,
		Processor:  processor,
		Catalog:    cat,
		Tiling:     config.TilingConfig{WindowSize: 224, StepSize: 4, BatchSize: 5, Workers: 2},
	})

	// Mount API routes at /api/v1
	r.Route("/api/v1", func(r chi.Router) {
		api.HandlerWithOptions(apiServer, api.ChiServerOptions{
			BaseRouter:       r,
			ErrorHandlerFunc: apiServer.HandleParamError,
		})
	})

	return httptest.NewServer(r)
}

func grayPNG(t *testing.T, height, width int, v uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("Failed to encode image: %v", err)
	}
	return buf.Bytes()
}

func decodeError(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var errorResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	return errorResp
}

func TestHealthEndpoint(t *testing.T) {
	server := setupTestServer(t, &fakeModel{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	// Check status code
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	// Check content type
	contentType := resp.Header.Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", contentType)
	}

	var healthResp api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if healthResp.Status != api.Healthy {
		t.Errorf("Expected status 'healthy', got %s", healthResp.Status)
	}
	if healthResp.Version == nil || *healthResp.Version != "1.0.0-test" {
		t.Errorf("Expected version '1.0.0-test', got %v", healthResp.Version)
	}
	if healthResp.IndexSize == nil || *healthResp.IndexSize != 0 {
		t.Errorf("Expected empty index, got %v", healthResp.IndexSize)
	}
	if time.Since(healthResp.Timestamp) > time.Minute {
		t.Errorf("Timestamp seems too old: %v", healthResp.Timestamp)
	}
}

func TestGeometryEndpoint(t *testing.T) {
	server := setupTestServer(t, &fakeModel{})
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/v1/geometry", "application/json",
		strings.NewReader(`{"height": 500, "width": 500}`))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d. Body: %s", resp.StatusCode, string(body))
	}

	var geom api.GeometryResponse
	if err := json.NewDecoder(resp.Body).Decode(&geom); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if geom.Tiles[0] != 3 || geom.Tiles[1] != 3 {
		t.Errorf("Expected tiles (3, 3), got %v", geom.Tiles)
	}
	if geom.PaddedHeight != 672 || geom.PaddedWidth != 672 {
		t.Errorf("Expected padded 672x672, got %dx%d", geom.PaddedHeight, geom.PaddedWidth)
	}
	if geom.Offset[0] != 86 || geom.Offset[1] != 86 {
		t.Errorf("Expected offset (86, 86), got %v", geom.Offset)
	}
	if len(geom.StartsA) != 112 || geom.Count != 12544 {
		t.Errorf("Expected 112 starts and 12544 tiles, got %d and %d", len(geom.StartsA), geom.Count)
	}
}

func TestGeometryEndpoint_ValidationErrors(t *testing.T) {
	server := setupTestServer(t, &fakeModel{})
	defer server.Close()

	testCases := []struct {
		name           string
		body           string
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "Invalid JSON",
			body:           `{"invalid": json}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "INVALID_JSON",
		},
		{
			name:           "Zero window",
			body:           `{"height": 10, "width": 10, "window_size": 0}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "VALIDATION_ERROR",
		},
		{
			name:           "Negative step",
			body:           `{"height": 10, "width": 10, "step_size": -1}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "VALIDATION_ERROR",
		},
		{
			name:           "Empty image",
			body:           `{"height": 0, "width": 10}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "VALIDATION_ERROR",
		},
		{
			name:           "Too many windows along one axis",
			body:           `{"height": 100000000000, "width": 1, "step_size": 1}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "VALIDATION_ERROR",
		},
		{
			name:           "Height too large to pad",
			body:           `{"height": 9223372036854775807, "width": 10}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "VALIDATION_ERROR",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(server.URL+"/api/v1/geometry", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("Failed to make request: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.expectedStatus {
				t.Errorf("Expected status %d, got %d", tc.expectedStatus, resp.StatusCode)
			}
			errorResp := decodeError(t, resp)
			if errorCode, ok := errorResp["error"].(string); !ok || errorCode != tc.expectedError {
				t.Errorf("Expected error code %s, got %v", tc.expectedError, errorResp["error"])
			}
		})
	}
}

func TestSegmentEndpoint_JSON(t *testing.T) {
	server := setupTestServer(t, &fakeModel{})
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/v1/segment?window=8&step=4", "image/png",
		bytes.NewReader(grayPNG(t, 20, 20, 90)))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d. Body: %s", resp.StatusCode, string(body))
	}

	var seg api.SegmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&seg); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	// 20 pads to 24, starts 0, 4, 8, 12 on both axes
	if seg.Rows != 4 || seg.Cols != 4 || len(seg.Labels) != 16 {
		t.Fatalf("Expected 4x4 label grid, got %dx%d with %d labels", seg.Rows, seg.Cols, len(seg.Labels))
	}
	if seg.Counts["cra"] != 16 {
		t.Errorf("Expected 16 crater windows, got %v", seg.Counts)
	}
	if seg.Geometry.Offset[0] != 2 {
		t.Errorf("Expected offset 2, got %v", seg.Geometry.Offset)
	}
	if seg.RequestId == nil || *seg.RequestId == "" {
		t.Error("Expected request ID")
	}
}

func TestSegmentEndpoint_PNG(t *testing.T) {
	server := setupTestServer(t, &fakeModel{})
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/v1/segment?window=8&step=4&format=png", "image/png",
		bytes.NewReader(grayPNG(t, 20, 30, 90)))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d. Body: %s", resp.StatusCode, string(body))
	}
	if contentType := resp.Header.Get("Content-Type"); contentType != "image/png" {
		t.Errorf("Expected Content-Type image/png, got %s", contentType)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header")
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	if len(imageData) < 8 || !bytes.Equal(imageData[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		t.Fatal("Response does not appear to be a valid PNG file")
	}
	img, err := imaging.Decode(bytes.NewReader(imageData))
	if err != nil {
		t.Fatalf("Failed to decode label map: %v", err)
	}
	if img.Bounds().Dx() != 30 || img.Bounds().Dy() != 20 {
		t.Errorf("Expected 30x20 label map, got %v", img.Bounds())
	}
}

func TestSegmentEndpoint_Errors(t *testing.T) {
	testCases := []struct {
		name           string
		model          *fakeModel
		query          string
		body           []byte
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "Unparseable window",
			model:          &fakeModel{},
			query:          "?window=abc",
			expectedStatus: http.StatusBadRequest,
			expectedError:  "VALIDATION_ERROR",
		},
		{
			name:           "Zero step",
			model:          &fakeModel{},
			query:          "?window=8&step=0",
			expectedStatus: http.StatusBadRequest,
			expectedError:  "VALIDATION_ERROR",
		},
		{
			name:           "Not an image",
			model:          &fakeModel{},
			body:           []byte("definitely not a png"),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "INVALID_IMAGE",
		},
		{
			name:           "Model server failure",
			model:          &fakeModel{err: &descriptor.ModelError{StatusCode: 500, Body: "out of memory"}},
			query:          "?window=8&step=4",
			expectedStatus: http.StatusBadGateway,
			expectedError:  "MODEL_SERVER_ERROR",
		},
		{
			name:           "Model server timeout",
			model:          &fakeModel{err: context.DeadlineExceeded},
			query:          "?window=8&step=4",
			expectedStatus: http.StatusGatewayTimeout,
			expectedError:  "MODEL_SERVER_TIMEOUT",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := setupTestServer(t, tc.model)
			defer server.Close()

			body := tc.body
			if body == nil {
				body = grayPNG(t, 20, 20, 10)
			}
			resp, err := http.Post(server.URL+"/api/v1/segment"+tc.query, "image/png", bytes.NewReader(body))
			if err != nil {
				t.Fatalf("Failed to make request: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.expectedStatus {
				t.Errorf("Expected status %d, got %d", tc.expectedStatus, resp.StatusCode)
			}
			errorResp := decodeError(t, resp)
			if errorCode, ok := errorResp["error"].(string); !ok || errorCode != tc.expectedError {
				t.Errorf("Expected error code %s, got %v", tc.expectedError, errorResp["error"])
			}
		})
	}
}

func TestSegmentImage_TileLimit(t *testing.T) {
	model := &fakeModel{}
	srv := NewServer("1.0.0-test", Options{
		Classifier: model,
		Processor:  tile.NewProcessor("msirs-test"),
		Catalog:    catalog.Default(),
		Tiling:     config.TilingConfig{WindowSize: 8, StepSize: 4, BatchSize: 5, Workers: 2},
		MaxTiles:   10,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/segment", bytes.NewReader(grayPNG(t, 20, 20, 10)))
	rec := httptest.NewRecorder()
	srv.SegmentImage(rec, req, api.SegmentImageParams{})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", rec.Code)
	}
	var resp api.ValidationErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.ValidationErrors) != 1 || resp.ValidationErrors[0].Field != "tiles" {
		t.Errorf("Expected a tiles validation error, got %+v", resp)
	}
}

func TestImageLifecycle(t *testing.T) {
	server := setupTestServer(t, &fakeModel{})
	defer server.Close()

	ids := make(map[uint8]string)
	for _, v := range []uint8{40, 120, 200} {
		data := grayPNG(t, 12, 16, v)
		resp, err := http.Post(server.URL+"/api/v1/images?name=scene.png", "image/png", bytes.NewReader(data))
		if err != nil {
			t.Fatalf("Failed to make request: %v", err)
		}
		if resp.StatusCode != http.StatusCreated {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			t.Fatalf("Expected status 201, got %d. Body: %s", resp.StatusCode, string(body))
		}
		var rec api.ImageRecord
		if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		resp.Body.Close()

		if rec.Name != "scene.png" || rec.Category == nil || *rec.Category != "cra" {
			t.Errorf("Unexpected record %+v", rec)
		}
		if resp.Header.Get("Location") != rec.Url {
			t.Errorf("Expected Location %s, got %s", rec.Url, resp.Header.Get("Location"))
		}
		ids[v] = rec.Id
	}

	// stored bytes come back unchanged
	resp, err := http.Get(server.URL + "/api/v1/images/" + ids[120])
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	stored, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("Unexpected image response %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !bytes.Equal(stored, grayPNG(t, 12, 16, 120)) {
		t.Error("Stored image differs from upload")
	}

	// nearest neighbour of a 130 image is the 120 one
	resp, err = http.Post(server.URL+"/api/v1/retrieve?k=2", "image/png", bytes.NewReader(grayPNG(t, 12, 16, 130)))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	var ret api.RetrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&ret); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	resp.Body.Close()
	if len(ret.Matches) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(ret.Matches))
	}
	if ret.Matches[0].Image.Id != ids[120] || ret.Matches[0].Distance > ret.Matches[1].Distance {
		t.Errorf("Unexpected ranking %+v", ret.Matches)
	}

	resp, err = http.Get(server.URL + "/api/v1/summary")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	var summary api.SummaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	resp.Body.Close()
	if summary.Total != 3 || summary.Categories["cra"] != 3 {
		t.Errorf("Unexpected summary %+v", summary)
	}

	resp, err = http.Get(server.URL + "/api/v1/images/unknown")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
	if errorResp := decodeError(t, resp); errorResp["error"] != "NOT_FOUND" {
		t.Errorf("Expected NOT_FOUND, got %v", errorResp["error"])
	}
}

func TestRetrieveEndpoint_InvalidK(t *testing.T) {
	server := setupTestServer(t, &fakeModel{})
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/v1/retrieve?k=0", "image/png", bytes.NewReader(grayPNG(t, 8, 8, 1)))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
	if errorResp := decodeError(t, resp); errorResp["error"] != "VALIDATION_ERROR" {
		t.Errorf("Expected VALIDATION_ERROR, got %v", errorResp["error"])
	}
}
