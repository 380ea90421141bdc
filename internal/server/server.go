package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/aetherspritee/msirs/internal/api"
	"github.com/aetherspritee/msirs/internal/catalog"
	"github.com/aetherspritee/msirs/internal/config"
	"github.com/aetherspritee/msirs/internal/descriptor"
	"github.com/aetherspritee/msirs/internal/index"
	"github.com/aetherspritee/msirs/internal/retrieval"
	"github.com/aetherspritee/msirs/internal/segment"
	"github.com/aetherspritee/msirs/internal/storage"
	"github.com/aetherspritee/msirs/pkg/tile"
)

// Options carries the collaborators the handlers need
type Options struct {
	Classifier descriptor.Classifier
	Pipeline   *retrieval.Pipeline
	Processor  *tile.Processor
	Catalog    *catalog.Catalog
	Tiling     config.TilingConfig
	MaxBody    int64
	MaxTiles   int
}

// Server implements api.ServerInterface
type Server struct {
	startTime time.Time
	version   string
	opts      Options
}

// NewServer creates a new server instance
func NewServer(version string, opts Options) *Server {
	if opts.MaxBody <= 0 {
		opts.MaxBody = 64 << 20
	}
	if opts.MaxTiles <= 0 {
		opts.MaxTiles = 1 << 22
	}
	return &Server{
		startTime: time.Now(),
		version:   version,
		opts:      opts,
	}
}

// GetHealth implements the health check endpoint
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	uptime := int(time.Since(s.startTime).Seconds())

	response := api.HealthResponse{
		Status:    api.Healthy,
		Timestamp: time.Now(),
		Uptime:    &uptime,
		Version:   &s.version,
	}
	if s.opts.Pipeline != nil {
		n := s.opts.Pipeline.Len()
		response.IndexSize = &n
	}

	s.writeJSON(w, http.StatusOK, response)
}

// ComputeGeometry reports the tile grid for an image size without touching
// any pixels
func (s *Server) ComputeGeometry(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)

	var req api.GeometryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_JSON",
			"Invalid JSON in request body", &requestID, nil)
		return
	}

	window, step := s.tiling(req.WindowSize, req.StepSize)
	shape := tile.Shape{Height: req.Height, Width: req.Width}
	if !s.checkTiles(w, shape, window, step, requestID) {
		return
	}
	geom, err := tile.NewGeometry(shape, window, step)
	if err != nil {
		s.handleError(w, err, &requestID)
		return
	}
	s.writeJSON(w, http.StatusOK, geometryResponse(geom))
}

// SegmentImage classifies every window of the uploaded image
func (s *Server) SegmentImage(w http.ResponseWriter, r *http.Request, params api.SegmentImageParams) {
	requestID := getRequestID(r)
	start := time.Now()

	img, ok := s.readRaster(w, r, requestID)
	if !ok {
		return
	}

	window, step := s.tiling(params.Window, params.Step)
	if !s.checkTiles(w, img.Shape(), window, step, requestID) {
		return
	}
	seg := segment.New(s.opts.Classifier, segment.Options{
		WindowSize: window,
		StepSize:   step,
		BatchSize:  s.opts.Tiling.BatchSize,
		Workers:    s.opts.Tiling.Workers,
	})
	lm, err := seg.Segment(r.Context(), img)
	if err != nil {
		s.handleError(w, err, &requestID)
		return
	}

	format := api.Json
	if params.Format != nil {
		format = *params.Format
	}
	switch format {
	case api.Png:
		s.writePNG(w, requestID, lm.Render(s.opts.Catalog))
	case api.Grid:
		s.writePNG(w, requestID, lm.Grid(s.opts.Catalog))
	case api.Json:
		counts := make(map[string]int)
		for label, n := range lm.Counts() {
			code := s.opts.Catalog.Code(label)
			if code == "" {
				code = "unlabeled"
			}
			counts[code] += n
		}
		s.writeJSON(w, http.StatusOK, api.SegmentResponse{
			Geometry:  geometryResponse(lm.Geometry),
			Rows:      lm.Rows,
			Cols:      lm.Cols,
			Labels:    lm.Labels,
			Counts:    counts,
			RequestId: &requestID,
			TookMs:    time.Since(start).Milliseconds(),
		})
	default:
		s.writeValidationErrorResponse(w, "format", fmt.Sprintf("unknown format: %s", format), &requestID)
	}
}

// RetrieveSimilar answers a similarity query for the uploaded image
func (s *Server) RetrieveSimilar(w http.ResponseWriter, r *http.Request, params api.RetrieveSimilarParams) {
	requestID := getRequestID(r)

	k := 0
	if params.K != nil {
		if *params.K <= 0 {
			s.writeValidationErrorResponse(w, "k", "k must be positive", &requestID)
			return
		}
		k = *params.K
	}

	img, ok := s.readRaster(w, r, requestID)
	if !ok {
		return
	}

	res, err := s.opts.Pipeline.Query(r.Context(), img, k)
	if err != nil {
		s.handleError(w, err, &requestID)
		return
	}

	response := api.RetrieveResponse{
		Matches:   make([]api.RetrievalMatch, len(res.Matches)),
		RequestId: &requestID,
		TookMs:    res.Took.Milliseconds(),
	}
	for i, m := range res.Matches {
		response.Matches[i] = api.RetrievalMatch{
			Distance: m.Distance,
			Image:    imageRecord(m.Record),
		}
	}
	s.writeJSON(w, http.StatusOK, response)
}

// AddImage indexes the uploaded image and persists the index
func (s *Server) AddImage(w http.ResponseWriter, r *http.Request, params api.AddImageParams) {
	requestID := getRequestID(r)

	data, ok := s.readBody(w, r, requestID)
	if !ok {
		return
	}
	name := "upload"
	if params.Name != nil && *params.Name != "" {
		name = *params.Name
	}

	rec, err := s.opts.Pipeline.Add(r.Context(), name, data)
	if err != nil {
		s.handleError(w, err, &requestID)
		return
	}
	if err := s.opts.Pipeline.Persist(r.Context()); err != nil {
		s.handleError(w, err, &requestID)
		return
	}

	log.Printf("Indexed %s as %s", name, rec.ID)
	w.Header().Set("Location", "/api/v1/images/"+rec.ID)
	s.writeJSON(w, http.StatusCreated, imageRecord(rec))
}

// GetImage returns the stored bytes of an indexed image
func (s *Server) GetImage(w http.ResponseWriter, r *http.Request, id string) {
	requestID := getRequestID(r)

	data, rec, err := s.opts.Pipeline.Image(r.Context(), id)
	if err != nil {
		s.handleError(w, err, &requestID)
		return
	}

	w.Header().Set("Content-Type", tile.Format(rec.Metadata.Format).ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

// GetSummary reports the index size per category
func (s *Server) GetSummary(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, api.SummaryResponse{
		Total:      s.opts.Pipeline.Len(),
		Categories: s.opts.Pipeline.Summary(),
	})
}

// HandleParamError reports a query or path parameter that failed to bind
func (s *Server) HandleParamError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := getRequestID(r)
	field := "request"
	var perr *api.InvalidParamFormatError
	if errors.As(err, &perr) {
		field = perr.ParamName
	}
	s.writeValidationErrorResponse(w, field, err.Error(), &requestID)
}

func (s *Server) tiling(window, step *int) (int, int) {
	w, st := s.opts.Tiling.WindowSize, s.opts.Tiling.StepSize
	if window != nil {
		w = *window
	}
	if step != nil {
		st = *step
	}
	return w, st
}

// checkTiles rejects shapes whose window grid exceeds MaxTiles along either
// axis or in total
func (s *Server) checkTiles(w http.ResponseWriter, shape tile.Shape, window, step int, requestID string) bool {
	rows, cols, err := tile.CountWindows(shape, window, step)
	if err != nil {
		s.handleError(w, err, &requestID)
		return false
	}
	limit := s.opts.MaxTiles
	if rows > limit || cols > limit || (cols > 0 && rows > limit/cols) {
		s.writeValidationErrorResponse(w, "tiles",
			fmt.Sprintf("image yields %d x %d windows, limit is %d", rows, cols, limit), &requestID)
		return false
	}
	return true
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request, requestID string) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeErrorResponse(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE",
				fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit), &requestID, nil)
			return nil, false
		}
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), &requestID, nil)
		return nil, false
	}
	if len(data) == 0 {
		s.writeValidationErrorResponse(w, "body", "request body must contain an image", &requestID)
		return nil, false
	}
	return data, true
}

func (s *Server) readRaster(w http.ResponseWriter, r *http.Request, requestID string) (*tile.Raster, bool) {
	data, ok := s.readBody(w, r, requestID)
	if !ok {
		return nil, false
	}
	img, err := s.opts.Processor.DecodeRaster(data)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_IMAGE", err.Error(), &requestID, nil)
		return nil, false
	}
	return img, true
}

// handleError maps pipeline errors to HTTP responses
func (s *Server) handleError(w http.ResponseWriter, err error, requestID *string) {
	var (
		geomErr  *tile.GeometryError
		modelErr *descriptor.ModelError
		batchErr *segment.BatchError
	)

	switch {
	case errors.As(err, &geomErr):
		s.writeValidationErrorResponse(w, geomErr.Field, err.Error(), requestID)
	case errors.Is(err, tile.ErrInvalidGeometry), errors.Is(err, tile.ErrIndexOutOfRange):
		s.writeValidationErrorResponse(w, "geometry", err.Error(), requestID)
	case errors.Is(err, context.DeadlineExceeded):
		s.writeErrorResponse(w, http.StatusGatewayTimeout, "MODEL_SERVER_TIMEOUT",
			"Model server requests timed out", requestID, nil)
	case errors.As(err, &modelErr):
		details := map[string]interface{}{
			"status_code": modelErr.StatusCode,
		}
		if errors.As(err, &batchErr) {
			details["batch"] = batchErr.Batch
			details["tiles"] = batchErr.Tiles
		}
		s.writeErrorResponse(w, http.StatusBadGateway, "MODEL_SERVER_ERROR", err.Error(), requestID, details)
	case errors.Is(err, storage.ErrNotFound):
		s.writeErrorResponse(w, http.StatusNotFound, "NOT_FOUND", err.Error(), requestID, nil)
	case errors.Is(err, index.ErrDimension):
		s.writeErrorResponse(w, http.StatusConflict, "DIMENSION_MISMATCH", err.Error(), requestID, nil)
	default:
		log.Printf("Request %s failed: %v", *requestID, err)
		s.writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Internal server error", requestID, nil)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func (s *Server) writePNG(w http.ResponseWriter, requestID string, img image.Image) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		s.handleError(w, err, &requestID)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

// writeErrorResponse writes a standard error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string, requestID *string, details map[string]interface{}) {
	response := api.ErrorResponse{
		Error:     errorCode,
		Message:   message,
		RequestId: requestID,
	}

	if details != nil {
		response.Details = &details
	}

	s.writeJSON(w, statusCode, response)
}

// writeValidationErrorResponse writes a validation error response
func (s *Server) writeValidationErrorResponse(w http.ResponseWriter, field, message string, requestID *string) {
	response := api.ValidationErrorResponse{
		Error:     api.VALIDATIONERROR,
		Message:   message,
		RequestId: requestID,
		ValidationErrors: []api.ValidationError{
			{
				Field:   field,
				Message: message,
			},
		},
	}

	s.writeJSON(w, http.StatusBadRequest, response)
}

func geometryResponse(g *tile.Geometry) api.GeometryResponse {
	return api.GeometryResponse{
		Height:       g.Image.Height,
		Width:        g.Image.Width,
		WindowSize:   g.WindowSize,
		StepSize:     g.StepSize,
		Tiles:        []int{g.Tiles[0], g.Tiles[1]},
		PaddedHeight: g.Padded.Height,
		PaddedWidth:  g.Padded.Width,
		Offset:       []int{g.Offset[0], g.Offset[1]},
		StartsA:      g.StartsA,
		StartsB:      g.StartsB,
		Count:        g.Len(),
	}
}

func imageRecord(rec index.Record) api.ImageRecord {
	out := api.ImageRecord{
		Id:      rec.ID,
		Name:    rec.Metadata.Name,
		Format:  rec.Metadata.Format,
		Height:  rec.Metadata.Height,
		Width:   rec.Metadata.Width,
		AddedAt: rec.Metadata.AddedAt,
		Url:     "/api/v1/images/" + rec.ID,
	}
	if rec.Metadata.Category != "" {
		category := rec.Metadata.Category
		out.Category = &category
	}
	return out
}

// getRequestID reuses the chi request ID when present
func getRequestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return generateRequestID()
}

// generateRequestID generates a unique request ID
func generateRequestID() string {
	return "req_" + uuid.NewString()
}
