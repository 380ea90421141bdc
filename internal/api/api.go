// Package api provides the wire types and chi routing for the HTTP API.
//
// Handlers implement ServerInterface; HandlerWithOptions binds path and query
// parameters and mounts every operation on a chi router.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// Defines values for HealthResponseStatus.
const (
	Healthy   HealthResponseStatus = "healthy"
	Unhealthy HealthResponseStatus = "unhealthy"
)

// Defines values for SegmentImageParamsFormat.
const (
	Json SegmentImageParamsFormat = "json"
	Png  SegmentImageParamsFormat = "png"
	Grid SegmentImageParamsFormat = "grid"
)

// Defines values for ValidationErrorResponseError.
const (
	VALIDATIONERROR ValidationErrorResponseError = "VALIDATION_ERROR"
)

// ErrorResponse defines model for ErrorResponse.
type ErrorResponse struct {
	// Details Additional error details
	Details *map[string]interface{} `json:"details,omitempty"`

	// Error Error code
	Error string `json:"error"`

	// Message Human-readable error message
	Message string `json:"message"`

	// RequestId Unique request identifier for debugging
	RequestId *string `json:"request_id,omitempty"`
}

// ValidationErrorResponse defines model for ValidationErrorResponse.
type ValidationErrorResponse struct {
	Error            ValidationErrorResponseError `json:"error"`
	Message          string                       `json:"message"`
	RequestId        *string                      `json:"request_id,omitempty"`
	ValidationErrors []ValidationError            `json:"validation_errors"`
}

// ValidationErrorResponseError defines model for ValidationErrorResponse.Error.
type ValidationErrorResponseError string

// ValidationError names one rejected field.
type ValidationError struct {
	Code    *string `json:"code,omitempty"`
	Field   string  `json:"field"`
	Message string  `json:"message"`
}

// HealthResponse defines model for HealthResponse.
type HealthResponse struct {
	// IndexSize Number of indexed images
	IndexSize *int                 `json:"index_size,omitempty"`
	Status    HealthResponseStatus `json:"status"`
	Timestamp time.Time            `json:"timestamp"`

	// Uptime Server uptime in seconds
	Uptime  *int    `json:"uptime,omitempty"`
	Version *string `json:"version,omitempty"`
}

// HealthResponseStatus defines model for HealthResponse.Status.
type HealthResponseStatus string

// GeometryRequest defines model for GeometryRequest.
type GeometryRequest struct {
	Height int `json:"height"`
	Width  int `json:"width"`

	// WindowSize Side of the square window, defaults to the server setting
	WindowSize *int `json:"window_size,omitempty"`

	// StepSize Stride between windows, defaults to the server setting
	StepSize *int `json:"step_size,omitempty"`
}

// GeometryResponse defines model for GeometryResponse.
type GeometryResponse struct {
	Height       int   `json:"height"`
	Width        int   `json:"width"`
	WindowSize   int   `json:"window_size"`
	StepSize     int   `json:"step_size"`
	Tiles        []int `json:"tiles"`
	PaddedHeight int   `json:"padded_height"`
	PaddedWidth  int   `json:"padded_width"`
	Offset       []int `json:"offset"`
	StartsA      []int `json:"starts_a"`
	StartsB      []int `json:"starts_b"`

	// Count Number of windows the grid yields
	Count int `json:"count"`
}

// SegmentResponse defines model for SegmentResponse.
type SegmentResponse struct {
	Geometry GeometryResponse `json:"geometry"`
	Rows     int              `json:"rows"`
	Cols     int              `json:"cols"`

	// Labels Category ID per window in row-major order, -1 for unlabeled
	Labels []int `json:"labels"`

	// Counts Windows per category code
	Counts    map[string]int `json:"counts"`
	RequestId *string        `json:"request_id,omitempty"`
	TookMs    int64          `json:"took_ms"`
}

// ImageRecord defines model for ImageRecord.
type ImageRecord struct {
	Id       string    `json:"id"`
	Name     string    `json:"name"`
	Category *string   `json:"category,omitempty"`
	Format   string    `json:"format"`
	Height   int       `json:"height"`
	Width    int       `json:"width"`
	AddedAt  time.Time `json:"added_at"`
	Url      string    `json:"url"`
}

// RetrievalMatch defines model for RetrievalMatch.
type RetrievalMatch struct {
	Distance float64     `json:"distance"`
	Image    ImageRecord `json:"image"`
}

// RetrieveResponse defines model for RetrieveResponse.
type RetrieveResponse struct {
	Matches   []RetrievalMatch `json:"matches"`
	RequestId *string          `json:"request_id,omitempty"`
	TookMs    int64            `json:"took_ms"`
}

// SummaryResponse defines model for SummaryResponse.
type SummaryResponse struct {
	Total      int            `json:"total"`
	Categories map[string]int `json:"categories"`
}

// SegmentImageParams defines parameters for SegmentImage.
type SegmentImageParams struct {
	// Window Overrides the configured window size
	Window *int `form:"window,omitempty" json:"window,omitempty"`

	// Step Overrides the configured step size
	Step *int `form:"step,omitempty" json:"step,omitempty"`

	// Format Response representation
	Format *SegmentImageParamsFormat `form:"format,omitempty" json:"format,omitempty"`
}

// SegmentImageParamsFormat defines parameters for SegmentImage.
type SegmentImageParamsFormat string

// RetrieveSimilarParams defines parameters for RetrieveSimilar.
type RetrieveSimilarParams struct {
	// K Number of matches, defaults to the configured top-k
	K *int `form:"k,omitempty" json:"k,omitempty"`
}

// AddImageParams defines parameters for AddImage.
type AddImageParams struct {
	// Name Original file name recorded with the image
	Name *string `form:"name,omitempty" json:"name,omitempty"`
}

// ComputeGeometryJSONRequestBody defines body for ComputeGeometry for application/json ContentType.
type ComputeGeometryJSONRequestBody = GeometryRequest

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// Compute the tile grid for an image size
	// (POST /geometry)
	ComputeGeometry(w http.ResponseWriter, r *http.Request)
	// Health check
	// (GET /health)
	GetHealth(w http.ResponseWriter, r *http.Request)
	// Add an image to the retrieval index
	// (POST /images)
	AddImage(w http.ResponseWriter, r *http.Request, params AddImageParams)
	// Fetch a stored image
	// (GET /images/{id})
	GetImage(w http.ResponseWriter, r *http.Request, id string)
	// Find indexed images similar to the uploaded one
	// (POST /retrieve)
	RetrieveSimilar(w http.ResponseWriter, r *http.Request, params RetrieveSimilarParams)
	// Classify every window of the uploaded image
	// (POST /segment)
	SegmentImage(w http.ResponseWriter, r *http.Request, params SegmentImageParams)
	// Index size per category
	// (GET /summary)
	GetSummary(w http.ResponseWriter, r *http.Request)
}

// ServerInterfaceWrapper converts contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	HandlerMiddlewares []MiddlewareFunc
	ErrorHandlerFunc   func(w http.ResponseWriter, r *http.Request, err error)
}

type MiddlewareFunc func(http.Handler) http.Handler

func (siw *ServerInterfaceWrapper) serve(w http.ResponseWriter, r *http.Request, h http.HandlerFunc) {
	handler := http.Handler(h)
	for _, middleware := range siw.HandlerMiddlewares {
		handler = middleware(handler)
	}
	handler.ServeHTTP(w, r)
}

// ComputeGeometry operation middleware
func (siw *ServerInterfaceWrapper) ComputeGeometry(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, siw.Handler.ComputeGeometry)
}

// GetHealth operation middleware
func (siw *ServerInterfaceWrapper) GetHealth(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, siw.Handler.GetHealth)
}

// AddImage operation middleware
func (siw *ServerInterfaceWrapper) AddImage(w http.ResponseWriter, r *http.Request) {
	var params AddImageParams

	err := runtime.BindQueryParameter("form", true, false, "name", r.URL.Query(), &params.Name)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "name", Err: err})
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.AddImage(w, r, params)
	})
}

// GetImage operation middleware
func (siw *ServerInterfaceWrapper) GetImage(w http.ResponseWriter, r *http.Request) {
	var id string

	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "id", Err: err})
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetImage(w, r, id)
	})
}

// RetrieveSimilar operation middleware
func (siw *ServerInterfaceWrapper) RetrieveSimilar(w http.ResponseWriter, r *http.Request) {
	var params RetrieveSimilarParams

	err := runtime.BindQueryParameter("form", true, false, "k", r.URL.Query(), &params.K)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "k", Err: err})
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.RetrieveSimilar(w, r, params)
	})
}

// SegmentImage operation middleware
func (siw *ServerInterfaceWrapper) SegmentImage(w http.ResponseWriter, r *http.Request) {
	var params SegmentImageParams

	err := runtime.BindQueryParameter("form", true, false, "window", r.URL.Query(), &params.Window)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "window", Err: err})
		return
	}

	err = runtime.BindQueryParameter("form", true, false, "step", r.URL.Query(), &params.Step)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "step", Err: err})
		return
	}

	err = runtime.BindQueryParameter("form", true, false, "format", r.URL.Query(), &params.Format)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "format", Err: err})
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.SegmentImage(w, r, params)
	})
}

// GetSummary operation middleware
func (siw *ServerInterfaceWrapper) GetSummary(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, siw.Handler.GetSummary)
}

type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("Invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

// Handler creates http.Handler serving every API route.
func Handler(si ServerInterface) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{})
}

type ChiServerOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	Middlewares      []MiddlewareFunc
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// HandlerFromMux registers every API route on the provided mux.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{
		BaseRouter: r,
	})
}

// HandlerWithOptions creates http.Handler with additional options
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter

	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := ServerInterfaceWrapper{
		Handler:            si,
		HandlerMiddlewares: options.Middlewares,
		ErrorHandlerFunc:   options.ErrorHandlerFunc,
	}

	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/geometry", wrapper.ComputeGeometry)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/health", wrapper.GetHealth)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/images", wrapper.AddImage)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/images/{id}", wrapper.GetImage)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/retrieve", wrapper.RetrieveSimilar)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/segment", wrapper.SegmentImage)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/summary", wrapper.GetSummary)
	})

	return r
}
