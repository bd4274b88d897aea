// Package server exposes the tile loader and renderer over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kiesman99/tilevas/internal/loader"
	"github.com/kiesman99/tilevas/internal/render"
	"github.com/kiesman99/tilevas/internal/stitcher"
	"github.com/kiesman99/tilevas/pkg/tile"
)

const (
	tracerName = "github.com/kiesman99/tilevas/internal/server"

	mvtContentType = "application/vnd.mapbox-vector-tile"
)

// TileLoader is the part of loader.CachedLoader the server needs.
type TileLoader interface {
	TileData(ctx context.Context, a tile.Address) ([]byte, error)
	TileDataFrom(ctx context.Context, a tile.Address, src loader.Source) ([]byte, error)
}

// Options wires the server to the tile pipeline.
type Options struct {
	Loader   TileLoader
	Renderer render.Renderer
	Stitcher *stitcher.Stitcher
	// Source is the configured tile source name, reported by /health.
	Source  string
	MaxZoom uint8
	// Vector marks raw tiles as Mapbox Vector Tiles instead of sniffing them.
	Vector  bool
	Timeout time.Duration
	Logger  *zap.Logger
}

// Server implements the HTTP endpoints
type Server struct {
	startTime time.Time
	version   string
	opts      Options
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewServer creates a new server instance
func NewServer(version string, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxZoom == 0 {
		opts.MaxZoom = tile.MaxZoom
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Server{
		startTime: time.Now(),
		version:   version,
		opts:      opts,
		logger:    opts.Logger.Named("server"),
		tracer:    otel.Tracer(tracerName),
	}
}

// Routes mounts the endpoints on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.GetHealth)
	r.Get("/tiles/{zoom}/{x}/{y}.{format}", s.GetTile)
	r.Get("/preload/{zoom}/{x}/{y}", s.GetPreload)
	r.Post("/stitch", s.CreateStitchedImage)
}

// GetHealth implements the health check endpoint
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	uptime := int(time.Since(s.startTime).Seconds())

	response := HealthResponse{
		Status:    Healthy,
		Timestamp: time.Now(),
		Uptime:    &uptime,
		Version:   &s.version,
	}
	if s.opts.Source != "" {
		response.Source = &s.opts.Source
	}
	if s.opts.Renderer != nil {
		name := s.opts.Renderer.Name()
		response.Renderer = &name
	}

	s.writeJSON(w, http.StatusOK, response)
}

// GetTile serves one tile, rendered (.png) or as the encoded source bytes (.raw).
func (s *Server) GetTile(w http.ResponseWriter, r *http.Request) {
	requestID := generateRequestID(r)

	a, ok := s.bindTile(w, r, &requestID)
	if !ok {
		return
	}

	switch format := chi.URLParam(r, "format"); format {
	case "png":
		s.renderTile(w, r, a, &requestID)
	case "raw":
		s.rawTile(w, r, a, &requestID)
	default:
		s.writeErrorResponse(w, http.StatusNotFound, CodeUnknownFormat,
			fmt.Sprintf("unknown tile format %q, use png or raw", format), &requestID, nil)
	}
}

func (s *Server) renderTile(w http.ResponseWriter, r *http.Request, a tile.Address, requestID *string) {
	var scale *float64
	if err := runtime.BindQueryParameter("form", true, false, "scale", r.URL.Query(), &scale); err != nil {
		s.writeValidationErrorResponse(w, "scale", err.Error(), requestID)
		return
	}
	sc := 1.0
	if scale != nil {
		sc = *scale
	}
	if sc <= 0 || render.CheckScale(sc) != nil {
		s.writeValidationErrorResponse(w, "scale",
			fmt.Sprintf("scale must be in (0, %g]", render.MaxScale), requestID)
		return
	}

	ctx, span := s.tracer.Start(r.Context(), "Server.RenderTile", trace.WithAttributes(
		attribute.String("tile", a.String()),
		attribute.Float64("scale", sc),
	))
	defer span.End()

	data, err := s.opts.Loader.TileData(ctx, a)
	if err != nil {
		recordError(span, err)
		s.handleTileError(w, err, requestID)
		return
	}

	img, err := s.opts.Renderer.RenderScaled(a, data, sc)
	if err != nil {
		recordError(span, err)
		s.handleTileError(w, err, requestID)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		recordError(span, err)
		s.handleTileError(w, err, requestID)
		return
	}

	s.writeBody(w, "image/png", buf.Bytes(), requestID)
}

func (s *Server) rawTile(w http.ResponseWriter, r *http.Request, a tile.Address, requestID *string) {
	var source *string
	if err := runtime.BindQueryParameter("form", true, false, "source", r.URL.Query(), &source); err != nil {
		s.writeValidationErrorResponse(w, "source", err.Error(), requestID)
		return
	}
	src := loader.SourceAll
	if source != nil {
		switch *source {
		case "all":
		case "cache":
			src = loader.SourceCache
		case "download":
			src = loader.SourceDownload
		default:
			s.writeValidationErrorResponse(w, "source", "source must be one of all, cache, download", requestID)
			return
		}
	}

	ctx, span := s.tracer.Start(r.Context(), "Server.RawTile", trace.WithAttributes(
		attribute.String("tile", a.String()),
		attribute.String("source", src.String()),
	))
	defer span.End()

	data, err := s.opts.Loader.TileDataFrom(ctx, a, src)
	if err != nil {
		if src == loader.SourceCache && errors.Is(err, loader.ErrTileNotAvailable) {
			s.writeErrorResponse(w, http.StatusNotFound, CodeNotCached, err.Error(), requestID, nil)
			return
		}
		recordError(span, err)
		s.handleTileError(w, err, requestID)
		return
	}

	contentType := mvtContentType
	if !s.opts.Vector {
		contentType = http.DetectContentType(data)
	}
	s.writeBody(w, contentType, data, requestID)
}

// GetPreload suggests parents, children and neighbours of a tile that are
// not cached yet.
func (s *Server) GetPreload(w http.ResponseWriter, r *http.Request) {
	requestID := generateRequestID(r)

	a, ok := s.bindTile(w, r, &requestID)
	if !ok {
		return
	}

	var limit *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		s.writeValidationErrorResponse(w, "limit", err.Error(), &requestID)
		return
	}
	n := 0
	if limit != nil {
		n = *limit
	}

	ctx := r.Context()
	cached := func(c tile.Address) bool {
		if c.Zoom > s.opts.MaxZoom {
			return true
		}
		_, err := s.opts.Loader.TileDataFrom(ctx, c, loader.SourceCache)
		return err == nil
	}

	response := PreloadResponse{Tiles: []TileRef{}}
	for _, c := range tile.PreloadCandidates([]tile.Address{a}, cached, n) {
		response.Tiles = append(response.Tiles, TileRef{Zoom: c.Zoom, X: c.X, Y: c.Y})
	}
	s.writeJSON(w, http.StatusOK, response)
}

// CreateStitchedImage implements the main stitching endpoint
func (s *Server) CreateStitchedImage(w http.ResponseWriter, r *http.Request) {
	requestID := generateRequestID(r)

	if s.opts.Stitcher == nil {
		s.writeErrorResponse(w, http.StatusNotFound, CodeNotFound, "stitching is not enabled", &requestID, nil)
		return
	}

	// Parse request body
	var req StitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, CodeInvalidJSON,
			"Invalid JSON in request body", &requestID, nil)
		return
	}

	// Validate request
	if field, err := s.validateStitchRequest(&req); err != nil {
		s.writeValidationErrorResponse(w, field, err.Error(), &requestID)
		return
	}

	opts := s.convertToStitcherOptions(&req)

	ctx, span := s.tracer.Start(r.Context(), "Server.Stitch", trace.WithAttributes(
		attribute.String("mode", req.Mode),
		attribute.Int("zoom", req.Zoom),
	))
	defer span.End()

	result, err := s.opts.Stitcher.Stitch(ctx, opts)
	if err != nil {
		recordError(span, err)
		s.handleStitchingError(w, err, &requestID)
		return
	}
	span.SetAttributes(
		attribute.Int("tiles.total", result.TotalTiles),
		attribute.Int("tiles.fallback", result.FallbackTiles),
	)

	w.Header().Set("X-Tiles-Total", strconv.Itoa(result.TotalTiles))
	w.Header().Set("X-Tiles-Fallback", strconv.Itoa(result.FallbackTiles))
	w.Header().Set("X-Tiles-Failed", strconv.Itoa(len(result.FailedTiles)))
	if result.WorldFileData != nil {
		w.Header().Set("X-World-File", strings.Join(strings.Fields(string(result.WorldFileData)), " "))
	}
	s.writeBody(w, "image/png", result.ImageData, &requestID)
}

// validateStitchRequest validates the incoming stitch request and names the offending field
func (s *Server) validateStitchRequest(req *StitchRequest) (string, error) {
	// Validate mode and corresponding parameters
	switch req.Mode {
	case ModeBBox:
		if req.Bbox == nil {
			return "bbox", fmt.Errorf("bbox is required when mode is 'bbox'")
		}
		if req.Center != nil {
			return "center", fmt.Errorf("center should not be provided when mode is 'bbox'")
		}
		// Validate bbox bounds
		if req.Bbox.MinLat >= req.Bbox.MaxLat {
			return "bbox.min_lat", fmt.Errorf("min_lat must be less than max_lat")
		}
		if req.Bbox.MinLon >= req.Bbox.MaxLon {
			return "bbox.min_lon", fmt.Errorf("min_lon must be less than max_lon")
		}
	case ModeCentered:
		if req.Center == nil {
			return "center", fmt.Errorf("center is required when mode is 'centered'")
		}
		if req.Bbox != nil {
			return "bbox", fmt.Errorf("bbox should not be provided when mode is 'centered'")
		}
		// Validate center dimensions
		if req.Center.Width <= 0 || req.Center.Height <= 0 {
			return "center", fmt.Errorf("width and height must be positive")
		}
	default:
		return "mode", fmt.Errorf("invalid mode: %s", req.Mode)
	}

	// Validate zoom level
	maxZoom := min(int(s.opts.MaxZoom), stitcher.MaxZoom)
	if req.Zoom < 0 || req.Zoom > maxZoom {
		return "zoom", fmt.Errorf("zoom must be between 0 and %d", maxZoom)
	}

	if req.Output != nil && req.Output.Scale != nil {
		if sc := *req.Output.Scale; sc <= 0 || render.CheckScale(sc) != nil {
			return "output.scale", fmt.Errorf("scale must be in (0, %g]", render.MaxScale)
		}
	}

	return "", nil
}

// convertToStitcherOptions converts API request to internal stitcher options
func (s *Server) convertToStitcherOptions(req *StitchRequest) *stitcher.Options {
	opts := &stitcher.Options{
		Zoom:  req.Zoom,
		Scale: 1,
	}

	if req.Output != nil && req.Output.Scale != nil {
		opts.Scale = *req.Output.Scale
	}
	if req.Output != nil && req.Output.GenerateWorldfile != nil {
		opts.GenerateWorldFile = *req.Output.GenerateWorldfile
	}

	// Set coordinates based on mode
	switch req.Mode {
	case ModeBBox:
		opts.Mode = stitcher.ModeBBox
		opts.MinLat = req.Bbox.MinLat
		opts.MinLon = req.Bbox.MinLon
		opts.MaxLat = req.Bbox.MaxLat
		opts.MaxLon = req.Bbox.MaxLon
	case ModeCentered:
		opts.Mode = stitcher.ModeCentered
		opts.CenterLat = req.Center.Lat
		opts.CenterLon = req.Center.Lon
		opts.Width = req.Center.Width
		opts.Height = req.Center.Height
	}

	return opts
}

// bindTile reads {zoom}/{x}/{y} and rejects tiles outside the grid.
func (s *Server) bindTile(w http.ResponseWriter, r *http.Request, requestID *string) (tile.Address, bool) {
	var zoom, x, y int
	for _, p := range []struct {
		name string
		dst  *int
	}{{"zoom", &zoom}, {"x", &x}, {"y", &y}} {
		err := runtime.BindStyledParameterWithOptions("simple", p.name, chi.URLParam(r, p.name), p.dst,
			runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
		if err != nil {
			s.writeValidationErrorResponse(w, p.name, fmt.Sprintf("Invalid format for parameter %s: %s", p.name, err), requestID)
			return tile.Address{}, false
		}
	}

	if zoom < 0 || zoom > int(s.opts.MaxZoom) {
		s.writeValidationErrorResponse(w, "zoom", fmt.Sprintf("zoom must be between 0 and %d", s.opts.MaxZoom), requestID)
		return tile.Address{}, false
	}
	limit := 1 << zoom
	if x < 0 || y < 0 || x >= limit || y >= limit {
		s.writeValidationErrorResponse(w, "x", fmt.Sprintf("x and y must be between 0 and %d at zoom %d", limit-1, zoom), requestID)
		return tile.Address{}, false
	}
	return tile.New(uint32(x), uint32(y), uint8(zoom)), true
}

// handleTileError maps loader and renderer errors to responses
func (s *Server) handleTileError(w http.ResponseWriter, err error, requestID *string) {
	var derr *loader.DownloadError
	var rerr *render.Error

	switch {
	case loader.IsInProgress(err):
		w.Header().Set("Retry-After", "1")
		s.writeErrorResponse(w, http.StatusServiceUnavailable, CodeInProgress,
			"Tile is being downloaded, retry shortly", requestID, nil)
	case errors.As(err, &rerr):
		s.writeErrorResponse(w, http.StatusUnprocessableEntity, CodeRender, err.Error(), requestID, nil)
	case errors.Is(err, context.DeadlineExceeded):
		s.writeErrorResponse(w, http.StatusGatewayTimeout, CodeTileTimeout,
			"Tile server requests timed out", requestID, map[string]interface{}{
				"timeout_seconds": int(s.opts.Timeout.Seconds()),
			})
	case errors.As(err, &derr) && derr.StatusCode == http.StatusNotFound:
		s.writeErrorResponse(w, http.StatusNotFound, CodeTileNotFound, err.Error(), requestID,
			map[string]interface{}{"url": derr.URL})
	case errors.As(err, &derr):
		details := map[string]interface{}{"url": derr.URL}
		if derr.StatusCode != 0 {
			details["status_code"] = derr.StatusCode
		}
		s.writeErrorResponse(w, http.StatusBadGateway, CodeTileServer, err.Error(), requestID, details)
	case errors.Is(err, loader.ErrTileNotAvailable):
		s.writeErrorResponse(w, http.StatusBadGateway, CodeTileServer, err.Error(), requestID, nil)
	default:
		s.logger.Error("tile request failed", zap.Error(err), zap.Stringp("request_id", requestID))
		s.writeErrorResponse(w, http.StatusInternalServerError, CodeInternal,
			"Internal server error", requestID, nil)
	}
}

// handleStitchingError handles errors from the stitching process
func (s *Server) handleStitchingError(w http.ResponseWriter, err error, requestID *string) {
	// Check if it's a tile-related error
	var stitchErr *stitcher.TileError
	if errors.As(err, &stitchErr) {
		failedTiles := make([]FailedTile, len(stitchErr.FailedTiles))
		for i, ft := range stitchErr.FailedTiles {
			failedTiles[i] = FailedTile{
				Zoom:       ft.Tile.Zoom,
				X:          ft.Tile.X,
				Y:          ft.Tile.Y,
				Error:      ft.Error,
				StatusCode: ft.StatusCode,
				Url:        ft.URL,
			}
		}

		response := TileErrorResponse{
			Error:           CodeTileServer,
			Message:         stitchErr.Message,
			FailedTiles:     failedTiles,
			SuccessfulTiles: stitchErr.SuccessfulTiles,
			TotalTiles:      stitchErr.TotalTiles,
			RequestId:       requestID,
		}
		s.writeJSON(w, http.StatusBadGateway, response)
		return
	}

	if errors.Is(err, stitcher.ErrImageSize) {
		s.writeValidationErrorResponse(w, "request", err.Error(), requestID)
		return
	}

	// Check if it's a timeout error
	if errors.Is(err, context.DeadlineExceeded) {
		s.writeErrorResponse(w, http.StatusGatewayTimeout, CodeTileTimeout,
			"Tile server requests timed out", requestID, map[string]interface{}{
				"timeout_seconds": int(s.opts.Timeout.Seconds()),
			})
		return
	}

	// Generic internal server error
	s.logger.Error("stitch failed", zap.Error(err), zap.Stringp("request_id", requestID))
	s.writeErrorResponse(w, http.StatusInternalServerError, CodeInternal,
		"Internal server error", requestID, nil)
}

func (s *Server) writeBody(w http.ResponseWriter, contentType string, data []byte, requestID *string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Request-ID", *requestID)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("error writing response", zap.Error(err))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("error encoding response", zap.Error(err))
	}
}

// writeErrorResponse writes a standard error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string, requestID *string, details map[string]interface{}) {
	response := ErrorResponse{
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
	response := ValidationErrorResponse{
		Error:     CodeValidation,
		Message:   message,
		RequestId: requestID,
		ValidationErrors: []ValidationError{
			{
				Field:   field,
				Message: message,
			},
		},
	}

	s.writeJSON(w, http.StatusBadRequest, response)
}

func recordError(span trace.Span, err error) {
	if loader.IsInProgress(err) {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// generateRequestID reuses the id of the RequestID middleware or makes one up
func generateRequestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return "req_" + uuid.NewString()
}
