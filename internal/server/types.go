package server

import "time"

// Health status values
const (
	Healthy   = "healthy"
	Unhealthy = "unhealthy"
)

// Stitch modes
const (
	ModeBBox     = "bbox"
	ModeCentered = "centered"
)

// Error codes
const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeInvalidJSON   = "INVALID_JSON"
	CodeTileNotFound  = "TILE_NOT_FOUND"
	CodeTileServer    = "TILE_SERVER_ERROR"
	CodeTileTimeout   = "TILE_SERVER_TIMEOUT"
	CodeInProgress    = "DOWNLOAD_IN_PROGRESS"
	CodeRender        = "RENDER_ERROR"
	CodeInternal      = "INTERNAL_ERROR"
	CodeNotFound      = "NOT_FOUND"
	CodeNotCached     = "TILE_NOT_CACHED"
	CodeUnknownFormat = "UNKNOWN_FORMAT"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    *int      `json:"uptime,omitempty"`
	Version   *string   `json:"version,omitempty"`
	Source    *string   `json:"source,omitempty"`
	Renderer  *string   `json:"renderer,omitempty"`
}

// BoundingBox in WGS84 degrees.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// CenterPoint describes a centred image of Width x Height pixels.
type CenterPoint struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
}

// OutputOptions tune the stitched image.
type OutputOptions struct {
	Scale             *float64 `json:"scale,omitempty"`
	GenerateWorldfile *bool    `json:"generate_worldfile,omitempty"`
}

// StitchRequest is the body of POST /stitch.
type StitchRequest struct {
	Mode   string         `json:"mode"`
	Bbox   *BoundingBox   `json:"bbox,omitempty"`
	Center *CenterPoint   `json:"center,omitempty"`
	Zoom   int            `json:"zoom"`
	Output *OutputOptions `json:"output,omitempty"`
}

// ErrorResponse is the body of every JSON error.
type ErrorResponse struct {
	Error     string                  `json:"error"`
	Message   string                  `json:"message"`
	RequestId *string                 `json:"request_id,omitempty"`
	Details   *map[string]interface{} `json:"details,omitempty"`
}

// ValidationError names one rejected field.
type ValidationError struct {
	Code    *string `json:"code,omitempty"`
	Field   string  `json:"field"`
	Message string  `json:"message"`
}

// ValidationErrorResponse is returned for 400 responses on bad input.
type ValidationErrorResponse struct {
	Error            string            `json:"error"`
	Message          string            `json:"message"`
	RequestId        *string           `json:"request_id,omitempty"`
	ValidationErrors []ValidationError `json:"validation_errors"`
}

// FailedTile describes one tile in a TileErrorResponse.
type FailedTile struct {
	Zoom       uint8  `json:"zoom"`
	X          uint32 `json:"x"`
	Y          uint32 `json:"y"`
	Error      string `json:"error"`
	StatusCode *int   `json:"status_code,omitempty"`
	Url        string `json:"url,omitempty"`
}

// TileErrorResponse is returned when a stitch produced no tile at all.
type TileErrorResponse struct {
	Error           string       `json:"error"`
	Message         string       `json:"message"`
	FailedTiles     []FailedTile `json:"failed_tiles"`
	SuccessfulTiles int          `json:"successful_tiles"`
	TotalTiles      int          `json:"total_tiles"`
	RequestId       *string      `json:"request_id,omitempty"`
}

// TileRef addresses a tile in JSON.
type TileRef struct {
	Zoom uint8  `json:"zoom"`
	X    uint32 `json:"x"`
	Y    uint32 `json:"y"`
}

// PreloadResponse lists tiles worth fetching next.
type PreloadResponse struct {
	Tiles []TileRef `json:"tiles"`
}
