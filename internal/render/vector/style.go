package vector

import (
	"image/color"
	"strings"
	"sync/atomic"
)

// RoadStyle is the two-pass stroke of one road class.
type RoadStyle struct {
	Casing      color.RGBA `mapstructure:"casing"`
	Inner       color.RGBA `mapstructure:"inner"`
	CasingWidth float64    `mapstructure:"casing_width"`
	InnerWidth  float64    `mapstructure:"inner_width"`
}

// FontSizes holds base font sizes in pixels at a 256 px tile.
type FontSizes struct {
	Country     float64 `mapstructure:"country"`
	Capital     float64 `mapstructure:"capital"`
	Megacity    float64 `mapstructure:"megacity"`
	LargeCity   float64 `mapstructure:"large_city"`
	City        float64 `mapstructure:"city"`
	MediumCity  float64 `mapstructure:"medium_city"`
	SmallCity   float64 `mapstructure:"small_city"`
	CityNoRank  float64 `mapstructure:"city_no_rank"`
	Town        float64 `mapstructure:"town"`
	Village     float64 `mapstructure:"village"`
	Default     float64 `mapstructure:"default"`
	RoadLabel   float64 `mapstructure:"road_label"`
	WaterLabel  float64 `mapstructure:"water_label"`
	MaxFont     float64 `mapstructure:"max_font"`
	MaxLabel    float64 `mapstructure:"max_label_scale"`
	CharWidth   float64 `mapstructure:"char_width_ratio"`
	MaxCoverage float64 `mapstructure:"max_path_coverage"`
}

// Markers configures the dot drawn under point labels.
type Markers struct {
	BaseRadius         float64 `mapstructure:"base_radius"`
	MaxRadius          float64 `mapstructure:"max_radius"`
	TextOffsetX        float64 `mapstructure:"text_offset_x"`
	TextVerticalCenter float64 `mapstructure:"text_vertical_center_factor"`
}

// Visibility holds the minimum zoom at which each place class shows up.
// Below Rank14 only ranks up to 14 are shown, below Rank15 up to 15 and
// below Rank16 up to 16; from Rank17 on ranks up to 17 are shown. Ranked
// cities between Rank16 and Rank17 are hidden.
type Visibility struct {
	Capital uint8 `mapstructure:"capital"`
	Rank14  uint8 `mapstructure:"rank14"`
	Rank15  uint8 `mapstructure:"rank15"`
	Rank16  uint8 `mapstructure:"rank16"`
	Rank17  uint8 `mapstructure:"rank17"`
	NoRank  uint8 `mapstructure:"no_rank"`
	Town    uint8 `mapstructure:"town"`
	Village uint8 `mapstructure:"village"`
	Country uint8 `mapstructure:"country"`
}

// Style is the complete, immutable rendering configuration. Copy it with
// Clone before changing anything.
type Style struct {
	Background color.RGBA `mapstructure:"background"`
	Water      color.RGBA `mapstructure:"water"`
	Land       color.RGBA `mapstructure:"land"`
	Park       color.RGBA `mapstructure:"park"`
	Building   color.RGBA `mapstructure:"building"`
	Marker     color.RGBA `mapstructure:"marker"`
	PlaceLabel color.RGBA `mapstructure:"place_label"`
	RoadLabel  color.RGBA `mapstructure:"road_label"`
	WaterLabel color.RGBA `mapstructure:"water_label"`

	WaterWidth float64              `mapstructure:"water_width"`
	Roads      map[string]RoadStyle `mapstructure:"roads"`
	// ZoomScale multiplies road widths per zoom level. Zooms past the end use the last entry.
	ZoomScale []float64 `mapstructure:"zoom_scale"`

	Fonts      FontSizes  `mapstructure:"fonts"`
	Markers    Markers    `mapstructure:"markers"`
	Visibility Visibility `mapstructure:"visibility"`
}

// Road classes after normalization.
const (
	RoadMotorway    = "motorway"
	RoadTrunk       = "trunk"
	RoadPrimary     = "primary"
	RoadSecondary   = "secondary"
	RoadTertiary    = "tertiary"
	RoadResidential = "residential"
	RoadService     = "service"
	RoadPath        = "path"
	RoadDefault     = "default"
)

func rgb(r, g, b uint8) color.RGBA {
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// DefaultStyle returns the built-in style.
func DefaultStyle() *Style {
	white := rgb(255, 255, 255)
	return &Style{
		Background: rgb(242, 239, 233),
		Water:      rgb(170, 211, 223),
		Land:       rgb(232, 227, 216),
		Park:       rgb(200, 230, 180),
		Building:   rgb(200, 190, 180),
		Marker:     rgb(50, 50, 50),
		PlaceLabel: rgb(0, 0, 0),
		RoadLabel:  rgb(80, 80, 80),
		WaterLabel: rgb(60, 100, 140),
		WaterWidth: 1.5,
		Roads: map[string]RoadStyle{
			RoadMotorway:    {Casing: rgb(160, 20, 20), Inner: rgb(235, 75, 65), CasingWidth: 10, InnerWidth: 7},
			RoadTrunk:       {Casing: rgb(170, 85, 20), Inner: rgb(255, 150, 90), CasingWidth: 8, InnerWidth: 5.5},
			RoadPrimary:     {Casing: rgb(150, 110, 60), Inner: rgb(255, 200, 100), CasingWidth: 6.5, InnerWidth: 4.5},
			RoadSecondary:   {Casing: rgb(140, 140, 80), Inner: rgb(255, 240, 150), CasingWidth: 5, InnerWidth: 3.5},
			RoadTertiary:    {Casing: rgb(120, 120, 120), Inner: white, CasingWidth: 3.5, InnerWidth: 2.5},
			RoadResidential: {Casing: rgb(150, 150, 150), Inner: white, CasingWidth: 2.5, InnerWidth: 1.5},
			RoadService:     {Casing: rgb(180, 180, 180), Inner: rgb(230, 230, 230), CasingWidth: 1.5, InnerWidth: 1},
			RoadPath:        {Casing: rgb(200, 150, 100), Inner: rgb(250, 220, 200), CasingWidth: 1.2, InnerWidth: 0.8},
			RoadDefault:     {Casing: rgb(180, 180, 180), Inner: white, CasingWidth: 2.5, InnerWidth: 1.5},
		},
		ZoomScale: []float64{0.08, 0.08, 0.08, 0.08, 0.08, 0.08, 0.12, 0.16, 0.22, 0.3, 0.4, 0.55, 0.7, 0.85, 1.0, 1.0},
		Fonts: FontSizes{
			Country:     14,
			Capital:     12,
			Megacity:    12,
			LargeCity:   11,
			City:        10,
			MediumCity:  9,
			SmallCity:   8.5,
			CityNoRank:  9,
			Town:        8,
			Village:     7.5,
			Default:     9,
			RoadLabel:   10,
			WaterLabel:  9,
			MaxFont:     20,
			MaxLabel:    2,
			CharWidth:   0.6,
			MaxCoverage: 0.8,
		},
		Markers: Markers{
			BaseRadius:         2,
			MaxRadius:          4,
			TextOffsetX:        2,
			TextVerticalCenter: 3,
		},
		Visibility: Visibility{
			Capital: 3,
			Rank14:  5,
			Rank15:  7,
			Rank16:  9,
			Rank17:  9,
			NoRank:  8,
			Town:    11,
			Village: 14,
			Country: 3,
		},
	}
}

// Clone returns a deep copy.
func (s *Style) Clone() *Style {
	c := *s
	c.Roads = make(map[string]RoadStyle, len(s.Roads))
	for k, v := range s.Roads {
		c.Roads[k] = v
	}
	c.ZoomScale = append([]float64(nil), s.ZoomScale...)
	return &c
}

// WidthScale returns the road width multiplier for a zoom level.
func (s *Style) WidthScale(zoom uint8) float64 {
	if len(s.ZoomScale) == 0 {
		return 1
	}
	if int(zoom) >= len(s.ZoomScale) {
		return s.ZoomScale[len(s.ZoomScale)-1]
	}
	return s.ZoomScale[zoom]
}

// Road returns the stroke style of a normalized road class.
func (s *Style) Road(class string) RoadStyle {
	if rs, ok := s.Roads[class]; ok {
		return rs
	}
	return s.Roads[RoadDefault]
}

// NormalizeRoadClass folds the road vocabularies of common schemas into the
// classes Style knows.
func NormalizeRoadClass(class string) string {
	base := strings.TrimSuffix(class, "_link")
	switch base {
	case RoadMotorway, RoadTrunk, RoadPrimary, RoadSecondary, RoadTertiary:
		return base
	}
	switch class {
	case "residential", "unclassified":
		return RoadResidential
	case "service", "minor":
		return RoadService
	case "path", "footway", "pedestrian", "cycleway":
		return RoadPath
	}
	return RoadDefault
}

var (
	waterClasses = map[string]bool{"water": true, "ocean": true, "bay": true, "lake": true, "river": true, "stream": true}
	greenClasses = map[string]bool{"grass": true, "forest": true, "wood": true, "park": true, "garden": true, "meadow": true, "scrub": true}
)

// FillColor resolves a polygon colour from its class, falling back to the
// layer's default. ok is false for polygons that are not drawn.
func (s *Style) FillColor(layer, class string) (color.RGBA, bool) {
	switch {
	case waterClasses[class]:
		return s.Water, true
	case greenClasses[class]:
		return s.Park, true
	case class == "building":
		return s.Building, true
	}

	switch layer {
	case "water", "waterway":
		return s.Water, true
	case "landcover", "landuse":
		return s.Land, true
	case "park", "green":
		return s.Park, true
	case "building", "buildings":
		return s.Building, true
	}
	return color.RGBA{}, false
}

// StyleStore publishes style snapshots. Readers take one snapshot per render
// and never observe a style changing under them.
type StyleStore struct {
	current atomic.Pointer[versioned]
}

type versioned struct {
	style   *Style
	version uint64
}

func NewStyleStore(s *Style) *StyleStore {
	if s == nil {
		s = DefaultStyle()
	}
	store := &StyleStore{}
	store.current.Store(&versioned{style: s, version: 1})
	return store
}

// Load returns the current snapshot and its version.
func (st *StyleStore) Load() (*Style, uint64) {
	v := st.current.Load()
	return v.style, v.version
}

// Update replaces the style and returns the new version.
func (st *StyleStore) Update(s *Style) uint64 {
	for {
		old := st.current.Load()
		next := &versioned{style: s, version: old.version + 1}
		if st.current.CompareAndSwap(old, next) {
			return next.version
		}
	}
}
