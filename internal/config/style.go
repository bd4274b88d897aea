package config

import (
	"fmt"
	"image/color"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/kiesman99/tilevas/internal/render/vector"
)

// LoadStyle reads a style file on top of the built-in style. Colours are
// written as "#rrggbb" or "#rrggbbaa". A road entry replaces the built-in
// entry of that class as a whole.
func LoadStyle(path string) (*vector.Style, error) {
	style := vector.DefaultStyle()
	if path == "" {
		return style, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read style %s: %w", path, err)
	}

	if v.IsSet("zoom_scale") {
		style.ZoomScale = nil
	}
	err := v.Unmarshal(style, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		hexColorHook,
		mapstructure.StringToTimeDurationHookFunc(),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode style %s: %w", path, err)
	}

	if err := validate.Var(style.ZoomScale, "min=1,dive,gt=0"); err != nil {
		return nil, fmt.Errorf("style %s: zoom_scale: %w", path, err)
	}
	if _, ok := style.Roads[vector.RoadDefault]; !ok {
		return nil, fmt.Errorf("style %s: roads: missing %q entry", path, vector.RoadDefault)
	}
	return style, nil
}

var rgbaType = reflect.TypeOf(color.RGBA{})

func hexColorHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != rgbaType {
		return data, nil
	}
	return ParseHexColor(data.(string))
}

// ParseHexColor parses "#rrggbb" or "#rrggbbaa".
func ParseHexColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 && len(hex) != 8 {
		return color.RGBA{}, fmt.Errorf("colour %q: want #rrggbb or #rrggbbaa", s)
	}
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("colour %q: %w", s, err)
	}
	if len(hex) == 6 {
		n = n<<8 | 0xff
	}
	c := color.RGBA{R: uint8(n >> 24), G: uint8(n >> 16), B: uint8(n >> 8), A: uint8(n)}
	// color.RGBA is alpha-premultiplied
	if c.A != 0xff {
		c.R = uint8(uint32(c.R) * uint32(c.A) / 0xff)
		c.G = uint8(uint32(c.G) * uint32(c.A) / 0xff)
		c.B = uint8(uint32(c.B) * uint32(c.A) / 0xff)
	}
	return c, nil
}
