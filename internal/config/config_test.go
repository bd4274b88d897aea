package config

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesman99/tilevas/internal/render/vector"
)

// cleanEnv isolates a test from variables set on the developer's machine.
func cleanEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"MAPVAS_TILE_URL", "MAPVAS_TILE_CACHE_DIR", "MAPVAS_CONFIG",
		"TILEVAS_SOURCE_URL", "TILEVAS_SOURCE_TYPE", "TILEVAS_SOURCE_MAX_ZOOM",
		"TILEVAS_CACHE_BACKEND", "TILEVAS_CACHE_DIR", "TILEVAS_CACHE_REDIS_URL",
		"TILEVAS_DOWNLOAD_RATE", "TILEVAS_SERVER_PORT", "TILEVAS_LOG_LEVEL",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	return home
}

func TestLoadDefaults(t *testing.T) {
	home := cleanEnv(t)

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultRasterURL, cfg.Source.URL)
	assert.Equal(t, TypeRaster, cfg.Source.Type)
	assert.Equal(t, uint8(19), cfg.Source.MaxZoom)
	assert.False(t, cfg.IsVector())
	assert.Equal(t, "file", cfg.Cache.Backend)
	assert.Equal(t, filepath.Join(home, ".mapvas_tile_cache"), cfg.Cache.Dir)
	assert.Equal(t, 10.0, cfg.Download.Rate)
	assert.Equal(t, 5*time.Second, cfg.Download.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadVectorDefaults(t *testing.T) {
	cleanEnv(t)
	t.Setenv("TILEVAS_SOURCE_TYPE", "vector")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.True(t, cfg.IsVector())
	assert.Equal(t, DefaultVectorURL, cfg.Source.URL)
	assert.Equal(t, uint8(15), cfg.Source.MaxZoom)
}

func TestLoadLegacyVariables(t *testing.T) {
	cleanEnv(t)
	t.Setenv("MAPVAS_TILE_URL", "https://legacy.example.com/{zoom}/{x}/{y}.png")
	t.Setenv("MAPVAS_TILE_CACHE_DIR", "/var/cache/tiles")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "https://legacy.example.com/{zoom}/{x}/{y}.png", cfg.Source.URL)
	assert.Equal(t, "/var/cache/tiles", cfg.Cache.Dir)

	t.Setenv("TILEVAS_SOURCE_URL", "https://new.example.com/{z}/{x}/{y}.png")
	cfg, err = Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "https://new.example.com/{z}/{x}/{y}.png", cfg.Source.URL)
}

func TestLoadFlagsOverrideEnvironment(t *testing.T) {
	cleanEnv(t)
	t.Setenv("TILEVAS_SERVER_PORT", "9000")
	t.Setenv("TILEVAS_DOWNLOAD_RATE", "2")

	v := viper.New()
	v.Set("server.port", 9100)
	v.Set("cache.backend", "memory")
	v.Set("coalesce", true)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 2.0, cfg.Download.Rate)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.True(t, cfg.Download.Coalesce)
	assert.Empty(t, cfg.Cache.Dir, "only the file backend gets a default dir")

	opts := cfg.CacheOptions()
	assert.Equal(t, "memory", opts.Backend)
	assert.Equal(t, int64(1024), opts.MemoryItems)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown type":       {"TILEVAS_SOURCE_TYPE": "svg"},
		"template":           {"TILEVAS_SOURCE_URL": "https://example.com/tiles.png"},
		"redis without url":  {"TILEVAS_CACHE_BACKEND": "redis"},
		"unknown backend":    {"TILEVAS_CACHE_BACKEND": "floppy"},
		"zero rate":          {"TILEVAS_DOWNLOAD_RATE": "0"},
		"log level":          {"TILEVAS_LOG_LEVEL": "chatty"},
		"port out of range":  {"TILEVAS_SERVER_PORT": "70000"},
		"max zoom too large": {"TILEVAS_SOURCE_MAX_ZOOM": "40"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			cleanEnv(t)
			for k, v := range vars {
				t.Setenv(k, v)
			}
			_, err := Load(nil)
			assert.Error(t, err)
		})
	}
}

func TestLoadStyle(t *testing.T) {
	style, err := LoadStyle("")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(vector.DefaultStyle(), style))

	path := filepath.Join(t.TempDir(), "style.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
background: "#102030"
water_width: 2.5
zoom_scale: [0.5, 1]
roads:
  motorway:
    casing: "#000000"
    inner: "#ffffff"
    casing_width: 12
    inner_width: 9
fonts:
  road_label: 11
visibility:
  town: 12
`), 0o644))

	style, err = LoadStyle(path)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff}, style.Background)
	assert.Equal(t, 2.5, style.WaterWidth)
	assert.Equal(t, []float64{0.5, 1}, style.ZoomScale)
	assert.Equal(t, 12.0, style.Road(vector.RoadMotorway).CasingWidth)
	assert.Equal(t, vector.DefaultStyle().Road(vector.RoadPrimary), style.Road(vector.RoadPrimary))
	assert.Equal(t, 11.0, style.Fonts.RoadLabel)
	assert.Equal(t, 10.0, style.Fonts.City, "untouched keys keep their defaults")
	assert.Equal(t, uint8(12), style.Visibility.Town)
	assert.Equal(t, vector.DefaultStyle().Water, style.Water)
}

func TestLoadStyleErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadStyle(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`water: "blue"`), 0o644))
	_, err = LoadStyle(bad)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty-scale.yaml")
	require.NoError(t, os.WriteFile(empty, []byte(`zoom_scale: []`), 0o644))
	_, err = LoadStyle(empty)
	assert.Error(t, err)
}

func TestParseHexColor(t *testing.T) {
	c, err := ParseHexColor("#aad3df")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 170, G: 211, B: 223, A: 255}, c)

	c, err = ParseHexColor("ff000080")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 128, G: 0, B: 0, A: 128}, c)

	for _, s := range []string{"", "#fff", "#gg0000", "#12345"} {
		_, err := ParseHexColor(s)
		assert.Error(t, err, s)
	}
}
