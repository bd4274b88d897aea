// Package config assembles the runtime configuration from the environment,
// an optional .env file, the config file and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kiesman99/tilevas/internal/cache"
	"github.com/kiesman99/tilevas/pkg/tile"
)

// Tile source types.
const (
	TypeRaster = "raster"
	TypeVector = "vector"
)

const (
	DefaultRasterURL = "https://tile.openstreetmap.org/{zoom}/{x}/{y}.png"
	DefaultVectorURL = "https://tiles.openfreemap.org/planet/20251231_001001_pt/{zoom}/{x}/{y}.pbf"

	defaultRasterMaxZoom = 19
	defaultVectorMaxZoom = 15
	defaultCacheDirName  = ".mapvas_tile_cache"
)

type (
	Config struct {
		Source   Source   `envPrefix:"SOURCE_"`
		Cache    Cache    `envPrefix:"CACHE_"`
		Download Download `envPrefix:"DOWNLOAD_"`
		Log      Log      `envPrefix:"LOG_"`
		Server   Server   `envPrefix:"SERVER_"`
		Tracing  Tracing  `envPrefix:"TRACING_"`
		// StylePath points to a YAML or JSON file overriding the vector style.
		StylePath string `env:"STYLE"`
	}

	Source struct {
		Name    string `env:"NAME" envDefault:"default"`
		URL     string `env:"URL" validate:"omitempty,tiletemplate"`
		Type    string `env:"TYPE" envDefault:"raster" validate:"oneof=raster vector"`
		MaxZoom uint8  `env:"MAX_ZOOM" validate:"lte=31"`
	}

	Cache struct {
		Backend     string        `env:"BACKEND" envDefault:"file" validate:"oneof=file memory sqlite redis blob disabled"`
		Dir         string        `env:"DIR"`
		SQLiteDSN   string        `env:"SQLITE_DSN" validate:"required_if=Backend sqlite"`
		RedisURL    string        `env:"REDIS_URL" validate:"required_if=Backend redis"`
		BlobURL     string        `env:"BLOB_URL" validate:"required_if=Backend blob"`
		MemoryItems int64         `env:"MEMORY_ITEMS" envDefault:"1024" validate:"gte=0"`
		MemoryFront bool          `env:"MEMORY_FRONT"`
		TTL         time.Duration `env:"TTL" validate:"gte=0"`
	}

	Download struct {
		Rate      float64       `env:"RATE" envDefault:"10" validate:"gt=0"`
		Timeout   time.Duration `env:"TIMEOUT" envDefault:"5s" validate:"gt=0"`
		UserAgent string        `env:"USER_AGENT" envDefault:"tilevas/1.0 (+https://github.com/kiesman99/tilevas)"`
		Coalesce  bool          `env:"COALESCE"`
		Workers   int           `env:"WORKERS" validate:"gte=0"`
	}

	Log struct {
		Level      string `env:"LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
		File       string `env:"FILE"`
		MaxSizeMB  int    `env:"MAX_SIZE_MB" envDefault:"100" validate:"gte=0"`
		MaxBackups int    `env:"MAX_BACKUPS" envDefault:"3" validate:"gte=0"`
	}

	Server struct {
		Bind       string        `env:"BIND" envDefault:"localhost"`
		Port       int           `env:"PORT" envDefault:"8080" validate:"min=1,max=65535"`
		HealthPort int           `env:"HEALTH_PORT" envDefault:"8081" validate:"min=0,max=65535"`
		Timeout    time.Duration `env:"TIMEOUT" envDefault:"30s" validate:"gt=0"`
	}

	Tracing struct {
		Endpoint string `env:"OTLP_ENDPOINT"`
	}
)

// legacy holds the variable names older installations use.
type legacy struct {
	TileURL  string `env:"MAPVAS_TILE_URL"`
	CacheDir string `env:"MAPVAS_TILE_CACHE_DIR"`
}

const envPrefix = "TILEVAS_"

// Load reads .env, the environment and then every key of v that was set
// through a flag or the config file. v may be nil.
func Load(v *viper.Viper) (*Config, error) {
	// a missing .env file is the normal case
	_ = godotenv.Load()

	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: envPrefix})
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	old, err := env.ParseAs[legacy]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.Source.URL == "" {
		cfg.Source.URL = old.TileURL
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = old.CacheDir
	}

	if v != nil {
		overlay(v, &cfg)
	}
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFileFromEnv returns the config file named by MAPVAS_CONFIG, if any.
func ConfigFileFromEnv() string {
	return os.Getenv("MAPVAS_CONFIG")
}

func applyDefaults(cfg *Config) {
	if cfg.Source.URL == "" {
		cfg.Source.URL = DefaultRasterURL
		if cfg.Source.Type == TypeVector {
			cfg.Source.URL = DefaultVectorURL
		}
	}
	if cfg.Source.MaxZoom == 0 {
		cfg.Source.MaxZoom = defaultRasterMaxZoom
		if cfg.Source.Type == TypeVector {
			cfg.Source.MaxZoom = defaultVectorMaxZoom
		}
	}
	if cfg.Cache.Dir == "" && cfg.Cache.Backend == cache.BackendFile {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Cache.Dir = filepath.Join(home, defaultCacheDirName)
		}
	}
}

// overlay copies keys that were explicitly set on v into cfg.
func overlay(v *viper.Viper, cfg *Config) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	integer := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}
	boolean := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	str("source.name", &cfg.Source.Name)
	str("url", &cfg.Source.URL)
	str("type", &cfg.Source.Type)
	if v.IsSet("max-zoom") {
		cfg.Source.MaxZoom = uint8(v.GetUint("max-zoom"))
	}

	str("cache.backend", &cfg.Cache.Backend)
	str("cache.dir", &cfg.Cache.Dir)
	str("cache.sqlite-dsn", &cfg.Cache.SQLiteDSN)
	str("cache.redis-url", &cfg.Cache.RedisURL)
	str("cache.blob-url", &cfg.Cache.BlobURL)
	if v.IsSet("cache.memory-items") {
		cfg.Cache.MemoryItems = v.GetInt64("cache.memory-items")
	}
	boolean("cache.memory-front", &cfg.Cache.MemoryFront)
	duration("cache.ttl", &cfg.Cache.TTL)

	if v.IsSet("rate") {
		cfg.Download.Rate = v.GetFloat64("rate")
	}
	duration("download-timeout", &cfg.Download.Timeout)
	str("user-agent", &cfg.Download.UserAgent)
	boolean("coalesce", &cfg.Download.Coalesce)
	integer("workers", &cfg.Download.Workers)

	str("log.level", &cfg.Log.Level)
	str("log.file", &cfg.Log.File)
	integer("log.max-size", &cfg.Log.MaxSizeMB)
	integer("log.max-backups", &cfg.Log.MaxBackups)

	str("server.bind", &cfg.Server.Bind)
	integer("server.port", &cfg.Server.Port)
	integer("server.health-port", &cfg.Server.HealthPort)
	duration("server.timeout", &cfg.Server.Timeout)

	str("tracing.endpoint", &cfg.Tracing.Endpoint)
	str("style", &cfg.StylePath)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("tiletemplate", func(fl validator.FieldLevel) bool {
		return tile.ValidTemplate(fl.Field().String())
	})
	return v
}

// Validate checks field constraints and reports every violation at once.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %w", errors.Join(msgs...))
}

// CacheOptions translates the cache section for cache.New.
func (c *Config) CacheOptions() cache.Options {
	return cache.Options{
		Backend:     c.Cache.Backend,
		Dir:         c.Cache.Dir,
		SQLiteDSN:   c.Cache.SQLiteDSN,
		RedisURL:    c.Cache.RedisURL,
		BlobURL:     c.Cache.BlobURL,
		MemoryItems: c.Cache.MemoryItems,
		TTL:         c.Cache.TTL,
		MemoryFront: c.Cache.MemoryFront,
	}
}

// IsVector reports whether the source serves vector tiles.
func (c *Config) IsVector() bool {
	return c.Source.Type == TypeVector
}
