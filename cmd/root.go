package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kiesman99/tilevas/internal/config"
	"github.com/kiesman99/tilevas/internal/stitcher"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tilevas",
	Short: "Fetch, cache and render map tiles",
	Long: `tilevas downloads raster or Mapbox Vector Tiles, keeps them in a cache and
renders them into RGBA images.

Without a subcommand it stitches the tiles of a bounding box or of a centred
window into one PNG. Missing tiles are replaced by a stretched ancestor tile.
Optionally, a separate worldfile with georeferencing data can be written.

Examples:
  # OpenStreetMap tiles at zoom level 10 (bounding box mode)
  tilevas --min-lat 37.371794 --min-lon -122.917099 --max-lat 38.226853 --max-lon -121.564407 --zoom 10 -o baymodel.png

  # Same box with a world file
  tilevas --bbox 37.371794,-122.917099,38.226853,-121.564407 --zoom 10 -w -o baymodel.png

  # Vector tiles rendered at double resolution, centred on Tokyo
  tilevas --type vector --lat 35.6824 --lon 139.7531 --width 640 --height 480 --zoom 12 --scale 2 -o tokyo.png

  # Render a single tile
  tilevas tile 12 2200 1343 -o tile.png

  # Start HTTP server
  tilevas serve --port 8080`,
	// If no subcommand is specified and we have flags, run the stitch command
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().NFlag() == 0 {
			return cmd.Help()
		}
		return runStitch(cmd, args)
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $MAPVAS_CONFIG or $HOME/.tilevas.yaml)")

	// Tile source
	pf.String("source", "default", "tile source name")
	pf.StringP("url", "u", "", "tile URL template with {zoom} or {z}, {x}, {y} placeholders")
	pf.String("type", config.TypeRaster, "tile type (raster|vector)")
	pf.Uint("max-zoom", 0, "deepest zoom the source serves (default 19 raster, 15 vector)")
	pf.String("style", "", "style file for vector tiles (yaml or json)")

	// Cache
	pf.String("cache", "file", "cache backend (file|memory|sqlite|redis|blob|disabled)")
	pf.String("cache-dir", "", "tile cache directory (default $HOME/.mapvas_tile_cache)")
	pf.String("cache-sqlite", "", "SQLite database file")
	pf.String("cache-redis", "", "Redis URL, e.g. redis://localhost:6379/0")
	pf.String("cache-blob", "", "bucket URL, e.g. file:///tmp/tiles or s3://bucket")
	pf.Int64("cache-memory-items", 1024, "in-memory cache size in tiles")
	pf.Bool("cache-memory-front", false, "put an in-memory cache in front of the backend")
	pf.Duration("cache-ttl", 0, "cache entry lifetime for memory and redis (0 keeps them for a day)")

	// HTTP options
	pf.Float64("rate", 10, "maximum tile requests per second")
	pf.Duration("download-timeout", 0, "timeout of one tile request (default 5s)")
	pf.String("user-agent", "", "HTTP User-Agent header")
	pf.Bool("coalesce", false, "share one download between concurrent requests for a tile")
	pf.Int("workers", 0, "concurrent fetch and render workers (default GOMAXPROCS)")

	// Logging and tracing
	pf.String("log-level", "info", "log level (debug|info|warn|error)")
	pf.String("log-file", "", "log to a rotated file instead of stderr")
	pf.String("otlp-endpoint", "", "OTLP gRPC endpoint for traces, e.g. localhost:4317")

	// Output options
	rootCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	rootCmd.Flags().BoolP("worldfile", "w", false, "write world file next to the output")

	// Coordinate options - Bounding box mode
	rootCmd.Flags().Float64("min-lat", 0, "minimum latitude (south boundary)")
	rootCmd.Flags().Float64("min-lon", 0, "minimum longitude (west boundary)")
	rootCmd.Flags().Float64("max-lat", 0, "maximum latitude (north boundary)")
	rootCmd.Flags().Float64("max-lon", 0, "maximum longitude (east boundary)")
	rootCmd.Flags().String("bbox", "", "bounding box as 'min-lat,min-lon,max-lat,max-lon'")

	// Coordinate options - Centered mode
	rootCmd.Flags().Float64("lat", 0, "center latitude")
	rootCmd.Flags().Float64("lon", 0, "center longitude")
	rootCmd.Flags().Int("width", 0, "image width in pixels (centered mode)")
	rootCmd.Flags().Int("height", 0, "image height in pixels (centered mode)")

	// Tile options
	rootCmd.Flags().Int("zoom", -1, "zoom level (required)")
	rootCmd.Flags().Float64("scale", 1, "tile scale factor, vector tiles render sharper")

	// Bind flags to viper, the keys match config.Load
	for key, flag := range map[string]string{
		"source.name":        "source",
		"url":                "url",
		"type":               "type",
		"max-zoom":           "max-zoom",
		"style":              "style",
		"cache.backend":      "cache",
		"cache.dir":          "cache-dir",
		"cache.sqlite-dsn":   "cache-sqlite",
		"cache.redis-url":    "cache-redis",
		"cache.blob-url":     "cache-blob",
		"cache.memory-items": "cache-memory-items",
		"cache.memory-front": "cache-memory-front",
		"cache.ttl":          "cache-ttl",
		"rate":               "rate",
		"download-timeout":   "download-timeout",
		"user-agent":         "user-agent",
		"coalesce":           "coalesce",
		"workers":            "workers",
		"log.level":          "log-level",
		"log.file":           "log-file",
		"tracing.endpoint":   "otlp-endpoint",
	} {
		viper.BindPFlag(key, pf.Lookup(flag))
	}
	for _, name := range []string{
		"output", "worldfile", "min-lat", "min-lon", "max-lat", "max-lon", "bbox",
		"lat", "lon", "width", "height", "zoom", "scale",
	} {
		viper.BindPFlag(name, rootCmd.Flags().Lookup(name))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile == "" {
		cfgFile = config.ConfigFileFromEnv()
	}
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".tilevas" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".tilevas")
	}

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func runStitch(cmd *cobra.Command, args []string) error {
	opts, err := stitchOptions()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if opts.Zoom > int(a.cfg.Source.MaxZoom) {
		return fmt.Errorf("zoom %d is deeper than the source max zoom %d", opts.Zoom, a.cfg.Source.MaxZoom)
	}

	result, err := a.stitcher.Stitch(ctx, opts)
	if err != nil {
		return err
	}
	if len(result.FailedTiles) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %d of %d tiles missing, %d replaced from a lower zoom\n",
			len(result.FailedTiles), result.TotalTiles, result.FallbackTiles)
	}

	output := viper.GetString("output")
	if err := writeOutput(cmd.OutOrStdout(), output, result.ImageData); err != nil {
		return err
	}
	a.logger.Info("stitched image",
		zap.String("output", output),
		zap.Int("width", result.Width),
		zap.Int("height", result.Height),
		zap.Int("tiles", result.TotalTiles))

	if opts.GenerateWorldFile {
		if output == "" {
			return fmt.Errorf("a world file needs an output file (use -o)")
		}
		if err := os.WriteFile(worldFileName(output), result.WorldFileData, 0o644); err != nil {
			return fmt.Errorf("write world file: %w", err)
		}
	}
	return nil
}

// stitchOptions determines the mode from the provided flags.
func stitchOptions() (*stitcher.Options, error) {
	zoom := viper.GetInt("zoom")
	if zoom < 0 {
		return nil, fmt.Errorf("zoom level is required (use --zoom)")
	}

	opts := &stitcher.Options{
		Zoom:              zoom,
		Scale:             viper.GetFloat64("scale"),
		GenerateWorldFile: viper.GetBool("worldfile"),
	}

	minLat := viper.GetFloat64("min-lat")
	maxLat := viper.GetFloat64("max-lat")
	minLon := viper.GetFloat64("min-lon")
	maxLon := viper.GetFloat64("max-lon")

	lat := viper.GetFloat64("lat")
	lon := viper.GetFloat64("lon")
	width := viper.GetInt("width")
	height := viper.GetInt("height")

	switch {
	// Check for centered mode
	case viper.IsSet("lat") || viper.IsSet("lon") || width != 0 || height != 0:
		if width == 0 || height == 0 {
			return nil, fmt.Errorf("centered mode requires all of: --lat, --lon, --width, --height")
		}
		opts.Mode = stitcher.ModeCentered
		opts.CenterLat, opts.CenterLon = lat, lon
		opts.Width, opts.Height = width, height

	// Check for bounding box mode
	case viper.GetString("bbox") != "":
		box, err := parseBBox(viper.GetString("bbox"))
		if err != nil {
			return nil, err
		}
		opts.Mode = stitcher.ModeBBox
		opts.MinLat, opts.MinLon, opts.MaxLat, opts.MaxLon = box[0], box[1], box[2], box[3]

	case viper.IsSet("min-lat") || viper.IsSet("max-lat") || viper.IsSet("min-lon") || viper.IsSet("max-lon"):
		opts.Mode = stitcher.ModeBBox
		opts.MinLat, opts.MinLon, opts.MaxLat, opts.MaxLon = minLat, minLon, maxLat, maxLon

	default:
		return nil, fmt.Errorf("either specify bounding box coordinates (--min-lat, --min-lon, --max-lat, --max-lon or --bbox) or centered coordinates (--lat, --lon, --width, --height)")
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// parseBBox parses "min-lat,min-lon,max-lat,max-lon".
func parseBBox(bboxStr string) ([4]float64, error) {
	var box [4]float64
	parts := strings.Split(bboxStr, ",")
	if len(parts) != 4 {
		return box, fmt.Errorf("bbox must be in format 'min-lat,min-lon,max-lat,max-lon'")
	}

	names := [4]string{"min-lat", "min-lon", "max-lat", "max-lon"}
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return box, fmt.Errorf("invalid %s in bbox: %v", names[i], err)
		}
		box[i] = v
	}
	return box, nil
}

// writeOutput writes data to path, or to stdout when path is empty.
func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// worldFileName maps image.png to image.pgw.
func worldFileName(output string) string {
	if i := strings.LastIndex(output, "."); i > strings.LastIndex(output, "/") && len(output)-i == 4 {
		ext := output[i+1:]
		return output[:i+1] + string(ext[0]) + string(ext[2]) + "w"
	}
	return output + "w"
}
