package cmd

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kiesman99/tilevas/internal/loader"
	"github.com/kiesman99/tilevas/internal/render"
	"github.com/kiesman99/tilevas/pkg/tile"
)

var tileCmd = &cobra.Command{
	Use:   "tile ZOOM X Y",
	Short: "Fetch and render a single tile",
	Long: `Fetch one tile through the cache and render it to PNG.

With --raw the encoded tile is written as it came from the cache or the
network, which is handy to inspect vector tiles.

Examples:
  # Render a tile of the configured source
  tilevas tile 12 2200 1343 -o tile.png

  # Vector tile at 2x, bypassing the cache read
  tilevas tile 14 8802 5373 --type vector --scale 2 --from download -o tile.png

  # Dump the raw bytes from the cache only
  tilevas tile 14 8802 5373 --raw --from cache > tile.pbf`,
	Args: cobra.ExactArgs(3),
	RunE: runTile,
}

func init() {
	rootCmd.AddCommand(tileCmd)

	tileCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	tileCmd.Flags().Float64("scale", 1, "tile scale factor")
	tileCmd.Flags().Bool("raw", false, "write the encoded tile instead of a PNG")
	tileCmd.Flags().String("from", "all", "where to look for the tile (all|cache|download)")
}

func parseTileArgs(args []string) (tile.Address, error) {
	var v [3]uint64
	for i, name := range []string{"zoom", "x", "y"} {
		n, err := strconv.ParseUint(args[i], 10, 32)
		if err != nil {
			return tile.Address{}, fmt.Errorf("invalid %s %q: %v", name, args[i], err)
		}
		v[i] = n
	}
	if v[0] > tile.MaxZoom {
		return tile.Address{}, fmt.Errorf("zoom must be between 0 and %d", tile.MaxZoom)
	}
	a := tile.New(uint32(v[1]), uint32(v[2]), uint8(v[0]))
	if !a.Exists() {
		return tile.Address{}, fmt.Errorf("tile %s is outside the grid", a)
	}
	return a, nil
}

func parseSource(s string) (loader.Source, error) {
	switch s {
	case "all", "":
		return loader.SourceAll, nil
	case "cache":
		return loader.SourceCache, nil
	case "download":
		return loader.SourceDownload, nil
	default:
		return 0, fmt.Errorf("unknown source %q, use all, cache or download", s)
	}
}

func runTile(cmd *cobra.Command, args []string) error {
	a, err := parseTileArgs(args)
	if err != nil {
		return err
	}
	from, _ := cmd.Flags().GetString("from")
	src, err := parseSource(from)
	if err != nil {
		return err
	}
	scale, _ := cmd.Flags().GetFloat64("scale")
	if scale <= 0 {
		return fmt.Errorf("scale must be positive")
	}
	if err := render.CheckScale(scale); err != nil {
		return err
	}
	raw, _ := cmd.Flags().GetBool("raw")
	output, _ := cmd.Flags().GetString("output")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	if a.Zoom > app.cfg.Source.MaxZoom {
		return fmt.Errorf("zoom %d is deeper than the source max zoom %d", a.Zoom, app.cfg.Source.MaxZoom)
	}

	data, err := app.loader.TileDataFrom(ctx, a, src)
	if err != nil {
		return err
	}
	if raw {
		return writeOutput(cmd.OutOrStdout(), output, data)
	}

	img, err := app.renderer.RenderScaled(a, data, scale)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encode tile: %w", err)
	}
	app.logger.Debug("rendered tile",
		zap.Stringer("tile", a),
		zap.String("renderer", app.renderer.Name()),
		zap.Int("size", img.Bounds().Dx()))
	return writeOutput(cmd.OutOrStdout(), output, buf.Bytes())
}
