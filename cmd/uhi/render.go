package main

import (
	"fmt"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joeblew999/uhi-map/internal/classify"
	"github.com/joeblew999/uhi-map/internal/raster"
	"github.com/joeblew999/uhi-map/internal/source"
	"github.com/joeblew999/uhi-map/internal/tiler"
)

func renderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render <ndvi|lst>",
		Short: "Render a classified raster to a PNG overlay",
		Long: `Decodes the configured GeoTIFF for the kind (or --input) and writes the
colored overlay exactly as the viewer places it on the map.`,
		Args: cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			ctx, stop := signalContext(cmd)
			defer stop()

			cfg, err := loadConfig(opts)
			if err != nil {
				fail(err)
			}
			kind, err := classify.ParseKind(args[0])
			if err != nil {
				fail(err)
			}

			input, _ := cmd.Flags().GetString("input")
			output, _ := cmd.Flags().GetString("output")
			maxWidth, _ := cmd.Flags().GetInt("max-width")
			thumb, _ := cmd.Flags().GetUint("thumb")
			if output == "" {
				output = string(kind) + ".png"
			}
			if maxWidth <= 0 {
				maxWidth = cfg.Overlay.MaxWidth
			}

			var data []byte
			if input != "" {
				data, err = os.ReadFile(input)
			} else {
				var f source.Fetcher
				if f, err = cfg.Fetcher(zap.L()); err == nil {
					data, err = f.Fetch(ctx, cfg.OverlayManagerConfig().Sources[kind].URL)
				}
			}
			if err != nil {
				fail(eris.Wrap(err, "read raster"))
			}

			r, err := raster.NewGeoTIFFDecoder(zap.L()).Decode(ctx, data)
			if err != nil {
				fail(err)
			}
			img, err := raster.Rasterize(r, kind, maxWidth)
			if err != nil {
				fail(err)
			}
			png, err := raster.EncodePNG(raster.Thumbnail(img, thumb))
			if err != nil {
				fail(err)
			}
			if err := os.WriteFile(output, png, 0o644); err != nil {
				fail(eris.Wrapf(err, "write %s", output))
			}

			b := r.Bounds
			fmt.Printf("%s: %dx%d raster -> %dx%d overlay\n", kind.Label(), r.Width, r.Height, img.Bounds().Dx(), img.Bounds().Dy())
			fmt.Printf("  bounds: [[%.6f, %.6f], [%.6f, %.6f]]\n", b.Min[1], b.Min[0], b.Max[1], b.Max[0])
			fmt.Printf("  wrote:  %s (%d bytes)\n", output, len(png))
		}),
	}
	cmd.Flags().StringP("input", "i", "", "GeoTIFF to read instead of the configured one")
	cmd.Flags().StringP("output", "o", "", "Output PNG (default <kind>.png)")
	cmd.Flags().Int("max-width", 0, "Maximum overlay width (default overlay.max_width)")
	cmd.Flags().Uint("thumb", 0, "Downscale so neither edge exceeds this many pixels")
	return cmd
}

func tilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tiles",
		Short: "Export the joined grid as a PMTiles vector tile archive",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			ctx, stop := signalContext(cmd)
			defer stop()

			cfg, err := loadConfig(opts)
			if err != nil {
				fail(err)
			}
			output, _ := cmd.Flags().GetString("output")

			f, err := cfg.Fetcher(zap.L())
			if err != nil {
				fail(err)
			}
			grid, err := cfg.Loader(f, zap.L()).LoadGrid(ctx)
			if err != nil {
				fail(err)
			}

			tileOpts := cfg.TileOptions()
			tileOpts.Logger = zap.L()
			t := tiler.New(grid.TileFeatures(), tileOpts)

			out, err := os.Create(output)
			if err != nil {
				fail(eris.Wrapf(err, "create %s", output))
			}
			n, err := t.Archive(ctx, out)
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(output)
				fail(err)
			}
			fmt.Printf("wrote %d tiles (z%d-%d) to %s\n", n, tileOpts.MinZoom, tileOpts.MaxZoom, output)
		}),
	}
	cmd.Flags().StringP("output", "o", "grid.pmtiles", "Output archive")
	return cmd
}
