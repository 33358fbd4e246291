// Command tilegrid prints the inference tile grid of a GeoTIFF: each window's
// pixel rectangle and the ground coordinates of its corners.
package main

import (
	"flag"
	"fmt"
	"os"

	"rooflytics/internal/config"
	"rooflytics/internal/raster"
	"rooflytics/internal/tiling"
	"rooflytics/pkg/geometry"
)

func main() {
	input := flag.String("input", "", "Path to a GeoTIFF")
	size := flag.Int("size", config.Default().Tiling.TileSize, "Tile size in pixels")
	overlap := flag.Int("overlap", 0, "Tile overlap in pixels")
	flag.Parse()

	if *input == "" {
		fmt.Println("Usage: tilegrid -input <tile.tif> [-size 512] [-overlap 0]")
		os.Exit(1)
	}

	meta, err := raster.ReadMetadata(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read raster: %v\n", err)
		os.Exit(1)
	}

	windows, err := tiling.Grid(meta.Height, meta.Width, *size, *overlap)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid grid: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Raster: %dx%d, %d bands, %s\n", meta.Width, meta.Height, meta.Bands, crsName(meta))
	fmt.Printf("Pixel: %.4f m² (north-up: %v)\n", meta.PixelAreaM2(), meta.Transform.IsNorthUp())
	fmt.Printf("Grid: %d tiles of %d px, overlap %d\n", len(windows), *size, *overlap)
	if len(windows) > 0 {
		last := windows[len(windows)-1]
		fmt.Printf("Covered: %dx%d px; trailing %d columns and %d rows are not inferred\n",
			last.Right(), last.Bottom(), meta.Width-last.Right(), meta.Height-last.Bottom())
	}

	fmt.Printf("\n%5s %-22s %26s %26s\n", "INDEX", "PIXELS", "UPPER LEFT", "LOWER RIGHT")
	for _, w := range windows {
		ul := meta.Transform.Apply(geometry.NewPoint2D(float64(w.X), float64(w.Y)))
		lr := meta.Transform.Apply(geometry.NewPoint2D(float64(w.Right()), float64(w.Bottom())))
		fmt.Printf("%5d %-22s %12.2f,%13.2f %12.2f,%13.2f\n", w.Index, w.RectInt, ul.X, ul.Y, lr.X, lr.Y)
	}
}

func crsName(meta raster.Metadata) string {
	if meta.CRS == "" {
		return "unknown CRS"
	}
	return meta.CRS
}
