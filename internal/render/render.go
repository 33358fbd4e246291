// Package render draws quick-look images of analysis rasters.
package render

import (
	"fmt"
	"image"

	"rooflytics/pkg/colorutil"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// ThermalPreview colours a CV_8UC1 class raster (0 background, 1 hot, 2 cool)
// and shrinks it to fit within maxDim on its longer side. maxDim <= 0 keeps
// the full size. Class boundaries stay hard edges.
func ThermalPreview(classRaster gocv.Mat, maxDim int) (image.Image, error) {
	if classRaster.Empty() {
		return nil, fmt.Errorf("empty class raster")
	}
	if classRaster.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("class raster must be CV_8UC1, got %v", classRaster.Type())
	}

	rows, cols := classRaster.Rows(), classRaster.Cols()
	img := image.NewNRGBA(image.Rect(0, 0, cols, rows))
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			img.SetNRGBA(x, y, colorutil.ThermalClass(classRaster.GetUCharAt(y, x)))
		}
	}

	if maxDim <= 0 || (rows <= maxDim && cols <= maxDim) {
		return img, nil
	}
	return imaging.Fit(img, maxDim, maxDim, imaging.NearestNeighbor), nil
}

// SavePNG writes img to path; the format follows the extension.
func SavePNG(path string, img image.Image) error {
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("failed to save preview %s: %w", path, err)
	}
	return nil
}
