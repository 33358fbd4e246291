// Package tiling partitions rasters into fixed-size tiles, stitches per-tile
// predictions back into a full-resolution raster, and runs a classifier over
// every tile in parallel.
package tiling

import (
	"fmt"
	"image"
	"iter"

	"rooflytics/internal/errs"
	"rooflytics/pkg/geometry"

	"gocv.io/x/gocv"
)

// Window is one tile footprint, numbered in row-major scan order.
type Window struct {
	Index int
	geometry.RectInt
}

// Rect returns the window as an image.Rectangle for gocv Region calls.
func (w Window) Rect() image.Rectangle {
	return image.Rect(w.X, w.Y, w.Right(), w.Bottom())
}

// Grid returns the tile windows of a rows x cols raster: top-to-bottom,
// left-to-right from (0, 0), advancing by tileSize-overlap. Only windows that
// fit entirely inside the raster are produced, so trailing strips narrower
// than tileSize are never covered.
func Grid(rows, cols, tileSize, overlap int) ([]Window, error) {
	if tileSize <= 0 {
		return nil, errs.Config("tiling.tile_size", "must be positive, got %d", tileSize)
	}
	if overlap < 0 || overlap >= tileSize {
		return nil, errs.Config("tiling.overlap", "must be in [0, %d), got %d", tileSize, overlap)
	}
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("invalid raster size %dx%d", cols, rows)
	}

	stride := tileSize - overlap
	var windows []Window
	for y := 0; y+tileSize <= rows; y += stride {
		for x := 0; x+tileSize <= cols; x += stride {
			windows = append(windows, Window{
				Index:   len(windows),
				RectInt: geometry.RectInt{X: x, Y: y, Width: tileSize, Height: tileSize},
			})
		}
	}
	return windows, nil
}

// Tiles returns a lazy sequence of (window, tile) pairs over src in Grid
// order. Each tile is a continuous copy owned by the consumer, who must Close
// it; src is never modified. The sequence can be ranged over any number of
// times and yields the same tiles each time.
func Tiles(src gocv.Mat, tileSize, overlap int) (iter.Seq2[Window, gocv.Mat], error) {
	if src.Empty() {
		return nil, fmt.Errorf("empty raster")
	}
	windows, err := Grid(src.Rows(), src.Cols(), tileSize, overlap)
	if err != nil {
		return nil, err
	}

	return func(yield func(Window, gocv.Mat) bool) {
		for _, w := range windows {
			region := src.Region(w.Rect())
			tile := region.Clone()
			region.Close()
			if !yield(w, tile) {
				return
			}
		}
	}, nil
}

// Stitch writes each prediction into its window of a zero CV_32FC1 raster of
// rows x cols. Predictions are applied in slice order, so where windows
// overlap the last one wins. Pixels outside every window stay zero.
func Stitch(preds []gocv.Mat, windows []Window, rows, cols int) (gocv.Mat, error) {
	if len(preds) != len(windows) {
		return gocv.NewMat(), fmt.Errorf("got %d predictions for %d windows", len(preds), len(windows))
	}
	if rows <= 0 || cols <= 0 {
		return gocv.NewMat(), fmt.Errorf("invalid raster size %dx%d", cols, rows)
	}

	out := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, gocv.MatTypeCV32FC1)
	for i, w := range windows {
		if err := place(&out, preds[i], w); err != nil {
			out.Close()
			return gocv.NewMat(), err
		}
	}
	return out, nil
}

// place copies pred into w's footprint of out, clamped to [0, 1].
// Multi-channel predictions contribute their first channel; other depths are
// converted to float32.
func place(out *gocv.Mat, pred gocv.Mat, w Window) error {
	if !w.Within(out.Cols(), out.Rows()) {
		return fmt.Errorf("window %d %s outside %dx%d raster", w.Index, w.RectInt, out.Cols(), out.Rows())
	}
	if pred.Empty() {
		return fmt.Errorf("window %d: empty prediction", w.Index)
	}
	if pred.Rows() != w.Height || pred.Cols() != w.Width {
		return fmt.Errorf("window %d: prediction is %dx%d, want %dx%d",
			w.Index, pred.Cols(), pred.Rows(), w.Width, w.Height)
	}

	src := pred
	if pred.Channels() > 1 {
		channels := gocv.Split(pred)
		for _, c := range channels[1:] {
			c.Close()
		}
		first := channels[0]
		defer first.Close()
		src = first
	}
	if src.Type() != gocv.MatTypeCV32FC1 {
		converted := gocv.NewMat()
		defer converted.Close()
		src.ConvertTo(&converted, gocv.MatTypeCV32FC1)
		src = converted
	}

	capped := gocv.NewMat()
	defer capped.Close()
	gocv.Threshold(src, &capped, 1, 1, gocv.ThresholdTrunc)
	clamped := gocv.NewMat()
	defer clamped.Close()
	gocv.Threshold(capped, &clamped, 0, 0, gocv.ThresholdToZero)

	roi := out.Region(w.Rect())
	defer roi.Close()
	clamped.CopyTo(&roi)
	return nil
}
