// Package reflectance derives a luminance-based reflectance proxy from colour
// imagery and aggregates it per roof.
package reflectance

import (
	"fmt"
	"sort"

	"rooflytics/internal/mask"
	"rooflytics/internal/raster"
	"rooflytics/internal/roof"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// Rec. 709 luma weights.
const (
	weightR = 0.2126
	weightG = 0.7152
	weightB = 0.0722
)

// DefaultMinPixels is the smallest component aggregated by Extract.
const DefaultMinPixels = 50

// Luminance returns the perceptual luminance of normalised R, G, B samples.
func Luminance(r, g, b float32) float32 {
	return weightR*r + weightG*g + weightB*b
}

// sampleScale returns the divisor mapping raw samples into [0, 1].
func sampleScale(maxVal float32) float32 {
	switch {
	case maxVal <= 1:
		return 1
	case maxVal <= 255:
		return 255
	default:
		return 65535
	}
}

// Map returns a CV_32FC1 reflectance raster: luminance inside the cleaned
// roof mask, zero elsewhere. Samples are normalised into [0, 1] first when
// the raster's range exceeds 1.
func Map(img *raster.Raster, cleaned gocv.Mat) (gocv.Mat, error) {
	if img == nil || img.Data.Empty() {
		return gocv.NewMat(), fmt.Errorf("empty raster")
	}
	if img.Data.Type() != gocv.MatTypeCV32FC3 {
		return gocv.NewMat(), fmt.Errorf("reflectance needs a CV_32FC3 colour raster, got %v", img.Data.Type())
	}
	if cleaned.Type() != gocv.MatTypeCV8UC1 || cleaned.Rows() != img.Rows() || cleaned.Cols() != img.Cols() {
		return gocv.NewMat(), fmt.Errorf("mask must be CV_8UC1 of %dx%d", img.Cols(), img.Rows())
	}

	flat := img.Data.Reshape(1, 0)
	_, maxVal, _, _ := gocv.MinMaxLoc(flat)
	flat.Close()
	scale := sampleScale(maxVal)

	rgb, err := img.Data.DataPtrFloat32()
	if err != nil {
		return gocv.NewMat(), err
	}
	roofs, err := cleaned.DataPtrUint8()
	if err != nil {
		return gocv.NewMat(), err
	}

	out := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), img.Rows(), img.Cols(), gocv.MatTypeCV32FC1)
	dst, err := out.DataPtrFloat32()
	if err != nil {
		out.Close()
		return gocv.NewMat(), err
	}
	for i, m := range roofs {
		if m == 0 {
			continue
		}
		dst[i] = Luminance(rgb[i*3]/scale, rgb[i*3+1]/scale, rgb[i*3+2]/scale)
	}
	return out, nil
}

// Extract aggregates the reflectance raster per labelled roof. Components
// smaller than minPixels are ignored. Only values strictly above zero count;
// a component left with none is skipped. Returned roofs are in label order
// with Cluster set to -1.
func Extract(lab *mask.Labeling, refl gocv.Mat, minPixels int) ([]roof.Roof, error) {
	if lab == nil {
		return nil, fmt.Errorf("nil labeling")
	}
	if refl.Type() != gocv.MatTypeCV32FC1 || refl.Rows() != lab.Rows || refl.Cols() != lab.Cols {
		return nil, fmt.Errorf("reflectance raster must be CV_32FC1 of %dx%d", lab.Cols, lab.Rows)
	}
	values, err := refl.DataPtrFloat32()
	if err != nil {
		return nil, err
	}

	samples := make([][]float64, lab.Count()+1)
	for label := 1; label <= lab.Count(); label++ {
		if lab.Area(label) >= minPixels {
			samples[label] = make([]float64, 0, lab.Area(label))
		}
	}
	for i, label := range lab.Labels {
		if label == 0 || samples[label] == nil {
			continue
		}
		if v := values[i]; v > 0 {
			samples[label] = append(samples[label], float64(v))
		}
	}

	var roofs []roof.Roof
	for label := 1; label <= lab.Count(); label++ {
		px := samples[label]
		if len(px) == 0 {
			continue
		}
		roofs = append(roofs, roof.Roof{
			Label:             label,
			PixelArea:         lab.Area(label),
			MeanReflectance:   stat.Mean(px, nil),
			MedianReflectance: median(px),
			Cluster:           -1,
		})
	}
	return roofs, nil
}

// median sorts xs in place and returns its median, averaging the two middle
// values for even lengths.
func median(xs []float64) float64 {
	sort.Float64s(xs)
	n := len(xs)
	if n%2 == 1 {
		return xs[n/2]
	}
	return (xs[n/2-1] + xs[n/2]) / 2
}
