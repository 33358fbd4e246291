// Package mask turns a roof-probability raster into a clean binary roof mask
// and its connected-component labeling.
package mask

import (
	"fmt"
	"image"

	"rooflytics/internal/errs"

	"gocv.io/x/gocv"
)

// CleanOptions configures mask cleanup.
type CleanOptions struct {
	KernelSize int // odd size of the elliptical structuring element
	MinArea    int // components below this pixel area are dropped
}

// DefaultCleanOptions returns the cleanup settings used in production.
func DefaultCleanOptions() CleanOptions {
	return CleanOptions{
		KernelSize: 3,
		MinArea:    150,
	}
}

// Validate checks the kernel and area settings.
func (o CleanOptions) Validate() error {
	if o.KernelSize < 1 || o.KernelSize%2 == 0 {
		return errs.Config("mask.kernel_size", "must be a positive odd number, got %d", o.KernelSize)
	}
	if o.MinArea < 0 {
		return errs.Config("mask.min_area", "cannot be negative, got %d", o.MinArea)
	}
	return nil
}

// Cleaned is a cleaned binary mask together with its labeling.
type Cleaned struct {
	Mask    gocv.Mat // CV_8UC1, values 0/1
	Labels  *Labeling
	Dropped int // components removed by the area filter
}

// Close releases the mask.
func (c *Cleaned) Close() {
	if c != nil {
		c.Mask.Close()
	}
}

// Binarize thresholds a CV_32FC1 probability raster into a CV_8UC1 mask:
// pixels with probability >= threshold become 1.
func Binarize(prob gocv.Mat, threshold float32) (gocv.Mat, error) {
	if prob.Empty() {
		return gocv.NewMat(), fmt.Errorf("empty probability raster")
	}
	if prob.Type() != gocv.MatTypeCV32FC1 {
		return gocv.NewMat(), fmt.Errorf("probability raster must be CV_32FC1, got %v", prob.Type())
	}

	src, err := prob.DataPtrFloat32()
	if err != nil {
		return gocv.NewMat(), err
	}

	out := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), prob.Rows(), prob.Cols(), gocv.MatTypeCV8UC1)
	dst, err := out.DataPtrUint8()
	if err != nil {
		out.Close()
		return gocv.NewMat(), err
	}
	for i, p := range src {
		if p >= threshold {
			dst[i] = 1
		}
	}
	return out, nil
}

// Clean denoises a raw binary roof mask. Steps run in a fixed order:
//  1. closing fills small gaps inside roofs,
//  2. opening removes speckle and thin protrusions,
//  3. components smaller than MinArea are dropped.
//
// The returned labeling covers exactly the surviving components.
func Clean(raw gocv.Mat, opts CleanOptions) (*Cleaned, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if raw.Empty() {
		return nil, fmt.Errorf("empty mask")
	}
	if raw.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("mask must be CV_8UC1, got %v", raw.Type())
	}

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{opts.KernelSize, opts.KernelSize})
	defer kernel.Close()

	// Close small holes inside roofs
	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(raw, &closed, gocv.MorphClose, kernel)

	// Remove isolated noise
	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(closed, &opened, gocv.MorphOpen, kernel)

	// Remove tiny connected components
	lab, dropped, err := labelFiltered(opened, opts.MinArea)
	if err != nil {
		return nil, err
	}

	cleaned, err := lab.Mask()
	if err != nil {
		return nil, err
	}

	return &Cleaned{Mask: cleaned, Labels: lab, Dropped: dropped}, nil
}
