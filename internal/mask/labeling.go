package mask

import (
	"fmt"

	"rooflytics/pkg/geometry"

	"gocv.io/x/gocv"
)

// Connectivity used for every roof labeling.
const Connectivity = 8

// Labeling is the 8-connected component labeling of one binary mask.
//
// Labels are 1..Count() assigned in raster-scan order of each component's
// first pixel; 0 is background. A Labeling is computed once per mask and
// shared read-only by every stage that joins results back to pixels.
type Labeling struct {
	Rows, Cols int
	Labels     []int32 // row-major, len Rows*Cols

	areas  []int // indexed by label, areas[0] unused
	bounds []geometry.RectInt
}

// Count returns the number of components.
func (l *Labeling) Count() int {
	return len(l.areas) - 1
}

// Area returns the pixel count of a component, or 0 for an unknown label.
func (l *Labeling) Area(label int) int {
	if label < 1 || label >= len(l.areas) {
		return 0
	}
	return l.areas[label]
}

// Bounds returns the bounding rectangle of a component.
func (l *Labeling) Bounds(label int) geometry.RectInt {
	if label < 1 || label >= len(l.bounds) {
		return geometry.RectInt{}
	}
	return l.bounds[label]
}

// At returns the label at a pixel.
func (l *Labeling) At(row, col int) int {
	return int(l.Labels[row*l.Cols+col])
}

// Foreground returns the total number of labelled pixels.
func (l *Labeling) Foreground() int {
	total := 0
	for _, a := range l.areas[1:] {
		total += a
	}
	return total
}

// Mask renders the labeling as a CV_8UC1 mask with every component set to 1.
func (l *Labeling) Mask() (gocv.Mat, error) {
	out := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), l.Rows, l.Cols, gocv.MatTypeCV8UC1)
	data, err := out.DataPtrUint8()
	if err != nil {
		out.Close()
		return gocv.NewMat(), err
	}
	for i, v := range l.Labels {
		if v > 0 {
			data[i] = 1
		}
	}
	return out, nil
}

// Label computes the 8-connected components of a CV_8UC1 binary mask.
func Label(m gocv.Mat) (*Labeling, error) {
	lab, _, err := labelFiltered(m, 0)
	return lab, err
}

// labelFiltered labels m and drops components smaller than minArea.
// It returns the labeling of the survivors and the number of dropped components.
func labelFiltered(m gocv.Mat, minArea int) (*Labeling, int, error) {
	if m.Empty() {
		return nil, 0, fmt.Errorf("empty mask")
	}
	if m.Type() != gocv.MatTypeCV8UC1 {
		return nil, 0, fmt.Errorf("mask must be CV_8UC1, got %v", m.Type())
	}

	cvLabels := gocv.NewMat()
	defer cvLabels.Close()
	n := gocv.ConnectedComponentsWithParams(m, &cvLabels, Connectivity, gocv.MatTypeCV32S, gocv.CCL_WU)

	rows, cols := m.Rows(), m.Cols()
	raw := make([]int32, rows*cols)
	rawAreas := make([]int, n)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			v := cvLabels.GetIntAt(y, x)
			raw[y*cols+x] = v
			rawAreas[v]++
		}
	}

	// Renumber survivors by first appearance so label order never depends on
	// the labeling algorithm OpenCV picks.
	remap := make([]int32, n)
	for i := range remap {
		remap[i] = -1
	}
	remap[0] = 0
	lab := &Labeling{
		Rows:   rows,
		Cols:   cols,
		Labels: raw,
		areas:  []int{0},
		bounds: []geometry.RectInt{{}},
	}
	dropped := 0
	for i, v := range raw {
		if v == 0 {
			continue
		}
		if remap[v] < 0 {
			if rawAreas[v] < minArea {
				remap[v] = 0
				dropped++
			} else {
				remap[v] = int32(len(lab.areas))
				lab.areas = append(lab.areas, 0)
				lab.bounds = append(lab.bounds, geometry.RectInt{})
			}
		}

		nv := remap[v]
		raw[i] = nv
		if nv == 0 {
			continue
		}
		lab.areas[nv]++
		px := geometry.RectInt{X: i % cols, Y: i / cols, Width: 1, Height: 1}
		lab.bounds[nv] = lab.bounds[nv].Union(px)
	}

	return lab, dropped, nil
}
