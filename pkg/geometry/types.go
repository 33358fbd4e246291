// Package geometry provides the pixel rectangles and pixel-to-ground
// transforms shared by the raster and tiling code.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Point2D represents a 2D point with floating-point coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPoint2D creates a new Point2D.
func NewPoint2D(x, y float64) Point2D {
	return Point2D{X: x, Y: y}
}

// RectInt represents a rectangle with integer coordinates.
type RectInt struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Right returns the exclusive right edge.
func (r RectInt) Right() int { return r.X + r.Width }

// Bottom returns the exclusive bottom edge.
func (r RectInt) Bottom() int { return r.Y + r.Height }

// Area returns the number of pixels covered by the rectangle.
func (r RectInt) Area() int { return r.Width * r.Height }

// Empty reports whether the rectangle covers no pixels.
func (r RectInt) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Within reports whether r lies entirely inside a cols x rows grid.
func (r RectInt) Within(cols, rows int) bool {
	return r.X >= 0 && r.Y >= 0 && r.Right() <= cols && r.Bottom() <= rows
}

// Overlaps reports whether two rectangles share at least one pixel.
func (r RectInt) Overlaps(other RectInt) bool {
	return r.X < other.Right() && other.X < r.Right() &&
		r.Y < other.Bottom() && other.Y < r.Bottom()
}

// Union returns the smallest rectangle containing both rectangles.
// An empty receiver is ignored.
func (r RectInt) Union(other RectInt) RectInt {
	if r.Empty() {
		return other
	}
	x := min(r.X, other.X)
	y := min(r.Y, other.Y)
	x2 := max(r.Right(), other.Right())
	y2 := max(r.Bottom(), other.Bottom())
	return RectInt{X: x, Y: y, Width: x2 - x, Height: y2 - y}
}

func (r RectInt) String() string {
	return fmt.Sprintf("%dx%d@(%d,%d)", r.Width, r.Height, r.X, r.Y)
}

// GeoTransform is the affine pixel-to-ground transform of a georeferenced raster,
// stored in the rasterio/affine coefficient order.
//
//	ground_x = XScale*col + RowRot*row + XOrigin
//	ground_y = ColRot*col + YScale*row + YOrigin
//
// North-up rasters have RowRot = ColRot = 0 and a negative YScale.
type GeoTransform struct {
	XScale  float64 `json:"x_scale"`
	RowRot  float64 `json:"row_rot"`
	XOrigin float64 `json:"x_origin"`
	ColRot  float64 `json:"col_rot"`
	YScale  float64 `json:"y_scale"`
	YOrigin float64 `json:"y_origin"`
}

// NorthUp returns a transform without rotation terms.
func NorthUp(xOrigin, yOrigin, xScale, yScale float64) GeoTransform {
	return GeoTransform{XScale: xScale, XOrigin: xOrigin, YScale: yScale, YOrigin: yOrigin}
}

// Coefficients returns the six coefficients in (x_scale, row_rot, x_origin,
// col_rot, y_scale, y_origin) order.
func (t GeoTransform) Coefficients() [6]float64 {
	return [6]float64{t.XScale, t.RowRot, t.XOrigin, t.ColRot, t.YScale, t.YOrigin}
}

// Apply maps a pixel-space point (x = column, y = row) to ground coordinates.
// Integer coordinates address pixel corners; add 0.5 for pixel centres.
func (t GeoTransform) Apply(p Point2D) Point2D {
	return Point2D{
		X: t.XScale*p.X + t.RowRot*p.Y + t.XOrigin,
		Y: t.ColRot*p.X + t.YScale*p.Y + t.YOrigin,
	}
}

// PixelAreaM2 returns |x_scale * y_scale|. Rotation terms are ignored.
func (t GeoTransform) PixelAreaM2() float64 {
	return math.Abs(t.XScale * t.YScale)
}

// IsNorthUp reports whether the transform has no rotation terms.
func (t GeoTransform) IsNorthUp() bool {
	return t.RowRot == 0 && t.ColRot == 0
}

// Validate checks that the transform maps pixels to a non-zero ground area.
func (t GeoTransform) Validate() error {
	for _, c := range t.Coefficients() {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("transform has non-finite coefficient %v", c)
		}
	}
	if t.XScale == 0 || t.YScale == 0 {
		return fmt.Errorf("transform has zero pixel scale (x=%g, y=%g)", t.XScale, t.YScale)
	}

	linear := mat.NewDense(2, 2, []float64{t.XScale, t.RowRot, t.ColRot, t.YScale})
	if math.Abs(mat.Det(linear)) < 1e-18 {
		return fmt.Errorf("transform is singular")
	}
	return nil
}
