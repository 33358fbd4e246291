// Package footprint exports classified roofs as GeoJSON polygons in ground
// coordinates.
package footprint

import (
	"fmt"
	"image"

	"rooflytics/internal/energy"
	"rooflytics/internal/mask"
	"rooflytics/internal/roof"
	"rooflytics/pkg/geometry"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/simplify"
	"gocv.io/x/gocv"
)

// Build traces the outer boundary of every classified roof, maps it through
// the raster transform and simplifies it with Douglas-Peucker at tolerance
// (ground units; 0 keeps every contour vertex). Boundaries pass through the
// centres of the roof's edge pixels. Rings are closed and counter-clockwise.
func Build(lab *mask.Labeling, roofs []roof.Roof, estimates []energy.Estimate,
	transform geometry.GeoTransform, tolerance float64) (*geojson.FeatureCollection, error) {
	if lab == nil {
		return nil, fmt.Errorf("nil labeling")
	}
	if tolerance < 0 {
		return nil, fmt.Errorf("negative simplify tolerance %v", tolerance)
	}

	byLabel := make(map[int]energy.Estimate, len(estimates))
	for _, e := range estimates {
		byLabel[e.Label] = e
	}

	fc := geojson.NewFeatureCollection()
	for _, r := range roofs {
		if !r.Classified() {
			continue
		}
		outline, err := trace(lab, r.Label)
		if err != nil {
			return nil, err
		}
		if len(outline) < 3 {
			continue
		}

		ring := make(orb.Ring, 0, len(outline)+1)
		for _, p := range outline {
			g := transform.Apply(geometry.NewPoint2D(float64(p.X)+0.5, float64(p.Y)+0.5))
			ring = append(ring, orb.Point{g.X, g.Y})
		}
		ring = append(ring, ring[0])
		ring = simplifyRing(ring, tolerance)
		if ring.Orientation() == orb.CW {
			ring.Reverse()
		}

		f := geojson.NewFeature(orb.Polygon{ring})
		f.ID = r.Label
		f.Properties["label"] = r.Label
		f.Properties["type"] = r.Class.String()
		f.Properties["area_pixels"] = r.PixelArea
		f.Properties["area_m2"] = r.AreaM2
		f.Properties["mean_reflectance"] = r.MeanReflectance
		f.Properties["median_reflectance"] = r.MedianReflectance
		if e, ok := byLabel[r.Label]; ok {
			f.Properties["energy_kwh_per_year"] = e.EnergyKWhPerYear
			f.Properties["cost_savings_per_year"] = e.CostPerYear
			f.Properties["co2_savings_kg_per_year"] = e.CO2KgPerYear
		}
		fc.Append(f)
	}
	return fc, nil
}

// trace returns the largest external contour of one labelled component in
// raster pixel coordinates.
func trace(lab *mask.Labeling, label int) ([]image.Point, error) {
	b := lab.Bounds(label)
	if b.Empty() {
		return nil, fmt.Errorf("label %d has no pixels", label)
	}

	// One pixel of padding so contours never touch the crop border
	crop := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), b.Height+2, b.Width+2, gocv.MatTypeCV8UC1)
	defer crop.Close()
	for y := b.Y; y < b.Bottom(); y++ {
		for x := b.X; x < b.Right(); x++ {
			if lab.At(y, x) == label {
				crop.SetUCharAt(y-b.Y+1, x-b.X+1, 255)
			}
		}
	}

	contours := gocv.FindContours(crop, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	best, bestArea := -1, -1.0
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area > bestArea {
			best, bestArea = i, area
		}
	}
	if best < 0 {
		return nil, nil
	}

	pts := contours.At(best).ToPoints()
	out := make([]image.Point, len(pts))
	for i, p := range pts {
		out[i] = image.Pt(p.X-1+b.X, p.Y-1+b.Y)
	}
	return out, nil
}

// simplifyRing applies Douglas-Peucker, keeping the input when the result
// would no longer be a polygon.
func simplifyRing(ring orb.Ring, tolerance float64) orb.Ring {
	if tolerance == 0 {
		return ring
	}
	ls := orb.LineString(ring)
	s := simplify.DouglasPeucker(tolerance).Simplify(ls.Clone())
	result, ok := s.(orb.LineString)
	if !ok || len(result) < 4 {
		return ring
	}
	return orb.Ring(result)
}
