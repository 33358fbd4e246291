package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRectInt(t *testing.T) {
	r := RectInt{X: 2, Y: 3, Width: 4, Height: 5}
	assert.Equal(t, 6, r.Right())
	assert.Equal(t, 8, r.Bottom())
	assert.Equal(t, 20, r.Area())
	assert.True(t, r.Within(6, 8))
	assert.False(t, r.Within(5, 8))
	assert.Equal(t, "4x5@(2,3)", r.String())

	assert.True(t, r.Overlaps(RectInt{X: 5, Y: 7, Width: 2, Height: 2}))
	assert.False(t, r.Overlaps(RectInt{X: 6, Y: 3, Width: 2, Height: 2}), "touching edges do not overlap")

	u := RectInt{}.Union(r)
	assert.Equal(t, r, u)
	u = r.Union(RectInt{X: 0, Y: 10, Width: 1, Height: 1})
	assert.Equal(t, RectInt{X: 0, Y: 3, Width: 6, Height: 8}, u)
}

func TestGeoTransformApply(t *testing.T) {
	tr := NorthUp(500000, 4100000, 0.5, -0.5)
	g := tr.Apply(NewPoint2D(10, 20))
	assert.Equal(t, 500005.0, g.X)
	assert.Equal(t, 4099990.0, g.Y)
	assert.Equal(t, 0.25, tr.PixelAreaM2())
	assert.True(t, tr.IsNorthUp())
	assert.NoError(t, tr.Validate())
}

func TestGeoTransformRotated(t *testing.T) {
	// 30 degree rotation of 2 m pixels
	c, s := 2*math.Cos(math.Pi/6), 2*math.Sin(math.Pi/6)
	tr := GeoTransform{XScale: c, RowRot: s, ColRot: s, YScale: -c}
	assert.False(t, tr.IsNorthUp())
	assert.InDelta(t, 3.0, tr.PixelAreaM2(), 1e-12)
	assert.NoError(t, tr.Validate())

	// area comes from the scale terms only
	skewed := GeoTransform{XScale: 0.1, RowRot: 0.05, ColRot: 0.05, YScale: -0.1}
	assert.InDelta(t, 0.01, skewed.PixelAreaM2(), 1e-15)
}

func TestGeoTransformValidate(t *testing.T) {
	assert.Error(t, NorthUp(0, 0, 0, -1).Validate())
	assert.Error(t, NorthUp(0, 0, 1, 0).Validate())
	assert.Error(t, NorthUp(math.NaN(), 0, 1, -1).Validate())
	assert.Error(t, GeoTransform{XScale: 1, RowRot: 1, ColRot: 1, YScale: 1}.Validate(), "singular")
}
