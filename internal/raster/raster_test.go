package raster

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"rooflytics/internal/errs"
	"rooflytics/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func writeTIFF(t *testing.T, dir, name string, pix []byte, meta Metadata) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, writeGeoTIFF(path, pix, meta))
	return path
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.tif"), false)
	require.Error(t, err)

	var notFound *errs.InputNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestLoadTwoBandColourRasterFails(t *testing.T) {
	meta := Metadata{
		Width: 4, Height: 3, Bands: 2,
		Transform: geometry.NorthUp(100, 200, 0.1, -0.1),
	}
	path := writeTIFF(t, t.TempDir(), "two.tif", make([]byte, 4*3*2), meta)

	_, err := Load(path, false)
	require.Error(t, err)

	var formatErr *errs.FormatError
	require.True(t, errors.As(err, &formatErr))
	assert.Equal(t, path, formatErr.Path)
}

func TestLoadRejectsMissingGeoreference(t *testing.T) {
	// no transform and no CRS: the file carries no georeferencing tags
	meta := Metadata{Width: 2, Height: 2, Bands: 1}
	path := writeTIFF(t, t.TempDir(), "flat.tif", make([]byte, 4), meta)

	_, err := Load(path, true)
	var formatErr *errs.FormatError
	assert.True(t, errors.As(err, &formatErr))

	_, err = ReadMetadata(path)
	assert.True(t, errors.As(err, &formatErr))
}

func TestLoadColour(t *testing.T) {
	meta := Metadata{
		Width: 2, Height: 2, Bands: 3,
		Transform: geometry.NorthUp(500000, 4100000, 0.5, -0.5),
		EPSG:      32633,
	}
	pix := []byte{
		10, 20, 30, 40, 50, 60,
		70, 80, 90, 255, 0, 128,
	}
	path := writeTIFF(t, t.TempDir(), "rgb.tif", pix, meta)

	r, err := Load(path, false)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 2, r.Rows())
	assert.Equal(t, 2, r.Cols())
	assert.Equal(t, 3, r.Meta.Bands)
	assert.Equal(t, 8, r.Meta.BitsPerSample)
	assert.Equal(t, 4, r.Meta.PixelCount())
	assert.Equal(t, "EPSG:32633", r.Meta.CRS)
	assert.InDelta(t, 0.25, r.Meta.PixelAreaM2(), 1e-12)
	assert.Equal(t, gocv.MatTypeCV32FC3, r.Data.Type())

	v := r.Data.GetVecfAt(1, 1)
	assert.Equal(t, gocv.Vecf{255, 0, 128}, v)
	v = r.Data.GetVecfAt(0, 1)
	assert.Equal(t, gocv.Vecf{40, 50, 60}, v)
}

func TestSaveMaskRoundTrip(t *testing.T) {
	ref := Metadata{
		Transform: geometry.NorthUp(1750000, 5920000, 0.1, -0.1),
		EPSG:      2193,
		CRS:       "EPSG:2193",
	}
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 6, 5, gocv.MatTypeCV8UC1)
	defer m.Close()
	m.SetUCharAt(2, 3, 1)
	m.SetUCharAt(5, 4, 2)

	path := filepath.Join(t.TempDir(), "mask.tif")
	require.NoError(t, SaveMask(path, m, ref))

	r, err := Load(path, true)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 6, r.Rows())
	assert.Equal(t, 5, r.Cols())
	assert.Equal(t, 1, r.Meta.Bands)
	assert.Equal(t, "EPSG:2193", r.Meta.CRS)
	assert.Equal(t, ref.Transform, r.Meta.Transform)
	assert.Equal(t, float32(1), r.Data.GetFloatAt(2, 3))
	assert.Equal(t, float32(2), r.Data.GetFloatAt(5, 4))
	assert.Equal(t, float32(0), r.Data.GetFloatAt(0, 0))
}

func TestSaveMaskRotatedTransform(t *testing.T) {
	ref := Metadata{
		Transform: geometry.GeoTransform{XScale: 0.5, RowRot: 0.1, XOrigin: 10, ColRot: 0.1, YScale: -0.5, YOrigin: 20},
	}
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 0, 0, 0), 3, 3, gocv.MatTypeCV8UC1)
	defer m.Close()

	path := filepath.Join(t.TempDir(), "rot.tif")
	require.NoError(t, SaveMask(path, m, ref))

	r, err := Load(path, true)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, ref.Transform, r.Meta.Transform)
	assert.Empty(t, r.Meta.CRS)
}

func TestSaveMaskLeavesNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.tif")

	m := gocv.NewMatWithSize(2, 2, gocv.MatTypeCV32FC1)
	defer m.Close()
	require.Error(t, SaveMask(path, m, Metadata{Transform: geometry.NorthUp(0, 0, 1, -1)}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSaveMaskUnknownCRS(t *testing.T) {
	dir := t.TempDir()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 0, 0, 0), 2, 2, gocv.MatTypeCV8UC1)
	defer m.Close()

	err := SaveMask(filepath.Join(dir, "mask.tif"), m, Metadata{Transform: geometry.NorthUp(0, 0, 1, -1), EPSG: 999999})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EPSG:999999")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSaveRGBRoundTrip(t *testing.T) {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 20, 30, 0), 5, 7, gocv.MatTypeCV8UC3)
	defer m.Close()
	pix, err := m.DataPtrUint8()
	require.NoError(t, err)
	pix[(2*7+3)*3] = 200

	ref := Metadata{Transform: geometry.NorthUp(500000, 4000000, 0.3, -0.3), EPSG: 32633, CRS: "EPSG:32633"}
	path := filepath.Join(t.TempDir(), "rgb.tif")
	require.NoError(t, SaveRGB(path, m, ref))

	r, err := Load(path, false)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 3, r.Meta.Bands)
	assert.Equal(t, "EPSG:32633", r.Meta.CRS)
	assert.Equal(t, gocv.Vecf{10, 20, 30}, r.Data.GetVecfAt(0, 0))
	assert.Equal(t, gocv.Vecf{200, 20, 30}, r.Data.GetVecfAt(2, 3))

	mono := gocv.NewMatWithSize(5, 7, gocv.MatTypeCV8UC1)
	defer mono.Close()
	assert.Error(t, SaveRGB(path, mono, ref))
}

func TestReadMetadata(t *testing.T) {
	meta := Metadata{
		Width: 6, Height: 4, Bands: 3,
		Transform: geometry.NorthUp(10, 20, 2, -2),
		EPSG:      3857,
	}
	path := writeTIFF(t, t.TempDir(), "meta.tif", make([]byte, 6*4*3), meta)

	got, err := ReadMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, 6, got.Width)
	assert.Equal(t, 4, got.Height)
	assert.Equal(t, 3, got.Bands)
	assert.Equal(t, "EPSG:3857", got.CRS)
	assert.Equal(t, 4.0, got.PixelAreaM2())

	_, err = ReadMetadata(filepath.Join(t.TempDir(), "missing.tif"))
	var notFound *errs.InputNotFoundError
	assert.True(t, errors.As(err, &notFound))
}
