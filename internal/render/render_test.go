package render

import (
	"path/filepath"
	"testing"

	"rooflytics/pkg/colorutil"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func classRaster(rows, cols int) gocv.Mat {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, gocv.MatTypeCV8UC1)
	for y := 0; y < rows/2; y++ {
		for x := 0; x < cols/2; x++ {
			m.SetUCharAt(y, x, 1)
		}
	}
	for y := rows / 2; y < rows; y++ {
		for x := cols / 2; x < cols; x++ {
			m.SetUCharAt(y, x, 2)
		}
	}
	return m
}

func TestThermalPreviewColours(t *testing.T) {
	m := classRaster(8, 10)
	defer m.Close()

	img, err := ThermalPreview(m, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy())

	r, g, b, _ := img.At(0, 0).RGBA()
	hr, hg, hb, _ := colorutil.Hot.RGBA()
	assert.Equal(t, [3]uint32{hr, hg, hb}, [3]uint32{r, g, b})

	r, g, b, _ = img.At(9, 7).RGBA()
	cr, cg, cb, _ := colorutil.Cool.RGBA()
	assert.Equal(t, [3]uint32{cr, cg, cb}, [3]uint32{r, g, b})

	r, g, b, _ = img.At(9, 0).RGBA()
	assert.Equal(t, [3]uint32{0, 0, 0}, [3]uint32{r, g, b})
}

func TestThermalPreviewDownscales(t *testing.T) {
	m := classRaster(200, 400)
	defer m.Close()

	img, err := ThermalPreview(m, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())
}

func TestThermalPreviewRejectsWrongType(t *testing.T) {
	m := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV32FC1)
	defer m.Close()
	_, err := ThermalPreview(m, 0)
	assert.Error(t, err)

	_, err = ThermalPreview(gocv.NewMat(), 0)
	assert.Error(t, err)
}

func TestSavePNG(t *testing.T) {
	m := classRaster(6, 6)
	defer m.Close()
	img, err := ThermalPreview(m, 0)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "preview.png")
	require.NoError(t, SavePNG(path, img))

	back, err := imaging.Open(path)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), back.Bounds())
}
