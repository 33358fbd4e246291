package mask

import (
	"errors"
	"image"
	"testing"

	"rooflytics/internal/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func fill(m gocv.Mat, r image.Rectangle) {
	region := m.Region(r)
	region.SetTo(gocv.NewScalar(1, 0, 0, 0))
	region.Close()
}

func zeroMask(rows, cols int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, gocv.MatTypeCV8UC1)
}

// noisyScene has two large roofs, one with a pinhole, plus isolated speckle
// and a blob below the area threshold.
func noisyScene() gocv.Mat {
	m := zeroMask(100, 100)
	fill(m, image.Rect(10, 10, 40, 30)) // 600 px
	fill(m, image.Rect(55, 50, 90, 80)) // 1050 px
	m.SetUCharAt(20, 25, 0)             // pinhole
	m.SetUCharAt(5, 80, 1)              // speckle
	m.SetUCharAt(95, 3, 1)
	fill(m, image.Rect(70, 5, 78, 13)) // 64 px, too small
	return m
}

func TestBinarize(t *testing.T) {
	prob := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0.2, 0, 0, 0), 3, 3, gocv.MatTypeCV32FC1)
	defer prob.Close()
	prob.SetFloatAt(0, 0, 0.5)
	prob.SetFloatAt(1, 1, 0.93)
	prob.SetFloatAt(2, 2, 0.4999)

	bin, err := Binarize(prob, 0.5)
	require.NoError(t, err)
	defer bin.Close()

	assert.Equal(t, gocv.MatTypeCV8UC1, bin.Type())
	assert.Equal(t, uint8(1), bin.GetUCharAt(0, 0))
	assert.Equal(t, uint8(1), bin.GetUCharAt(1, 1))
	assert.Equal(t, uint8(0), bin.GetUCharAt(2, 2))
	assert.Equal(t, 2, gocv.CountNonZero(bin))
}

func TestBinarizeRejectsWrongType(t *testing.T) {
	m := zeroMask(2, 2)
	defer m.Close()
	_, err := Binarize(m, 0.5)
	assert.Error(t, err)
}

func TestCleanRemovesNoise(t *testing.T) {
	raw := noisyScene()
	defer raw.Close()

	cleaned, err := Clean(raw, DefaultCleanOptions())
	require.NoError(t, err)
	defer cleaned.Close()

	assert.Equal(t, 2, cleaned.Labels.Count())
	assert.Equal(t, 1, cleaned.Dropped) // the 64 px blob; speckle is gone after opening
	assert.Equal(t, uint8(1), cleaned.Mask.GetUCharAt(20, 25), "pinhole filled")
	assert.Equal(t, uint8(0), cleaned.Mask.GetUCharAt(5, 80))
	assert.Equal(t, uint8(0), cleaned.Mask.GetUCharAt(9, 74))

	// Labels follow raster-scan order of each roof's first pixel
	assert.Equal(t, 1, cleaned.Labels.At(15, 20))
	assert.Equal(t, 2, cleaned.Labels.At(60, 70))
	assert.Equal(t, cleaned.Labels.Foreground(), gocv.CountNonZero(cleaned.Mask))

	b := cleaned.Labels.Bounds(1)
	assert.Equal(t, 10, b.X)
	assert.Equal(t, 10, b.Y)
	assert.Equal(t, 30, b.Width)
	assert.Equal(t, 20, b.Height)
}

func TestCleanIsIdempotent(t *testing.T) {
	raw := noisyScene()
	defer raw.Close()

	once, err := Clean(raw, DefaultCleanOptions())
	require.NoError(t, err)
	defer once.Close()

	twice, err := Clean(once.Mask, DefaultCleanOptions())
	require.NoError(t, err)
	defer twice.Close()

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.BitwiseXor(once.Mask, twice.Mask, &diff)
	assert.Zero(t, gocv.CountNonZero(diff))
	assert.Equal(t, once.Labels.Labels, twice.Labels.Labels)
	assert.Zero(t, twice.Dropped)
}

func TestCleanAreaFilterIsNonIncreasing(t *testing.T) {
	raw := noisyScene()
	defer raw.Close()

	opts := DefaultCleanOptions()
	opts.MinArea = 0
	unfiltered, err := Clean(raw, opts)
	require.NoError(t, err)
	defer unfiltered.Close()

	filtered, err := Clean(raw, DefaultCleanOptions())
	require.NoError(t, err)
	defer filtered.Close()

	assert.LessOrEqual(t, gocv.CountNonZero(filtered.Mask), gocv.CountNonZero(unfiltered.Mask))
	assert.Equal(t, 3, unfiltered.Labels.Count())
}

func TestCleanInvalidKernel(t *testing.T) {
	raw := zeroMask(8, 8)
	defer raw.Close()

	for _, k := range []int{0, 4, -3} {
		_, err := Clean(raw, CleanOptions{KernelSize: k, MinArea: 10})
		var cfgErr *errs.ConfigurationError
		require.True(t, errors.As(err, &cfgErr), "kernel %d", k)
		assert.Equal(t, "mask.kernel_size", cfgErr.Key)
	}
}

func TestLabelEightConnectivity(t *testing.T) {
	m := zeroMask(5, 5)
	defer m.Close()
	m.SetUCharAt(0, 0, 1)
	m.SetUCharAt(1, 1, 1) // diagonal neighbour joins the same component
	m.SetUCharAt(3, 3, 1)
	m.SetUCharAt(4, 0, 1)

	lab, err := Label(m)
	require.NoError(t, err)
	require.Equal(t, 3, lab.Count())
	assert.Equal(t, 2, lab.Area(1))
	assert.Equal(t, lab.At(0, 0), lab.At(1, 1))
	assert.Equal(t, 2, lab.At(3, 3))
	assert.Equal(t, 3, lab.At(4, 0))
	assert.Equal(t, 0, lab.At(2, 2))
	assert.Zero(t, lab.Area(7))
}
