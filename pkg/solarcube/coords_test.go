package solarcube

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinateFrameRoundTrip(t *testing.T) {
	for _, deg := range []float64{0, 12.5, 90, -37, 180} {
		f, err := NewCoordinateFrame(10, 20, 0.166, 0.332, deg*math.Pi/180, -120.5, 310.25)
		require.NoError(t, err)
		for _, p := range [][2]float64{{0, 0}, {10, 20}, {511.5, 3.25}, {-4, 900}} {
			x, y := f.Pix2Coords(p[0], p[1])
			row, col := f.Coords2Pix(x, y)
			assert.InDelta(t, p[0], row, 1e-6, "rotation %g row", deg)
			assert.InDelta(t, p[1], col, 1e-6, "rotation %g col", deg)
		}
	}
}

func TestCoordinateFrameRotatesScaledOffset(t *testing.T) {
	// scaling first: one column right is (2, 0) before rotation
	f, err := NewCoordinateFrame(0, 0, 2, 1, math.Pi/2, 0, 0)
	require.NoError(t, err)
	x, y := f.Pix2Coords(0, 1)
	assert.InDelta(t, 0, x, 1e-12)
	assert.InDelta(t, 2, y, 1e-12)

	x, y = f.Pix2Coords(1, 0)
	assert.InDelta(t, -1, x, 1e-12)
	assert.InDelta(t, 0, y, 1e-12)
}

func TestCoordinateFrameRejectsDegenerateInput(t *testing.T) {
	_, err := NewCoordinateFrame(0, 0, 0, 1, 0, 0, 0)
	assert.ErrorIs(t, err, ErrCorruptData)
	_, err = NewCoordinateFrame(0, 0, 1, 1, math.NaN(), 0, 0)
	assert.ErrorIs(t, err, ErrCorruptData)
	_, err = NewCoordinateFrame(math.Inf(1), 0, 1, 1, 0, 0, 0)
	assert.ErrorIs(t, err, ErrCorruptData)
}

func TestCoordinateFrameWithCrop(t *testing.T) {
	f, err := NewCoordinateFrame(5, 5, 0.5, 0.5, 0.3, 10, -10)
	require.NoError(t, err)
	box := image.Rect(3, 7, 9, 12)
	cropped := f.WithCrop(box)

	x1, y1 := cropped.Pix2Coords(2, 4)
	x2, y2 := f.Pix2Coords(2+7, 4+3)
	assert.InDelta(t, x2, x1, 1e-12)
	assert.InDelta(t, y2, y1, 1e-12)

	row, col := cropped.Coords2Pix(x1, y1)
	assert.InDelta(t, 2, row, 1e-9)
	assert.InDelta(t, 4, col, 1e-9)
}

func TestCubeFrameFromHeader(t *testing.T) {
	path := writeCubeFile(t, t.TempDir(), cubeFile{
		rows: 8, cols: 8, frames: rampFrames(2, 8, 8),
		wcs: map[string]float64{"CRPIX1": 4, "CRPIX2": 5, "CDELT1": 0.166, "CDELT2": 0.166, "CRVAL1": -300, "CRVAL2": 200, "CROTA2": 30},
	})
	_, c := openTestCube(t, DefaultConfig(), path)

	f, err := c.Frame(0)
	require.NoError(t, err)
	assert.Equal(t, 4.0, f.RefRow)
	assert.Equal(t, 3.0, f.RefCol)
	assert.InDelta(t, math.Pi/6, f.Rotation, 1e-12)

	// the reference pixel maps to the reference value
	x, y, err := c.Pix2Coords(1, 4, 3)
	require.NoError(t, err)
	assert.InDelta(t, -300, x, 1e-9)
	assert.InDelta(t, 200, y, 1e-9)

	row, col, err := c.Coords2Pix(1, -290, 205)
	require.NoError(t, err)
	x, y, err = c.Pix2Coords(1, row, col)
	require.NoError(t, err)
	assert.InDelta(t, -290, x, 1e-6)
	assert.InDelta(t, 205, y, 1e-6)

	_, err = c.Frame(5)
	assert.ErrorIs(t, err, ErrOutOfDomain)
}

func TestCubeFrameRejectsZeroScale(t *testing.T) {
	path := writeCubeFile(t, t.TempDir(), cubeFile{rows: 2, cols: 2, frames: rampFrames(1, 2, 2), wcs: map[string]float64{"CDELT2": 0}})
	_, c := openTestCube(t, DefaultConfig(), path)
	_, err := c.Frame(0)
	assert.ErrorIs(t, err, ErrCorruptData)
}

func TestUnitScale(t *testing.T) {
	assert.Equal(t, 3600.0, unitScale("deg"))
	assert.Equal(t, 1e10, unitScale(" m "))
	assert.Equal(t, 1.0, unitScale("arcsec"))
	assert.Equal(t, 1.0, unitScale(""))
}
