package solarcube

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCubeQualityFilter(t *testing.T) {
	frames := rampFrames(5, 4, 4)
	frames[1] = constFrames(1, 4, 4, -200)[0]
	frames[3] = constFrames(1, 4, 4, 0)[0]
	frames[3][0] = 5
	path := writeCubeFile(t, t.TempDir(), cubeFile{
		rows: 4, cols: 4, frames: frames,
		exptimes: []float64{4, 4, 0, 4, 4},
	})
	_, c := openTestCube(t, DefaultConfig(), path)
	filter, err := NewCubeQualityFilter(DefaultConfig())
	require.NoError(t, err)

	params, err := filter.Fit(c)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, params.Corrupt)
	assert.Equal(t, []int{1, 3}, params.Null)
	assert.Equal(t, 5, params.Steps)

	mask, err := filter.Transform(c, params)
	require.NoError(t, err)
	assert.Equal(t, QualityMask{true, false, false, false, true}, mask)
	assert.Equal(t, []int{0, 4}, mask.Good())

	again, err := filter.Fit(c)
	require.NoError(t, err)
	if diff := cmp.Diff(params, again); diff != "" {
		t.Errorf("second fit differs (-first +second):\n%s", diff)
	}

	s, err := c.Step(1)
	require.NoError(t, err)
	assert.Equal(t, QualityNull, s.Quality)
}

func TestCubeQualityFilterThreshold(t *testing.T) {
	frame := rampFrames(1, 2, 2)[0]
	frame[0] = -200
	path := writeCubeFile(t, t.TempDir(), cubeFile{rows: 2, cols: 2, frames: [][]float32{frame}})
	_, c := openTestCube(t, DefaultConfig(), path)

	for _, tt := range []struct {
		threshold float64
		null      []int
	}{
		{0.5, nil},
		{0.25, nil},
		{0.2, []int{0}},
	} {
		cfg := DefaultConfig()
		cfg.QualityNullFractionThreshold = tt.threshold
		filter, err := NewCubeQualityFilter(cfg)
		require.NoError(t, err)
		params, err := filter.Fit(c)
		require.NoError(t, err)
		assert.Equal(t, tt.null, params.Null, "threshold %g", tt.threshold)
	}
}

func TestCubeQualityFilterTruncatedStep(t *testing.T) {
	const rows, cols, n = 2, 2, 2
	frame := int64(rows * cols * 4)
	padding := padToBlock(n*frame) - n*frame
	path := writeCubeFile(t, t.TempDir(), cubeFile{rows: rows, cols: cols, frames: rampFrames(n, rows, cols), truncate: padding + 1})
	_, c := openTestCube(t, DefaultConfig(), path)
	filter, err := NewCubeQualityFilter(DefaultConfig())
	require.NoError(t, err)

	params, err := filter.Fit(c)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, params.Corrupt)
	assert.Empty(t, params.Null)
}

func TestCubeQualityFilterRejectsForeignParams(t *testing.T) {
	dir := t.TempDir()
	a := writeCubeFile(t, dir, cubeFile{name: "a.fits", rows: 2, cols: 2, frames: rampFrames(2, 2, 2)})
	b := writeCubeFile(t, dir, cubeFile{name: "b.fits", rows: 2, cols: 2, frames: rampFrames(2, 2, 2)})
	_, ca := openTestCube(t, DefaultConfig(), a)
	_, cb := openTestCube(t, DefaultConfig(), b)
	filter, err := NewCubeQualityFilter(DefaultConfig())
	require.NoError(t, err)

	params, err := filter.Fit(ca)
	require.NoError(t, err)
	_, err = filter.Transform(cb, params)
	assert.ErrorIs(t, err, ErrCubeMismatch)
}

func TestCubeQualityFilterFlagsOutlierBoxes(t *testing.T) {
	path := writeCubeFile(t, t.TempDir(), cubeFile{rows: 20, cols: 20, frames: stripeFrames()})
	_, c := openTestCube(t, DefaultConfig(), path)
	cfg := DefaultConfig()
	cfg.QualityNullFractionThreshold = 0.9
	filter, err := NewCubeQualityFilter(cfg)
	require.NoError(t, err)

	params, err := filter.Fit(c)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, params.Corrupt)
	assert.Empty(t, params.Null)

	mask, err := filter.Transform(c, params)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 4}, mask.Good())
}
