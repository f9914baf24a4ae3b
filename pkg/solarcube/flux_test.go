package solarcube

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC)

func sec(s float64) time.Time { return t0.Add(time.Duration(s * float64(time.Second))) }

func TestFluxLookup(t *testing.T) {
	series := NewFluxSeries([]FluxSample{
		{Time: sec(0), A: 0.1, B: 1},
		{Time: sec(10), A: 0.3, B: 3},
		{Time: sec(20), A: 0.2, B: 2},
	})

	tests := []struct {
		name  string
		at    time.Time
		opts  FluxOptions
		want  float64
		valid bool
	}{
		{"interpolated midpoint", sec(5), FluxOptions{Channel: ChannelB, Interpolate: true, MaxGap: 10 * time.Second}, 2, true},
		{"nearest takes the earlier tie", sec(5), FluxOptions{Channel: ChannelB, MaxGap: 10 * time.Second}, 1, true},
		{"nearest", sec(16), FluxOptions{Channel: ChannelB, MaxGap: 10 * time.Second}, 2, true},
		{"exact sample", sec(10), FluxOptions{Channel: ChannelA, MaxGap: time.Second}, 0.3, true},
		{"gap too wide to interpolate", sec(5), FluxOptions{Channel: ChannelB, Interpolate: true, MaxGap: 5 * time.Second}, 1, true},
		{"too far from any sample", sec(5), FluxOptions{Channel: ChannelB, Interpolate: true, MaxGap: 4 * time.Second}, math.NaN(), false},
		{"after the series", sec(31), FluxOptions{Channel: ChannelB, Interpolate: true, MaxGap: 10 * time.Second}, math.NaN(), false},
		{"last sample within gap", sec(29), FluxOptions{Channel: ChannelB, Interpolate: true, MaxGap: 10 * time.Second}, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _, ok := series.Lookup(tt.at, tt.opts)
			assert.Equal(t, tt.valid, ok)
			if tt.valid {
				assert.InDelta(t, tt.want, v, 1e-12)
			} else {
				assert.True(t, math.IsNaN(v))
			}
		})
	}
}

func TestFluxSeriesSkipsBadSamples(t *testing.T) {
	series := NewFluxSeries([]FluxSample{
		{Time: sec(20), B: 5},
		{Time: sec(0), B: 1},
		{Time: sec(10), B: 100, Quality: 4},
		{Time: sec(0), B: 9},
		{Time: sec(30), B: math.NaN()},
		{Time: sec(40), B: -1},
	})
	require.Equal(t, 5, series.Len())
	assert.Equal(t, []time.Time{sec(0), sec(10), sec(20), sec(30), sec(40)}, series.Times())
	assert.Equal(t, 1.0, series.Samples()[0].B)

	v, idx, ok := series.Lookup(sec(10), FluxOptions{Channel: ChannelB, Interpolate: true, MaxGap: 20 * time.Second})
	require.True(t, ok)
	assert.InDelta(t, 3, v, 1e-12)
	assert.Contains(t, []int{0, 2}, idx)

	peak, ok := series.Peak(ChannelB, sec(0), sec(40))
	require.True(t, ok)
	assert.Equal(t, sec(20), peak.Time)

	_, ok = series.Peak(ChannelB, sec(41), sec(50))
	assert.False(t, ok)
}

func TestGetFlux(t *testing.T) {
	path := writeCubeFile(t, t.TempDir(), cubeFile{rows: 2, cols: 2, frames: rampFrames(3, 2, 2), times: []float64{5, 15, 100}})
	_, c := openTestCube(t, DefaultConfig(), path)
	series := NewFluxSeries([]FluxSample{
		{Time: sec(0), B: 1},
		{Time: sec(10), B: 3},
		{Time: sec(20), B: 2},
	})

	matches, err := GetFlux(c, series, FluxOptions{Channel: ChannelB, Interpolate: true, MaxGap: 10 * time.Second})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.InDelta(t, 2, matches[0].Value, 1e-12)
	assert.InDelta(t, 2.5, matches[1].Value, 1e-12)
	assert.Equal(t, 1, matches[1].Sample)
	assert.False(t, matches[2].Valid)
	assert.Equal(t, -1, matches[2].Sample)
	assert.Equal(t, sec(100), matches[2].Time)

	_, err = GetFlux(c, series, FluxOptions{Channel: ChannelB})
	assert.ErrorIs(t, err, ErrConfig)

	c.Close()
	_, err = GetFlux(c, series, FluxOptions{Channel: ChannelB, MaxGap: time.Second})
	assert.ErrorIs(t, err, ErrClosed)
}
