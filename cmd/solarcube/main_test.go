package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	opts, err := parseArgs([]string{"-line", "Mg II k", "a.fits", "-goes", "xrs.csv", "b.fits", "-quicklook", "q.png", "-events", "hek.db"})
	require.NoError(t, err)
	assert.Equal(t, options{
		files:     []string{"a.fits", "b.fits"},
		line:      "Mg II k",
		quicklook: "q.png",
		goes:      "xrs.csv",
		events:    "hek.db",
	}, opts)

	for _, args := range [][]string{
		nil,
		{"-line"},
		{"-verbose", "a.fits"},
		{"-goes", "xrs.csv"},
		{"a.fits", "-events"},
	} {
		_, err := parseArgs(args)
		assert.Error(t, err, "%v", args)
	}
}

func TestMedianMAD(t *testing.T) {
	median, mad := medianMAD([]float64{4, 1, 3, 2, 100})
	assert.Equal(t, 3.0, median)
	assert.InDelta(t, 1.4826, mad, 1e-12)

	median, _ = medianMAD([]float64{1, 2, 3, 4})
	assert.Equal(t, 2.5, median)

	median, mad = medianMAD(nil)
	assert.True(t, math.IsNaN(median))
	assert.True(t, math.IsNaN(mad))
}
