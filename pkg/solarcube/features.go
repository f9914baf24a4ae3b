package solarcube

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Mg II h&k feature window, vacuum wavelengths in Å.
const (
	MgIIFeatureMin  = 2794.14
	MgIIFeatureMax  = 2805.72
	MgIIFeatureBins = 240

	mgIIKCore     = 2796.34
	mgIIHCore     = 2803.52
	mgIICoreWidth = 3.0
	mgIIk2Reach   = 1.0
	mgIITripletLo = 2798.22
	mgIITripletHi = 2798.77
	mgIIWing      = 2799.32
	// a k3 below this normalized height is taken as a single-peaked profile
	mgIIk3Floor = 0.15
)

// MgIIFeatureGrid is the grid features are extracted on.
func MgIIFeatureGrid() Grid { return NewGrid(MgIIFeatureMin, MgIIFeatureMax, MgIIFeatureBins) }

// MgIIFeatures describe the shape of one Mg II h&k spectrum. Heights are
// relative to the spectrum maximum, positions and widths are in Å.
type MgIIFeatures struct {
	Valid            bool
	Intensity        float64 // maximum of the input spectrum
	TripletIntensity float64 // maximum over the subordinate triplet, input units
	LineCenter       float64 // median of the k core
	LineWidth        float64 // interquartile range of the k core
	LineAsymmetry    float64
	Continuum        float64 // summed between the k and h cores
	TripletEmission  float64 // log of triplet over wing
	KHRatio          float64 // integrated k over integrated h
	KHRatioMax       float64
	K3Height         float64
	PeakRatio        float64 // k2v over k2r
	PeakSeparation   float64
}

// mgIIIndex holds the grid positions features are read at.
type mgIIIndex struct {
	step      float64
	k         int
	kl, kr    int // k core window
	hl, hr    int // h core window
	k2l, k2r  int // k2 peak search range
	tripletLo int
	tripletHi int
	wing      int
}

func newMgIIIndex(g Grid) mgIIIndex {
	at := func(w float64) int {
		i := int(math.Round((w - g.Min) / g.Step))
		return max(0, min(g.N()-1, i))
	}
	half := mgIICoreWidth / 2
	return mgIIIndex{
		step:      g.Step,
		k:         at(mgIIKCore),
		kl:        at(mgIIKCore - half),
		kr:        at(mgIIKCore + half),
		hl:        at(mgIIHCore - half),
		hr:        at(mgIIHCore + half),
		k2l:       at(mgIIKCore - mgIIk2Reach),
		k2r:       at(mgIIKCore + mgIIk2Reach),
		tripletLo: at(mgIITripletLo),
		tripletHi: at(mgIITripletHi),
		wing:      at(mgIIWing),
	}
}

// ExtractMgIIFeatures resamples a spectrum onto MgIIFeatureGrid and measures
// its line features. The spectrum must cover the whole grid and have a
// positive maximum.
func ExtractMgIIFeatures(axis, values []float64) (MgIIFeatures, error) {
	grid := MgIIFeatureGrid()
	prof, err := ResampleSpectrum(axis, values, grid, false)
	if err != nil {
		return MgIIFeatures{}, err
	}
	for _, v := range prof {
		if math.IsNaN(v) {
			return MgIIFeatures{}, fmt.Errorf("%w: spectrum does not cover [%g, %g]", ErrOutOfDomain, grid.Min, grid.Max)
		}
	}
	ix := newMgIIIndex(grid)

	var f MgIIFeatures
	f.Intensity = floats.Max(prof)
	if !(f.Intensity > 0) {
		return MgIIFeatures{}, fmt.Errorf("%w: spectrum has no emission", ErrOutOfDomain)
	}
	f.TripletIntensity = floats.Max(prof[ix.tripletLo:ix.wing])
	floats.Scale(1/f.Intensity, prof)

	q1, q2, q3 := quartiles(prof[ix.kl:ix.kr])
	f.LineCenter = grid.Min + float64(ix.kl+q2)*ix.step
	f.LineWidth = float64(q3-q1) * ix.step
	if q3 != q1 {
		f.LineAsymmetry = float64((q3-q2)-(q2-q1)) / float64(q3-q1)
	}

	f.Continuum = floats.Sum(prof[ix.kr:ix.hl])
	f.TripletEmission = math.Log(prof[ix.tripletHi] / prof[ix.wing])
	f.KHRatio = floats.Sum(prof[ix.kl:ix.kr]) / floats.Sum(prof[ix.hl:ix.hr])
	f.KHRatioMax = floats.Max(prof[ix.kl:ix.kr]) / floats.Max(prof[ix.hl:ix.hr])
	f.K3Height, f.PeakRatio, f.PeakSeparation = k2Peaks(prof, ix)
	f.Valid = true
	return f, nil
}

// quartiles returns the positions where the running sum of p is nearest to
// a quarter, half and three quarters of its total.
func quartiles(p []float64) (q1, q2, q3 int) {
	running := make([]float64, len(p))
	for i := 1; i < len(p); i++ {
		running[i] = running[i-1] + p[i-1]
	}
	top := floats.Max(running)
	nearest := func(level float64) int {
		best, dist := 0, math.Inf(1)
		for i, v := range running {
			if d := math.Abs(v/top - level); d < dist {
				best, dist = i, d
			}
		}
		return best
	}
	return nearest(0.25), nearest(0.5), nearest(0.75)
}

// k2Peaks locates the k2 emission peaks and the k3 dip between them. A
// single-peaked profile has both peaks and k3 on its maximum.
func k2Peaks(prof []float64, ix mgIIIndex) (k3Height, ratio, separation float64) {
	p1 := ix.k2l + floats.MaxIdx(prof[ix.k2l:ix.k2r])
	p2, k3 := p1, p1
	switch {
	case p1 < ix.k:
		if ch := signChanges(gradient(prof[p1:ix.k2r])); len(ch) >= 2 {
			k3, p2 = p1+ch[0], p1+ch[1]
		}
	case p1 > ix.k:
		g := gradient(prof[ix.k2l:p1])
		for i, j := 0, len(g)-1; i < j; i, j = i+1, j-1 {
			g[i], g[j] = g[j], g[i]
		}
		floats.Scale(-1, g)
		if ch := signChanges(g); len(ch) >= 2 {
			k3, p2 = p1-ch[0]-2, p1-ch[1]-2
		}
	}
	if prof[k3] < mgIIk3Floor {
		p2, k3 = p1, p1
	}
	vio, red := min(p1, p2), max(p1, p2)
	return prof[k3], prof[vio] / prof[red], float64(red-vio) * ix.step
}

// gradient uses central differences inside and one-sided ones at the ends.
func gradient(v []float64) []float64 {
	n := len(v)
	if n < 2 {
		return nil
	}
	g := make([]float64, n)
	g[0] = v[1] - v[0]
	g[n-1] = v[n-1] - v[n-2]
	for i := 1; i < n-1; i++ {
		g[i] = (v[i+1] - v[i-1]) / 2
	}
	return g
}

// signChanges returns every i where the sign of v[i+1] differs from v[i].
func signChanges(v []float64) []int {
	sign := func(x float64) int {
		switch {
		case x > 0:
			return 1
		case x < 0:
			return -1
		}
		return 0
	}
	var out []int
	for i := 0; i+1 < len(v); i++ {
		if sign(v[i]) != sign(v[i+1]) {
			out = append(out, i)
		}
	}
	return out
}

// MgIIFeaturesStep measures every row of step i of a raster cube. Rows that
// cannot be measured are returned with Valid unset.
func MgIIFeaturesStep(c *Cube, i int) ([]MgIIFeatures, error) {
	axis, err := c.WavelengthAxis()
	if err != nil {
		return nil, err
	}
	m, err := c.GetStep(i)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	rows := matRows(m)
	out := make([]MgIIFeatures, len(rows))
	failed := 0
	for r, row := range rows {
		f, err := ExtractMgIIFeatures(axis, row)
		if err != nil {
			failed++
			continue
		}
		out[r] = f
	}
	if failed > 0 {
		Logf("[features] %s step %d: %d of %d rows could not be measured", c.Line(), i, failed, len(rows))
	}
	return out, nil
}
