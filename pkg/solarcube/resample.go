package solarcube

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"
)

// ResampleSpectrum interpolates values sampled at axis onto grid with a
// monotone cubic spline. Non-finite samples are ignored. Grid points outside
// the sampled domain are NaN unless extrapolate is set, in which case they
// take the nearest edge value. On error the result is still grid sized and
// all NaN.
func ResampleSpectrum(axis, values []float64, grid Grid, extrapolate bool) ([]float64, error) {
	out := make([]float64, grid.N())
	for i := range out {
		out[i] = math.NaN()
	}
	if len(axis) != len(values) {
		return out, fmt.Errorf("%w: axis has %d samples, spectrum %d", ErrOutOfDomain, len(axis), len(values))
	}
	xs, ys := cleanSamples(axis, values)
	if len(xs) < 2 {
		return out, fmt.Errorf("%w: spectrum has %d finite samples", ErrOutOfDomain, len(xs))
	}

	var pred interp.Predictor
	if len(xs) == 2 {
		var pl interp.PiecewiseLinear
		if err := pl.Fit(xs, ys); err != nil {
			return out, fmt.Errorf("%w: %v", ErrOutOfDomain, err)
		}
		pred = &pl
	} else {
		var fb interp.FritschButland
		if err := fb.Fit(xs, ys); err != nil {
			return out, fmt.Errorf("%w: %v", ErrOutOfDomain, err)
		}
		pred = &fb
	}

	lo, hi := xs[0], xs[len(xs)-1]
	for i, x := range grid.Points() {
		switch {
		case x < lo:
			out[i] = edge(extrapolate, ys[0])
		case x > hi:
			out[i] = edge(extrapolate, ys[len(ys)-1])
		default:
			out[i] = pred.Predict(x)
		}
	}
	return out, nil
}

func edge(extrapolate bool, v float64) float64 {
	if extrapolate {
		return v
	}
	return math.NaN()
}

// cleanSamples drops non-finite pairs and returns strictly increasing xs.
func cleanSamples(axis, values []float64) (xs, ys []float64) {
	idx := make([]int, 0, len(axis))
	for i := range axis {
		if isFinite(axis[i]) && isFinite(values[i]) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return axis[idx[a]] < axis[idx[b]] })
	for _, i := range idx {
		if len(xs) > 0 && axis[i] <= xs[len(xs)-1] {
			continue
		}
		xs = append(xs, axis[i])
		ys = append(ys, values[i])
	}
	return xs, ys
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// ResampleParams is a target grid and policy. It carries no cube identity and
// can be applied to any cube with a spectral axis.
type ResampleParams struct {
	Grid        Grid
	Extrapolate bool
}

// SpectralResampler maps each step's spectra onto a uniform grid.
type SpectralResampler struct {
	params ResampleParams
}

// NewSpectralResampler returns a resampler for cfg.ResampleGrid.
func NewSpectralResampler(cfg Config) (*SpectralResampler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SpectralResampler{params: ResampleParams{Grid: cfg.ResampleGrid, Extrapolate: cfg.Extrapolate}}, nil
}

// Fit checks that c has a spectral axis overlapping the grid.
func (r *SpectralResampler) Fit(c *Cube) (ResampleParams, error) {
	axis, err := c.WavelengthAxis()
	if err != nil {
		return ResampleParams{}, err
	}
	if err := checkOverlap(axis, r.params); err != nil {
		return ResampleParams{}, err
	}
	return r.params, nil
}

func checkOverlap(axis []float64, p ResampleParams) error {
	if p.Extrapolate || len(axis) == 0 {
		return nil
	}
	lo, hi := axis[0], axis[len(axis)-1]
	if lo > hi {
		lo, hi = hi, lo
	}
	if p.Grid.Max < lo || p.Grid.Min > hi {
		return fmt.Errorf("%w: grid [%g, %g] outside axis [%g, %g]", ErrOutOfDomain, p.Grid.Min, p.Grid.Max, lo, hi)
	}
	return nil
}

// Transform returns the lazily resampled view of c.
func (r *SpectralResampler) Transform(c *Cube, params ResampleParams) (*ResampledCube, error) {
	if params.Grid.N() < 2 {
		return nil, &ConfigError{Field: "ResampleParams.Grid", Reason: "must contain at least two points"}
	}
	axis, err := c.WavelengthAxis()
	if err != nil {
		return nil, err
	}
	if err := checkOverlap(axis, params); err != nil {
		return nil, err
	}
	return &ResampledCube{cube: c, params: params, axis: axis}, nil
}

// ResampledCube resamples every row of a step on access.
type ResampledCube struct {
	cube   *Cube
	params ResampleParams
	axis   []float64
}

func (rc *ResampledCube) Cube() *Cube    { return rc.cube }
func (rc *ResampledCube) Grid() Grid     { return rc.params.Grid }
func (rc *ResampledCube) StepCount() int { return rc.cube.StepCount() }

// GetSpectra returns the resampled spectra of step i, one per row. Rows with
// too few finite samples are all NaN.
func (rc *ResampledCube) GetSpectra(i int) ([][]float64, error) {
	m, err := rc.cube.GetStep(i)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	rows := matRows(m)
	out := make([][]float64, len(rows))
	for r, row := range rows {
		// a row that cannot be resampled stays all NaN
		out[r], _ = ResampleSpectrum(rc.axis, row, rc.params.Grid, rc.params.Extrapolate)
	}
	return out, nil
}

// GetStep returns the resampled spectra of step i as a rows x grid Mat.
func (rc *ResampledCube) GetStep(i int) (Mat, error) {
	spectra, err := rc.GetSpectra(i)
	if err != nil {
		return Mat{}, err
	}
	n := rc.params.Grid.N()
	m := NewMatWithSize(len(spectra), n)
	data := m.DataFloat32()
	for r, row := range spectra {
		for k, v := range row {
			data[r*n+k] = float32(v)
		}
	}
	return m, nil
}

// matRows copies a contiguous Mat into float64 rows.
func matRows(m Mat) [][]float64 {
	rows, cols := m.Rows(), m.Cols()
	data := m.DataFloat32()
	out := make([][]float64, rows)
	for r := range out {
		out[r] = make([]float64, cols)
		for k := range out[r] {
			out[r][k] = float64(data[r*cols+k])
		}
	}
	return out
}
