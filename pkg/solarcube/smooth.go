package solarcube

import (
	"math"
)

// SmoothParams is the Gaussian kernel width in bins.
type SmoothParams struct {
	Width float64
}

// SpectrumSmoother convolves every spectrum with a Gaussian kernel.
type SpectrumSmoother struct {
	width float64
}

// NewSpectrumSmoother returns a smoother with cfg.SmoothWidth.
func NewSpectrumSmoother(cfg Config) (*SpectrumSmoother, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SpectrumSmoother{width: cfg.SmoothWidth}, nil
}

// Fit does not depend on the cube.
func (s *SpectrumSmoother) Fit(c *Cube) (SmoothParams, error) {
	return SmoothParams{Width: s.width}, nil
}

func (s *SpectrumSmoother) Transform(c *Cube, params SmoothParams) (*SmoothedCube, error) {
	if !(params.Width > 0) {
		return nil, &ConfigError{Field: "SmoothParams.Width", Reason: "must be positive"}
	}
	return &SmoothedCube{cube: c, width: params.Width}, nil
}

// SmoothedCube smooths each step along its rows on access.
type SmoothedCube struct {
	cube  *Cube
	width float64
}

func (sc *SmoothedCube) Cube() *Cube    { return sc.cube }
func (sc *SmoothedCube) StepCount() int { return sc.cube.StepCount() }

// GetStep returns the row-smoothed pixels of step i.
func (sc *SmoothedCube) GetStep(i int) (Mat, error) {
	m, err := sc.cube.GetStep(i)
	if err != nil {
		return Mat{}, err
	}
	defer m.Close()
	return smoothRows(m, sc.width), nil
}

// SmoothSpectrum convolves one spectrum with a Gaussian of the given width.
func SmoothSpectrum(values []float64, width float64) []float64 {
	if len(values) == 0 || !(width > 0) {
		return append([]float64(nil), values...)
	}
	m := NewMatWithSize(1, len(values))
	defer m.Close()
	data := m.DataFloat32()
	for i, v := range values {
		data[i] = float32(v)
	}
	sm := smoothRows(m, width)
	defer sm.Close()
	return matRows(sm)[0]
}

// smoothRows filters src along its columns axis only.
func smoothRows(src Mat, width float64) Mat {
	// kernel truncated at four standard deviations
	ksize := 2*int(math.Ceil(4*width)) + 1
	kernelX := getGaussianKernel1D(ksize, width)
	defer kernelX.Close()
	// identity along the rows axis
	kernelY := getGaussianKernel1D(1, width)
	defer kernelY.Close()

	dst := NewMat()
	sepFilter2DReflect(src, &dst, kernelX, kernelY)
	return dst
}
