package solarcube

// Preprocessor fits parameters on a cube in a single read-only pass and
// applies them to produce a derived view.
type Preprocessor[P, D any] interface {
	Fit(c *Cube) (P, error)
	Transform(c *Cube, params P) (D, error)
}

// FitTransform fits p on c and applies the result to c.
func FitTransform[P, D any](p Preprocessor[P, D], c *Cube) (P, D, error) {
	var zero D
	params, err := p.Fit(c)
	if err != nil {
		return params, zero, err
	}
	derived, err := p.Transform(c, params)
	if err != nil {
		return params, zero, err
	}
	return params, derived, nil
}

var (
	_ Preprocessor[CropParams, *CroppedCube]       = (*ContentCropper)(nil)
	_ Preprocessor[QualityParams, QualityMask]     = (*CubeQualityFilter)(nil)
	_ Preprocessor[ResampleParams, *ResampledCube] = (*SpectralResampler)(nil)
	_ Preprocessor[SmoothParams, *SmoothedCube]    = (*SpectrumSmoother)(nil)
)
