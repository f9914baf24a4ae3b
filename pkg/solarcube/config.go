package solarcube

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
)

// Default Mg II k window used by the centroid classifier.
const (
	MgIIkLambdaMin = 2793.8500976562500
	MgIIkLambdaMax = 2799.3239974882454
	MgIIkBins      = 216
)

// Grid is a uniform sampling grid [Min, Max] with spacing Step.
type Grid struct {
	Min  float64
	Max  float64 `validate:"gtfield=Min"`
	Step float64 `validate:"gt=0"`
}

// NewGrid returns the grid with n evenly spaced points between min and max.
func NewGrid(min, max float64, n int) Grid {
	if n < 2 {
		return Grid{Min: min, Max: max}
	}
	return Grid{Min: min, Max: max, Step: (max - min) / float64(n-1)}
}

// N returns the number of grid points.
func (g Grid) N() int {
	if g.Step <= 0 || g.Max < g.Min {
		return 0
	}
	// tolerate rounding on grids built from a point count
	return int(math.Floor((g.Max-g.Min)/g.Step+1e-9)) + 1
}

// Points returns the grid coordinates in ascending order.
func (g Grid) Points() []float64 {
	n := g.N()
	pts := make([]float64, n)
	for i := range pts {
		pts[i] = g.Min + float64(i)*g.Step
	}
	return pts
}

// Config holds the tunables shared by an observation and its preprocessors.
type Config struct {
	// MaxOpenFiles bounds the number of simultaneously open FITS files.
	MaxOpenFiles int `validate:"gt=0"`
	// CropMinSize is the minimum side length of a crop box in pixels.
	CropMinSize int `validate:"gte=1"`
	// CropPercentile selects the intensity level a pixel must reach to count as content.
	CropPercentile float64 `validate:"gte=0,lte=100"`
	// CropOutlierThreshold is the deviation from the median content box, as a
	// fraction of the extent, at which a step is corrupt. Zero disables the check.
	CropOutlierThreshold float64 `validate:"gte=0,lte=1"`
	// QualityNullFractionThreshold is the null-pixel fraction above which a step is null.
	QualityNullFractionThreshold float64 `validate:"gte=0,lte=1"`
	ResampleGrid                 Grid
	// Extrapolate lets the resampler evaluate outside the native axis.
	Extrapolate bool
	// SmoothWidth is the standard deviation, in bins, of the spectrum smoothing kernel.
	SmoothWidth float64 `validate:"gt=0"`
	// FOVMargin widens the field of view by this many pixels on each side.
	FOVMargin float64 `validate:"gte=0"`
	// SaturationLevel is the DN value at or above which a pixel is saturated.
	SaturationLevel float64 `validate:"gt=0"`
	// NullValue is the fill value written by the pipeline for missing pixels.
	NullValue float64
	// FluxGapTolerance is the largest gap bridged when matching flux samples.
	FluxGapTolerance time.Duration `validate:"gt=0s"`
	// KeepWarm keeps every cube file open between accesses, subject to MaxOpenFiles.
	KeepWarm bool
}

// DefaultConfig returns a Config with the standard defaults.
func DefaultConfig() Config {
	return Config{
		MaxOpenFiles:                 256,
		CropMinSize:                  1,
		CropPercentile:               0,
		CropOutlierThreshold:         0.02,
		QualityNullFractionThreshold: 0.5,
		ResampleGrid:                 NewGrid(MgIIkLambdaMin, MgIIkLambdaMax, MgIIkBins),
		SmoothWidth:                  1,
		FOVMargin:                    0,
		SaturationLevel:              1.6e4,
		NullValue:                    -200,
		FluxGapTolerance:             time.Minute,
	}
}

var validate = validator.New()

// Validate checks every field and returns a *ConfigError for the first violation.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ConfigError{Field: fe.Namespace(), Reason: fmt.Sprintf("fails %q (value %v)", fe.ActualTag()+paramSuffix(fe.Param()), fe.Value())}
		}
		return &ConfigError{Field: "Config", Reason: err.Error()}
	}
	if c.ResampleGrid.N() < 2 {
		return &ConfigError{Field: "Config.ResampleGrid", Reason: "must contain at least two points"}
	}
	if math.IsNaN(c.NullValue) {
		return &ConfigError{Field: "Config.NullValue", Reason: "must be a number"}
	}
	return nil
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}
