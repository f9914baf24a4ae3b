package solarcube

import (
	"errors"
	"fmt"
	"image"
	"sort"
)

// QualityParams lists the steps a quality filter rejected.
type QualityParams struct {
	CubeID  string
	Steps   int
	Corrupt []int // ascending
	Null    []int // ascending
}

// QualityMask is true for steps that passed the filter.
type QualityMask []bool

// Good returns the indices of the steps that passed, ascending.
func (m QualityMask) Good() []int {
	var out []int
	for i, ok := range m {
		if ok {
			out = append(out, i)
		}
	}
	return out
}

// CubeQualityFilter flags null and corrupt steps.
type CubeQualityFilter struct {
	nullThreshold float64
	percentile    float64
	outlier       float64
}

// NewCubeQualityFilter returns a filter configured from cfg.
func NewCubeQualityFilter(cfg Config) (*CubeQualityFilter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &CubeQualityFilter{
		nullThreshold: cfg.QualityNullFractionThreshold,
		percentile:    cfg.CropPercentile,
		outlier:       cfg.CropOutlierThreshold,
	}, nil
}

// Fit scans every step. A step is corrupt when its header or payload could
// not be parsed, its exposure is not positive or its content box strays from
// the median box of the cube, and null when its null-pixel fraction exceeds
// the threshold.
func (f *CubeQualityFilter) Fit(c *Cube) (QualityParams, error) {
	params := QualityParams{CubeID: c.ID(), Steps: c.StepCount()}
	var steps []int
	var boxes []image.Rectangle
	for i := 0; i < c.StepCount(); i++ {
		s := c.steps[i]
		if s.headerErr != nil || s.Exposure <= 0 {
			params.Corrupt = append(params.Corrupt, i)
			continue
		}
		st, err := c.Stats(i)
		if err != nil {
			if errors.Is(err, ErrCorruptData) {
				params.Corrupt = append(params.Corrupt, i)
				continue
			}
			return QualityParams{}, err
		}
		if st.NullFraction > f.nullThreshold {
			params.Null = append(params.Null, i)
			continue
		}
		if f.outlier <= 0 {
			continue
		}
		box, ok, err := contentBox(c, i, f.percentile)
		if err != nil {
			return QualityParams{}, err
		}
		if ok {
			steps = append(steps, i)
			boxes = append(boxes, box)
		}
	}
	for k, bad := range boxOutliers(boxes, c.Extent(), f.outlier) {
		if bad {
			params.Corrupt = append(params.Corrupt, steps[k])
		}
	}
	sort.Ints(params.Corrupt)
	if n := len(params.Corrupt) + len(params.Null); n > 0 {
		Logf("[quality] %s: %d corrupt, %d null of %d steps", c.Line(), len(params.Corrupt), len(params.Null), c.StepCount())
	}
	return params, nil
}

// Transform builds the per-step mask. The params must come from c.
func (f *CubeQualityFilter) Transform(c *Cube, params QualityParams) (QualityMask, error) {
	if params.CubeID != c.ID() || params.Steps != c.StepCount() {
		return nil, fmt.Errorf("%w: quality fitted on %s", ErrCubeMismatch, params.CubeID)
	}
	mask := make(QualityMask, c.StepCount())
	for i := range mask {
		mask[i] = true
	}
	for _, i := range params.Corrupt {
		mask[i] = false
	}
	for _, i := range params.Null {
		mask[i] = false
	}
	return mask, nil
}
