package solarcube

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// CropParams is the crop box fitted on one cube.
type CropParams struct {
	CubeID   string
	Box      image.Rectangle
	Skipped  []int // null, corrupt or outlier steps ignored while fitting
	Outliers []int // steps whose content box strays from the median box
}

// ContentCropper finds the smallest box holding the content of every step.
type ContentCropper struct {
	minSize    int
	percentile float64
	outlier    float64
}

// NewContentCropper returns a cropper configured from cfg.
func NewContentCropper(cfg Config) (*ContentCropper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ContentCropper{minSize: cfg.CropMinSize, percentile: cfg.CropPercentile, outlier: cfg.CropOutlierThreshold}, nil
}

// Fit unions the per-step content boxes of the inlier steps and grows the
// result to the minimum size.
func (cc *ContentCropper) Fit(c *Cube) (CropParams, error) {
	params := CropParams{CubeID: c.ID()}
	var steps []int
	var boxes []image.Rectangle
	for i := 0; i < c.StepCount(); i++ {
		box, ok, err := contentBox(c, i, cc.percentile)
		if err != nil {
			if errors.Is(err, ErrCorruptData) {
				params.Skipped = append(params.Skipped, i)
				continue
			}
			return CropParams{}, err
		}
		if !ok {
			params.Skipped = append(params.Skipped, i)
			continue
		}
		steps = append(steps, i)
		boxes = append(boxes, box)
	}

	outliers := boxOutliers(boxes, c.Extent(), cc.outlier)
	var union image.Rectangle
	for k, box := range boxes {
		if outliers[k] {
			params.Outliers = append(params.Outliers, steps[k])
			continue
		}
		union = union.Union(box)
	}
	if len(params.Outliers) > 0 {
		params.Skipped = append(params.Skipped, params.Outliers...)
		sort.Ints(params.Skipped)
	}
	if union.Empty() {
		return CropParams{}, fmt.Errorf("%w: %d of %d steps hold no content", ErrEmptyCube, len(params.Skipped), c.StepCount())
	}
	if len(params.Skipped) > 0 {
		Logf("[crop] %s: skipped %d of %d steps (%d outliers)", c.Line(), len(params.Skipped), c.StepCount(), len(params.Outliers))
	}
	params.Box = growBox(union, cc.minSize, c.Extent())
	return params, nil
}

// contentBox returns the bounding box of the pixels of step i at or above the
// percentile level. It reports false for a step without content.
func contentBox(c *Cube, i int, percentile float64) (image.Rectangle, bool, error) {
	m, err := c.GetStep(i)
	if err != nil {
		return image.Rectangle{}, false, err
	}
	defer m.Close()
	rows, cols := m.Rows(), m.Cols()
	data := m.DataFloat32()[:rows*cols]

	valid := make([]float64, 0, len(data))
	for _, v := range data {
		if isContent(v) {
			valid = append(valid, float64(v))
		}
	}
	if len(valid) == 0 {
		return image.Rectangle{}, false, nil
	}
	sort.Float64s(valid)
	level := float32(stat.Quantile(percentile/100, stat.Empirical, valid, nil))

	minX, minY, maxX, maxY := cols, rows, -1, -1
	for r := 0; r < rows; r++ {
		for col, v := range data[r*cols : (r+1)*cols] {
			if !isContent(v) || v < level {
				continue
			}
			minX, maxX = min(minX, col), max(maxX, col)
			minY, maxY = min(minY, r), max(maxY, r)
		}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true, nil
}

// boxOutliers flags the boxes with a side that deviates from the median of
// that side by at least threshold times the extent. At least three boxes are
// needed for a median to stand for the typical step.
func boxOutliers(boxes []image.Rectangle, extent image.Rectangle, threshold float64) []bool {
	out := make([]bool, len(boxes))
	if threshold <= 0 || len(boxes) < 3 {
		return out
	}
	sides := func(b image.Rectangle) [4]float64 {
		return [4]float64{float64(b.Min.X), float64(b.Max.X), float64(b.Min.Y), float64(b.Max.Y)}
	}
	scale := [4]float64{float64(extent.Dx()), float64(extent.Dx()), float64(extent.Dy()), float64(extent.Dy())}

	var median [4]float64
	col := make([]float64, len(boxes))
	for k := range median {
		for i, b := range boxes {
			col[i] = sides(b)[k]
		}
		sort.Float64s(col)
		n := len(col)
		median[k] = (col[(n-1)/2] + col[n/2]) / 2
	}

	for i, b := range boxes {
		s := sides(b)
		for k := range s {
			if math.Abs(s[k]-median[k])/scale[k] >= threshold {
				out[i] = true
				break
			}
		}
	}
	return out
}

func isContent(v float32) bool {
	return v != 0 && !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0)
}

// growBox widens box to at least size pixels per side around its center,
// staying inside extent. An extent smaller than size caps the growth.
func growBox(box image.Rectangle, size int, extent image.Rectangle) image.Rectangle {
	grow := func(lo, hi, elo, ehi int) (int, int) {
		want := min(size, ehi-elo)
		if hi-lo >= want {
			return lo, hi
		}
		lo -= (want - (hi - lo)) / 2
		lo = max(elo, min(lo, ehi-want))
		return lo, lo + want
	}
	box.Min.X, box.Max.X = grow(box.Min.X, box.Max.X, extent.Min.X, extent.Max.X)
	box.Min.Y, box.Max.Y = grow(box.Min.Y, box.Max.Y, extent.Min.Y, extent.Max.Y)
	return box.Intersect(extent)
}

// Transform returns the cropped view of c. The params must come from c.
func (cc *ContentCropper) Transform(c *Cube, params CropParams) (*CroppedCube, error) {
	if params.CubeID != c.ID() {
		return nil, fmt.Errorf("%w: crop fitted on %s", ErrCubeMismatch, params.CubeID)
	}
	if !params.Box.In(c.Extent()) || params.Box.Empty() {
		return nil, fmt.Errorf("%w: crop box %v outside %v", ErrOutOfDomain, params.Box, c.Extent())
	}
	return &CroppedCube{cube: c, box: params.Box}, nil
}

// CroppedCube is a view of a cube restricted to a crop box.
type CroppedCube struct {
	cube *Cube
	box  image.Rectangle
}

func (cc *CroppedCube) Cube() *Cube             { return cc.cube }
func (cc *CroppedCube) Box() image.Rectangle    { return cc.box }
func (cc *CroppedCube) StepCount() int          { return cc.cube.StepCount() }
func (cc *CroppedCube) Extent() image.Rectangle { return image.Rect(0, 0, cc.box.Dx(), cc.box.Dy()) }

// GetStep returns the cropped pixels of step i in a new Mat.
func (cc *CroppedCube) GetStep(i int) (Mat, error) {
	m, err := cc.cube.GetStep(i)
	if err != nil {
		return Mat{}, err
	}
	defer m.Close()
	roiView := m.Region(cc.box)
	roiClone := roiView.Clone()
	roiView.Close()
	return roiClone, nil
}

// Frame returns the coordinate frame of step i in cropped pixel space.
func (cc *CroppedCube) Frame(i int) (CoordinateFrame, error) {
	f, err := cc.cube.Frame(i)
	if err != nil {
		return CoordinateFrame{}, err
	}
	return f.WithCrop(cc.box), nil
}
