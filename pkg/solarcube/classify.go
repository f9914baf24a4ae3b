package solarcube

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"gonum.org/v1/gonum/floats"
)

// CentroidTable maps label ordinals to reference spectra sampled on Grid.
// It is immutable after construction.
type CentroidTable struct {
	grid      Grid
	names     []string
	centroids [][]float64
}

// NewCentroidTable copies centroids. Every centroid must have grid.N() samples.
func NewCentroidTable(grid Grid, names []string, centroids [][]float64) (*CentroidTable, error) {
	if grid.N() < 2 {
		return nil, &ConfigError{Field: "CentroidTable.Grid", Reason: "must contain at least two points"}
	}
	if len(centroids) == 0 {
		return nil, &ConfigError{Field: "CentroidTable", Reason: "needs at least one centroid"}
	}
	if names != nil && len(names) != len(centroids) {
		return nil, &ConfigError{Field: "CentroidTable.Names", Reason: fmt.Sprintf("has %d names for %d centroids", len(names), len(centroids))}
	}
	t := &CentroidTable{grid: grid, names: make([]string, len(centroids)), centroids: make([][]float64, len(centroids))}
	for i, c := range centroids {
		if len(c) != grid.N() {
			return nil, corruptf("centroid %d has %d samples, grid has %d", i, len(c), grid.N())
		}
		t.centroids[i] = append([]float64(nil), c...)
		if names != nil {
			t.names[i] = names[i]
		} else {
			t.names[i] = strconv.Itoa(i)
		}
	}
	return t, nil
}

// ReadCentroidTableCSV reads one centroid per record: a name followed by
// grid.N() values.
func ReadCentroidTableCSV(r io.Reader, grid Grid) (*CentroidTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	var names []string
	var centroids [][]float64
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: centroid table line %d: %v", ErrCorruptData, line, err)
		}
		if len(rec) < 2 {
			return nil, corruptf("centroid table line %d has no values", line)
		}
		vals := make([]float64, len(rec)-1)
		for k, f := range rec[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, corruptf("centroid table line %d column %d: %v", line, k+2, err)
			}
			vals[k] = v
		}
		names = append(names, rec[0])
		centroids = append(centroids, vals)
	}
	return NewCentroidTable(grid, names, centroids)
}

func (t *CentroidTable) Grid() Grid        { return t.grid }
func (t *CentroidTable) Len() int          { return len(t.centroids) }
func (t *CentroidTable) Name(i int) string { return t.names[i] }

// Centroid returns a copy of centroid i.
func (t *CentroidTable) Centroid(i int) []float64 { return append([]float64(nil), t.centroids[i]...) }

// Spectrum is a spectrum sampled on its own wavelength axis. A nil Axis means
// the values are already on the table grid.
type Spectrum struct {
	Axis   []float64
	Values []float64
}

// NoLabel marks a spectrum that could not be classified.
const NoLabel = -1

// Assignment is the nearest centroid of one spectrum.
type Assignment struct {
	Label    int
	Name     string
	Distance float64
}

// CentroidClassifier assigns spectra to the nearest centroid.
type CentroidClassifier struct {
	Table *CentroidTable
	// Norm is the distance order passed to floats.Distance: 2 (default), 1 or math.Inf(1).
	Norm float64
	// Normalize divides each spectrum by its maximum before comparison.
	Normalize   bool
	Extrapolate bool
}

// NewCentroidClassifier returns a Euclidean classifier normalizing by the maximum.
func NewCentroidClassifier(table *CentroidTable) *CentroidClassifier {
	return &CentroidClassifier{Table: table, Norm: 2, Normalize: true}
}

// Assign labels every spectrum. Spectra that cannot be resampled, have the
// wrong length or hold no finite values get NoLabel.
func (cl *CentroidClassifier) Assign(spectra []Spectrum) []Assignment {
	out := make([]Assignment, len(spectra))
	for i, s := range spectra {
		out[i] = cl.assignOne(s)
	}
	return out
}

func (cl *CentroidClassifier) assignOne(s Spectrum) Assignment {
	none := Assignment{Label: NoLabel, Distance: math.NaN()}
	grid := cl.Table.grid
	values := s.Values
	if s.Axis != nil {
		var err error
		values, err = ResampleSpectrum(s.Axis, s.Values, grid, cl.Extrapolate)
		if err != nil {
			return none
		}
	}
	if len(values) != grid.N() {
		return none
	}

	// compare over the finite bins only
	var keep []int
	for k, v := range values {
		if isFinite(v) {
			keep = append(keep, k)
		}
	}
	if len(keep) == 0 {
		return none
	}
	x := make([]float64, len(keep))
	for k, idx := range keep {
		x[k] = values[idx]
	}
	if cl.Normalize {
		m := floats.Max(x)
		if !(m > 0) {
			return none
		}
		floats.Scale(1/m, x)
	}

	norm := cl.Norm
	if norm == 0 {
		norm = 2
	}
	best := none
	c := make([]float64, len(keep))
	for label, centroid := range cl.Table.centroids {
		for k, idx := range keep {
			c[k] = centroid[idx]
		}
		d := floats.Distance(x, c, norm)
		if math.IsNaN(d) {
			continue
		}
		// strict comparison keeps the lowest ordinal on ties
		if best.Label == NoLabel || d < best.Distance {
			best = Assignment{Label: label, Name: cl.Table.names[label], Distance: d}
		}
	}
	return best
}

// AssignStep classifies every row of step i of a raster cube.
func (cl *CentroidClassifier) AssignStep(c *Cube, i int) ([]Assignment, error) {
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
	spectra := make([]Spectrum, len(rows))
	for r, row := range rows {
		spectra[r] = Spectrum{Axis: axis, Values: row}
	}
	return cl.Assign(spectra), nil
}
