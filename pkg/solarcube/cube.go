package solarcube

import (
	"fmt"
	"image"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the instrument product a cube was read from.
type Kind int

const (
	KindUnknown Kind = iota
	KindSJI
	KindRaster
)

func (k Kind) String() string {
	switch k {
	case KindSJI:
		return "sji"
	case KindRaster:
		return "raster"
	default:
		return "unknown"
	}
}

func kindOf(primary *Header) Kind {
	instr := primary.Instrument()
	switch {
	case strings.Contains(instr, "SJI"):
		return KindSJI
	case strings.Contains(instr, "SPEC"):
		return KindRaster
	default:
		return KindUnknown
	}
}

// Quality is a set of per-step quality flags.
type Quality uint8

const (
	QualityCorrupt Quality = 1 << iota
	QualitySaturated
	QualityNull
)

// QualityOK is the zero set.
const QualityOK Quality = 0

func (q Quality) String() string {
	if q == QualityOK {
		return "ok"
	}
	var parts []string
	if q&QualityCorrupt != 0 {
		parts = append(parts, "corrupt")
	}
	if q&QualitySaturated != 0 {
		parts = append(parts, "saturated")
	}
	if q&QualityNull != 0 {
		parts = append(parts, "null")
	}
	return strings.Join(parts, "|")
}

// StepStats are the memoized pixel statistics of one step.
type StepStats struct {
	Pixels       int
	NullPixels   int
	Saturated    int
	NullFraction float64
}

// Step is the record of one exposure in a cube.
type Step struct {
	Index    int
	File     string
	Local    int // index within the file's data unit
	Time     time.Time
	Exposure float64
	Header   *Header // per-step keys from the aux extension
	Quality  Quality

	headerErr  error
	payloadErr error
	stats      *StepStats
}

// HeaderOK reports whether the per-step header was parsed.
func (s Step) HeaderOK() bool { return s.headerErr == nil }

// fileLayout is the memoized HDU index of one file for the selected line.
type fileLayout struct {
	path    string
	primary *Header
	data    *hdu
	steps   []*Header
}

// structural keys of the aux extension that are not column names
var auxStructural = map[string]bool{
	"XTENSION": true, "BITPIX": true, "NAXIS": true, "NAXIS1": true, "NAXIS2": true,
	"PCOUNT": true, "GCOUNT": true, "EXTNAME": true, "BSCALE": true, "BZERO": true,
}

// loadLayout indexes path and resolves the data unit for line. TDESCn names
// the n-th data cube counted from the first one.
func loadLayout(pool *FilePool, path, line string) (*fileLayout, *LineWindow, error) {
	h, err := pool.Acquire(path)
	if err != nil {
		return nil, nil, err
	}
	defer pool.Return(path)
	hdus, err := readHDUs(h, h.Size())
	if err != nil {
		return nil, nil, fmt.Errorf("indexing %s: %w", path, err)
	}
	primary := hdus[0].Header
	if !primary.Has("STARTOBS") {
		Logf("[cube] %s: no STARTOBS in primary header", path)
	}

	// slit-jaw files keep their cube in the primary unit, rasters in extensions
	var dataExts []*hdu
	var aux *hdu
	for k, u := range hdus {
		if k > 0 && u.Extension != "IMAGE" {
			continue
		}
		switch {
		case len(u.Axes) == 3:
			dataExts = append(dataExts, u)
		case len(u.Axes) == 2 && k > 0:
			aux = u
		}
	}
	if len(dataExts) == 0 {
		return nil, nil, corruptf("%s: no data cubes found", path)
	}

	windows := LineWindows(primary)
	var window *LineWindow
	sel := dataExts[0]
	if line != "" {
		w, err := FindLine(windows, line)
		if err != nil {
			return nil, nil, err
		}
		if w.Index > len(dataExts) {
			return nil, nil, corruptf("%s: line %q points at missing extension %d", path, w.Desc, w.Index)
		}
		window = &w
		sel = dataExts[w.Index-1]
	} else if len(windows) > 0 {
		window = &windows[0]
	}

	lay := &fileLayout{path: path, primary: primary, data: sel}
	nsteps := sel.Axes[2]
	lay.steps = make([]*Header, nsteps)
	if aux == nil {
		return lay, window, nil
	}
	rows, err := readAux(h, aux)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	start, hasStart := primary.GetTime("STARTOBS")
	for i := 0; i < nsteps && i < len(rows); i++ {
		sh := rows[i]
		if secs, ok := sh.GetDouble("TIME"); ok && hasStart && !math.IsNaN(secs) {
			sh.Set("DATE_OBS", formatFitsTime(start.Add(time.Duration(secs*float64(time.Second)))))
		}
		lay.steps[i] = sh
	}
	return lay, window, nil
}

// readAux decodes the per-step keyword table. Each non-structural card of the
// aux header maps a key name to a column index.
func readAux(r io.ReaderAt, aux *hdu) ([]*Header, error) {
	type column struct {
		key string
		idx int
	}
	var cols []column
	for _, k := range aux.Header.Keys {
		if auxStructural[k] {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(aux.Header.Values[k]))
		if err != nil {
			continue
		}
		cols = append(cols, column{key: k, idx: idx})
	}
	if len(cols) != aux.Axes[0] {
		return nil, corruptf("aux extension has %d columns but %d header keys", aux.Axes[0], len(cols))
	}

	raw := make([]byte, int64(aux.Axes[0]*aux.Axes[1]*aux.elementSize()))
	if _, err := r.ReadAt(raw, aux.DataOffset); err != nil {
		return nil, corruptf("reading aux extension: %v", err)
	}
	rows, err := decodeRows(raw, aux)
	if err != nil {
		return nil, err
	}
	out := make([]*Header, len(rows))
	for i, row := range rows {
		h := NewHeader()
		for _, c := range cols {
			if c.idx < 0 || c.idx >= len(row) {
				return nil, corruptf("aux key %s points at column %d of %d", c.key, c.idx, len(row))
			}
			h.Set(c.key, strconv.FormatFloat(row[c.idx], 'g', -1, 64))
		}
		out[i] = h
	}
	return out, nil
}

// Cube is an ordered sequence of steps spread over one or more files.
// Pixel data is read on demand through the owning observation's pool.
// A Cube is not safe for concurrent use.
type Cube struct {
	id         string
	kind       Kind
	line       string
	window     *LineWindow
	cfg        Config
	pool       *FilePool
	files      []string
	layouts    map[string]*fileLayout
	primary    *Header
	steps      []*Step
	rows, cols int
	deviations []int
	closed     bool
}

// CubeSource names the files of one cube and the line window to select.
type CubeSource struct {
	Files []string
	Line  string
}

func newCube(pool *FilePool, cfg Config, src CubeSource) (*Cube, error) {
	if len(src.Files) == 0 {
		return nil, &ConfigError{Field: "CubeSource.Files", Reason: "must name at least one file"}
	}
	c := &Cube{
		cfg:     cfg,
		pool:    pool,
		files:   append([]string(nil), src.Files...),
		layouts: make(map[string]*fileLayout, len(src.Files)),
	}
	for fi, path := range c.files {
		if cfg.KeepWarm {
			if err := pool.KeepWarm(path, true); err != nil {
				return nil, err
			}
		}
		lay, window, err := loadLayout(pool, path, src.Line)
		if err != nil {
			return nil, err
		}
		if fi == 0 {
			c.primary = lay.primary
			c.kind = kindOf(lay.primary)
			c.window = window
			if window != nil {
				c.line = lineInfo(window.Desc)
			}
			c.cols, c.rows = lay.data.Axes[0], lay.data.Axes[1]
		} else if lay.data.Axes[0] != c.cols || lay.data.Axes[1] != c.rows {
			return nil, corruptf("%s: step shape %dx%d differs from %dx%d", path,
				lay.data.Axes[1], lay.data.Axes[0], c.rows, c.cols)
		}
		c.layouts[path] = lay
		c.appendSteps(lay)
	}
	c.id = strings.Join(c.files, "|") + "#" + c.line
	c.checkOrder()
	return c, nil
}

func (c *Cube) appendSteps(lay *fileLayout) {
	fallback, _ := lay.primary.GetTime("STARTOBS")
	primaryExp, hasPrimaryExp := lay.primary.ExposureTime()
	for local, sh := range lay.steps {
		s := &Step{Index: len(c.steps), File: lay.path, Local: local, Header: sh, Time: fallback}
		switch {
		case sh == nil && len(lay.steps) > 0 && lay.steps[0] != nil:
			s.headerErr = corruptf("no aux record for step %d", local)
		case sh != nil:
			if t, ok := sh.GetTime("DATE_OBS"); ok {
				s.Time = t
			} else if secs, ok := sh.GetDouble("TIME"); ok && (math.IsNaN(secs) || math.IsInf(secs, 0)) {
				s.headerErr = corruptf("step %d has an invalid TIME", local)
			}
		}
		if sh != nil {
			if e, ok := sh.ExposureTime(); ok {
				s.Exposure = e
			} else if hasPrimaryExp {
				s.Exposure = primaryExp
			}
		} else if hasPrimaryExp {
			s.Exposure = primaryExp
		}
		if s.headerErr != nil {
			s.Quality |= QualityCorrupt
		}
		c.steps = append(c.steps, s)
	}
}

// checkOrder records steps whose timestamp does not increase.
func (c *Cube) checkOrder() {
	for i := 1; i < len(c.steps); i++ {
		if !c.steps[i].Time.After(c.steps[i-1].Time) {
			c.deviations = append(c.deviations, i)
		}
	}
	if len(c.deviations) > 0 {
		Logf("[cube] %s: %d timestamps do not increase (first at step %d)", c.line, len(c.deviations), c.deviations[0])
	}
}

func (c *Cube) ID() string              { return c.id }
func (c *Cube) Kind() Kind              { return c.kind }
func (c *Cube) Line() string            { return c.line }
func (c *Cube) Files() []string         { return append([]string(nil), c.files...) }
func (c *Cube) StepCount() int          { return len(c.steps) }
func (c *Cube) Primary() *Header        { return c.primary }
func (c *Cube) Closed() bool            { return c.closed }
func (c *Cube) Deviations() []int       { return append([]int(nil), c.deviations...) }
func (c *Cube) Extent() image.Rectangle { return image.Rect(0, 0, c.cols, c.rows) }

// Times returns the step timestamps in step order.
func (c *Cube) Times() []time.Time {
	out := make([]time.Time, len(c.steps))
	for i, s := range c.steps {
		out[i] = s.Time
	}
	return out
}

// Exposures returns the step exposure times in seconds.
func (c *Cube) Exposures() []float64 {
	out := make([]float64, len(c.steps))
	for i, s := range c.steps {
		out[i] = s.Exposure
	}
	return out
}

func (c *Cube) check(i int) error {
	if c.closed {
		return fmt.Errorf("%w: cube %s", ErrClosed, c.line)
	}
	if i < 0 || i >= len(c.steps) {
		return fmt.Errorf("%w: step %d of %d", ErrOutOfDomain, i, len(c.steps))
	}
	return nil
}

// Step returns a copy of the record of step i.
func (c *Cube) Step(i int) (Step, error) {
	if err := c.check(i); err != nil {
		return Step{}, err
	}
	return *c.steps[i], nil
}

// StepID returns the unique identifier of step i.
func (c *Cube) StepID(i int) (string, error) {
	if err := c.check(i); err != nil {
		return "", err
	}
	return StepID(c.kind, c.line, c.steps[i].Time), nil
}

// GetHeader merges the step's keys over its file's primary header.
func (c *Cube) GetHeader(i int) (*Header, error) {
	if err := c.check(i); err != nil {
		return nil, err
	}
	s := c.steps[i]
	return c.layouts[s.File].primary.Merge(s.Header), nil
}

// dataHeader returns the data extension header merged with the step's keys.
func (c *Cube) dataHeader(i int) *Header {
	s := c.steps[i]
	return c.layouts[s.File].data.Header.Merge(s.Header)
}

// GetStep reads step i into a new Mat owned by the caller. A payload that
// cannot be read marks the step corrupt and fails with ErrCorruptData.
func (c *Cube) GetStep(i int) (Mat, error) {
	if err := c.check(i); err != nil {
		return Mat{}, err
	}
	s := c.steps[i]
	if s.payloadErr != nil {
		return Mat{}, s.payloadErr
	}
	lay := c.layouts[s.File]
	h, err := c.pool.Acquire(s.File)
	if err != nil {
		return Mat{}, err
	}
	defer c.pool.Return(s.File)

	n := lay.data.frameSize()
	raw := make([]byte, n)
	off := lay.data.DataOffset + int64(s.Local)*n
	if _, err := h.ReadAt(raw, off); err != nil {
		return Mat{}, c.markCorrupt(s, fmt.Errorf("%w: step %d of %s: %v", ErrCorruptData, i, s.File, err))
	}

	m := NewMatWithSize(c.rows, c.cols)
	if err := decodePixels(raw, lay.data, c.cfg.NullValue, m.DataFloat32()); err != nil {
		m.Close()
		return Mat{}, c.markCorrupt(s, fmt.Errorf("step %d of %s: %w", i, s.File, err))
	}
	return m, nil
}

func (c *Cube) markCorrupt(s *Step, err error) error {
	s.payloadErr = err
	s.Quality |= QualityCorrupt
	Logf("[cube] %v", err)
	return err
}

// GetStepPerSecond reads step i and divides its positive pixels by the
// exposure time.
func (c *Cube) GetStepPerSecond(i int) (Mat, error) {
	m, err := c.GetStep(i)
	if err != nil {
		return Mat{}, err
	}
	exp := c.steps[i].Exposure
	if exp <= 0 {
		m.Close()
		return Mat{}, corruptf("step %d has non-positive exposure %g", i, exp)
	}
	data := m.DataFloat32()
	for k, v := range data[:c.rows*c.cols] {
		if v > 0 {
			data[k] = v / float32(exp)
		}
	}
	return m, nil
}

// Stats computes and memoizes the null-pixel and saturation counts of step i.
func (c *Cube) Stats(i int) (StepStats, error) {
	if err := c.check(i); err != nil {
		return StepStats{}, err
	}
	s := c.steps[i]
	if s.stats != nil {
		return *s.stats, nil
	}
	m, err := c.GetStep(i)
	if err != nil {
		return StepStats{}, err
	}
	defer m.Close()

	st := StepStats{Pixels: c.rows * c.cols}
	for _, v := range m.DataFloat32()[:st.Pixels] {
		if v == 0 || math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			st.NullPixels++
		}
	}
	mask := NewMat()
	defer mask.Close()
	inRangeScalar(m, float32(c.cfg.SaturationLevel), math.MaxFloat32, &mask)
	st.Saturated = countNonZero(mask)
	if st.Pixels > 0 {
		st.NullFraction = float64(st.NullPixels) / float64(st.Pixels)
	}

	if st.Saturated > 0 {
		s.Quality |= QualitySaturated
	}
	if st.NullFraction > c.cfg.QualityNullFractionThreshold {
		s.Quality |= QualityNull
	}
	s.stats = &st
	return st, nil
}

// WavelengthAxis returns the linear spectral axis along the columns, in Å.
func (c *Cube) WavelengthAxis() ([]float64, error) {
	if c.closed {
		return nil, fmt.Errorf("%w: cube %s", ErrClosed, c.line)
	}
	h := c.layouts[c.files[0]].data.Header
	crval, ok1 := h.GetDouble("CRVAL1")
	cdelt, ok2 := h.GetDouble("CDELT1")
	crpix, ok3 := h.GetDouble("CRPIX1")
	if !ok1 || !ok2 || !ok3 {
		return nil, corruptf("data extension has no spectral WCS")
	}
	if cdelt == 0 {
		return nil, corruptf("spectral CDELT1 is zero")
	}
	conv := unitScale(h.GetString("CUNIT1"))
	axis := make([]float64, c.cols)
	for k := range axis {
		axis[k] = (crval + (float64(k+1)-crpix)*cdelt) * conv
	}
	return axis, nil
}

// Close releases every file of the cube. Later access fails with ErrClosed
// until Reopen is called.
func (c *Cube) Close() {
	if c.closed {
		return
	}
	for _, f := range c.files {
		c.pool.Release(f)
	}
	c.closed = true
}

// Reopen makes a closed cube usable again without re-reading its headers.
func (c *Cube) Reopen() error {
	if !c.closed {
		return nil
	}
	c.closed = false
	if c.cfg.KeepWarm {
		for _, f := range c.files {
			if err := c.pool.KeepWarm(f, true); err != nil {
				c.closed = true
				return err
			}
		}
	}
	return nil
}
