package solarcube

import (
	"fmt"
	"time"
)

// Observation groups the cubes of one exposure sequence. It owns the file
// pool shared by its cubes and is not safe for concurrent use.
type Observation struct {
	cfg     Config
	pool    *FilePool
	primary *Header
	cubes   []*Cube
	closed  bool
}

// OpenObservation validates cfg and indexes the headers of every source.
// Pixel data is not read.
func OpenObservation(cfg Config, sources ...CubeSource) (*Observation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, &ConfigError{Field: "sources", Reason: "must name at least one cube"}
	}
	pool, err := NewFilePool(cfg.MaxOpenFiles)
	if err != nil {
		return nil, err
	}
	obs := &Observation{cfg: cfg, pool: pool}
	for _, src := range sources {
		c, err := newCube(pool, cfg, src)
		if err != nil {
			pool.CloseAll()
			return nil, err
		}
		if obs.primary == nil {
			obs.primary = c.primary
		}
		obs.cubes = append(obs.cubes, c)
	}
	return obs, nil
}

func (o *Observation) Config() Config   { return o.cfg }
func (o *Observation) Pool() *FilePool  { return o.pool }
func (o *Observation) Primary() *Header { return o.primary }
func (o *Observation) ID() string       { return o.primary.ObservationID() }

// Cubes returns the cubes in source order.
func (o *Observation) Cubes() []*Cube { return append([]*Cube(nil), o.cubes...) }

// Cube returns the i-th cube.
func (o *Observation) Cube(i int) (*Cube, error) {
	if o.closed {
		return nil, fmt.Errorf("%w: observation %s", ErrClosed, o.ID())
	}
	if i < 0 || i >= len(o.cubes) {
		return nil, fmt.Errorf("%w: cube %d of %d", ErrOutOfDomain, i, len(o.cubes))
	}
	return o.cubes[i], nil
}

// CubeByLine returns the single cube whose line name contains query.
func (o *Observation) CubeByLine(query string) (*Cube, error) {
	if o.closed {
		return nil, fmt.Errorf("%w: observation %s", ErrClosed, o.ID())
	}
	windows := make([]LineWindow, len(o.cubes))
	for i, c := range o.cubes {
		windows[i] = LineWindow{Index: i, Desc: c.line}
	}
	w, err := FindLine(windows, query)
	if err != nil {
		return nil, err
	}
	return o.cubes[w.Index], nil
}

// Lines lists the line windows of the shared primary header.
func (o *Observation) Lines() []LineWindow { return LineWindows(o.primary) }

// FOVCube returns the cube that defines the field of view: the first
// slit-jaw cube, or the first cube when there is none.
func (o *Observation) FOVCube() *Cube {
	for _, c := range o.cubes {
		if c.kind == KindSJI {
			return c
		}
	}
	return o.cubes[0]
}

// TimeSpan returns STARTOBS and ENDOBS, falling back to the step times.
func (o *Observation) TimeSpan() (start, end time.Time) {
	start, okStart := o.primary.GetTime("STARTOBS")
	end, okEnd := o.primary.GetTime("ENDOBS")
	if okStart && okEnd {
		return start, end
	}
	for _, c := range o.cubes {
		for _, t := range c.Times() {
			if !okStart && (start.IsZero() || t.Before(start)) {
				start = t
			}
			if !okEnd && (end.IsZero() || t.After(end)) {
				end = t
			}
		}
	}
	return start, end
}

// Close closes every cube and every open file.
func (o *Observation) Close() {
	for _, c := range o.cubes {
		c.Close()
	}
	o.pool.CloseAll()
	o.closed = true
}

// Reopen makes the observation and its cubes usable again.
func (o *Observation) Reopen() error {
	for _, c := range o.cubes {
		if err := c.Reopen(); err != nil {
			return err
		}
	}
	o.closed = false
	return nil
}

// Closed reports whether Close was called without a later Reopen.
func (o *Observation) Closed() bool { return o.closed }
