package solarcube

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// FindClosest returns the index of the timestamp nearest to t in the
// ascending slice times. Exact ties go to the earlier index. It returns -1
// for an empty slice.
func FindClosest(times []time.Time, t time.Time) int {
	n := len(times)
	if n == 0 {
		return -1
	}
	i := sort.Search(n, func(k int) bool { return !times[k].Before(t) })
	switch {
	case i == 0:
		return 0
	case i == n:
		return n - 1
	case times[i].Sub(t) < t.Sub(times[i-1]):
		return i
	default:
		return i - 1
	}
}

// FindClosest returns the step of c nearest in time to t.
func (c *Cube) FindClosest(t time.Time) (int, error) {
	if c.closed {
		return -1, fmt.Errorf("%w: cube %s", ErrClosed, c.line)
	}
	if len(c.steps) == 0 {
		return -1, fmt.Errorf("%w: cube %s has no steps", ErrEmptyCube, c.line)
	}
	return FindClosest(c.Times(), t), nil
}

// FindClosestStep returns the step of b nearest in time to step of a. Both
// cubes must belong to the same observation start.
func FindClosestStep(a, b *Cube, step int) (int, error) {
	if err := a.check(step); err != nil {
		return -1, err
	}
	if a.primary.GetString("STARTOBS") != b.primary.GetString("STARTOBS") {
		return -1, fmt.Errorf("%w: cubes start at %s and %s", ErrCubeMismatch,
			a.primary.GetString("STARTOBS"), b.primary.GetString("STARTOBS"))
	}
	return b.FindClosest(a.steps[step].Time)
}

// EventRecord is one entry of a solar event catalog. X and Y are in the
// world units of the observation's coordinate frame.
type EventRecord struct {
	ID    string
	Start time.Time
	Peak  time.Time
	End   time.Time
	X, Y  float64
	Label string
	Class string
}

// GetEvents keeps the events that overlap the observation in time and whose
// position falls in the field of view widened by margin pixels. The position
// is projected with the frame of the step closest to the event peak and
// tested against [-margin, extent+margin] per axis. Results are ordered by
// start time.
func GetEvents(obs *Observation, events []EventRecord, margin float64) ([]EventRecord, error) {
	if obs.closed {
		return nil, fmt.Errorf("%w: observation %s", ErrClosed, obs.ID())
	}
	if !(margin >= 0) || math.IsInf(margin, 0) {
		return nil, &ConfigError{Field: "FOVMargin", Reason: fmt.Sprintf("must be a non-negative number, got %g", margin)}
	}
	start, end := obs.TimeSpan()
	cube := obs.FOVCube()
	times := cube.Times()
	ext := cube.Extent()

	var out []EventRecord
	for _, ev := range events {
		if ev.Start.After(end) || ev.End.Before(start) {
			continue
		}
		at := ev.Peak
		if at.IsZero() {
			at = ev.Start
		}
		frame, err := cube.Frame(FindClosest(times, at))
		if err != nil {
			return nil, err
		}
		row, col := frame.Coords2Pix(ev.X, ev.Y)
		if inWindow(col, float64(ext.Dx()), margin) && inWindow(row, float64(ext.Dy()), margin) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func inWindow(v, extent, margin float64) bool {
	return v >= -margin && v <= extent+margin
}

// Events filters events against o with the configured FOVMargin.
func (o *Observation) Events(events []EventRecord) ([]EventRecord, error) {
	return GetEvents(o, events, o.cfg.FOVMargin)
}
