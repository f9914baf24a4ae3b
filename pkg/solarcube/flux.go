package solarcube

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Channel selects one of the two X-ray flux channels.
type Channel int

const (
	// ChannelA is the 0.5-4 Å short channel.
	ChannelA Channel = iota
	// ChannelB is the 1-8 Å long channel used for flare classes.
	ChannelB
)

func (ch Channel) String() string {
	if ch == ChannelA {
		return "A"
	}
	return "B"
}

// FluxSample is one X-ray flux measurement. Quality 0 means good.
type FluxSample struct {
	Time    time.Time
	A, B    float64
	Quality int
}

func (s FluxSample) value(ch Channel) float64 {
	if ch == ChannelA {
		return s.A
	}
	return s.B
}

// FluxSeries is a flux time series with strictly increasing timestamps.
type FluxSeries struct {
	samples []FluxSample
	valid   [2]*channelIndex
}

// channelIndex holds the usable samples of one channel.
type channelIndex struct {
	times  []time.Time
	values []float64
	src    []int
}

// NewFluxSeries sorts samples by time. Of samples sharing a timestamp only
// the first is kept.
func NewFluxSeries(samples []FluxSample) *FluxSeries {
	sorted := append([]FluxSample(nil), samples...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
	out := sorted[:0]
	for _, s := range sorted {
		if len(out) > 0 && s.Time.Equal(out[len(out)-1].Time) {
			continue
		}
		out = append(out, s)
	}
	if dropped := len(samples) - len(out); dropped > 0 {
		Logf("[flux] dropped %d samples with duplicate timestamps", dropped)
	}
	return &FluxSeries{samples: out}
}

func (fs *FluxSeries) Len() int { return len(fs.samples) }

// Samples returns a copy of the ordered samples.
func (fs *FluxSeries) Samples() []FluxSample { return append([]FluxSample(nil), fs.samples...) }

// Times returns the sample timestamps.
func (fs *FluxSeries) Times() []time.Time {
	out := make([]time.Time, len(fs.samples))
	for i, s := range fs.samples {
		out[i] = s.Time
	}
	return out
}

func (fs *FluxSeries) index(ch Channel) *channelIndex {
	if fs.valid[ch] != nil {
		return fs.valid[ch]
	}
	idx := &channelIndex{}
	for i, s := range fs.samples {
		v := s.value(ch)
		if s.Quality != 0 || !isFinite(v) || v < 0 {
			continue
		}
		idx.times = append(idx.times, s.Time)
		idx.values = append(idx.values, v)
		idx.src = append(idx.src, i)
	}
	fs.valid[ch] = idx
	return idx
}

// FluxOptions controls how step times are matched to flux samples.
type FluxOptions struct {
	Channel     Channel
	Interpolate bool
	// MaxGap is the largest sample spacing bridged by interpolation and the
	// largest distance accepted for a nearest match.
	MaxGap time.Duration
}

// FluxMatch is the flux value assigned to one step. Value is NaN when no
// sample lies within the gap tolerance.
type FluxMatch struct {
	Step   int
	Time   time.Time
	Value  float64
	Valid  bool
	Sample int // index of the nearest sample, -1 if none
}

// Lookup returns the flux at t under opts.
func (fs *FluxSeries) Lookup(t time.Time, opts FluxOptions) (value float64, sample int, ok bool) {
	idx := fs.index(opts.Channel)
	n := len(idx.times)
	if n == 0 {
		return math.NaN(), -1, false
	}
	i := sort.Search(n, func(k int) bool { return !idx.times[k].Before(t) })
	if i < n && idx.times[i].Equal(t) {
		return idx.values[i], idx.src[i], true
	}
	if opts.Interpolate && i > 0 && i < n {
		t0, t1 := idx.times[i-1], idx.times[i]
		if gap := t1.Sub(t0); gap <= opts.MaxGap {
			w := float64(t.Sub(t0)) / float64(gap)
			v := idx.values[i-1] + w*(idx.values[i]-idx.values[i-1])
			near := i - 1
			if t1.Sub(t) < t.Sub(t0) {
				near = i
			}
			return v, idx.src[near], true
		}
	}
	j := FindClosest(idx.times, t)
	if absDuration(idx.times[j].Sub(t)) <= opts.MaxGap {
		return idx.values[j], idx.src[j], true
	}
	return math.NaN(), -1, false
}

// Peak returns the sample with the largest value of ch in [start, end].
func (fs *FluxSeries) Peak(ch Channel, start, end time.Time) (FluxSample, bool) {
	idx := fs.index(ch)
	best := -1
	for k, t := range idx.times {
		if t.Before(start) || t.After(end) {
			continue
		}
		if best < 0 || idx.values[k] > idx.values[best] {
			best = k
		}
	}
	if best < 0 {
		return FluxSample{}, false
	}
	return fs.samples[idx.src[best]], true
}

// GetFlux assigns a flux value to every step of c.
func GetFlux(c *Cube, fs *FluxSeries, opts FluxOptions) ([]FluxMatch, error) {
	if c.closed {
		return nil, fmt.Errorf("%w: cube %s", ErrClosed, c.line)
	}
	if opts.MaxGap <= 0 {
		return nil, &ConfigError{Field: "FluxOptions.MaxGap", Reason: "must be positive"}
	}
	out := make([]FluxMatch, c.StepCount())
	missing := 0
	for i, s := range c.steps {
		v, src, ok := fs.Lookup(s.Time, opts)
		out[i] = FluxMatch{Step: i, Time: s.Time, Value: v, Valid: ok, Sample: src}
		if !ok {
			missing++
		}
	}
	if missing > 0 {
		Logf("[flux] %s: %d of %d steps have no flux within %v", c.line, missing, len(out), opts.MaxGap)
	}
	return out, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
