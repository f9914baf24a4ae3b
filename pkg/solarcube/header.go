package solarcube

import (
	"strconv"
	"strings"
	"time"
)

// Header holds parsed FITS header key-value pairs in card order.
type Header struct {
	Values map[string]string
	Keys   []string
}

// NewHeader creates an empty Header.
func NewHeader() *Header {
	return &Header{Values: make(map[string]string)}
}

// Set stores value under the upper-cased key, keeping first-seen order.
func (h *Header) Set(key, value string) {
	key = strings.ToUpper(key)
	if _, ok := h.Values[key]; !ok {
		h.Keys = append(h.Keys, key)
	}
	h.Values[key] = value
}

func (h *Header) Has(key string) bool {
	if h == nil {
		return false
	}
	_, ok := h.Values[strings.ToUpper(key)]
	return ok
}

func (h *Header) Len() int {
	if h == nil {
		return 0
	}
	return len(h.Keys)
}

func (h *Header) GetString(key string) string {
	if h == nil {
		return ""
	}
	if v, ok := h.Values[strings.ToUpper(key)]; ok {
		return v
	}
	return ""
}

func (h *Header) GetDouble(key string) (float64, bool) {
	if h == nil {
		return 0, false
	}
	v, ok := h.Values[strings.ToUpper(key)]
	if !ok {
		return 0, false
	}
	d, err := parseFitsFloat(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

func (h *Header) GetInt(key string) (int, bool) {
	if h == nil {
		return 0, false
	}
	v, ok := h.Values[strings.ToUpper(key)]
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return i, true
}

// GetTime parses an ISO-8601 FITS date (fractional seconds optional) as UTC.
func (h *Header) GetTime(key string) (time.Time, bool) {
	v := strings.TrimSpace(h.GetString(key))
	if v == "" {
		return time.Time{}, false
	}
	t, err := parseFitsTime(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Merge returns a new header holding h's cards overridden by over's cards.
func (h *Header) Merge(over *Header) *Header {
	out := NewHeader()
	if h != nil {
		for _, k := range h.Keys {
			out.Set(k, h.Values[k])
		}
	}
	if over != nil {
		for _, k := range over.Keys {
			out.Set(k, over.Values[k])
		}
	}
	return out
}

func (h *Header) ObservationID() string { return h.GetString("OBSID") }
func (h *Header) Description() string   { return h.GetString("OBS_DESC") }
func (h *Header) Instrument() string    { return h.GetString("INSTRUME") }

// ExposureTime returns the step exposure, falling back across the per-camera keys.
func (h *Header) ExposureTime() (float64, bool) {
	for _, k := range []string{"EXPTIME", "EXPTIMES", "EXPTIMEF", "EXPTIMEN", "EXPOSURE"} {
		if v, ok := h.GetDouble(k); ok {
			return v, true
		}
	}
	return 0, false
}

const (
	fitsTimeLayout     = "2006-01-02T15:04:05"
	fitsDateOnlyLayout = "2006-01-02"
)

func parseFitsTime(v string) (time.Time, error) {
	t, err := time.ParseInLocation(fitsTimeLayout, v, time.UTC)
	if err == nil {
		return t, nil
	}
	if t, err2 := time.Parse(time.RFC3339Nano, v); err2 == nil {
		return t.UTC(), nil
	}
	if t, err2 := time.ParseInLocation(fitsDateOnlyLayout, v, time.UTC); err2 == nil {
		return t, nil
	}
	return time.Time{}, err
}

// formatFitsTime renders t the way the pipeline writes DATE_OBS.
func formatFitsTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000")
}

func parseFitsFloat(v string) (float64, error) {
	v = strings.TrimSpace(v)
	// Fortran double exponents
	v = strings.Replace(strings.Replace(v, "D", "E", 1), "d", "e", 1)
	return strconv.ParseFloat(v, 64)
}
