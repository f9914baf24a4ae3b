package solarcube

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// LineWindow is one spectral window recorded in the primary header.
type LineWindow struct {
	Index      int // 1-based TDESC suffix
	Desc       string
	Wavelength float64
	Detector   string
}

var sjiLineNames = map[string]string{
	"SJI_1330": "C II 1330",
	"SJI_1400": "Si IV 1400",
	"SJI_2796": "Mg II h/k 2796",
	"SJI_2832": "Mg II wing 2832",
}

var (
	sjiLineIDs    = []string{"C II 1330", "Mg II h/k 2796", "Mg II wing 2832", "Si IV 1400"}
	rasterLineIDs = []string{"1343", "2786", "2787", "2814", "2826", "2830", "2831", "2832", "2833",
		"C I 1354", "C II 1336", "Cl I 1352", "Fe XII 1349", "Mg II h 2803", "Mg II k 2796",
		"O I 1356", "Si IV 1394", "Si IV 1403"}
)

// LineWindows lists the TDESCn windows of a primary header in index order.
func LineWindows(primary *Header) []LineWindow {
	var out []LineWindow
	for _, k := range primary.Keys {
		if !strings.HasPrefix(k, "TDESC") {
			continue
		}
		n, err := strconv.Atoi(k[len("TDESC"):])
		if err != nil || n <= 0 {
			continue
		}
		w := LineWindow{Index: n, Desc: primary.Values[k], Detector: primary.GetString("TDET" + strconv.Itoa(n))}
		w.Wavelength, _ = primary.GetDouble("TWAVE" + strconv.Itoa(n))
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// FindLine returns the single window whose description contains query.
func FindLine(windows []LineWindow, query string) (LineWindow, error) {
	var found []LineWindow
	for _, w := range windows {
		if strings.Contains(w.Desc, query) {
			found = append(found, w)
		}
	}
	switch len(found) {
	case 0:
		return LineWindow{}, fmt.Errorf("%w: no line window matches %q", ErrNotFound, query)
	case 1:
		return found[0], nil
	default:
		descs := make([]string, len(found))
		for i, w := range found {
			descs[i] = w.Desc
		}
		return LineWindow{}, fmt.Errorf("%w: %q matches %s", ErrAmbiguousLine, query, strings.Join(descs, ", "))
	}
}

// lineInfo returns the human readable line name for a window description.
func lineInfo(desc string) string {
	for raw, name := range sjiLineNames {
		desc = strings.ReplaceAll(desc, raw, name)
	}
	return desc
}

// StepID builds the tllyyyyMMddhhmmssfff identifier of a step.
func StepID(kind Kind, line string, t time.Time) string {
	ids := rasterLineIDs
	typ := 2
	if kind == KindSJI {
		ids = sjiLineIDs
		typ = 1
	}
	lineID := 0
	for i, name := range ids {
		if name == line {
			lineID = i
			break
		}
	}
	t = t.UTC()
	return fmt.Sprintf("%d%02d%s%03d", typ, lineID, t.Format("20060102150405"), t.Nanosecond()/int(time.Millisecond))
}
