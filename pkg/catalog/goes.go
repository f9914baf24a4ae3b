package catalog

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"solarcube/pkg/solarcube"
)

const goesTimeLayout = "2006-01-02 15:04:05"

// ParseGOESCSV reads a GOES XRS averaged-flux CSV file. The preamble up to
// the "data:" line is skipped. A sample's quality is the OR of the two
// channel quality flags.
func ParseGOESCSV(r io.Reader) ([]solarcube.FluxSample, error) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if strings.HasPrefix(strings.TrimSpace(line), "data:") {
			break
		}
		if err == io.EOF {
			return nil, fmt.Errorf("%w: GOES file has no data: section", solarcube.ErrCorruptData)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading GOES preamble: %w", solarcube.ErrIO, err)
		}
	}

	cr := csv.NewReader(br)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading GOES column header: %v", solarcube.ErrCorruptData, err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, want := range []string{"time_tag", "A_FLUX", "B_FLUX"} {
		if _, ok := col[want]; !ok {
			return nil, fmt.Errorf("%w: GOES data has no %s column", solarcube.ErrCorruptData, want)
		}
	}

	var out []solarcube.FluxSample
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: GOES data line %d: %v", solarcube.ErrCorruptData, line, err)
		}
		t, err := parseGOESTime(rec[col["time_tag"]])
		if err != nil {
			return nil, fmt.Errorf("%w: GOES data line %d: %v", solarcube.ErrCorruptData, line, err)
		}
		s := solarcube.FluxSample{Time: t}
		if s.A, err = strconv.ParseFloat(rec[col["A_FLUX"]], 64); err != nil {
			return nil, fmt.Errorf("%w: GOES data line %d: %v", solarcube.ErrCorruptData, line, err)
		}
		if s.B, err = strconv.ParseFloat(rec[col["B_FLUX"]], 64); err != nil {
			return nil, fmt.Errorf("%w: GOES data line %d: %v", solarcube.ErrCorruptData, line, err)
		}
		for _, flag := range []string{"A_QUAL_FLAG", "B_QUAL_FLAG"} {
			if i, ok := col[flag]; ok {
				q, err := strconv.Atoi(rec[i])
				if err != nil {
					return nil, fmt.Errorf("%w: GOES data line %d: %v", solarcube.ErrCorruptData, line, err)
				}
				s.Quality |= q
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func parseGOESTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.ParseInLocation(goesTimeLayout, v, time.UTC); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}
