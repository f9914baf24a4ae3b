package solarcube

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testStartObs = "2014-01-01T00:00:00.000"

// cubeFile describes a synthetic IRIS-like FITS file: a primary header, one
// 3-D image extension per line and a 2-D aux extension. With primaryData the
// single cube is stored in the primary unit instead, as slit-jaw files do.
type cubeFile struct {
	name        string
	instrument  string
	startObs    string
	lines       []string
	rows, cols  int
	frames      [][]float32 // one rows*cols frame per step
	times       []float64   // aux TIME, seconds after STARTOBS
	exptimes    []float64
	bitpix      int
	wcs         map[string]float64
	cunit1      string
	truncate    int64
	auxExtra    bool // declare one more aux key than there are columns
	primaryData bool
}

func (cf cubeFile) steps() int { return len(cf.frames) }

func card(key, value string) string {
	return fmt.Sprintf("%-8s= %20s", key, value)
}

func strCard(key, value string) string {
	return fmt.Sprintf("%-8s= %-20s", key, "'"+value+"'")
}

func numCard(key string, v float64) string {
	return card(key, strconv.FormatFloat(v, 'G', -1, 64))
}

func intCard(key string, v int) string {
	return card(key, strconv.Itoa(v))
}

func headerBlock(cards []string) []byte {
	var buf bytes.Buffer
	for _, c := range append(cards, "END") {
		buf.WriteString(fmt.Sprintf("%-80s", c))
	}
	return padBlock(buf.Bytes(), ' ')
}

func padBlock(b []byte, fill byte) []byte {
	for len(b)%fitsBlockSize != 0 {
		b = append(b, fill)
	}
	return b
}

func writeCubeFile(t *testing.T, dir string, cf cubeFile) string {
	t.Helper()
	if cf.name == "" {
		cf.name = "cube.fits"
	}
	if cf.instrument == "" {
		cf.instrument = "SJI"
	}
	if cf.lines == nil {
		cf.lines = []string{"SJI_1400"}
	}
	if cf.bitpix == 0 {
		cf.bitpix = -32
	}
	if cf.startObs == "" {
		cf.startObs = testStartObs
	}
	n := cf.steps()
	if cf.times == nil {
		cf.times = make([]float64, n)
		for i := range cf.times {
			cf.times[i] = float64(i) * 10
		}
	}
	if cf.exptimes == nil {
		cf.exptimes = make([]float64, n)
		for i := range cf.exptimes {
			cf.exptimes[i] = 4
		}
	}

	start, err := parseFitsTime(cf.startObs)
	require.NoError(t, err)
	end := start.Add(time.Duration((cf.times[n-1] + 10) * float64(time.Second)))
	meta := []string{
		strCard("INSTRUME", cf.instrument), strCard("OBSID", "3860259453"),
		strCard("OBS_DESC", "Medium sit-and-stare 0.3x60 1s"),
		strCard("STARTOBS", cf.startObs), strCard("ENDOBS", formatFitsTime(end)),
	}
	for i, l := range cf.lines {
		meta = append(meta, strCard("TDESC"+strconv.Itoa(i+1), l), numCard("TWAVE"+strconv.Itoa(i+1), 1400+float64(i)))
	}

	var out []byte
	if cf.primaryData {
		require.Len(t, cf.lines, 1)
		out = append(out, cf.dataUnit(append(append([]string{card("SIMPLE", "T")}, cf.dataAxes()...), card("EXTEND", "T")), meta)...)
	} else {
		primary := []string{card("SIMPLE", "T"), intCard("BITPIX", 8), intCard("NAXIS", 0)}
		out = append(out, headerBlock(append(append(primary, card("EXTEND", "T")), meta...))...)
		for range cf.lines {
			ext := append([]string{strCard("XTENSION", "IMAGE")}, cf.dataAxes()...)
			out = append(out, cf.dataUnit(append(ext, intCard("PCOUNT", 0), intCard("GCOUNT", 1)), nil)...)
		}
	}

	auxKeys := []string{"TIME", "EXPTIME"}
	aux := []string{
		strCard("XTENSION", "IMAGE"), intCard("BITPIX", -64), intCard("NAXIS", 2),
		intCard("NAXIS1", len(auxKeys)), intCard("NAXIS2", n), intCard("PCOUNT", 0), intCard("GCOUNT", 1),
	}
	for i, k := range auxKeys {
		aux = append(aux, intCard(k, i))
	}
	if cf.auxExtra {
		aux = append(aux, intCard("PZTX", len(auxKeys)))
	}
	out = append(out, headerBlock(aux)...)
	var auxData bytes.Buffer
	for i := 0; i < n; i++ {
		binary.Write(&auxData, binary.BigEndian, math.Float64bits(cf.times[i]))
		binary.Write(&auxData, binary.BigEndian, math.Float64bits(cf.exptimes[i]))
	}
	out = append(out, padBlock(auxData.Bytes(), 0)...)

	if cf.truncate > 0 {
		// move the aux extension ahead so truncation only hits pixel payloads
		out = reorderAuxFirst(t, out, len(cf.lines))
		out = out[:int64(len(out))-cf.truncate]
	}

	path := filepath.Join(dir, cf.name)
	require.NoError(t, os.WriteFile(path, out, 0o644))
	return path
}

func (cf cubeFile) dataAxes() []string {
	return []string{
		intCard("BITPIX", cf.bitpix), intCard("NAXIS", 3),
		intCard("NAXIS1", cf.cols), intCard("NAXIS2", cf.rows), intCard("NAXIS3", cf.steps()),
	}
}

// dataUnit encodes a 3-D header unit followed by the frames.
func (cf cubeFile) dataUnit(head, extra []string) []byte {
	wcs := map[string]float64{"CRPIX1": 1, "CRPIX2": 1, "CDELT1": 1, "CDELT2": 1, "CRVAL1": 0, "CRVAL2": 0}
	for k, v := range cf.wcs {
		wcs[k] = v
	}
	for _, k := range []string{"CRPIX1", "CRPIX2", "CDELT1", "CDELT2", "CRVAL1", "CRVAL2", "CROTA2"} {
		if v, ok := wcs[k]; ok {
			head = append(head, numCard(k, v))
		}
	}
	if cf.cunit1 != "" {
		head = append(head, strCard("CUNIT1", cf.cunit1))
	}
	out := headerBlock(append(head, extra...))
	var data bytes.Buffer
	for _, frame := range cf.frames {
		for _, v := range frame {
			switch cf.bitpix {
			case 16:
				binary.Write(&data, binary.BigEndian, int16(v))
			default:
				binary.Write(&data, binary.BigEndian, math.Float32bits(v))
			}
		}
	}
	return append(out, padBlock(data.Bytes(), 0)...)
}

// reorderAuxFirst moves the trailing aux unit in front of the data units.
func reorderAuxFirst(t *testing.T, file []byte, nlines int) []byte {
	t.Helper()
	hdus, err := readHDUs(bytes.NewReader(file), int64(len(file)))
	require.NoError(t, err)
	require.Len(t, hdus, nlines+2)
	auxStart := hdus[len(hdus)-1].DataOffset - fitsBlockSize
	primaryEnd := hdus[1].DataOffset - fitsBlockSize
	var out []byte
	out = append(out, file[:primaryEnd]...)
	out = append(out, file[auxStart:]...)
	out = append(out, file[primaryEnd:auxStart]...)
	return out
}

// rampFrames returns n frames whose pixel value is 1 + step*1000 + row*cols + col.
func rampFrames(n, rows, cols int) [][]float32 {
	frames := make([][]float32, n)
	for s := range frames {
		frames[s] = make([]float32, rows*cols)
		for i := range frames[s] {
			frames[s][i] = float32(1 + s*1000 + i)
		}
	}
	return frames
}

// constFrames returns n frames filled with v.
func constFrames(n, rows, cols int, v float32) [][]float32 {
	frames := make([][]float32, n)
	for s := range frames {
		frames[s] = make([]float32, rows*cols)
		for i := range frames[s] {
			frames[s][i] = v
		}
	}
	return frames
}

func openTestCube(t *testing.T, cfg Config, paths ...string) (*Observation, *Cube) {
	t.Helper()
	obs, err := OpenObservation(cfg, CubeSource{Files: paths})
	require.NoError(t, err)
	t.Cleanup(obs.Close)
	c, err := obs.Cube(0)
	require.NoError(t, err)
	return obs, c
}

func muteLogs(t *testing.T) {
	t.Helper()
	prev := Logf
	SetLogger(nil)
	t.Cleanup(func() { Logf = prev })
}

// captureLogs collects the package log lines written during the test.
func captureLogs(t *testing.T) *[]string {
	t.Helper()
	prev := Logf
	var lines []string
	SetLogger(func(format string, v ...interface{}) { lines = append(lines, fmt.Sprintf(format, v...)) })
	t.Cleanup(func() { Logf = prev })
	return &lines
}
