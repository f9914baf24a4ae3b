package solarcube

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

const (
	fitsBlockSize  = 2880
	fitsRecordSize = 80
)

// hdu describes one header-data unit of a FITS file.
type hdu struct {
	Header     *Header
	Extension  string
	Bitpix     int
	Axes       []int // NAXIS1..NAXISn
	DataOffset int64
	DataSize   int64
	BScale     float64
	BZero      float64
	Blank      *int64
}

// elementSize returns the byte size of one array element.
func (u *hdu) elementSize() int { return intAbs(u.Bitpix) / 8 }

// frameSize returns the byte size of one slice along the slowest axis.
func (u *hdu) frameSize() int64 {
	if len(u.Axes) < 2 {
		return 0
	}
	n := int64(u.elementSize())
	for _, a := range u.Axes[:len(u.Axes)-1] {
		n *= int64(a)
	}
	return n
}

// readHDUs indexes every header-data unit of r without reading payloads.
func readHDUs(r io.ReaderAt, size int64) ([]*hdu, error) {
	var hdus []*hdu
	var off int64
	for off < size {
		u, next, err := readHDUHeaderAt(r, off)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(hdus) > 0 {
					// trailing padding after the last unit
					break
				}
				return nil, corruptf("header at offset %d has no END card", off)
			}
			return nil, err
		}
		if len(hdus) == 0 && u.Header.GetString("SIMPLE") != "True" {
			return nil, corruptf("primary header is missing SIMPLE = T")
		}
		// a truncated payload is left for per-step reads to report
		hdus = append(hdus, u)
		off = next
	}
	if len(hdus) == 0 {
		return nil, corruptf("no header-data units found")
	}
	return hdus, nil
}

// readHDUHeaderAt parses the header starting at off and returns the offset of the next unit.
func readHDUHeaderAt(r io.ReaderAt, off int64) (*hdu, int64, error) {
	header := NewHeader()
	block := make([]byte, fitsBlockSize)
	headerDone := false
	pos := off

	for !headerDone {
		n, err := r.ReadAt(block, pos)
		if n < fitsBlockSize {
			if err == nil || errors.Is(err, io.EOF) {
				if n == 0 {
					return nil, 0, io.EOF
				}
				return nil, 0, corruptf("truncated header block at offset %d", pos)
			}
			return nil, 0, fmt.Errorf("%w: reading FITS header block: %w", ErrIO, err)
		}
		pos += fitsBlockSize

		for i := 0; i < fitsBlockSize/fitsRecordSize; i++ {
			record := string(block[i*fitsRecordSize : (i+1)*fitsRecordSize])
			keyword := strings.TrimSpace(record[:8])

			if keyword == "END" {
				headerDone = true
				break
			}
			if record[8] == '=' && record[9] == ' ' {
				rawValue := strings.TrimSpace(stripComment(record[10:]))
				parsedValue := parseFitsValue(rawValue)
				if keyword != "" && parsedValue != "" {
					header.Set(keyword, parsedValue)
				}
			}
		}
	}

	u := &hdu{Header: header, DataOffset: pos, BScale: 1}
	u.Extension = header.GetString("XTENSION")
	u.Bitpix, _ = header.GetInt("BITPIX")
	switch u.Bitpix {
	case 8, 16, 32, 64, -32, -64:
	default:
		return nil, 0, corruptf("unsupported BITPIX %d at offset %d", u.Bitpix, off)
	}
	naxis, _ := header.GetInt("NAXIS")
	if naxis < 0 || naxis > 999 {
		return nil, 0, corruptf("invalid NAXIS %d", naxis)
	}
	count := int64(0)
	if naxis > 0 {
		count = 1
		for i := 1; i <= naxis; i++ {
			n, ok := header.GetInt("NAXIS" + strconv.Itoa(i))
			if !ok || n < 0 {
				return nil, 0, corruptf("missing or invalid NAXIS%d", i)
			}
			u.Axes = append(u.Axes, n)
			count *= int64(n)
		}
	}
	pcount, _ := header.GetInt("PCOUNT")
	gcount, ok := header.GetInt("GCOUNT")
	if !ok {
		gcount = 1
	}
	if naxis > 0 {
		u.DataSize = int64(u.elementSize()) * int64(gcount) * (int64(pcount) + count)
	}
	if v, ok := header.GetDouble("BSCALE"); ok {
		u.BScale = v
	}
	if v, ok := header.GetDouble("BZERO"); ok {
		u.BZero = v
	}
	if v, ok := header.GetInt("BLANK"); ok {
		b := int64(v)
		u.Blank = &b
	}

	next := u.DataOffset + padToBlock(u.DataSize)
	return u, next, nil
}

func padToBlock(n int64) int64 {
	if rem := n % fitsBlockSize; rem != 0 {
		return n + fitsBlockSize - rem
	}
	return n
}

// stripComment cuts the inline comment from a card value, honoring quoted strings.
func stripComment(s string) string {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			inQuote = !inQuote
		case '/':
			if !inQuote {
				return s[:i]
			}
		}
	}
	return s
}

func parseFitsValue(rawValue string) string {
	if rawValue == "" {
		return ""
	}
	if rawValue == "T" {
		return "True"
	}
	if rawValue == "F" {
		return "False"
	}
	if strings.HasPrefix(rawValue, "'") {
		endQuote := strings.LastIndex(rawValue, "'")
		if endQuote > 0 {
			return strings.ReplaceAll(strings.TrimRight(rawValue[1:endQuote], " "), "''", "'")
		}
		return strings.TrimLeft(strings.TrimRight(rawValue, " "), "'")
	}
	return rawValue
}

// decodePixels converts big-endian FITS array bytes into physical float32 values.
// BLANK and the configured null value decode to NaN.
func decodePixels(raw []byte, u *hdu, nullValue float64, dst []float32) error {
	es := u.elementSize()
	if len(raw) != len(dst)*es {
		return corruptf("payload holds %d bytes, want %d", len(raw), len(dst)*es)
	}
	nan := float32(math.NaN())
	scale := func(v float64) float32 {
		p := v*u.BScale + u.BZero
		if p == nullValue {
			return nan
		}
		return float32(p)
	}
	isBlank := func(v int64) bool { return u.Blank != nil && *u.Blank == v }

	switch u.Bitpix {
	case 8:
		for i := range dst {
			v := int64(raw[i])
			if isBlank(v) {
				dst[i] = nan
				continue
			}
			dst[i] = scale(float64(v))
		}
	case 16:
		for i := range dst {
			v := int64(int16(binary.BigEndian.Uint16(raw[i*2:])))
			if isBlank(v) {
				dst[i] = nan
				continue
			}
			dst[i] = scale(float64(v))
		}
	case 32:
		for i := range dst {
			v := int64(int32(binary.BigEndian.Uint32(raw[i*4:])))
			if isBlank(v) {
				dst[i] = nan
				continue
			}
			dst[i] = scale(float64(v))
		}
	case 64:
		for i := range dst {
			v := int64(binary.BigEndian.Uint64(raw[i*8:]))
			if isBlank(v) {
				dst[i] = nan
				continue
			}
			dst[i] = scale(float64(v))
		}
	case -32:
		for i := range dst {
			dst[i] = scale(float64(math.Float32frombits(binary.BigEndian.Uint32(raw[i*4:]))))
		}
	case -64:
		for i := range dst {
			dst[i] = scale(math.Float64frombits(binary.BigEndian.Uint64(raw[i*8:])))
		}
	default:
		return corruptf("unsupported BITPIX: %d", u.Bitpix)
	}
	return nil
}

// decodeRows decodes a 2-D array payload into float64 rows of len(NAXIS1).
func decodeRows(raw []byte, u *hdu) ([][]float64, error) {
	if len(u.Axes) != 2 {
		return nil, corruptf("expected a 2-D array, got %d axes", len(u.Axes))
	}
	cols, rows := u.Axes[0], u.Axes[1]
	flat := make([]float32, rows*cols)
	if u.Bitpix == -64 {
		if len(raw) != rows*cols*8 {
			return nil, corruptf("aux payload holds %d bytes, want %d", len(raw), rows*cols*8)
		}
	} else if err := decodePixels(raw, u, math.NaN(), flat); err != nil {
		return nil, err
	}
	out := make([][]float64, rows)
	for r := range out {
		out[r] = make([]float64, cols)
		for c := range out[r] {
			if u.Bitpix == -64 {
				bits := binary.BigEndian.Uint64(raw[(r*cols+c)*8:])
				out[r][c] = math.Float64frombits(bits)*u.BScale + u.BZero
				continue
			}
			out[r][c] = float64(flat[r*cols+c])
		}
	}
	return out, nil
}

func intAbs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
