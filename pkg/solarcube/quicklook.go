package solarcube

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"sort"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gonum.org/v1/gonum/stat"
)

// QuicklookOptions controls the rendering of a step preview.
type QuicklookOptions struct {
	// Cutoff is the upper intensity quantile mapped to white.
	Cutoff float64
	// Gamma is applied after the linear stretch.
	Gamma float64
	// Box is outlined when not empty.
	Box   image.Rectangle
	Label string
}

// NewQuicklookOptions returns the default preview settings.
func NewQuicklookOptions() QuicklookOptions {
	return QuicklookOptions{Cutoff: 0.999, Gamma: 0.4}
}

// RenderQuicklook writes a PNG preview of m to outputPath.
func RenderQuicklook(m Mat, opts QuicklookOptions, outputPath string) error {
	img, err := renderQuicklookImage(m, opts)
	if err != nil {
		return err
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("%w: create quicklook file: %w", ErrIO, err)
	}
	defer f.Close()

	return png.Encode(f, img)
}

// RenderQuicklookBytes returns a PNG preview of m.
func RenderQuicklookBytes(m Mat, opts QuicklookOptions) ([]byte, error) {
	img, err := renderQuicklookImage(m, opts)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// renderQuicklookImage stretches finite pixels between their minimum and the
// cutoff quantile. Null pixels are drawn dark red.
func renderQuicklookImage(m Mat, opts QuicklookOptions) (*image.RGBA, error) {
	if m.Empty() {
		return nil, fmt.Errorf("%w: empty step", ErrEmptyCube)
	}
	rows, cols := m.Rows(), m.Cols()
	data := m.DataFloat32()[:rows*cols]

	finite := make([]float64, 0, len(data))
	for _, v := range data {
		if isContent(v) {
			finite = append(finite, float64(v))
		}
	}
	if len(finite) == 0 {
		return nil, fmt.Errorf("%w: step holds no finite pixels", ErrEmptyCube)
	}
	sort.Float64s(finite)
	cutoff := opts.Cutoff
	if !(cutoff > 0 && cutoff <= 1) {
		cutoff = 1
	}
	lo := finite[0]
	hi := stat.Quantile(cutoff, stat.Empirical, finite, nil)
	if hi <= lo {
		hi = lo + 1
	}
	gamma := opts.Gamma
	if gamma <= 0 {
		gamma = 1
	}

	img := image.NewRGBA(image.Rect(0, 0, cols, rows))
	nullColor := color.RGBA{60, 0, 0, 255}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := data[r*cols+c]
			if !isContent(v) {
				// FITS rows grow upwards
				img.SetRGBA(c, rows-1-r, nullColor)
				continue
			}
			t := math.Min(math.Max((float64(v)-lo)/(hi-lo), 0), 1)
			g := uint8(math.Round(255 * math.Pow(t, gamma)))
			img.SetRGBA(c, rows-1-r, color.RGBA{g, g, g, 255})
		}
	}

	if !opts.Box.Empty() {
		yellow := color.RGBA{255, 220, 0, 255}
		b := opts.Box
		top, bottom := rows-b.Min.Y-1, rows-b.Max.Y
		drawLine(img, b.Min.X, top, b.Max.X-1, top, yellow)
		drawLine(img, b.Min.X, bottom, b.Max.X-1, bottom, yellow)
		drawLine(img, b.Min.X, top, b.Min.X, bottom, yellow)
		drawLine(img, b.Max.X-1, top, b.Max.X-1, bottom, yellow)
	}
	if opts.Label != "" {
		drawText(img, basicfont.Face7x13, opts.Label, 4, 14, color.RGBA{255, 255, 255, 255})
	}
	return img, nil
}

// drawText draws a string at (x, y) using the given font face.
func drawText(img *image.RGBA, face font.Face, s string, x, y int, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// drawLine draws a line between two points using Bresenham's algorithm.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := intAbs(x1 - x0)
	dy := -intAbs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy

	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}
