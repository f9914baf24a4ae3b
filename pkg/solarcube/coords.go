package solarcube

import (
	"image"
	"math"
	"strings"
)

// Unit conversions applied to world coordinates.
const (
	unitMeterToAngstrom = 1e10
	unitDegreeToArcsec  = 3600
)

func unitScale(unit string) float64 {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "deg":
		return unitDegreeToArcsec
	case "m":
		return unitMeterToAngstrom
	default:
		return 1
	}
}

// CoordinateFrame maps 0-based pixel positions (row, col) to world
// coordinates (x, y). The pixel offset from the reference pixel is scaled
// per axis first and the scaled offset is then rotated by Rotation.
type CoordinateFrame struct {
	RefRow, RefCol   float64
	ScaleX, ScaleY   float64
	Rotation         float64 // radians, counter-clockwise
	OffsetX, OffsetY float64
	// pixel offset of a cropped view into the full frame
	cropRow, cropCol float64
}

// NewCoordinateFrame validates the parameters and returns an invertible frame.
func NewCoordinateFrame(refRow, refCol, scaleX, scaleY, rotation, offsetX, offsetY float64) (CoordinateFrame, error) {
	f := CoordinateFrame{
		RefRow: refRow, RefCol: refCol,
		ScaleX: scaleX, ScaleY: scaleY,
		Rotation: rotation,
		OffsetX:  offsetX, OffsetY: offsetY,
	}
	for _, v := range []float64{refRow, refCol, scaleX, scaleY, rotation, offsetX, offsetY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return CoordinateFrame{}, corruptf("coordinate frame parameter is not finite")
		}
	}
	if scaleX == 0 || scaleY == 0 {
		return CoordinateFrame{}, corruptf("coordinate frame has zero scale (%g, %g)", scaleX, scaleY)
	}
	return f, nil
}

// frameFromHeader builds a frame from CRPIXn/CDELTn/CRVALn/CROTA2, converting
// world units with CUNITn.
func frameFromHeader(h *Header) (CoordinateFrame, error) {
	crpix1, ok1 := h.GetDouble("CRPIX1")
	crpix2, ok2 := h.GetDouble("CRPIX2")
	cdelt1, ok3 := h.GetDouble("CDELT1")
	cdelt2, ok4 := h.GetDouble("CDELT2")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return CoordinateFrame{}, corruptf("header has no spatial WCS")
	}
	crval1, _ := h.GetDouble("CRVAL1")
	crval2, _ := h.GetDouble("CRVAL2")
	crota, _ := h.GetDouble("CROTA2")
	u1, u2 := unitScale(h.GetString("CUNIT1")), unitScale(h.GetString("CUNIT2"))
	// FITS pixels are 1-based
	return NewCoordinateFrame(crpix2-1, crpix1-1, cdelt1*u1, cdelt2*u2, crota*math.Pi/180, crval1*u1, crval2*u2)
}

// Pix2Coords maps a pixel position to world coordinates. Inputs are not
// range checked.
func (f CoordinateFrame) Pix2Coords(row, col float64) (x, y float64) {
	dx := (col + f.cropCol - f.RefCol) * f.ScaleX
	dy := (row + f.cropRow - f.RefRow) * f.ScaleY
	sin, cos := math.Sincos(f.Rotation)
	return f.OffsetX + cos*dx - sin*dy, f.OffsetY + sin*dx + cos*dy
}

// Coords2Pix is the inverse of Pix2Coords.
func (f CoordinateFrame) Coords2Pix(x, y float64) (row, col float64) {
	ux, uy := x-f.OffsetX, y-f.OffsetY
	sin, cos := math.Sincos(f.Rotation)
	dx := cos*ux + sin*uy
	dy := -sin*ux + cos*uy
	return dy/f.ScaleY + f.RefRow - f.cropRow, dx/f.ScaleX + f.RefCol - f.cropCol
}

// WithCrop returns the frame expressed in the pixel space of box.
func (f CoordinateFrame) WithCrop(box image.Rectangle) CoordinateFrame {
	f.cropRow += float64(box.Min.Y)
	f.cropCol += float64(box.Min.X)
	return f
}

// Frame returns the coordinate frame of step i.
func (c *Cube) Frame(i int) (CoordinateFrame, error) {
	if err := c.check(i); err != nil {
		return CoordinateFrame{}, err
	}
	return frameFromHeader(c.dataHeader(i))
}

// Pix2Coords maps a pixel of step i to world coordinates.
func (c *Cube) Pix2Coords(i int, row, col float64) (x, y float64, err error) {
	f, err := c.Frame(i)
	if err != nil {
		return 0, 0, err
	}
	x, y = f.Pix2Coords(row, col)
	return x, y, nil
}

// Coords2Pix maps world coordinates to a (fractional) pixel of step i.
func (c *Cube) Coords2Pix(i int, x, y float64) (row, col float64, err error) {
	f, err := c.Frame(i)
	if err != nil {
		return 0, 0, err
	}
	row, col = f.Coords2Pix(x, y)
	return row, col, nil
}
