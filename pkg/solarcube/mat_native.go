//go:build !purego && !js

package solarcube

import (
	"image"

	"gocv.io/x/gocv"
)

// Mat wraps gocv.Mat for the native OpenCV backend.
type Mat struct {
	m gocv.Mat
}

func NewMat() Mat                             { return Mat{m: gocv.NewMat()} }
func NewMatWithSize(rows, cols int) Mat       { return Mat{m: gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV32F)} }
func (mat Mat) Rows() int                     { return mat.m.Rows() }
func (mat Mat) Cols() int                     { return mat.m.Cols() }
func (mat Mat) Empty() bool                   { return mat.m.Empty() }
func (mat Mat) Clone() Mat                    { return Mat{m: mat.m.Clone()} }
func (mat *Mat) Close()                       { mat.m.Close() }
func (mat Mat) Region(r image.Rectangle) Mat  { return Mat{m: mat.m.Region(r)} }
func (mat Mat) Bounds() image.Rectangle       { return image.Rect(0, 0, mat.m.Cols(), mat.m.Rows()) }

// DataFloat32 returns the backing slice. Only valid for contiguous mats.
func (mat Mat) DataFloat32() []float32 {
	data, _ := mat.m.DataPtrFloat32()
	return data
}

// --- CV operations ---

func sepFilter2DReflect(src Mat, dst *Mat, kernelX, kernelY Mat) {
	gocv.SepFilter2D(src.m, &dst.m, gocv.MatTypeCV32F, kernelX.m, kernelY.m, image.Pt(-1, -1), 0, gocv.BorderReflect)
}

func getGaussianKernel1D(size int, sigma float64) Mat {
	return Mat{m: gocv.GetGaussianKernel(size, sigma)}
}

func countNonZero(src Mat) int {
	return gocv.CountNonZero(src.m)
}

func inRangeScalar(src Mat, lower, upper float32, dst *Mat) {
	lo := gocv.NewMatFromScalar(gocv.NewScalar(float64(lower), 0, 0, 0), gocv.MatTypeCV32F)
	defer lo.Close()
	hi := gocv.NewMatFromScalar(gocv.NewScalar(float64(upper), 0, 0, 0), gocv.MatTypeCV32F)
	defer hi.Close()
	mask8 := gocv.NewMat()
	defer mask8.Close()
	gocv.InRange(src.m, lo, hi, &mask8)
	// InRange outputs CV_8U; convert to CV_32F so DataFloat32() works
	mask8.ConvertTo(&dst.m, gocv.MatTypeCV32F)
}
