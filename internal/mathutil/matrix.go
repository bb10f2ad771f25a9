package mathutil

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// NewDense creates a rows x cols zero matrix. Unlike mat.NewDense it accepts
// zero dimensions and then returns an empty matrix.
func NewDense(rows, cols int) *mat.Dense {
	if rows == 0 || cols == 0 {
		return &mat.Dense{}
	}
	return mat.NewDense(rows, cols, nil)
}

// Rows returns the number of rows of m, or 0 for a nil or empty matrix.
func Rows(m *mat.Dense) int {
	if m == nil || m.IsEmpty() {
		return 0
	}
	r, _ := m.Dims()
	return r
}

// Cols returns the number of columns of m, or 0 for a nil or empty matrix.
func Cols(m *mat.Dense) int {
	if m == nil || m.IsEmpty() {
		return 0
	}
	_, c := m.Dims()
	return c
}

// PadRows copies the first n rows of src into a new rows x cols matrix whose
// remaining rows are zero.
func PadRows(src *mat.Dense, n, rows int) *mat.Dense {
	cols := Cols(src)
	dst := NewDense(rows, cols)
	if n > rows {
		n = rows
	}
	for i := 0; i < n; i++ {
		copy(dst.RawRowView(i), src.RawRowView(i))
	}
	return dst
}

// TopRows returns a copy of the first n rows of src.
func TopRows(src *mat.Dense, n int) *mat.Dense {
	return PadRows(src, n, n)
}

// Tanh applies tanh element-wise in place.
func Tanh(m *mat.Dense) {
	apply(m, math.Tanh)
}

// Sigmoid returns the logistic function of x.
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func apply(m *mat.Dense, fn func(float64) float64) {
	if m == nil || m.IsEmpty() {
		return
	}
	raw := m.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for j, v := range row {
			row[j] = fn(v)
		}
	}
}
