// Package blas provides the compute device handle shared by the encoder and
// the decoders. A Device is created once, passed to model constructors and
// never mutated afterwards.
package blas

import (
	gblas "gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

// gemmFunc performs C = alpha*op(A)*op(B) + beta*C on row-major buffers.
// op(X) = X if trans=false, X^T if trans=true.
type gemmFunc func(transA, transB bool, m, n, k int,
	alpha float64, a []float64, lda int,
	b []float64, ldb int,
	beta float64, c []float64, ldc int)

// Device performs the dense matrix products of a model.
type Device struct {
	name string
	gemm gemmFunc
}

// CPU returns the portable device backed by gonum's pure Go BLAS.
func CPU() *Device {
	return &Device{name: "cpu", gemm: gonumGemm}
}

// Default returns the fastest device available on this platform.
func Default() *Device {
	if d := accelerate(); d != nil {
		return d
	}
	return CPU()
}

// Name identifies the backend ("cpu" or "accelerate").
func (d *Device) Name() string { return d.name }

// Dgemm performs C = alpha*op(A)*op(B) + beta*C.
// A is (m x k) or (k x m) if transA, B is (k x n) or (n x k) if transB, C is (m x n).
func (d *Device) Dgemm(transA, transB bool, m, n, k int,
	alpha float64, a []float64, lda int,
	b []float64, ldb int,
	beta float64, c []float64, ldc int) {
	d.gemm(transA, transB, m, n, k, alpha, a, lda, b, ldb, beta, c, ldc)
}

// MulTransB stores x * w^T into dst, adding beta*dst.
// x is (n x in), w is (out x in) and dst is (n x out).
func (d *Device) MulTransB(dst *mat.Dense, x, w mat.RawMatrixer, beta float64) {
	xr, wr, cr := x.RawMatrix(), w.RawMatrix(), dst.RawMatrix()
	if xr.Cols != wr.Cols || cr.Rows != xr.Rows || cr.Cols != wr.Rows {
		panic(mat.ErrShape)
	}
	d.gemm(false, true, xr.Rows, wr.Rows, xr.Cols,
		1, xr.Data, xr.Stride, wr.Data, wr.Stride, beta, cr.Data, cr.Stride)
}

// MulVecTransB stores w * x into dst (dst = x w^T for a single row), adding beta*dst.
func (d *Device) MulVecTransB(dst, x []float64, w mat.RawMatrixer, beta float64) {
	wr := w.RawMatrix()
	if len(x) != wr.Cols || len(dst) != wr.Rows {
		panic(mat.ErrShape)
	}
	d.gemm(false, true, 1, wr.Rows, wr.Cols,
		1, x, wr.Cols, wr.Data, wr.Stride, beta, dst, wr.Rows)
}

func gonumGemm(transA, transB bool, m, n, k int,
	alpha float64, a []float64, lda int,
	b []float64, ldb int,
	beta float64, c []float64, ldc int) {
	if m == 0 || n == 0 {
		return
	}
	ta, tb := gblas.NoTrans, gblas.NoTrans
	ar, ac := m, k
	if transA {
		ta = gblas.Trans
		ar, ac = k, m
	}
	br, bc := k, n
	if transB {
		tb = gblas.Trans
		br, bc = n, k
	}
	blas64.Gemm(ta, tb, alpha,
		blas64.General{Rows: ar, Cols: ac, Stride: lda, Data: a},
		blas64.General{Rows: br, Cols: bc, Stride: ldb, Data: b},
		beta,
		blas64.General{Rows: m, Cols: n, Stride: ldc, Data: c})
}
