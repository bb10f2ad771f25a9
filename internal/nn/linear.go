// Package nn holds the inference-time building blocks shared by the encoder,
// the attention decoder and the RNN language model: affine layers, recurrent
// cells and batch normalisation. Weights live in gonum matrices and every
// product goes through an explicit blas.Device.
package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/asr-seq2seq/internal/blas"
)

// Linear is an affine layer y = x·Wᵀ + b.
// W is [Out × In] row-major, B is [Out].
type Linear struct {
	W   *mat.Dense
	B   []float64
	In  int
	Out int
}

// NewLinear allocates a zero In→Out layer.
func NewLinear(in, out int) *Linear {
	return &Linear{
		W:   mat.NewDense(out, in, nil),
		B:   make([]float64, out),
		In:  in,
		Out: out,
	}
}

// Init fills W with Xavier normal values and zeroes B.
func (l *Linear) Init(rng *rand.Rand) {
	XavierInit(rng, l.W.RawMatrix().Data, l.In, l.Out)
	for i := range l.B {
		l.B[i] = 0
	}
}

// Forward computes x·Wᵀ + b for every row of x into a new matrix.
func (l *Linear) Forward(dev *blas.Device, x *mat.Dense) *mat.Dense {
	rows, _ := x.Dims()
	dst := mat.NewDense(rows, l.Out, nil)
	dev.MulTransB(dst, x, l.W, 0)
	addBias(dst, l.B)
	return dst
}

// ForwardVec computes W·x + b for a single vector into dst.
func (l *Linear) ForwardVec(dev *blas.Device, dst, x []float64) {
	copy(dst, l.B)
	dev.MulVecTransB(dst, x, l.W, 1)
}

func addBias(m *mat.Dense, b []float64) {
	raw := m.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for j := range row {
			row[j] += b[j]
		}
	}
}

// XavierInit fills w with N(0, 2/(fanIn+fanOut)) samples.
func XavierInit(rng *rand.Rand, w []float64, fanIn, fanOut int) {
	scale := math.Sqrt(2.0 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = rng.NormFloat64() * scale
	}
}

// HeInit fills w with N(0, 2/fanIn) samples, for ReLU layers.
func HeInit(rng *rand.Rand, w []float64, fanIn int) {
	scale := math.Sqrt(2.0 / float64(fanIn))
	for i := range w {
		w[i] = rng.NormFloat64() * scale
	}
}

// UniformInit fills w with U(-k, k) samples.
func UniformInit(rng *rand.Rand, w []float64, k float64) {
	for i := range w {
		w[i] = (2*rng.Float64() - 1) * k
	}
}
