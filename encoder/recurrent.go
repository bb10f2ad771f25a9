package encoder

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/asr-seq2seq/internal/blas"
	"github.com/ieee0824/asr-seq2seq/internal/mathutil"
	"github.com/ieee0824/asr-seq2seq/internal/nn"
)

// layer is one recurrent level of the stack: a forward cell, an optional
// backward cell and an optional tanh projection.
type layer struct {
	fwd  *nn.Cell
	bwd  *nn.Cell
	proj *nn.Linear
}

func (l *layer) init(rng *rand.Rand) {
	l.fwd.Init(rng)
	if l.bwd != nil {
		l.bwd.Init(rng)
	}
	if l.proj != nil {
		l.proj.Init(rng)
	}
}

func (l *layer) outputSize() int {
	if l.bwd != nil {
		return 2 * l.fwd.Hidden
	}
	return l.fwd.Hidden
}

// run evaluates the layer over a batch of padded sequences. Every time step
// is one GEMM over the whole batch; utterances that already ended are masked
// out. Outputs are padded to the longest length with zero rows.
func (l *layer) run(dev *blas.Device, xs []*mat.Dense, lens []int) []*mat.Dense {
	steps := 0
	for _, n := range lens {
		steps = max(steps, n)
	}
	out := make([]*mat.Dense, len(xs))
	for b := range xs {
		out[b] = mathutil.NewDense(steps, l.outputSize())
	}
	runDirection(dev, l.fwd, xs, lens, steps, out, 0, false)
	if l.bwd != nil {
		runDirection(dev, l.bwd, xs, lens, steps, out, l.fwd.Hidden, true)
	}
	return out
}

// runDirection writes the hidden states of cell into columns [off, off+H) of
// out. Backward runs start at each utterance's own last frame.
func runDirection(dev *blas.Device, cell *nn.Cell, xs []*mat.Dense, lens []int, steps int, out []*mat.Dense, off int, reverse bool) {
	batch := len(xs)
	st := cell.NewState(batch)
	x := mat.NewDense(batch, cell.In, nil)
	active := make([]bool, batch)
	pos := make([]int, batch)
	H := cell.Hidden

	for s := 0; s < steps; s++ {
		for b := 0; b < batch; b++ {
			row := x.RawRowView(b)
			active[b] = s < lens[b]
			if !active[b] {
				clear(row)
				continue
			}
			pos[b] = s
			if reverse {
				pos[b] = lens[b] - 1 - s
			}
			copy(row, xs[b].RawRowView(pos[b]))
		}
		cell.Step(dev, x, st, active)
		for b := 0; b < batch; b++ {
			if active[b] {
				copy(out[b].RawRowView(pos[b])[off:off+H], st.H.RawRowView(b))
			}
		}
	}
}

// project applies tanh(W x + b) to the first n rows.
func (l *layer) project(dev *blas.Device, x *mat.Dense, n int) *mat.Dense {
	y := l.proj.Forward(dev, mathutil.TopRows(x, n))
	mathutil.Tanh(y)
	return y
}

// mergeDirections sums the forward and backward halves of every row.
func mergeDirections(x *mat.Dense, units int) *mat.Dense {
	rows := mathutil.Rows(x)
	out := mathutil.NewDense(rows, units)
	for t := 0; t < rows; t++ {
		src, dst := x.RawRowView(t), out.RawRowView(t)
		for j := 0; j < units; j++ {
			dst[j] = src[j] + src[units+j]
		}
	}
	return out
}
