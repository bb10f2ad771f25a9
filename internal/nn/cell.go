package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/asr-seq2seq/internal/blas"
	"github.com/ieee0824/asr-seq2seq/internal/mathutil"
)

// CellType names a recurrent unit.
type CellType string

const (
	LSTM CellType = "lstm"
	GRU  CellType = "gru"
	RNN  CellType = "rnn" // Elman with tanh
)

// Gates returns the number of stacked gate blocks in the weight matrices.
func (t CellType) Gates() int {
	switch t {
	case LSTM:
		return 4
	case GRU:
		return 3
	case RNN:
		return 1
	}
	return 0
}

// Valid reports whether t is a known cell type.
func (t CellType) Valid() bool { return t.Gates() > 0 }

// Cell is one recurrent layer direction.
//
// Gate blocks are stacked row-wise in Wx [G·H × In] and Wh [G·H × H]:
// LSTM i,f,g,o; GRU r,z,n; RNN a single block.
type Cell struct {
	Type   CellType
	In     int
	Hidden int
	Wx     *mat.Dense
	Wh     *mat.Dense
	Bx     []float64
	Bh     []float64
}

// State is the recurrent state for a batch. C is nil unless the cell is an LSTM.
type State struct {
	H *mat.Dense
	C *mat.Dense
}

// NewCell allocates a zero cell.
func NewCell(typ CellType, in, hidden int) (*Cell, error) {
	g := typ.Gates()
	if g == 0 {
		return nil, fmt.Errorf("nn: unknown cell type %q", typ)
	}
	return &Cell{
		Type:   typ,
		In:     in,
		Hidden: hidden,
		Wx:     mat.NewDense(g*hidden, in, nil),
		Wh:     mat.NewDense(g*hidden, hidden, nil),
		Bx:     make([]float64, g*hidden),
		Bh:     make([]float64, g*hidden),
	}, nil
}

// Init draws every weight and bias from U(-1/√H, 1/√H).
func (c *Cell) Init(rng *rand.Rand) {
	k := 1 / math.Sqrt(float64(c.Hidden))
	UniformInit(rng, c.Wx.RawMatrix().Data, k)
	UniformInit(rng, c.Wh.RawMatrix().Data, k)
	UniformInit(rng, c.Bx, k)
	UniformInit(rng, c.Bh, k)
}

// NewState returns a zero state for batch rows.
func (c *Cell) NewState(batch int) *State {
	s := &State{H: mat.NewDense(batch, c.Hidden, nil)}
	if c.Type == LSTM {
		s.C = mat.NewDense(batch, c.Hidden, nil)
	}
	return s
}

// Step advances the state by one time step. x is [B × In]. Rows whose
// active flag is false keep their previous state; a nil active slice means
// every row is active.
func (c *Cell) Step(dev *blas.Device, x *mat.Dense, st *State, active []bool) {
	batch, _ := x.Dims()
	gx := mat.NewDense(batch, c.Wx.RawMatrix().Rows, nil)
	gh := mat.NewDense(batch, c.Wh.RawMatrix().Rows, nil)
	dev.MulTransB(gx, x, c.Wx, 0)
	dev.MulTransB(gh, st.H, c.Wh, 0)

	H := c.Hidden
	for b := 0; b < batch; b++ {
		if active != nil && !active[b] {
			continue
		}
		ax, ah := gx.RawRowView(b), gh.RawRowView(b)
		h := st.H.RawRowView(b)
		switch c.Type {
		case LSTM:
			cs := st.C.RawRowView(b)
			for j := 0; j < H; j++ {
				i := mathutil.Sigmoid(ax[j] + c.Bx[j] + ah[j] + c.Bh[j])
				f := mathutil.Sigmoid(ax[H+j] + c.Bx[H+j] + ah[H+j] + c.Bh[H+j])
				g := math.Tanh(ax[2*H+j] + c.Bx[2*H+j] + ah[2*H+j] + c.Bh[2*H+j])
				o := mathutil.Sigmoid(ax[3*H+j] + c.Bx[3*H+j] + ah[3*H+j] + c.Bh[3*H+j])
				cs[j] = f*cs[j] + i*g
				h[j] = o * math.Tanh(cs[j])
			}
		case GRU:
			for j := 0; j < H; j++ {
				r := mathutil.Sigmoid(ax[j] + c.Bx[j] + ah[j] + c.Bh[j])
				z := mathutil.Sigmoid(ax[H+j] + c.Bx[H+j] + ah[H+j] + c.Bh[H+j])
				n := math.Tanh(ax[2*H+j] + c.Bx[2*H+j] + r*(ah[2*H+j]+c.Bh[2*H+j]))
				h[j] = (1-z)*n + z*h[j]
			}
		case RNN:
			for j := 0; j < H; j++ {
				h[j] = math.Tanh(ax[j] + c.Bx[j] + ah[j] + c.Bh[j])
			}
		}
	}
}

// StepVec advances a single-row state by one input vector.
func (c *Cell) StepVec(dev *blas.Device, x []float64, st *State) {
	c.Step(dev, mat.NewDense(1, len(x), x), st, nil)
}

// Clone deep-copies the state so beams can branch from it.
func (s *State) Clone() *State {
	out := &State{H: mat.DenseCopyOf(s.H)}
	if s.C != nil {
		out.C = mat.DenseCopyOf(s.C)
	}
	return out
}
