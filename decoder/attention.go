package decoder

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/asr-seq2seq/internal/blas"
	"github.com/ieee0824/asr-seq2seq/internal/mathutil"
	"github.com/ieee0824/asr-seq2seq/internal/nn"
)

// AttentionType selects the alignment score.
type AttentionType string

const (
	// ContentAttention is additive attention: vᵀ tanh(W m + U h).
	ContentAttention AttentionType = "content"
	// DotAttention is scaled dot-product attention: (W m)·(U h)/√d.
	DotAttention AttentionType = "dot"
)

type attention struct {
	typ         AttentionType
	key         *nn.Linear // memory → dim
	query       *nn.Linear // decoder hidden → dim
	v           []float64  // content only
	temperature float64
}

func newAttention(typ AttentionType, memSize, hidden, dim int, temperature float64) *attention {
	a := &attention{
		typ:         typ,
		key:         nn.NewLinear(memSize, dim),
		query:       nn.NewLinear(hidden, dim),
		temperature: temperature,
	}
	if typ == ContentAttention {
		a.v = make([]float64, dim)
	}
	return a
}

func (a *attention) init(rng *rand.Rand) {
	a.key.Init(rng)
	a.query.Init(rng)
	if a.v != nil {
		nn.XavierInit(rng, a.v, len(a.v), 1)
	}
}

// keys projects the memory once per utterance.
func (a *attention) keys(dev *blas.Device, memory *mat.Dense) *mat.Dense {
	return a.key.Forward(dev, memory)
}

// weights returns the alignment distribution of hidden state h over keys.
func (a *attention) weights(dev *blas.Device, keys *mat.Dense, h []float64) []float64 {
	q := make([]float64, a.query.Out)
	a.query.ForwardVec(dev, q, h)
	n := mathutil.Rows(keys)
	e := make([]float64, n)
	switch a.typ {
	case DotAttention:
		dev.MulVecTransB(e, q, keys, 0)
		scale := 1 / math.Sqrt(float64(len(q)))
		for t := range e {
			e[t] *= scale
		}
	default:
		for t := 0; t < n; t++ {
			k := keys.RawRowView(t)
			s := 0.0
			for j, vj := range a.v {
				s += vj * math.Tanh(k[j]+q[j])
			}
			e[t] = s
		}
	}
	mathutil.Softmax(e, a.temperature)
	return e
}
