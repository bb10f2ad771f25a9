package language

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/asr-seq2seq/internal/blas"
	"github.com/ieee0824/asr-seq2seq/internal/mathutil"
	"github.com/ieee0824/asr-seq2seq/internal/nn"
)

// ErrBackward is returned for right-to-left models, which cannot score a
// prefix during left-to-right beam search.
var ErrBackward = errors.New("language: backward model cannot be used for shallow fusion")

// RNNLMConfig describes a recurrent token language model.
type RNNLMConfig struct {
	NumClasses   int         // tokens, EOS excluded
	EmbeddingDim int
	CellType     nn.CellType // default lstm
	NumUnits     int
	NumLayers    int
	Backward     bool
}

// RNNLM is a stacked recurrent language model over decoder token indices.
// EOS is NumClasses and SOS is NumClasses+1, matching the attention decoder.
type RNNLM struct {
	cfg   RNNLMConfig
	dev   *blas.Device
	embed *mat.Dense
	cells []*nn.Cell
	out   *nn.Linear
}

// NewRNNLM validates cfg and allocates a zero-weight model.
func NewRNNLM(cfg RNNLMConfig, dev *blas.Device) (*RNNLM, error) {
	if cfg.Backward {
		return nil, ErrBackward
	}
	if cfg.CellType == "" {
		cfg.CellType = nn.LSTM
	}
	if cfg.NumClasses <= 0 || cfg.EmbeddingDim <= 0 || cfg.NumUnits <= 0 || cfg.NumLayers <= 0 {
		return nil, fmt.Errorf("language: rnnlm sizes must be positive: %+v", cfg)
	}
	if dev == nil {
		dev = blas.Default()
	}
	lm := &RNNLM{
		cfg:   cfg,
		dev:   dev,
		embed: mat.NewDense(cfg.NumClasses+2, cfg.EmbeddingDim, nil),
		out:   nn.NewLinear(cfg.NumUnits, cfg.NumClasses+1),
	}
	in := cfg.EmbeddingDim
	for range cfg.NumLayers {
		c, err := nn.NewCell(cfg.CellType, in, cfg.NumUnits)
		if err != nil {
			return nil, fmt.Errorf("language: %w", err)
		}
		lm.cells = append(lm.cells, c)
		in = cfg.NumUnits
	}
	return lm, nil
}

// Init draws all weights from rng.
func (lm *RNNLM) Init(rng *rand.Rand) {
	nn.UniformInit(rng, lm.embed.RawMatrix().Data, 0.1)
	for _, c := range lm.cells {
		c.Init(rng)
	}
	lm.out.Init(rng)
}

func (lm *RNNLM) EOS() int { return lm.cfg.NumClasses }

type rnnState struct {
	layers []*nn.State
	logp   []float64 // distribution of the next token
}

func (lm *RNNLM) Start() State {
	st := &rnnState{layers: make([]*nn.State, len(lm.cells))}
	for i, c := range lm.cells {
		st.layers[i] = c.NewState(1)
	}
	return lm.feed(st, lm.cfg.NumClasses+1)
}

func (lm *RNNLM) Score(s State, token int) float64 {
	logp := s.(*rnnState).logp
	if token < 0 || token >= len(logp) {
		return mathutil.LogZero
	}
	return logp[token]
}

func (lm *RNNLM) Next(s State, token int) State {
	if token < 0 || token > lm.cfg.NumClasses {
		token = lm.cfg.NumClasses
	}
	return lm.feed(s.(*rnnState), token)
}

func (lm *RNNLM) feed(prev *rnnState, token int) *rnnState {
	st := &rnnState{layers: make([]*nn.State, len(lm.cells))}
	x := lm.embed.RawRowView(token)
	for i, c := range lm.cells {
		st.layers[i] = prev.layers[i].Clone()
		c.StepVec(lm.dev, x, st.layers[i])
		x = st.layers[i].H.RawRowView(0)
	}
	st.logp = make([]float64, lm.cfg.NumClasses+1)
	lm.out.ForwardVec(lm.dev, st.logp, x)
	mathutil.LogSoftmax(st.logp)
	return st
}
