package decoder

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/asr-seq2seq/internal/blas"
	"github.com/ieee0824/asr-seq2seq/internal/mathutil"
	"github.com/ieee0824/asr-seq2seq/internal/nn"
)

// ModelConfig describes an AttentionDecoder.
type ModelConfig struct {
	NumClasses    int           // output tokens, EOS excluded
	EmbeddingDim  int           // token embedding width
	CellType      nn.CellType   // recurrent unit, default lstm
	NumUnits      int           // decoder hidden units
	MemorySize    int           // width of the memory rows attended over
	AttentionType AttentionType // content or dot
	AttentionDim  int           // width of the alignment space
	Temperature   float64       // softmax temperature of the alignment, 1 when zero
}

// AttentionDecoder is an input-feeding recurrent decoder with one attention
// head. EOS is index NumClasses; SOS is NumClasses+1 and only exists in the
// embedding table.
type AttentionDecoder struct {
	cfg   ModelConfig
	dev   *blas.Device
	embed *mat.Dense // [(NumClasses+2) × EmbeddingDim]
	cell  *nn.Cell
	att   *attention
	out   *nn.Linear // [h; context] → NumClasses+1
}

// NewAttentionDecoder validates cfg and allocates a zero-weight decoder.
func NewAttentionDecoder(cfg ModelConfig, dev *blas.Device) (*AttentionDecoder, error) {
	if cfg.CellType == "" {
		cfg.CellType = nn.LSTM
	}
	if cfg.AttentionType == "" {
		cfg.AttentionType = ContentAttention
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 1
	}
	switch {
	case cfg.NumClasses <= 0:
		return nil, &ConfigError{"num_classes", "must be positive"}
	case cfg.EmbeddingDim <= 0:
		return nil, &ConfigError{"embedding_dim", "must be positive"}
	case cfg.NumUnits <= 0:
		return nil, &ConfigError{"decoder_num_units", "must be positive"}
	case cfg.MemorySize <= 0:
		return nil, &ConfigError{"memory_size", "must be positive"}
	case cfg.AttentionDim <= 0:
		return nil, &ConfigError{"attention_dim", "must be positive"}
	case cfg.Temperature < 0:
		return nil, &ConfigError{"sharpening_factor", "must be positive"}
	case cfg.AttentionType != ContentAttention && cfg.AttentionType != DotAttention:
		return nil, &ConfigError{"attention_type", fmt.Sprintf("must be content or dot, got %q", cfg.AttentionType)}
	}
	if dev == nil {
		dev = blas.Default()
	}
	cell, err := nn.NewCell(cfg.CellType, cfg.EmbeddingDim+cfg.MemorySize, cfg.NumUnits)
	if err != nil {
		return nil, &ConfigError{"decoder_type", err.Error()}
	}
	return &AttentionDecoder{
		cfg:   cfg,
		dev:   dev,
		embed: mat.NewDense(cfg.NumClasses+2, cfg.EmbeddingDim, nil),
		cell:  cell,
		att:   newAttention(cfg.AttentionType, cfg.MemorySize, cfg.NumUnits, cfg.AttentionDim, cfg.Temperature),
		out:   nn.NewLinear(cfg.NumUnits+cfg.MemorySize, cfg.NumClasses+1),
	}, nil
}

// Init draws all weights from rng.
func (d *AttentionDecoder) Init(rng *rand.Rand) {
	nn.UniformInit(rng, d.embed.RawMatrix().Data, 0.1)
	d.cell.Init(rng)
	d.att.init(rng)
	d.out.Init(rng)
}

// Config returns the model configuration with defaults applied.
func (d *AttentionDecoder) Config() ModelConfig { return d.cfg }

func (d *AttentionDecoder) VocabSize() int { return d.cfg.NumClasses + 1 }
func (d *AttentionDecoder) EOS() int       { return d.cfg.NumClasses }
func (d *AttentionDecoder) SOS() int       { return d.cfg.NumClasses + 1 }

// HiddenSize is the width of StepOutput.Hidden.
func (d *AttentionDecoder) HiddenSize() int { return d.cfg.NumUnits }

type memory struct {
	values *mat.Dense // [n × MemorySize]
	keys   *mat.Dense // [n × AttentionDim]
}

type attState struct {
	mem     *memory
	rnn     *nn.State
	context []float64
}

func (d *AttentionDecoder) Start(m *mat.Dense, n int) (State, error) {
	if c := mathutil.Cols(m); c != d.cfg.MemorySize {
		return nil, fmt.Errorf("decoder: memory width %d, want %d", c, d.cfg.MemorySize)
	}
	if n <= 0 || n > mathutil.Rows(m) {
		return nil, fmt.Errorf("decoder: memory length %d outside [1, %d]", n, mathutil.Rows(m))
	}
	values := mathutil.TopRows(m, n)
	return &attState{
		mem:     &memory{values: values, keys: d.att.keys(d.dev, values)},
		rnn:     d.cell.NewState(1),
		context: make([]float64, d.cfg.MemorySize),
	}, nil
}

func (d *AttentionDecoder) Step(s State, prev int) (StepOutput, State) {
	st := s.(*attState)
	x := make([]float64, 0, d.cfg.EmbeddingDim+d.cfg.MemorySize)
	x = append(x, d.embed.RawRowView(prev)...)
	x = append(x, st.context...)

	rnn := st.rnn.Clone()
	d.cell.StepVec(d.dev, x, rnn)
	h := append([]float64(nil), rnn.H.RawRowView(0)...)

	w := d.att.weights(d.dev, st.mem.keys, h)
	ctx := mat.NewVecDense(d.cfg.MemorySize, nil)
	ctx.MulVec(st.mem.values.T(), mat.NewVecDense(len(w), w))
	context := ctx.RawVector().Data

	logp := make([]float64, d.VocabSize())
	d.out.ForwardVec(d.dev, logp, append(append([]float64(nil), h...), context...))
	mathutil.LogSoftmax(logp)

	return StepOutput{LogProbs: logp, Attention: w, Hidden: h},
		&attState{mem: st.mem, rnn: rnn, context: context}
}
