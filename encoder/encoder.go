// Package encoder implements the recurrent acoustic encoder: an optional
// convolutional or splicing front-end followed by a stack of (bidirectional)
// LSTM, GRU or Elman layers with optional projection, time subsampling,
// residual connections and a secondary output tapped from an inner layer.
package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/asr-seq2seq/internal/blas"
	"github.com/ieee0824/asr-seq2seq/internal/mathutil"
	"github.com/ieee0824/asr-seq2seq/internal/nn"
	"github.com/ieee0824/asr-seq2seq/internal/observe"
)

// Batch is a right-padded batch of feature sequences. Inputs[b] has at least
// Lengths[b] rows and InputSize columns; rows past the length are ignored.
type Batch struct {
	Inputs  []*mat.Dense
	Lengths []int
}

// Encoded holds the encoder outputs in encoded (possibly permuted) order.
// Every output is padded with zero rows to the longest length in the batch.
type Encoded struct {
	Outputs []*mat.Dense
	Lengths []int
	// Sub is the representation tapped from layer NumLayersSub, in the same
	// order. Nil when the encoder has no sub task.
	Sub *Encoded
}

// Encoder is an immutable encoder stack. It is safe to share between
// goroutines once initialised.
type Encoder struct {
	cfg      Config
	dev      *blas.Device
	front    frontLayer
	layers   []*layer
	strategy strategy
	log      *slog.Logger
	metrics  *observe.Metrics
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(e *Encoder) { e.log = l }
}

// WithMetrics records encode latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Encoder) { e.metrics = m }
}

// New validates cfg and allocates a zero-weight encoder on dev. Call Init to
// draw weights.
func New(cfg Config, dev *blas.Device, opts ...Option) (*Encoder, error) {
	cfg.SubsampleList = append([]bool(nil), cfg.SubsampleList...)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if dev == nil {
		dev = blas.Default()
	}
	e := &Encoder{cfg: cfg, dev: dev}
	for _, o := range opts {
		o(e)
	}
	e.log = observe.OrDefault(e.log)
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}

	in := cfg.InputSize
	if cfg.FrontEnd != nil {
		e.front = cfg.FrontEnd.build(in)
		in = cfg.FrontEnd.outputSize(in)
	}
	for i := 0; i < cfg.NumLayers; i++ {
		l := &layer{}
		var err error
		if l.fwd, err = nn.NewCell(cfg.CellType, in, cfg.NumUnits); err != nil {
			return nil, err
		}
		if cfg.Bidirectional {
			l.bwd, _ = nn.NewCell(cfg.CellType, in, cfg.NumUnits)
		}
		in = l.outputSize()
		if cfg.NumProj > 0 && i != cfg.NumLayers-1 {
			l.proj = nn.NewLinear(in, cfg.NumProj)
			in = cfg.NumProj
		}
		if cfg.subsampled(i) && cfg.SubsampleType == SubsampleConcat {
			in *= 2
		}
		e.layers = append(e.layers, l)
	}

	if cfg.uniform() {
		e.strategy = fusedStack{}
	} else {
		e.strategy = layeredStack{}
	}
	return e, nil
}

// Init draws all weights from rng.
func (e *Encoder) Init(rng *rand.Rand) {
	if e.front != nil {
		e.front.init(rng)
	}
	for _, l := range e.layers {
		l.init(rng)
	}
}

// Config returns the validated configuration.
func (e *Encoder) Config() Config { return e.cfg }

// Device returns the compute device the encoder was built on.
func (e *Encoder) Device() *blas.Device { return e.dev }

// OutputSize is the width of each encoded frame.
func (e *Encoder) OutputSize() int {
	if e.cfg.Bidirectional && e.cfg.MergeBidirectional {
		return e.cfg.NumUnits
	}
	return e.cfg.NumUnits * e.cfg.directions()
}

// SubOutputSize is the width of each frame of the sub representation, or 0.
func (e *Encoder) SubOutputSize() int {
	if e.cfg.NumLayersSub == 0 {
		return 0
	}
	return e.OutputSize()
}

// OutputLength returns the encoded length of an input of n frames.
func (e *Encoder) OutputLength(n int) int {
	if e.front != nil {
		n = e.front.outLength(n)
	}
	for i := range e.layers {
		if i != len(e.layers)-1 && e.cfg.subsampled(i) {
			n = (n + 1) / 2
		}
	}
	return n
}

// Encode runs the stack over a batch. The returned permutation maps encoded
// positions back to batch positions; it is the identity unless PackSequence
// is set.
func (e *Encoder) Encode(ctx context.Context, batch *Batch) (*Encoded, Permutation, error) {
	start := time.Now()
	if err := e.check(batch); err != nil {
		return nil, nil, err
	}

	xs := make([]*mat.Dense, len(batch.Inputs))
	lens := make([]int, len(batch.Inputs))
	for b, x := range batch.Inputs {
		n := batch.Lengths[b]
		if e.front != nil {
			x, n = e.front.forward(e.dev, x, n)
			if n == 0 {
				return nil, nil, fmt.Errorf("utterance %d: %d frames vanish in the front-end: %w", b, batch.Lengths[b], ErrShape)
			}
		}
		xs[b], lens[b] = x, n
	}

	perm := Identity(len(xs))
	if e.cfg.PackSequence {
		perm = sortByLength(lens)
		xs, lens = Apply(perm, xs), Apply(perm, lens)
	}

	enc := e.strategy.run(e, xs, lens)
	if e.cfg.Bidirectional && e.cfg.MergeBidirectional {
		merge(enc, e.cfg.NumUnits)
		if enc.Sub != nil {
			merge(enc.Sub, e.cfg.NumUnits)
		}
	}

	e.metrics.ObserveEncode(ctx, start)
	e.log.Debug("encoded batch",
		"utterances", len(xs),
		"strategy", e.strategy.name(),
		"max_len", enc.maxLen(),
		"elapsed", time.Since(start))
	return enc, perm, nil
}

func (e *Encoder) check(batch *Batch) error {
	if batch == nil || len(batch.Inputs) == 0 {
		return fmt.Errorf("empty batch: %w", ErrShape)
	}
	if len(batch.Inputs) != len(batch.Lengths) {
		return fmt.Errorf("%d inputs but %d lengths: %w", len(batch.Inputs), len(batch.Lengths), ErrShape)
	}
	for b, x := range batch.Inputs {
		rows, cols := mathutil.Rows(x), mathutil.Cols(x)
		if cols != e.cfg.InputSize {
			return fmt.Errorf("utterance %d: feature dim %d, want %d: %w", b, cols, e.cfg.InputSize, ErrShape)
		}
		if n := batch.Lengths[b]; n <= 0 || n > rows {
			return fmt.Errorf("utterance %d: length %d outside [1, %d]: %w", b, n, rows, ErrShape)
		}
	}
	return nil
}

func merge(enc *Encoded, units int) {
	for b, x := range enc.Outputs {
		enc.Outputs[b] = mergeDirections(x, units)
	}
}

func (enc *Encoded) maxLen() int {
	n := 0
	for _, l := range enc.Lengths {
		n = max(n, l)
	}
	return n
}

// strategy evaluates the recurrent stack over packed-order inputs.
type strategy interface {
	run(e *Encoder, xs []*mat.Dense, lens []int) *Encoded
	name() string
}

// fusedStack evaluates all layers batch-major: one GEMM per time step per
// layer for the whole batch. Only used when no layer subsamples, projects,
// adds residuals or feeds a sub task.
type fusedStack struct{}

func (fusedStack) name() string { return "fused" }

func (fusedStack) run(e *Encoder, xs []*mat.Dense, lens []int) *Encoded {
	h := xs
	for _, l := range e.layers {
		h = l.run(e.dev, h, lens)
	}
	return &Encoded{Outputs: h, Lengths: append([]int(nil), lens...)}
}

// layeredStack evaluates one layer at a time for each utterance, applying
// projection, subsampling and residual connections between layers.
type layeredStack struct{}

func (layeredStack) name() string { return "layered" }

func (layeredStack) run(e *Encoder, xs []*mat.Dense, lens []int) *Encoded {
	cfg := &e.cfg
	batch := len(xs)
	cur := append([]*mat.Dense(nil), xs...)
	lens = append([]int(nil), lens...)
	last := len(e.layers) - 1
	resStart := cfg.residualStartLayer()
	residuals := make([][]*mat.Dense, batch)

	var sub *Encoded
	if cfg.NumLayersSub > 0 {
		sub = &Encoded{Outputs: make([]*mat.Dense, batch), Lengths: make([]int, batch)}
	}

	for i, l := range e.layers {
		for b := 0; b < batch; b++ {
			y := l.run(e.dev, cur[b:b+1], lens[b:b+1])[0]
			if sub != nil && i == cfg.NumLayersSub-1 {
				sub.Outputs[b], sub.Lengths[b] = mat.DenseCopyOf(y), lens[b]
			}
			if i != last {
				if l.proj != nil {
					y = l.project(e.dev, y, lens[b])
				}
				if cfg.subsampled(i) {
					y, lens[b] = subsample(y, lens[b], cfg.SubsampleType)
				} else if cfg.Residual != ResidualNone && i >= resStart-1 {
					for _, lower := range residuals[b] {
						y.Add(y, lower)
					}
					if cfg.Residual == Residual {
						residuals[b] = []*mat.Dense{y}
					} else {
						residuals[b] = append(residuals[b], y)
					}
				}
			}
			cur[b] = y
		}
	}

	enc := &Encoded{Outputs: cur, Lengths: lens}
	pad(enc)
	if sub != nil {
		pad(sub)
		enc.Sub = sub
	}
	return enc
}

func pad(enc *Encoded) {
	n := enc.maxLen()
	for b, x := range enc.Outputs {
		enc.Outputs[b] = mathutil.PadRows(x, enc.Lengths[b], n)
	}
}
