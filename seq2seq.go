// Package seq2seq assembles an attention-based speech recogniser: a
// recurrent encoder, a word decoder, an optional character decoder and
// optional language models behind one Decode call.
package seq2seq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/ieee0824/asr-seq2seq/decoder"
	"github.com/ieee0824/asr-seq2seq/encoder"
	"github.com/ieee0824/asr-seq2seq/internal/blas"
	"github.com/ieee0824/asr-seq2seq/internal/observe"
	"github.com/ieee0824/asr-seq2seq/language"
)

// Spec describes the networks of a Model.
type Spec struct {
	Encoder encoder.Config
	// Decoder attends over the encoder output, or over the character
	// decoder's hidden states when Nested is set. A zero MemorySize is
	// filled in from the encoder or character decoder.
	Decoder    decoder.ModelConfig
	DecoderSub *decoder.ModelConfig // character decoder over the secondary encoding
	Nested     bool
}

// Model is an initialised recogniser. Its parameters are read-only after
// Init, so one Model can serve concurrent Decode calls.
type Model struct {
	spec    Spec
	dev     *blas.Device
	enc     *encoder.Encoder
	main    *decoder.AttentionDecoder
	sub     *decoder.AttentionDecoder
	dec     *decoder.Decoder
	lm      language.Scorer
	lmSub   language.Scorer
	log     *slog.Logger
	metrics *observe.Metrics
}

// Option configures a Model.
type Option func(*Model)

// WithDevice selects the compute device. The default is blas.Default().
func WithDevice(dev *blas.Device) Option {
	return func(m *Model) { m.dev = dev }
}

// WithLogger sets the logger passed to the encoder and decoder.
func WithLogger(l *slog.Logger) Option {
	return func(m *Model) { m.log = l }
}

// WithMetrics records encode and decode latency on mm.
func WithMetrics(mm *observe.Metrics) Option {
	return func(m *Model) { m.metrics = mm }
}

// WithLM attaches a word language model. It is used by searches whose
// LMWeight is positive and whose LM is unset.
func WithLM(s language.Scorer) Option {
	return func(m *Model) { m.lm = s }
}

// WithSubLM attaches a character language model.
func WithSubLM(s language.Scorer) Option {
	return func(m *Model) { m.lmSub = s }
}

// ErrArchitecture is returned when a decoding mode does not fit the
// networks of the model.
var ErrArchitecture = errors.New("seq2seq: mode does not match model architecture")

// New builds a zero-weight model. Call Init before decoding.
func New(spec Spec, opts ...Option) (*Model, error) {
	m := &Model{spec: spec}
	for _, o := range opts {
		o(m)
	}
	if m.dev == nil {
		m.dev = blas.Default()
	}
	m.log = observe.OrDefault(m.log)
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}

	if spec.DecoderSub != nil && spec.Encoder.NumLayersSub == 0 {
		return nil, &encoder.ConfigError{Field: "num_layers_sub", Reason: "a character decoder needs a secondary encoding"}
	}
	if spec.Nested && spec.DecoderSub == nil {
		return nil, &decoder.ConfigError{Field: "decoder_sub", Reason: "nested decoding needs a character decoder"}
	}

	var err error
	m.enc, err = encoder.New(spec.Encoder, m.dev, encoder.WithLogger(m.log), encoder.WithMetrics(m.metrics))
	if err != nil {
		return nil, err
	}

	if spec.DecoderSub != nil {
		cfg := *spec.DecoderSub
		if cfg.MemorySize == 0 {
			cfg.MemorySize = m.enc.SubOutputSize()
		}
		if m.sub, err = decoder.NewAttentionDecoder(cfg, m.dev); err != nil {
			return nil, fmt.Errorf("character decoder: %w", err)
		}
	}

	cfg := spec.Decoder
	if cfg.MemorySize == 0 {
		cfg.MemorySize = m.enc.OutputSize()
		if spec.Nested {
			cfg.MemorySize = m.sub.HiddenSize()
		}
	}
	if m.main, err = decoder.NewAttentionDecoder(cfg, m.dev); err != nil {
		return nil, fmt.Errorf("word decoder: %w", err)
	}

	var sub decoder.StepModel
	if m.sub != nil {
		sub = m.sub
	}
	m.dec, err = decoder.New(m.main, sub, decoder.WithLogger(m.log), decoder.WithMetrics(m.metrics))
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Init draws every weight from rng.
func (m *Model) Init(rng *rand.Rand) {
	m.enc.Init(rng)
	m.main.Init(rng)
	if m.sub != nil {
		m.sub.Init(rng)
	}
}

func (m *Model) Encoder() *encoder.Encoder              { return m.enc }
func (m *Model) WordDecoder() *decoder.AttentionDecoder { return m.main }

// CharDecoder returns the character decoder, or nil.
func (m *Model) CharDecoder() *decoder.AttentionDecoder { return m.sub }

// Nested reports whether the word decoder attends over characters.
func (m *Model) Nested() bool { return m.spec.Nested }

// Result holds hypotheses in encoded order and the permutation back to batch
// order.
type Result struct {
	Hypotheses [][]decoder.Hypothesis
	Perm       encoder.Permutation
}

// Best returns the top hypothesis of every utterance in batch order. An
// utterance without hypotheses gets the zero Hypothesis.
func (r *Result) Best() []decoder.Hypothesis {
	best := make([]decoder.Hypothesis, len(r.Hypotheses))
	for i, hs := range r.Hypotheses {
		if len(hs) > 0 {
			best[i] = hs[0]
		}
	}
	return encoder.Restore(r.Perm, best)
}

// Decode encodes b and searches it in the given mode. Teacher forcing labels
// of a Nested mode are given in batch order.
func (m *Model) Decode(ctx context.Context, b *encoder.Batch, mode decoder.Mode) (*Result, error) {
	if err := m.check(mode); err != nil {
		return nil, err
	}
	enc, perm, err := m.enc.Encode(ctx, b)
	if err != nil {
		return nil, err
	}
	mode = m.prepare(mode, perm)
	hyps, err := m.dec.Decode(ctx, enc, mode)
	if err != nil {
		return nil, err
	}
	return &Result{Hypotheses: hyps, Perm: perm}, nil
}

// DecodeBatch is Decode in the shape the evaluation harness consumes.
func (m *Model) DecodeBatch(ctx context.Context, b *encoder.Batch, mode decoder.Mode) ([][]decoder.Hypothesis, encoder.Permutation, error) {
	r, err := m.Decode(ctx, b, mode)
	if err != nil {
		return nil, nil, err
	}
	return r.Hypotheses, r.Perm, nil
}

func (m *Model) check(mode decoder.Mode) error {
	switch md := mode.(type) {
	case decoder.Nested:
		if !m.spec.Nested {
			return fmt.Errorf("%w: nested mode on a model whose word decoder attends over the encoder", ErrArchitecture)
		}
	case decoder.SingleTask:
		if m.spec.Nested && md.Task == decoder.MainTask {
			return fmt.Errorf("%w: the word decoder of a nested model needs character states", ErrArchitecture)
		}
	case decoder.Joint:
		if m.spec.Nested {
			return fmt.Errorf("%w: joint mode on a nested model", ErrArchitecture)
		}
	}
	return nil
}

// prepare attaches the model's language models and moves teacher forcing
// labels into encoded order.
func (m *Model) prepare(mode decoder.Mode, perm encoder.Permutation) decoder.Mode {
	switch md := mode.(type) {
	case decoder.SingleTask:
		if md.Task == decoder.SubTask {
			m.attach(&md.Search, m.lmSub)
		} else {
			m.attach(&md.Search, m.lm)
		}
		return md
	case decoder.Nested:
		m.attach(&md.Primary, m.lm)
		m.attach(&md.Secondary, m.lmSub)
		if md.TeacherForcing != nil && len(md.TeacherForcing) == len(perm) && !perm.IsIdentity() {
			md.TeacherForcing = encoder.Apply(perm, md.TeacherForcing)
		}
		return md
	case decoder.Joint:
		m.attach(&md.Search, m.lm)
		return md
	}
	return mode
}

func (m *Model) attach(c *decoder.Config, s language.Scorer) {
	if c.LM == nil && c.LMWeight > 0 && s != nil {
		c.LM = s
	}
}
