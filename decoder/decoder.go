// Package decoder implements beam search over attention decoders with
// auxiliary-task fusion: language model shallow fusion, nested
// character-then-word decoding and joint word/character scoring.
package decoder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/asr-seq2seq/encoder"
	"github.com/ieee0824/asr-seq2seq/internal/mathutil"
	"github.com/ieee0824/asr-seq2seq/internal/observe"
)

// Decoder runs beam searches with a main (word) and an optional sub
// (character) step model.
type Decoder struct {
	main    StepModel
	sub     StepModel
	log     *slog.Logger
	metrics *observe.Metrics
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(d *Decoder) { d.log = l }
}

// WithMetrics records decode latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Decoder) { d.metrics = m }
}

// New creates a decoder. sub may be nil when only the main task is decoded.
func New(main, sub StepModel, opts ...Option) (*Decoder, error) {
	if main == nil {
		return nil, &ConfigError{"decoder", "main step model is required"}
	}
	d := &Decoder{main: main, sub: sub}
	for _, o := range opts {
		o(d)
	}
	d.log = observe.OrDefault(d.log)
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d, nil
}

// Decode searches every utterance of enc and returns, in encoded order, up
// to BeamWidth hypotheses per utterance ranked best first.
func (d *Decoder) Decode(ctx context.Context, enc *encoder.Encoded, mode Mode) ([][]Hypothesis, error) {
	start := time.Now()
	if err := d.check(enc, mode); err != nil {
		return nil, err
	}

	var (
		out [][]Hypothesis
		err error
	)
	switch m := mode.(type) {
	case SingleTask:
		out, err = d.decodeSingle(ctx, enc, m)
	case Nested:
		out, err = d.decodeNested(ctx, enc, m)
	case Joint:
		out, err = d.decodeJoint(ctx, enc, m)
	}
	if err != nil {
		return nil, err
	}

	d.metrics.ObserveDecode(ctx, mode.Name(), start)
	d.log.Debug("decoded batch",
		"mode", mode.Name(),
		"utterances", len(out),
		"elapsed", time.Since(start))
	return out, nil
}

func (d *Decoder) check(enc *encoder.Encoded, mode Mode) error {
	if enc == nil || len(enc.Outputs) == 0 {
		return fmt.Errorf("decoder: empty encoding")
	}
	needSub := func() error {
		if d.sub == nil {
			return &ConfigError{"mode", mode.Name() + " decoding needs a sub step model"}
		}
		if enc.Sub == nil {
			return &ConfigError{"mode", mode.Name() + " decoding needs a secondary encoding"}
		}
		return nil
	}

	switch m := mode.(type) {
	case SingleTask:
		switch m.Task {
		case MainTask:
		case SubTask:
			if err := needSub(); err != nil {
				return err
			}
		default:
			return &ConfigError{"task", fmt.Sprintf("unknown task %d", int(m.Task))}
		}
		return m.Search.validate()
	case Nested:
		if err := needSub(); err != nil {
			return err
		}
		if err := m.Primary.validate(); err != nil {
			return err
		}
		if m.TeacherForcing == nil {
			return m.Secondary.validate()
		}
		if len(m.TeacherForcing) != len(enc.Outputs) {
			return &ConfigError{"teacher_forcing", fmt.Sprintf("%d label sequences for %d utterances", len(m.TeacherForcing), len(enc.Outputs))}
		}
		return nil
	case Joint:
		if err := needSub(); err != nil {
			return err
		}
		switch {
		case m.Lexicon == nil:
			return &ConfigError{"lexicon", "joint decoding needs a word-to-character lexicon"}
		case m.SubWeight < 0:
			return &ConfigError{"sub_weight", "must not be negative"}
		case m.SpaceIndex < 0 || m.SpaceIndex >= d.sub.VocabSize() || m.SpaceIndex == d.sub.EOS():
			return &ConfigError{"space_index", fmt.Sprintf("%d is not a character index", m.SpaceIndex)}
		case m.OOVIndex >= d.main.VocabSize() || (m.OOVIndex >= 0 && m.OOVIndex == d.main.EOS()):
			return &ConfigError{"oov_index", fmt.Sprintf("%d is not a word index", m.OOVIndex)}
		}
		return m.Search.validate()
	case nil:
		return &ConfigError{"mode", "missing"}
	}
	return &ConfigError{"mode", fmt.Sprintf("unsupported mode %T", mode)}
}

func (d *Decoder) decodeSingle(ctx context.Context, enc *encoder.Encoded, m SingleTask) ([][]Hypothesis, error) {
	model, src := d.main, enc
	if m.Task == SubTask {
		model, src = d.sub, enc.Sub
	}
	out := make([][]Hypothesis, len(src.Outputs))
	for b := range src.Outputs {
		s := &search{model: model, cfg: m.Search}
		hs, err := s.run(ctx, src.Outputs[b], src.Lengths[b])
		if err != nil {
			return nil, fmt.Errorf("utterance %d: %w", b, err)
		}
		out[b] = collect(hs, src.Lengths[b])
	}
	return out, nil
}

func collect(hs []*beamHyp, rows int) []Hypothesis {
	out := make([]Hypothesis, len(hs))
	for i, h := range hs {
		out[i] = h.hypothesis(rows)
	}
	return out
}

// compose maps attention over an intermediate sequence back onto the
// frames that sequence attended: [T × L1]·[L1 × L2] = [T × L2].
func compose(outer, inner *mat.Dense) *mat.Dense {
	if outer.IsEmpty() || inner.IsEmpty() {
		return mathutil.NewDense(mathutil.Rows(outer), mathutil.Cols(inner))
	}
	var c mat.Dense
	c.Mul(outer, inner)
	return &c
}
