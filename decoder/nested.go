package decoder

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/asr-seq2seq/encoder"
	"github.com/ieee0824/asr-seq2seq/internal/mathutil"
)

// decodeNested decodes (or teacher-forces) the character sequence over the
// secondary encoding, then runs the word search over the character
// decoder's hidden states. Word attention is composed with the character
// attention so it is reported over secondary encoder frames.
func (d *Decoder) decodeNested(ctx context.Context, enc *encoder.Encoded, m Nested) ([][]Hypothesis, error) {
	out := make([][]Hypothesis, len(enc.Outputs))
	for b := range enc.Outputs {
		mem, n := enc.Sub.Outputs[b], enc.Sub.Lengths[b]

		var (
			chars *node
			char  Hypothesis
		)
		if m.TeacherForcing != nil {
			hist, score, err := force(d.sub, mem, n, m.TeacherForcing[b])
			if err != nil {
				return nil, fmt.Errorf("utterance %d: %w", b, err)
			}
			chars = hist
			char = Hypothesis{
				Tokens:     hist.tokens(),
				Score:      score,
				ModelScore: score,
				Attention:  hist.attention(n),
			}
		} else {
			s := &search{model: d.sub, cfg: m.Secondary}
			hs, err := s.run(ctx, mem, n)
			if err != nil {
				return nil, fmt.Errorf("utterance %d: character search: %w", b, err)
			}
			if len(hs) > 0 {
				chars = hs[0].hist
				char = hs[0].hypothesis(n)
			}
		}

		if chars.len() == 0 {
			// The word search has no memory to attend over; only an empty
			// word sequence is possible.
			if m.Primary.MinLen == 0 {
				out[b] = []Hypothesis{{Attention: mathutil.NewDense(n, 0), Sub: &char}}
			}
			continue
		}

		lc := chars.len()
		s := &search{model: d.main, cfg: m.Primary}
		hs, err := s.run(ctx, chars.hiddens(), lc)
		if err != nil {
			return nil, fmt.Errorf("utterance %d: word search: %w", b, err)
		}
		out[b] = make([]Hypothesis, len(hs))
		for i, h := range hs {
			hyp := h.hypothesis(lc)
			hyp.Attention = compose(char.Attention, hyp.Attention)
			sub := char
			hyp.Sub = &sub
			out[b][i] = hyp
		}
	}
	return out, nil
}

// force feeds labels through model and returns their history and total
// log-probability, EOS included.
func force(model StepModel, mem *mat.Dense, n int, labels []int) (*node, float64, error) {
	st, err := model.Start(mem, n)
	if err != nil {
		return nil, 0, err
	}
	var (
		hist  *node
		score float64
	)
	prev := model.SOS()
	for _, l := range labels {
		if l < 0 || l >= model.VocabSize() || l == model.EOS() {
			return nil, 0, fmt.Errorf("decoder: label %d outside the vocabulary", l)
		}
		var out StepOutput
		out, st = model.Step(st, prev)
		score += out.LogProbs[l]
		hist = hist.push(l, out.Attention, out.Hidden)
		prev = l
	}
	out, _ := model.Step(st, prev)
	return hist, score + out.LogProbs[model.EOS()], nil
}
