package decoder

import (
	"context"
	"fmt"

	"github.com/ieee0824/asr-seq2seq/encoder"
	"github.com/ieee0824/asr-seq2seq/internal/mathutil"
)

// spelling is the character decoder's view of a word hypothesis.
type spelling struct {
	state State // ready to be stepped with prev
	prev  int
	hist  *node
	score float64 // sum of character log-probabilities
}

// jointExtender spells every word extension through the character decoder.
type jointExtender struct {
	chars    StepModel
	mode     Joint
	maxSpell int
}

func (j *jointExtender) feed(sp *spelling, seq []int) *spelling {
	next := *sp
	for _, c := range seq {
		out, st := j.chars.Step(next.state, next.prev)
		next.score += out.LogProbs[c]
		next.hist = next.hist.push(c, out.Attention, out.Hidden)
		next.state, next.prev = st, c
	}
	return &next
}

func (j *jointExtender) extend(parent any, token int, first bool) (float64, int, any, bool) {
	sp := parent.(*spelling)
	if !first {
		sp = j.feed(sp, []int{j.mode.SpaceIndex})
	}

	if token == j.mode.OOVIndex {
		// Let the character decoder spell the unknown word up to the separator.
		var spelled []int
		cur := sp
		for len(spelled) < j.maxSpell {
			out, _ := j.chars.Step(cur.state, cur.prev)
			c := mathutil.ArgMax(out.LogProbs)
			if c == j.mode.SpaceIndex || c == j.chars.EOS() {
				break
			}
			cur = j.feed(cur, []int{c})
			spelled = append(spelled, c)
		}
		if len(spelled) == 0 {
			return 0, token, nil, false
		}
		if w, ok := j.mode.Lexicon.Lookup(spelled); ok {
			token = w
		}
		return j.mode.SubWeight * (cur.score - parent.(*spelling).score), token, cur, true
	}

	chars, ok := j.mode.Lexicon.Spell(token)
	if !ok || len(chars) == 0 {
		return 0, token, nil, false
	}
	next := j.feed(sp, chars)
	return j.mode.SubWeight * (next.score - parent.(*spelling).score), token, next, true
}

func (j *jointExtender) finish(parent any) (float64, any) {
	sp := parent.(*spelling)
	out, st := j.chars.Step(sp.state, sp.prev)
	lp := out.LogProbs[j.chars.EOS()]
	return j.mode.SubWeight * lp, &spelling{state: st, prev: j.chars.EOS(), hist: sp.hist, score: sp.score + lp}
}

func (d *Decoder) decodeJoint(ctx context.Context, enc *encoder.Encoded, m Joint) ([][]Hypothesis, error) {
	out := make([][]Hypothesis, len(enc.Outputs))
	for b := range enc.Outputs {
		subMem, subLen := enc.Sub.Outputs[b], enc.Sub.Lengths[b]
		st, err := d.sub.Start(subMem, subLen)
		if err != nil {
			return nil, fmt.Errorf("utterance %d: %w", b, err)
		}
		s := &search{
			model:   d.main,
			cfg:     m.Search,
			ext:     &jointExtender{chars: d.sub, mode: m, maxSpell: subLen},
			rootAux: &spelling{state: st, prev: d.sub.SOS()},
		}
		n := enc.Lengths[b]
		hs, err := s.run(ctx, enc.Outputs[b], n)
		if err != nil {
			return nil, fmt.Errorf("utterance %d: %w", b, err)
		}
		out[b] = make([]Hypothesis, len(hs))
		for i, h := range hs {
			hyp := h.hypothesis(n)
			sp := h.aux.(*spelling)
			hyp.Sub = &Hypothesis{
				Tokens:     sp.hist.tokens(),
				Score:      sp.score,
				ModelScore: sp.score,
				Attention:  sp.hist.attention(subLen),
			}
			out[b][i] = hyp
		}
	}
	return out, nil
}
