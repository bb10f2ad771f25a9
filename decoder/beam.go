package decoder

import (
	"context"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/asr-seq2seq/internal/mathutil"
	"github.com/ieee0824/asr-seq2seq/language"
)

// extender lets a mode add score terms to every extension of a hypothesis.
// aux is the mode's per-hypothesis state; it is never mutated.
type extender interface {
	// extend scores emitting token after parent. It may replace the token
	// and may reject the extension.
	extend(parent any, token int, first bool) (extra float64, tok int, aux any, ok bool)
	// finish scores ending the sequence after parent.
	finish(parent any) (extra float64, aux any)
}

// beamHyp is a partial or finished hypothesis inside one search.
type beamHyp struct {
	hist      *node
	state     State
	lmState   language.State
	lmPending bool // lmState still holds the state before hist.token
	aux       any
	model     float64
	lm        float64
	extra     float64
	cov       []float64
	total     float64
	finished  bool
}

// search is one beam search of a StepModel over a memory.
type search struct {
	model   StepModel
	cfg     Config
	ext     extender
	rootAux any
}

func (s *search) run(ctx context.Context, memory *mat.Dense, n int) ([]*beamHyp, error) {
	st, err := s.model.Start(memory, n)
	if err != nil {
		return nil, err
	}
	cfg := &s.cfg
	maxLen := cfg.maxLen(n)
	root := &beamHyp{state: st, cov: make([]float64, n), aux: s.rootAux}
	if cfg.fusion() {
		root.lmState = cfg.LM.Start()
	}

	live := []*beamHyp{root}
	var finished []*beamHyp
	for len(live) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var cands []*beamHyp
		for _, h := range live {
			cands = append(cands, s.expand(h, maxLen)...)
		}
		sortHyps(cands)
		if len(cands) > cfg.BeamWidth {
			cands = cands[:cfg.BeamWidth]
		}

		var next []*beamHyp
		for _, c := range cands {
			if c.finished {
				finished = append(finished, c)
				continue
			}
			if c.lmPending {
				c.lmState = cfg.LM.Next(c.lmState, c.hist.token)
				c.lmPending = false
			}
			next = append(next, c)
		}
		sortHyps(finished)
		if len(finished) >= cfg.BeamWidth {
			finished = finished[:cfg.BeamWidth]
			if len(next) == 0 || next[0].total < finished[len(finished)-1].total {
				break
			}
		}
		live = next
	}
	return finished, nil
}

// expand scores EOS and the best token extensions of h.
func (s *search) expand(h *beamHyp, maxLen int) []*beamHyp {
	cfg := &s.cfg
	eos := s.model.EOS()
	prev := s.model.SOS()
	if h.hist != nil {
		prev = h.hist.token
	}
	out, next := s.model.Step(h.state, prev)
	length := h.hist.len()

	var cands []*beamHyp
	if length >= cfg.MinLen {
		c := &beamHyp{
			hist: h.hist, state: next, lmState: h.lmState, aux: h.aux,
			model: h.model + out.LogProbs[eos], lm: h.lm, extra: h.extra,
			cov: h.cov, finished: true,
		}
		if cfg.fusion() {
			c.lm += cfg.LM.Score(h.lmState, eos)
		}
		if s.ext != nil {
			e, aux := s.ext.finish(h.aux)
			c.extra += e
			c.aux = aux
		}
		c.total = s.score(c)
		cands = append(cands, c)
	}

	cov := make([]float64, len(h.cov))
	for i := range cov {
		cov[i] = h.cov[i]
		if i < len(out.Attention) {
			cov[i] += out.Attention[i]
		}
	}

	ranked := append([]float64(nil), out.LogProbs...)
	var lmScores []float64
	if cfg.fusion() {
		lmScores = make([]float64, len(ranked))
		for v := range ranked {
			if v == eos {
				continue
			}
			lmScores[v] = cfg.LM.Score(h.lmState, v)
			ranked[v] += cfg.LMWeight * lmScores[v]
		}
	}
	ranked[eos] = mathutil.LogZero

	// Tokens are tried best first until BeamWidth extensions are accepted,
	// so a rejected token gives its place to the next ranked one.
	accepted := 0
	for _, v := range mathutil.TopK(ranked, len(ranked)) {
		if accepted == cfg.BeamWidth {
			break
		}
		if v == eos {
			continue
		}
		c := &beamHyp{
			state: next, lmState: h.lmState, lmPending: cfg.fusion(), aux: h.aux,
			model: h.model + out.LogProbs[v], lm: h.lm, extra: h.extra, cov: cov,
		}
		if lmScores != nil {
			c.lm += lmScores[v]
		}
		tok := v
		if s.ext != nil {
			e, t, aux, ok := s.ext.extend(h.aux, v, length == 0)
			if !ok {
				continue
			}
			c.extra += e
			tok = t
			c.aux = aux
		}
		c.hist = h.hist.push(tok, out.Attention, out.Hidden)
		c.finished = c.hist.len() >= maxLen
		c.total = s.score(c)
		cands = append(cands, c)
		accepted++
	}
	return cands
}

// score is the ranking score of a hypothesis:
// model + LMWeight·lm + extra + LengthPenalty·len + CoveragePenalty·coverage.
func (s *search) score(h *beamHyp) float64 {
	cfg := &s.cfg
	total := h.model + cfg.LMWeight*h.lm + h.extra + cfg.LengthPenalty*float64(h.hist.len())
	if cfg.CoveragePenalty != 0 {
		total += cfg.CoveragePenalty * coverage(h.cov, cfg.CoverageThreshold)
	}
	return total
}

// coverage sums the accumulated attention per position, each capped at
// threshold. A threshold of 0 caps at 1, so attending a position again
// after it was fully covered adds nothing.
func coverage(cov []float64, threshold float64) float64 {
	if threshold <= 0 {
		threshold = 1
	}
	sum := 0.0
	for _, c := range cov {
		sum += min(c, threshold)
	}
	return sum
}

func sortHyps(hs []*beamHyp) {
	slices.SortStableFunc(hs, func(a, b *beamHyp) int {
		switch {
		case a.total > b.total:
			return -1
		case a.total < b.total:
			return 1
		}
		if la, lb := a.hist.len(), b.hist.len(); la != lb {
			return la - lb
		}
		return slices.Compare(a.hist.tokens(), b.hist.tokens())
	})
}

func (h *beamHyp) hypothesis(rows int) Hypothesis {
	return Hypothesis{
		Tokens:     h.hist.tokens(),
		Score:      h.total,
		ModelScore: h.model,
		LMScore:    h.lm,
		Attention:  h.hist.attention(rows),
	}
}
