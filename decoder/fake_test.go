package decoder

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/asr-seq2seq/encoder"
	"github.com/ieee0824/asr-seq2seq/language"
)

// scripted is a StepModel whose next-token distribution depends only on the
// tokens emitted so far. Token vocab-1 is EOS; unlisted tokens get a tiny
// probability. Attention is one-hot on the current output position.
type scripted struct {
	vocab int
	next  func(prefix []int) map[int]float64
}

type scriptState struct {
	prefix []int
	n      int
}

func (m *scripted) Start(_ *mat.Dense, n int) (State, error) {
	return &scriptState{n: n}, nil
}

func (m *scripted) Step(s State, prev int) (StepOutput, State) {
	st := s.(*scriptState)
	prefix := st.prefix
	if prev != m.SOS() {
		prefix = append(slices.Clone(prefix), prev)
	}
	probs := m.next(prefix)
	logp := make([]float64, m.vocab)
	z := 0.0
	for v := range logp {
		p, ok := probs[v]
		if !ok {
			p = 1e-6
		}
		logp[v] = p
		z += p
	}
	for v := range logp {
		logp[v] = math.Log(logp[v] / z)
	}
	att := make([]float64, st.n)
	att[min(len(prefix), st.n-1)] = 1
	hidden := []float64{float64(len(prefix)), float64(prev)}
	return StepOutput{LogProbs: logp, Attention: att, Hidden: hidden}, &scriptState{prefix: prefix, n: st.n}
}

func (m *scripted) VocabSize() int { return m.vocab }
func (m *scripted) SOS() int       { return m.vocab }
func (m *scripted) EOS() int       { return m.vocab - 1 }

// sequence scripts a model that spells target and then ends.
func sequence(vocab int, target []int, p float64) *scripted {
	return &scripted{vocab: vocab, next: func(prefix []int) map[int]float64 {
		if len(prefix) < len(target) {
			return map[int]float64{target[len(prefix)]: p}
		}
		return map[int]float64{vocab - 1: p}
	}}
}

// encoded returns a batch of zero memories with the given lengths.
func encoded(lens ...int) *encoder.Encoded {
	enc := &encoder.Encoded{}
	for _, n := range lens {
		enc.Outputs = append(enc.Outputs, mat.NewDense(n, 2, nil))
		enc.Lengths = append(enc.Lengths, n)
	}
	return enc
}

func withSub(enc *encoder.Encoded, lens ...int) *encoder.Encoded {
	enc.Sub = encoded(lens...)
	return enc
}

// fixedLM assigns a fixed probability to each token regardless of history.
type fixedLM map[int]float64

func (f fixedLM) Start() language.State { return 0 }

func (f fixedLM) Score(_ language.State, token int) float64 {
	if p, ok := f[token]; ok {
		return math.Log(p)
	}
	return math.Log(1e-3)
}

func (f fixedLM) Next(st language.State, _ int) language.State { return st.(int) + 1 }

// mapLexicon spells words through a fixed table.
type mapLexicon map[int][]int

func (l mapLexicon) Spell(w int) ([]int, bool) {
	c, ok := l[w]
	return c, ok
}

func (l mapLexicon) Lookup(chars []int) (int, bool) {
	for w, c := range l {
		if slices.Equal(c, chars) {
			return w, true
		}
	}
	return 0, false
}
