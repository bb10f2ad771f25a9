package language

import "github.com/ieee0824/asr-seq2seq/internal/mathutil"

// State is an opaque language model state. Implementations return fresh
// values from Next and never mutate a state they handed out, so beams can
// branch from any state.
type State any

// Scorer scores tokens for shallow fusion during beam search. Token indices
// are in the decoder's output space, which includes the end-of-sequence index.
type Scorer interface {
	// Start returns the state before the first token.
	Start() State
	// Score returns log p(token | state) in natural log.
	Score(st State, token int) float64
	// Next returns the state after token has been emitted.
	Next(st State, token int) State
}

// SequenceLogProb scores tokens followed by eos.
func SequenceLogProb(s Scorer, tokens []int, eos int) float64 {
	st := s.Start()
	total := 0.0
	for _, tok := range tokens {
		total += s.Score(st, tok)
		st = s.Next(st, tok)
	}
	return total + s.Score(st, eos)
}

// DefaultOOVLogProb is the log probability NGramScorer assigns to a word the
// model has no estimate for.
const DefaultOOVLogProb = -20.0

// NGramScorer maps decoder token indices onto the words of an NGramModel.
// Index EOS scores as </s>; indices outside Words score as <unk>.
type NGramScorer struct {
	Model      *NGramModel
	Words      []string
	EOS        int
	OOVLogProb float64
}

// NewNGramScorer adapts m to a token vocabulary whose end-of-sequence index is eos.
func NewNGramScorer(m *NGramModel, words []string, eos int) *NGramScorer {
	return &NGramScorer{Model: m, Words: words, EOS: eos, OOVLogProb: DefaultOOVLogProb}
}

type ngramState struct {
	hist []string
}

func (s *NGramScorer) word(token int) string {
	switch {
	case token == s.EOS:
		return EOSWord
	case token >= 0 && token < len(s.Words):
		return s.Words[token]
	}
	return UnkWord
}

func (s *NGramScorer) Start() State {
	return ngramState{hist: []string{BOS}}
}

func (s *NGramScorer) Score(st State, token int) float64 {
	lp := s.Model.LogProb(st.(ngramState).hist, s.word(token))
	if lp <= mathutil.LogZero/2 {
		return s.OOVLogProb
	}
	return lp
}

func (s *NGramScorer) Next(st State, token int) State {
	hist := st.(ngramState).hist
	keep := max(s.Model.Order-2, 0)
	if len(hist) > keep {
		hist = hist[len(hist)-keep:]
	}
	next := make([]string, 0, keep+1)
	next = append(next, hist...)
	return ngramState{hist: append(next, s.word(token))}
}
