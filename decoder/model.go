package decoder

import "gonum.org/v1/gonum/mat"

// State is an opaque decoder state. A StepModel never mutates a state it
// returned, so any number of hypotheses may branch from it.
type State any

// StepOutput is the result of one decoder step.
type StepOutput struct {
	LogProbs  []float64 // log-probabilities over the output vocabulary, EOS included
	Attention []float64 // weights over the memory rows, summing to one
	Hidden    []float64 // decoder output vector; memory of a nested decoder
}

// StepModel is an attention decoder evaluated one token at a time.
type StepModel interface {
	// Start prepares decoding over the first n rows of memory.
	Start(memory *mat.Dense, n int) (State, error)
	// Step feeds the previously emitted token and returns the next
	// distribution together with the state that follows it.
	Step(st State, prev int) (StepOutput, State)
	// VocabSize is the length of StepOutput.LogProbs.
	VocabSize() int
	// SOS is the token fed at the first step.
	SOS() int
	// EOS is the end-of-sequence token.
	EOS() int
}
