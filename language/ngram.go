package language

import (
	"maps"
	"slices"
	"strings"

	"github.com/ieee0824/asr-seq2seq/internal/mathutil"
)

// Reserved words of the ARPA vocabulary.
const (
	BOS     = "<s>"
	EOSWord = "</s>"
	UnkWord = "<unk>"
)

// NGramModel is a backoff n-gram language model of any order.
// Log probabilities are natural log.
type NGramModel struct {
	Order int
	grams []map[string]ngramEntry // grams[k-1] holds k-grams keyed by space-joined words
}

type ngramEntry struct {
	LogProb    float64
	LogBackoff float64
}

// NewNGramModel creates an empty n-gram model.
func NewNGramModel(order int) *NGramModel {
	m := &NGramModel{Order: order}
	m.grow(order)
	return m
}

func (m *NGramModel) grow(order int) {
	for len(m.grams) < order {
		m.grams = append(m.grams, make(map[string]ngramEntry))
	}
	if order > m.Order {
		m.Order = order
	}
}

func (m *NGramModel) set(words []string, e ngramEntry) {
	m.grow(len(words))
	m.grams[len(words)-1][strings.Join(words, " ")] = e
}

// Entry returns the stored log probability and backoff weight of an n-gram.
func (m *NGramModel) Entry(words ...string) (logProb, logBackoff float64, ok bool) {
	if len(words) == 0 || len(words) > len(m.grams) {
		return 0, 0, false
	}
	e, ok := m.grams[len(words)-1][strings.Join(words, " ")]
	return e.LogProb, e.LogBackoff, ok
}

// Count returns the number of stored n-grams of the given order.
func (m *NGramModel) Count(order int) int {
	if order < 1 || order > len(m.grams) {
		return 0
	}
	return len(m.grams[order-1])
}

// LogProb returns the log probability of a word given its history.
// Uses backoff when the exact n-gram is not found.
func (m *NGramModel) LogProb(history []string, word string) float64 {
	if n := max(m.Order-1, 0); len(history) > n {
		history = history[len(history)-n:]
	}
	return m.logProb(history, word)
}

func (m *NGramModel) logProb(h []string, word string) float64 {
	if len(h) == 0 {
		if len(m.grams) == 0 {
			return mathutil.LogZero
		}
		if e, ok := m.grams[0][word]; ok {
			return e.LogProb
		}
		if e, ok := m.grams[0][UnkWord]; ok {
			return e.LogProb
		}
		return mathutil.LogZero
	}
	ctx := strings.Join(h, " ")
	if len(h) < len(m.grams) {
		if e, ok := m.grams[len(h)][ctx+" "+word]; ok {
			return e.LogProb
		}
	}
	var bow float64
	if e, ok := m.grams[len(h)-1][ctx]; ok {
		bow = e.LogBackoff
	}
	return bow + m.logProb(h[1:], word)
}

// SentenceLogProb returns the total log probability of a sentence (word sequence).
// Automatically adds <s> at the beginning and </s> at the end.
func (m *NGramModel) SentenceLogProb(words []string) float64 {
	total := 0.0
	history := []string{BOS}
	for _, w := range words {
		total += m.LogProb(history, w)
		history = append(history, w)
	}
	total += m.LogProb(history, EOSWord)
	return total
}

// Vocab returns the unigram vocabulary in sorted order.
func (m *NGramModel) Vocab() []string {
	if len(m.grams) == 0 {
		return nil
	}
	return slices.Sorted(maps.Keys(m.grams[0]))
}
