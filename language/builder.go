package language

import (
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"strings"
)

// Builder accumulates sentences and estimates an N-gram language model
// with Witten-Bell smoothing.
type Builder struct {
	order  int
	counts []map[string]int // counts[k-1]: space-joined k-gram -> count
}

// NewBuilder creates a new N-gram builder. Orders below 1 are raised to 1.
func NewBuilder(order int) *Builder {
	order = max(order, 1)
	b := &Builder{order: order, counts: make([]map[string]int, order)}
	for k := range b.counts {
		b.counts[k] = make(map[string]int)
	}
	return b
}

// Order returns the highest n-gram order counted.
func (b *Builder) Order() int { return b.order }

// AddSentence adds a tokenized sentence. <s> and </s> are added automatically.
func (b *Builder) AddSentence(words []string) {
	if len(words) == 0 {
		return
	}
	seq := make([]string, 0, len(words)+2)
	seq = append(seq, BOS)
	seq = append(seq, words...)
	seq = append(seq, EOSWord)

	for i := range seq {
		for k := 1; k <= b.order && k <= i+1; k++ {
			b.counts[k-1][strings.Join(seq[i-k+1:i+1], " ")]++
		}
	}
}

// estimator holds linear-domain probabilities and backoff ratios per order.
type estimator struct {
	p   []map[string]float64
	bow []map[string]float64
}

func (e *estimator) prob(key string, k int) float64 {
	if p, ok := e.p[k-1][key]; ok {
		return p
	}
	if k == 1 {
		return 0
	}
	ctx := key[:strings.LastIndexByte(key, ' ')]
	bo := 1.0
	if w, ok := e.bow[k-2][ctx]; ok {
		bo = w
	}
	return bo * e.prob(key[strings.IndexByte(key, ' ')+1:], k-1)
}

func (b *Builder) estimate() *estimator {
	e := &estimator{
		p:   make([]map[string]float64, b.order),
		bow: make([]map[string]float64, b.order),
	}

	total := 0
	for _, c := range b.counts[0] {
		total += c
	}
	e.p[0] = make(map[string]float64, len(b.counts[0]))
	for w, c := range b.counts[0] {
		e.p[0][w] = float64(c) / float64(total)
	}

	// children[k][ctx] lists the words seen after the k-gram ctx.
	children := make([]map[string][]string, b.order)
	for k := 2; k <= b.order; k++ {
		ctxTotal := make(map[string]int)
		children[k-1] = make(map[string][]string)
		for key, c := range b.counts[k-1] {
			i := strings.LastIndexByte(key, ' ')
			ctxTotal[key[:i]] += c
			children[k-1][key[:i]] = append(children[k-1][key[:i]], key[i+1:])
		}
		e.p[k-1] = make(map[string]float64, len(b.counts[k-1]))
		for key, c := range b.counts[k-1] {
			ctx := key[:strings.LastIndexByte(key, ' ')]
			n, t := ctxTotal[ctx], len(children[k-1][ctx])
			e.p[k-1][key] = float64(c) / float64(n+t)
		}
	}

	// Backoff ratios, lowest order first: the lower-order distribution of
	// order k needs the ratios of order k-1.
	for k := 1; k < b.order; k++ {
		e.bow[k-1] = make(map[string]float64)
		for ctx, words := range children[k] {
			suffix := ""
			if i := strings.IndexByte(ctx, ' '); i >= 0 {
				suffix = ctx[i+1:] + " "
			}
			var sumHi, sumLo float64
			for _, w := range words {
				sumHi += e.p[k][ctx+" "+w]
				sumLo += e.prob(suffix+w, k)
			}
			if sumLo < 1 && sumHi < 1 {
				e.bow[k-1][ctx] = (1 - sumHi) / (1 - sumLo)
			}
		}
	}
	return e
}

// Build estimates the model directly, without an ARPA round trip.
func (b *Builder) Build() *NGramModel {
	e := b.estimate()
	m := NewNGramModel(b.order)
	for k := 1; k <= b.order; k++ {
		for key, p := range e.p[k-1] {
			entry := ngramEntry{LogProb: math.Log(p)}
			if k < b.order {
				if w, ok := e.bow[k-1][key]; ok {
					entry.LogBackoff = math.Log(w)
				}
			}
			m.set(strings.Fields(key), entry)
		}
	}
	return m
}

// WriteARPA writes the model in ARPA format (log10 probabilities) to w.
func (b *Builder) WriteARPA(w io.Writer) error {
	e := b.estimate()
	bw := &errWriter{w: w}

	bw.printf("\\data\\\n")
	for k := 1; k <= b.order; k++ {
		if len(e.p[k-1]) > 0 {
			bw.printf("ngram %d=%d\n", k, len(e.p[k-1]))
		}
	}
	bw.printf("\n")

	for k := 1; k <= b.order; k++ {
		if len(e.p[k-1]) == 0 {
			continue
		}
		bw.printf("\\%d-grams:\n", k)
		for _, key := range slices.Sorted(maps.Keys(e.p[k-1])) {
			lp := math.Log10(e.p[k-1][key])
			if bo, ok := e.bow[k-1][key]; ok && k < b.order && bo != 1 {
				bw.printf("%.6f\t%s\t%.6f\n", lp, key, math.Log10(bo))
			} else {
				bw.printf("%.6f\t%s\n", lp, key)
			}
		}
		bw.printf("\n")
	}
	bw.printf("\\end\\\n")
	return bw.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
