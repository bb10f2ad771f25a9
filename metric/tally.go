package metric

import (
	"errors"
	"fmt"
	"strings"
)

// Granularity selects the unit an error rate is computed over.
type Granularity string

const (
	Word  Granularity = "word"
	Char  Granularity = "char"
	Phone Granularity = "phone"
)

// Name returns the conventional metric name, e.g. WER.
func (g Granularity) Name() string {
	switch g {
	case Word:
		return "WER"
	case Char:
		return "CER"
	case Phone:
		return "PER"
	}
	return strings.ToUpper(string(g))
}

// ErrEmptyReference is returned when a normalised reference has no units.
var ErrEmptyReference = errors.New("metric: empty reference")

// Units splits a normalised transcript into the units of g. Words and phones
// are Separator-delimited; characters exclude separators.
func (g Granularity) Units(s string) []string {
	if g == Char {
		s = strings.ReplaceAll(s, Separator, "")
		out := make([]string, 0, len(s))
		for _, r := range s {
			out = append(out, string(r))
		}
		return out
	}
	if s == "" {
		return nil
	}
	return strings.Split(s, Separator)
}

// Score aligns hyp against ref at granularity g. Both strings must already be
// normalised.
func Score(g Granularity, ref, hyp string) (Counts, error) {
	r := g.Units(ref)
	if len(r) == 0 {
		return Counts{}, fmt.Errorf("%s: %w", g.Name(), ErrEmptyReference)
	}
	c, _ := Align(r, g.Units(hyp))
	return c, nil
}

// Tally accumulates error counts over an evaluation pass.
type Tally struct {
	Granularity Granularity
	Sub         int
	Ins         int
	Del         int
	RefUnits    int
	Utterances  int
	Skipped     int
}

// NewTally returns an empty tally for g.
func NewTally(g Granularity) *Tally {
	return &Tally{Granularity: g}
}

// Add accumulates one utterance.
func (t *Tally) Add(c Counts) {
	t.Sub += c.Sub
	t.Ins += c.Ins
	t.Del += c.Del
	t.RefUnits += c.Ref
	t.Utterances++
}

// Skip records an utterance that could not be scored.
func (t *Tally) Skip() { t.Skipped++ }

// Merge adds the counts of o.
func (t *Tally) Merge(o *Tally) {
	t.Sub += o.Sub
	t.Ins += o.Ins
	t.Del += o.Del
	t.RefUnits += o.RefUnits
	t.Utterances += o.Utterances
	t.Skipped += o.Skipped
}

func (t *Tally) ratio(n int) (float64, bool) {
	if t.RefUnits == 0 {
		return 0, false
	}
	return float64(n) / float64(t.RefUnits), true
}

// Rate returns (Sub+Ins+Del)/RefUnits. With no reference units it returns
// 0 and false.
func (t *Tally) Rate() (float64, bool) { return t.ratio(t.Sub + t.Ins + t.Del) }

func (t *Tally) SubRate() (float64, bool) { return t.ratio(t.Sub) }
func (t *Tally) InsRate() (float64, bool) { return t.ratio(t.Ins) }
func (t *Tally) DelRate() (float64, bool) { return t.ratio(t.Del) }

func (t *Tally) String() string {
	rate, ok := t.Rate()
	if !ok {
		return fmt.Sprintf("%s: n/a (%d utterances, %d skipped)", t.Granularity.Name(), t.Utterances, t.Skipped)
	}
	sub, _ := t.SubRate()
	ins, _ := t.InsRate()
	del, _ := t.DelRate()
	return fmt.Sprintf("%s: %.2f%% (sub %.2f%%, ins %.2f%%, del %.2f%%; %d utterances, %d skipped)",
		t.Granularity.Name(), 100*rate, 100*sub, 100*ins, 100*del, t.Utterances, t.Skipped)
}
