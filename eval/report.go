package eval

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/ieee0824/asr-seq2seq/metric"
	"github.com/ieee0824/asr-seq2seq/unk"
)

// UtteranceResult is the scored outcome of one utterance. Ref and Hyp are
// normalised.
type UtteranceResult struct {
	ID         string
	Ref        string
	Hyp        string
	Counts     map[metric.Granularity]metric.Counts
	Similarity float64
	Skipped    bool // the reference was empty for every metric
}

// Errors returns the error count of the first metric that scored the utterance.
func (u *UtteranceResult) Errors(order []metric.Granularity) int {
	for _, g := range order {
		if c, ok := u.Counts[g]; ok {
			return c.Errors()
		}
	}
	return 0
}

// Report is the result of an evaluation pass.
type Report struct {
	Tallies    []*metric.Tally
	Utterances []UtteranceResult
	UNK        unk.Stats
}

func newReport(grans []metric.Granularity) *Report {
	r := &Report{}
	for _, g := range grans {
		r.Tallies = append(r.Tallies, metric.NewTally(g))
	}
	return r
}

func (r *Report) order() []metric.Granularity {
	out := make([]metric.Granularity, len(r.Tallies))
	for i, t := range r.Tallies {
		out[i] = t.Granularity
	}
	return out
}

func (r *Report) score(u *UtteranceResult, log *slog.Logger) {
	u.Counts = make(map[metric.Granularity]metric.Counts, len(r.Tallies))
	for _, t := range r.Tallies {
		c, err := metric.Score(t.Granularity, u.Ref, u.Hyp)
		if err != nil {
			t.Skip()
			log.Debug("utterance skipped", "id", u.ID, "metric", t.Granularity.Name(), "err", err)
			continue
		}
		t.Add(c)
		u.Counts[t.Granularity] = c
	}
	u.Skipped = len(u.Counts) == 0
	u.Similarity = metric.Similarity(u.Ref, u.Hyp)
	r.Utterances = append(r.Utterances, *u)
}

// Tally returns the tally of g, or nil when g was not evaluated.
func (r *Report) Tally(g metric.Granularity) *metric.Tally {
	for _, t := range r.Tallies {
		if t.Granularity == g {
			return t
		}
	}
	return nil
}

// Worst returns up to n scored utterances with the most errors; ties go to
// the lower similarity, then to the smaller ID.
func (r *Report) Worst(n int) []UtteranceResult {
	order := r.order()
	out := make([]UtteranceResult, 0, len(r.Utterances))
	for _, u := range r.Utterances {
		if !u.Skipped {
			out = append(out, u)
		}
	}
	slices.SortStableFunc(out, func(a, b UtteranceResult) int {
		if c := cmp.Compare(b.Errors(order), a.Errors(order)); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Similarity, b.Similarity); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out[:min(n, len(out))]
}

func (r *Report) String() string {
	var sb strings.Builder
	for _, t := range r.Tallies {
		fmt.Fprintln(&sb, t)
	}
	if r.UNK.Placeholders > 0 {
		fmt.Fprintf(&sb, "UNK: %d placeholders, %d resolved, %d unresolved\n",
			r.UNK.Placeholders, r.UNK.Resolved, r.UNK.Unresolved)
	}
	return sb.String()
}
