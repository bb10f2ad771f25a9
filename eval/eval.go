// Package eval runs a decoder over a dataset and accumulates error rates.
package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ieee0824/asr-seq2seq/decoder"
	"github.com/ieee0824/asr-seq2seq/encoder"
	"github.com/ieee0824/asr-seq2seq/internal/observe"
	"github.com/ieee0824/asr-seq2seq/metric"
	"github.com/ieee0824/asr-seq2seq/unk"
)

// Decoder decodes one feature batch. Hypotheses are returned in encoded
// order; perm[i] is the batch index of the i-th result. Nested teacher
// forcing labels are accepted in batch order.
type Decoder interface {
	DecodeBatch(ctx context.Context, b *encoder.Batch, mode decoder.Mode) ([][]decoder.Hypothesis, encoder.Permutation, error)
}

// UNKOptions enables placeholder resolution for word hypotheses.
type UNKOptions struct {
	Resolver *unk.Resolver
	// Sub configures the character search run when the decoding mode does
	// not produce character hypotheses itself.
	Sub decoder.Config
}

// Options configures one evaluation pass.
type Options struct {
	Name      string // reported on metrics, e.g. "dev"
	BatchSize int    // default 1
	Mode      decoder.Mode
	// Oracle feeds reference characters to the character decoder in
	// nested mode.
	Oracle  bool
	UNK     *UNKOptions
	Logger  *slog.Logger
	Metrics *observe.Metrics
}

func (o *Options) validate() error {
	var errs []error
	if o.Mode == nil {
		errs = append(errs, errors.New("mode is required"))
	}
	if o.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("batch size %d is negative", o.BatchSize))
	}
	if _, nested := o.Mode.(decoder.Nested); o.Oracle && !nested {
		errs = append(errs, errors.New("oracle character labels need nested mode"))
	}
	if o.UNK != nil && o.UNK.Resolver == nil {
		errs = append(errs, errors.New("unk resolution needs a resolver"))
	}
	return errors.Join(errs...)
}

// task returns which references a mode is scored against.
func task(m decoder.Mode) decoder.Task {
	if st, ok := m.(decoder.SingleTask); ok {
		return st.Task
	}
	return decoder.MainTask
}

// Evaluate drives one full pass over ds. The dataset is reset before and
// after the pass. Utterances whose normalised reference is empty are
// skipped for the affected metric.
func Evaluate(ctx context.Context, ds Dataset, dec Decoder, opts Options) (*Report, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("eval: %w", err)
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 1
	}
	log := observe.OrDefault(opts.Logger)
	m := opts.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}

	sub := task(opts.Mode) == decoder.SubTask
	labelType := ds.LabelType()
	if sub {
		labelType = ds.LabelTypeSub()
	}
	if !labelType.Valid() {
		return nil, fmt.Errorf("eval: unknown label type %q", labelType)
	}
	if opts.UNK != nil && labelType != Word {
		return nil, fmt.Errorf("eval: unk resolution needs word labels, got %q", labelType)
	}

	rep := newReport(labelType.Granularities())
	ds.Reset()
	defer ds.Reset()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, newEpoch, err := ds.Next(opts.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("eval: next batch: %w", err)
		}

		mode := opts.Mode
		if opts.Oracle {
			nm := mode.(decoder.Nested)
			nm.TeacherForcing = oracleLabels(ds, batch)
			mode = nm
		}
		hyps, perm, err := dec.DecodeBatch(ctx, &batch.Features, mode)
		if err != nil {
			return nil, fmt.Errorf("eval: decode: %w", err)
		}

		var charHyps [][]decoder.Hypothesis
		if opts.UNK != nil {
			if _, single := mode.(decoder.SingleTask); single {
				charHyps, _, err = dec.DecodeBatch(ctx, &batch.Features,
					decoder.SingleTask{Task: decoder.SubTask, Search: opts.UNK.Sub})
				if err != nil {
					return nil, fmt.Errorf("eval: decode characters: %w", err)
				}
			}
		}

		for i, orig := range perm {
			u := UtteranceResult{Ref: reference(ds, batch, orig, labelType, sub)}
			if orig < len(batch.IDs) {
				u.ID = batch.IDs[orig]
			}
			var best *decoder.Hypothesis
			if i < len(hyps) && len(hyps[i]) > 0 {
				best = &hyps[i][0]
				u.Hyp = decodeLabels(ds, labelType, best.Tokens)
			}

			if opts.UNK != nil && best != nil && opts.UNK.Resolver.Count(u.Hyp) > 0 {
				chars := best.Sub
				if charHyps != nil && i < len(charHyps) && len(charHyps[i]) > 0 {
					chars = &charHyps[i][0]
				}
				if chars != nil {
					resolved, st := opts.UNK.Resolver.Resolve(u.Hyp, chars.Tokens, best.Attention, chars.Attention)
					u.Hyp = unk.StripMarkers(resolved, opts.UNK.Resolver.Marker)
					rep.UNK.Add(st)
				} else {
					n := opts.UNK.Resolver.Count(u.Hyp)
					rep.UNK.Add(unk.Stats{Placeholders: n, Unresolved: n})
				}
			}

			u.Ref = metric.Normalize(u.Ref, metric.RefRemove...)
			u.Hyp = metric.Normalize(u.Hyp, metric.HypRemove...)
			rep.score(&u, log)
		}

		if newEpoch {
			break
		}
	}

	for _, t := range rep.Tallies {
		name := string(t.Granularity)
		if opts.Name != "" {
			name = opts.Name + "." + name
		}
		m.RecordScored(ctx, name, t.Utterances, t.Skipped)
	}
	if opts.UNK != nil {
		m.RecordUnk(ctx, rep.UNK.Resolved, rep.UNK.Unresolved)
	}
	log.Debug("evaluation finished", "name", opts.Name, "utterances", len(rep.Utterances))
	return rep, nil
}

func reference(ds Dataset, b *Batch, i int, l LabelType, sub bool) string {
	texts, labels := b.Texts, b.Labels
	if sub {
		texts, labels = b.TextsSub, b.LabelsSub
	}
	if ds.IsTest() {
		if i < len(texts) {
			return texts[i]
		}
		return ""
	}
	if i < len(labels) {
		return decodeLabels(ds, l, labels[i])
	}
	return ""
}

// oracleLabels returns the reference character indices of b in batch order.
func oracleLabels(ds Dataset, b *Batch) [][]int {
	if !ds.IsTest() {
		return b.LabelsSub
	}
	out := make([][]int, len(b.TextsSub))
	for i, text := range b.TextsSub {
		out[i] = ds.CharToIdx(text)
	}
	return out
}
