// Package dataset serves utterances to the evaluation harness, either from
// memory or from a manifest of WAV files.
package dataset

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/asr-seq2seq/encoder"
	"github.com/ieee0824/asr-seq2seq/eval"
	"github.com/ieee0824/asr-seq2seq/internal/mathutil"
	"github.com/ieee0824/asr-seq2seq/lexicon"
)

// Utterance is one item of a dataset. Features has one row per frame.
type Utterance struct {
	ID        string
	Features  *mat.Dense
	Labels    []int
	LabelsSub []int
	Text      string
	TextSub   string
}

// SortOrder controls the iteration order of a dataset.
type SortOrder int

const (
	Unsorted   SortOrder = iota
	Ascending            // shortest utterance first
	Descending           // longest utterance first
)

// Vocab holds the symbol tables used to map indices to transcripts.
type Vocab struct {
	Words  *lexicon.Vocabulary
	Chars  *lexicon.Vocabulary
	Phones *lexicon.Vocabulary
}

func (v Vocab) forLabel(l eval.LabelType) *lexicon.Vocabulary {
	switch l {
	case eval.Word:
		return v.Words
	case eval.Phone:
		return v.Phones
	case eval.Character, eval.CharacterWB:
		return v.Chars
	}
	return nil
}

// Options describes the labels of a dataset.
type Options struct {
	LabelType    eval.LabelType
	LabelTypeSub eval.LabelType // empty when there is no sub task
	Test         bool           // references are plain text
	Sort         SortOrder
	Vocab        Vocab
}

func (o *Options) validate() error {
	var errs []error
	if !o.LabelType.Valid() {
		errs = append(errs, fmt.Errorf("unknown label type %q", o.LabelType))
	} else if o.Vocab.forLabel(o.LabelType) == nil {
		errs = append(errs, fmt.Errorf("no vocabulary for %s labels", o.LabelType))
	}
	if o.LabelTypeSub != "" && !o.LabelTypeSub.Valid() {
		errs = append(errs, fmt.Errorf("unknown sub label type %q", o.LabelTypeSub))
	}
	return errors.Join(errs...)
}

// Memory is an in-memory eval.Dataset. It is not safe for concurrent use.
type Memory struct {
	opts      Options
	utts      []Utterance
	order     []int
	cursor    int
	inputSize int
}

var _ eval.Dataset = (*Memory)(nil)

// New builds a dataset over utts. Every utterance needs at least one frame
// and all feature matrices must share a dimension.
func New(utts []Utterance, opts Options) (*Memory, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	if len(utts) == 0 {
		return nil, errors.New("dataset: no utterances")
	}
	d := &Memory{opts: opts, utts: utts, inputSize: mathutil.Cols(utts[0].Features)}
	for _, u := range utts {
		if mathutil.Rows(u.Features) == 0 {
			return nil, fmt.Errorf("dataset: utterance %q has no frames", u.ID)
		}
		if c := mathutil.Cols(u.Features); c != d.inputSize {
			return nil, fmt.Errorf("dataset: utterance %q has %d feature columns, want %d", u.ID, c, d.inputSize)
		}
	}

	d.order = make([]int, len(utts))
	for i := range d.order {
		d.order[i] = i
	}
	if opts.Sort != Unsorted {
		slices.SortStableFunc(d.order, func(a, b int) int {
			c := cmp.Compare(mathutil.Rows(utts[a].Features), mathutil.Rows(utts[b].Features))
			if opts.Sort == Descending {
				c = -c
			}
			return c
		})
	}
	return d, nil
}

// Reset rewinds iteration to the first utterance.
func (d *Memory) Reset() { d.cursor = 0 }

// Clone returns a dataset with its own cursor over the same utterances.
// Feature matrices are shared and must not be modified.
func (d *Memory) Clone() *Memory {
	c := *d
	c.cursor = 0
	return &c
}

// Next returns up to batchSize utterances padded into one feature batch. The
// second result is true on the batch that completes the epoch, after which
// iteration starts over.
func (d *Memory) Next(batchSize int) (*eval.Batch, bool, error) {
	if batchSize <= 0 {
		return nil, false, fmt.Errorf("dataset: batch size %d must be positive", batchSize)
	}
	end := min(d.cursor+batchSize, len(d.order))
	idx := d.order[d.cursor:end]

	maxLen := 0
	for _, i := range idx {
		maxLen = max(maxLen, mathutil.Rows(d.utts[i].Features))
	}

	b := &eval.Batch{
		IDs: make([]string, len(idx)),
		Features: encoder.Batch{
			Inputs:  make([]*mat.Dense, len(idx)),
			Lengths: make([]int, len(idx)),
		},
		Labels:    make([][]int, len(idx)),
		LabelsSub: make([][]int, len(idx)),
		Texts:     make([]string, len(idx)),
		TextsSub:  make([]string, len(idx)),
	}
	for k, i := range idx {
		u := &d.utts[i]
		n := mathutil.Rows(u.Features)
		b.IDs[k] = u.ID
		b.Features.Inputs[k] = mathutil.PadRows(u.Features, n, maxLen)
		b.Features.Lengths[k] = n
		b.Labels[k], b.LabelsSub[k] = u.Labels, u.LabelsSub
		b.Texts[k], b.TextsSub[k] = u.Text, u.TextSub
	}

	d.cursor = end
	newEpoch := d.cursor >= len(d.order)
	if newEpoch {
		d.cursor = 0
	}
	return b, newEpoch, nil
}

func (d *Memory) IdxToWord(ids []int) string  { return decode(d.opts.Vocab.Words, ids, lexicon.Space) }
func (d *Memory) IdxToChar(ids []int) string  { return decode(d.opts.Vocab.Chars, ids, "") }
func (d *Memory) IdxToPhone(ids []int) string { return decode(d.opts.Vocab.Phones, ids, lexicon.Space) }

func (d *Memory) WordToIdx(text string) []int {
	if d.opts.Vocab.Words == nil {
		return nil
	}
	return d.opts.Vocab.Words.EncodeWords(text)
}

func (d *Memory) CharToIdx(text string) []int {
	if d.opts.Vocab.Chars == nil {
		return nil
	}
	return d.opts.Vocab.Chars.EncodeChars(text)
}

func (d *Memory) LabelType() eval.LabelType    { return d.opts.LabelType }
func (d *Memory) LabelTypeSub() eval.LabelType { return d.opts.LabelTypeSub }
func (d *Memory) IsTest() bool                 { return d.opts.Test }
func (d *Memory) Len() int                     { return len(d.utts) }

// NumClasses returns the vocabulary size of the main task.
func (d *Memory) NumClasses() int {
	return d.opts.Vocab.forLabel(d.opts.LabelType).Len()
}

// InputSize returns the feature dimension.
func (d *Memory) InputSize() int { return d.inputSize }

func decode(v *lexicon.Vocabulary, ids []int, sep string) string {
	if v == nil {
		return ""
	}
	return v.Decode(ids, sep)
}

// encodeText maps a transcript to indices of the given label type.
func encodeText(v Vocab, l eval.LabelType, text string) []int {
	voc := v.forLabel(l)
	if voc == nil {
		return nil
	}
	switch l {
	case eval.Word, eval.Phone:
		return voc.EncodeWords(text)
	}
	return voc.EncodeChars(text)
}
