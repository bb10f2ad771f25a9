package eval

import (
	"github.com/ieee0824/asr-seq2seq/encoder"
	"github.com/ieee0824/asr-seq2seq/metric"
)

// LabelType names the unit a task's labels are written in.
type LabelType string

const (
	Word        LabelType = "word"
	Character   LabelType = "character"
	CharacterWB LabelType = "character_wb" // characters with word boundaries
	Phone       LabelType = "phone"
)

// Valid reports whether l is a known label type.
func (l LabelType) Valid() bool {
	switch l {
	case Word, Character, CharacterWB, Phone:
		return true
	}
	return false
}

// Granularities returns the error rates computed for labels of type l.
// Characters with word boundaries get both WER and CER.
func (l LabelType) Granularities() []metric.Granularity {
	switch l {
	case Word:
		return []metric.Granularity{metric.Word}
	case CharacterWB:
		return []metric.Granularity{metric.Word, metric.Char}
	case Phone:
		return []metric.Granularity{metric.Phone}
	}
	return []metric.Granularity{metric.Char}
}

// Batch is one step of dataset iteration, in dataset order.
type Batch struct {
	IDs      []string
	Features encoder.Batch
	// Labels and LabelsSub hold reference indices of the main and sub task.
	Labels    [][]int
	LabelsSub [][]int
	// Texts and TextsSub hold plain-text references; set when IsTest.
	Texts    []string
	TextsSub []string
}

// Dataset is a stateful iterator over utterances. Next returns true on the
// batch that completes an epoch.
type Dataset interface {
	Reset()
	Next(batchSize int) (*Batch, bool, error)

	IdxToWord(ids []int) string
	IdxToChar(ids []int) string
	IdxToPhone(ids []int) string
	WordToIdx(text string) []int
	CharToIdx(text string) []int

	LabelType() LabelType
	LabelTypeSub() LabelType
	// IsTest reports whether references are plain text rather than indices.
	IsTest() bool
	NumClasses() int
	Len() int
}

// decodeLabels maps indices to a transcript according to the label type.
func decodeLabels(ds Dataset, l LabelType, ids []int) string {
	switch l {
	case Word:
		return ds.IdxToWord(ids)
	case Phone:
		return ds.IdxToPhone(ids)
	}
	return ds.IdxToChar(ids)
}
