package seq2seq

import (
	"fmt"
	"math/rand"
	"path/filepath"

	"github.com/ieee0824/asr-seq2seq/config"
	"github.com/ieee0824/asr-seq2seq/dataset"
	"github.com/ieee0824/asr-seq2seq/decoder"
	"github.com/ieee0824/asr-seq2seq/eval"
	"github.com/ieee0824/asr-seq2seq/lexicon"
	"github.com/ieee0824/asr-seq2seq/unk"
)

// Experiment is a model built from a configuration file together with the
// symbol tables its outputs are read with.
type Experiment struct {
	Config  *config.Config
	Model   *Model
	Words   *lexicon.Vocabulary // main task symbols
	Chars   *lexicon.Vocabulary // nil without a character decoder
	Lexicon *lexicon.Word2Char  // nil without a character decoder
}

// Load builds and initialises the model described by cfg. Relative vocabulary
// and language model paths are resolved against dir.
func Load(cfg *config.Config, dir string, opts ...Option) (*Experiment, error) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}

	e := &Experiment{Config: cfg}
	if cfg.Vocab == "" {
		return nil, fmt.Errorf("seq2seq: vocab is required")
	}
	var err error
	if e.Words, err = lexicon.LoadVocabularyFile(resolve(cfg.Vocab)); err != nil {
		return nil, fmt.Errorf("seq2seq: %w", err)
	}
	if cfg.DecoderSub != nil {
		if cfg.VocabSub == "" {
			return nil, fmt.Errorf("seq2seq: vocab_sub is required with decoder_sub")
		}
		if e.Chars, err = lexicon.LoadVocabularyFile(resolve(cfg.VocabSub)); err != nil {
			return nil, fmt.Errorf("seq2seq: %w", err)
		}
		e.Lexicon = lexicon.NewWord2Char(e.Words, e.Chars)
	}

	spec := Spec{Nested: cfg.Eval.Mode == "nested"}
	if spec.Encoder, err = cfg.EncoderParams(); err != nil {
		return nil, err
	}
	spec.Decoder = cfg.Decoder.DecoderParams(e.Words.Len(), 0)
	if cfg.DecoderSub != nil {
		sub := cfg.DecoderSub.DecoderParams(e.Chars.Len(), 0)
		spec.DecoderSub = &sub
	}

	// LMs are opened before New so their options precede the caller's.
	rng := rand.New(rand.NewSource(cfg.Seed))
	var lmOpts []Option
	if cfg.LM != nil {
		lm := *cfg.LM
		lm.ARPA = resolve(lm.ARPA)
		s, err := lm.Open(e.Words.Symbols(), spec.Decoder.NumClasses, nil, rng)
		if err != nil {
			return nil, fmt.Errorf("seq2seq: word lm: %w", err)
		}
		lmOpts = append(lmOpts, WithLM(s))
	}
	if cfg.LMSub != nil && spec.DecoderSub != nil {
		lm := *cfg.LMSub
		lm.ARPA = resolve(lm.ARPA)
		s, err := lm.Open(e.Chars.Symbols(), spec.DecoderSub.NumClasses, nil, rng)
		if err != nil {
			return nil, fmt.Errorf("seq2seq: character lm: %w", err)
		}
		lmOpts = append(lmOpts, WithSubLM(s))
	}

	if e.Model, err = New(spec, append(lmOpts, opts...)...); err != nil {
		return nil, err
	}
	e.Model.Init(rng)
	return e, nil
}

// Mode returns the decoding mode named by eval.mode with the configured
// searches.
func (e *Experiment) Mode() (decoder.Mode, error) {
	cfg := e.Config
	main, sub := cfg.Search.SearchParams(), cfg.SearchSub.SearchParams()
	switch cfg.Eval.Mode {
	case "single":
		return decoder.SingleTask{Task: decoder.MainTask, Search: main}, nil
	case "sub":
		return decoder.SingleTask{Task: decoder.SubTask, Search: sub}, nil
	case "nested":
		return decoder.Nested{Primary: main, Secondary: sub}, nil
	case "joint":
		space, ok := e.Chars.Index(lexicon.Space)
		if !ok {
			return nil, fmt.Errorf("seq2seq: joint mode needs %q in the character vocabulary", lexicon.Space)
		}
		oov, ok := e.Words.Index(lexicon.OOV)
		if !ok {
			oov = -1
		}
		return decoder.Joint{
			Search:     main,
			SubWeight:  cfg.Eval.SubWeight,
			SpaceIndex: space,
			OOVIndex:   oov,
			Lexicon:    e.Lexicon,
		}, nil
	}
	return nil, fmt.Errorf("seq2seq: unknown mode %q", cfg.Eval.Mode)
}

// UNK returns the evaluation options for unknown word resolution, or nil
// when the file has no unk section.
func (e *Experiment) UNK() *eval.UNKOptions {
	if e.Config.UNK == nil || e.Chars == nil {
		return nil
	}
	space, _ := e.Chars.Index(lexicon.Space)
	r := unk.NewResolver(e.Chars, space)
	r.Policy = e.Config.UNK.Policy()
	return &eval.UNKOptions{Resolver: r, Sub: e.Config.SearchSub.SearchParams()}
}

// DatasetOptions returns the label description of datasets read for this
// experiment.
func (e *Experiment) DatasetOptions(test bool) dataset.Options {
	return dataset.Options{
		LabelType:    eval.LabelType(e.Config.LabelType),
		LabelTypeSub: eval.LabelType(e.Config.LabelTypeSub),
		Test:         test,
		Sort:         dataset.Descending,
		Vocab:        e.vocab(),
	}
}

// vocab places the symbol tables by label type.
func (e *Experiment) vocab() dataset.Vocab {
	var v dataset.Vocab
	place := func(l string, voc *lexicon.Vocabulary) {
		switch eval.LabelType(l) {
		case eval.Word:
			v.Words = voc
		case eval.Character, eval.CharacterWB:
			v.Chars = voc
		case eval.Phone:
			v.Phones = voc
		}
	}
	place(e.Config.LabelType, e.Words)
	if e.Chars != nil {
		place(e.Config.LabelTypeSub, e.Chars)
	}
	return v
}
