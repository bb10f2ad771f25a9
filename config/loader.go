package config

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/ieee0824/asr-seq2seq/decoder"
	"github.com/ieee0824/asr-seq2seq/encoder"
	"github.com/ieee0824/asr-seq2seq/eval"
	"github.com/ieee0824/asr-seq2seq/internal/nn"
	"github.com/ieee0824/asr-seq2seq/unk"
)

// ValidModes lists the decoding modes accepted by eval.mode.
var ValidModes = []string{"single", "sub", "nested", "joint"}

// Default returns the values a file starts from before decoding.
func Default() *Config {
	return &Config{
		Seed:      1,
		LabelType: string(eval.Word),
		Features: FeatureConfig{
			SampleRate:     16000,
			InputFreq:      40,
			UseDelta:       true,
			UseDoubleDelta: true,
			FrameLenMs:     25,
			FrameShiftMs:   10,
		},
		Encoder: EncoderConfig{
			Type:          string(nn.LSTM),
			NumUnits:      256,
			NumLayers:     2,
			Bidirectional: true,
			SubsampleType: string(encoder.SubsampleDrop),
			Residual:      "none",
		},
		Decoder: DecoderConfig{
			Type:          string(nn.LSTM),
			NumUnits:      256,
			EmbeddingDim:  64,
			AttentionType: string(decoder.ContentAttention),
			AttentionDim:  128,
			Temperature:   1,
		},
		Search:    SearchConfig{BeamWidth: 4, MinDecodeLen: 1},
		SearchSub: SearchConfig{BeamWidth: 4, MinDecodeLen: 1},
		Eval:      EvalConfig{BatchSize: 1, Mode: "single"},
	}
}

// Load reads the YAML configuration file at path and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates
// the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if cfg.DecoderSub != nil {
		fillDecoder(cfg.DecoderSub, Default().Decoder)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Numeric ranges of the encoder and decoder are checked again by
// encoder.New and decoder.New.
func Validate(cfg *Config) error {
	var errs []error

	if !eval.LabelType(cfg.LabelType).Valid() {
		errs = append(errs, fmt.Errorf("label_type %q is invalid; valid values: word, character, character_wb, phone", cfg.LabelType))
	}
	if cfg.LabelTypeSub != "" && !eval.LabelType(cfg.LabelTypeSub).Valid() {
		errs = append(errs, fmt.Errorf("label_type_sub %q is invalid", cfg.LabelTypeSub))
	}

	// Features
	f := cfg.Features
	if f.InputFreq <= 0 {
		errs = append(errs, fmt.Errorf("features.input_freq %d must be positive", f.InputFreq))
	}
	if f.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("features.sample_rate %d must be positive", f.SampleRate))
	}

	// Encoder
	e := cfg.Encoder
	if !nn.CellType(e.Type).Valid() {
		errs = append(errs, fmt.Errorf("encoder.rnn_type %q is invalid; valid values: lstm, gru, rnn", e.Type))
	}
	if _, err := encoder.ParseResidualMode(e.Residual); err != nil {
		errs = append(errs, fmt.Errorf("encoder.residual %q is invalid; valid values: none, residual, dense_residual", e.Residual))
	}
	if len(e.SubsampleList) > 0 && len(e.SubsampleList) != e.NumLayers {
		errs = append(errs, fmt.Errorf("encoder.subsample_list has %d entries for %d layers", len(e.SubsampleList), e.NumLayers))
	}
	if e.Conv != nil && (e.Splice > 1 || e.NumStack > 1) {
		errs = append(errs, errors.New("encoder.conv cannot be combined with encoder.splice or encoder.num_stack"))
	}
	if e.NumLayersSub > 0 && cfg.DecoderSub == nil {
		errs = append(errs, errors.New("encoder.num_layers_sub is set without decoder_sub"))
	}

	// Decoders
	errs = append(errs, validateDecoder("decoder", &cfg.Decoder)...)
	if cfg.DecoderSub != nil {
		errs = append(errs, validateDecoder("decoder_sub", cfg.DecoderSub)...)
		if cfg.LabelTypeSub == "" {
			errs = append(errs, errors.New("decoder_sub needs label_type_sub"))
		}
	}

	// Language models
	errs = append(errs, validateLM("lm", cfg.LM, cfg.Search.LMWeight)...)
	errs = append(errs, validateLM("lm_sub", cfg.LMSub, cfg.SearchSub.LMWeight)...)

	// UNK
	if u := cfg.UNK; u != nil {
		if u.TieBreak != "" && u.TieBreak != "first" && u.TieBreak != "last" {
			errs = append(errs, fmt.Errorf("unk.tie_break %q is invalid; valid values: first, last", u.TieBreak))
		}
		if u.Window < 0 {
			errs = append(errs, fmt.Errorf("unk.window %d must not be negative", u.Window))
		}
		if cfg.DecoderSub == nil {
			errs = append(errs, errors.New("unk resolution needs decoder_sub"))
		}
	}

	// Eval
	if !slices.Contains(ValidModes, cfg.Eval.Mode) {
		errs = append(errs, fmt.Errorf("eval.mode %q is invalid; valid values: single, sub, nested, joint", cfg.Eval.Mode))
	} else if cfg.Eval.Mode != "single" && cfg.DecoderSub == nil {
		errs = append(errs, fmt.Errorf("eval.mode %q needs decoder_sub", cfg.Eval.Mode))
	}
	if cfg.Eval.Oracle && cfg.Eval.Mode != "nested" {
		errs = append(errs, errors.New("eval.oracle needs eval.mode nested"))
	}
	if cfg.Eval.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("eval.batch_size %d must be positive", cfg.Eval.BatchSize))
	}

	return errors.Join(errs...)
}

// fillDecoder copies def into the zero fields of d.
func fillDecoder(d *DecoderConfig, def DecoderConfig) {
	d.Type = cmp.Or(d.Type, def.Type)
	d.NumUnits = cmp.Or(d.NumUnits, def.NumUnits)
	d.EmbeddingDim = cmp.Or(d.EmbeddingDim, def.EmbeddingDim)
	d.AttentionType = cmp.Or(d.AttentionType, def.AttentionType)
	d.AttentionDim = cmp.Or(d.AttentionDim, def.AttentionDim)
	d.Temperature = cmp.Or(d.Temperature, def.Temperature)
}

func validateDecoder(prefix string, d *DecoderConfig) []error {
	var errs []error
	if !nn.CellType(d.Type).Valid() {
		errs = append(errs, fmt.Errorf("%s.rnn_type %q is invalid; valid values: lstm, gru, rnn", prefix, d.Type))
	}
	switch decoder.AttentionType(d.AttentionType) {
	case decoder.ContentAttention, decoder.DotAttention:
	default:
		errs = append(errs, fmt.Errorf("%s.attention_type %q is invalid; valid values: content, dot", prefix, d.AttentionType))
	}
	if d.NumClasses < 0 {
		errs = append(errs, fmt.Errorf("%s.num_classes %d must not be negative", prefix, d.NumClasses))
	}
	return errs
}

func validateLM(prefix string, lm *LMConfig, weight float64) []error {
	var errs []error
	if lm == nil {
		if weight > 0 {
			errs = append(errs, fmt.Errorf("%s is required when lm_weight is set", prefix))
		}
		return errs
	}
	switch {
	case lm.ARPA == "" && lm.RNN == nil:
		errs = append(errs, fmt.Errorf("%s needs arpa or rnn", prefix))
	case lm.ARPA != "" && lm.RNN != nil:
		errs = append(errs, fmt.Errorf("%s.arpa and %s.rnn are mutually exclusive", prefix, prefix))
	}
	if lm.RNN != nil && lm.RNN.Backward {
		errs = append(errs, fmt.Errorf("%s.rnn.backward: backward language models are not supported for shallow fusion", prefix))
	}
	return errs
}

func tieBreak(s string) unk.TieBreak {
	if s == "last" {
		return unk.Last
	}
	return unk.First
}
