// Package config loads YAML experiment files and translates them into the
// encoder, decoder, feature and language model configurations.
package config

// Config is the root of an experiment file.
type Config struct {
	Seed         int64          `yaml:"seed"`
	LabelType    string         `yaml:"label_type"`
	LabelTypeSub string         `yaml:"label_type_sub"`
	Vocab        string         `yaml:"vocab"`     // main task symbol table
	VocabSub     string         `yaml:"vocab_sub"` // sub task symbol table
	Features     FeatureConfig  `yaml:"features"`
	Encoder      EncoderConfig  `yaml:"encoder"`
	Decoder      DecoderConfig  `yaml:"decoder"`
	DecoderSub   *DecoderConfig `yaml:"decoder_sub"`
	Search       SearchConfig   `yaml:"search"`
	SearchSub    SearchConfig   `yaml:"search_sub"`
	LM           *LMConfig      `yaml:"lm"`
	LMSub        *LMConfig      `yaml:"lm_sub"`
	UNK          *UNKConfig     `yaml:"unk"`
	Eval         EvalConfig     `yaml:"eval"`
}

// FeatureConfig mirrors feature.Config for manifest datasets.
type FeatureConfig struct {
	SampleRate     int     `yaml:"sample_rate"`
	InputFreq      int     `yaml:"input_freq"`
	UseDelta       bool    `yaml:"use_delta"`
	UseDoubleDelta bool    `yaml:"use_double_delta"`
	FrameLenMs     float64 `yaml:"frame_len_ms"`
	FrameShiftMs   float64 `yaml:"frame_shift_ms"`
	CMVN           *bool   `yaml:"cmvn"`
}

// ConvConfig describes the convolutional front-end.
type ConvConfig struct {
	InChannels  int      `yaml:"in_channels"`
	Channels    []int    `yaml:"channels"`
	KernelSizes [][2]int `yaml:"kernel_sizes"`
	Strides     [][2]int `yaml:"strides"`
	Poolings    [][2]int `yaml:"poolings"`
	Activation  string   `yaml:"activation"`
	BatchNorm   bool     `yaml:"batch_norm"`
}

// EncoderConfig mirrors encoder.Config.
type EncoderConfig struct {
	InputSize          int         `yaml:"input_size"` // 0 derives it from features
	Type               string      `yaml:"rnn_type"`
	NumUnits           int         `yaml:"num_units"`
	NumProj            int         `yaml:"num_proj"`
	NumLayers          int         `yaml:"num_layers"`
	NumLayersSub       int         `yaml:"num_layers_sub"`
	Bidirectional      bool        `yaml:"bidirectional"`
	MergeBidirectional bool        `yaml:"merge_bidirectional"`
	DropoutInput       float64     `yaml:"dropout_input"`
	Dropout            float64     `yaml:"dropout"`
	SubsampleList      []bool      `yaml:"subsample_list"`
	SubsampleType      string      `yaml:"subsample_type"`
	Residual           string      `yaml:"residual"`
	PackSequence       *bool       `yaml:"pack_sequence"`
	Splice             int         `yaml:"splice"`
	NumStack           int         `yaml:"num_stack"`
	Conv               *ConvConfig `yaml:"conv"`
}

// DecoderConfig mirrors decoder.ModelConfig; the memory width comes from the
// encoder.
type DecoderConfig struct {
	Type          string  `yaml:"rnn_type"`
	NumUnits      int     `yaml:"num_units"`
	EmbeddingDim  int     `yaml:"embedding_dim"`
	AttentionType string  `yaml:"attention_type"`
	AttentionDim  int     `yaml:"attention_dim"`
	Temperature   float64 `yaml:"logits_temperature"`
	NumClasses    int     `yaml:"num_classes"` // 0 uses the vocabulary size
}

// SearchConfig mirrors decoder.Config without the language model.
type SearchConfig struct {
	BeamWidth         int     `yaml:"beam_width"`
	MinDecodeLen      int     `yaml:"min_decode_len"`
	MaxDecodeLen      int     `yaml:"max_decode_len"`
	LengthPenalty     float64 `yaml:"length_penalty"`
	CoveragePenalty   float64 `yaml:"coverage_penalty"`
	CoverageThreshold float64 `yaml:"coverage_threshold"`
	LMWeight          float64 `yaml:"lm_weight"`
}

// LMConfig selects a language model for shallow fusion: an ARPA file or a
// recurrent model.
type LMConfig struct {
	ARPA string       `yaml:"arpa"`
	RNN  *RNNLMConfig `yaml:"rnn"`
}

// RNNLMConfig mirrors language.RNNLMConfig.
type RNNLMConfig struct {
	Type         string `yaml:"rnn_type"`
	NumUnits     int    `yaml:"num_units"`
	NumLayers    int    `yaml:"num_layers"`
	EmbeddingDim int    `yaml:"embedding_dim"`
	Backward     bool   `yaml:"backward"`
}

// UNKConfig enables unknown word resolution.
type UNKConfig struct {
	Window      int     `yaml:"window"`
	MaxDistance float64 `yaml:"max_distance"` // negative means unlimited
	TieBreak    string  `yaml:"tie_break"`    // first or last
	FrameRatio  float64 `yaml:"frame_ratio"`
}

// EvalConfig holds evaluation defaults the CLIs can override.
type EvalConfig struct {
	BatchSize int     `yaml:"batch_size"`
	Mode      string  `yaml:"mode"` // single, sub, nested or joint
	Oracle    bool    `yaml:"oracle"`
	SubWeight float64 `yaml:"sub_weight"`
}
