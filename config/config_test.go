package config

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ieee0824/asr-seq2seq/decoder"
	"github.com/ieee0824/asr-seq2seq/encoder"
	"github.com/ieee0824/asr-seq2seq/internal/blas"
	"github.com/ieee0824/asr-seq2seq/language"
	"github.com/ieee0824/asr-seq2seq/unk"
)

const hierarchical = `
seed: 7
label_type: word
label_type_sub: character
features:
  input_freq: 40
  use_delta: true
  use_double_delta: false
encoder:
  rnn_type: gru
  num_units: 32
  num_layers: 3
  num_layers_sub: 2
  subsample_list: [false, true, false]
  subsample_type: concat
  residual: dense_residual
  pack_sequence: false
decoder:
  num_units: 16
  embedding_dim: 8
  attention_type: dot
decoder_sub:
  num_units: 16
  embedding_dim: 8
search:
  beam_width: 8
  max_decode_len: 50
  lm_weight: 0.3
lm:
  rnn:
    num_units: 16
    num_layers: 1
    embedding_dim: 8
unk:
  window: 1
  tie_break: last
eval:
  mode: nested
  oracle: true
  batch_size: 4
`

func TestLoadFromReader(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(hierarchical))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Seed != 7 || cfg.Eval.BatchSize != 4 || !cfg.Eval.Oracle {
		t.Errorf("cfg = %+v", cfg)
	}

	enc, err := cfg.EncoderParams()
	if err != nil {
		t.Fatal(err)
	}
	if enc.InputSize != 80 {
		t.Errorf("InputSize = %d, want 80 (static + delta)", enc.InputSize)
	}
	if enc.CellType != encoder.GRU || enc.SubsampleType != encoder.SubsampleConcat || enc.Residual != encoder.DenseResidual {
		t.Errorf("encoder = %+v", enc)
	}
	if enc.PackSequence {
		t.Error("pack_sequence: false was ignored")
	}
	if enc.FrontEnd != nil {
		t.Errorf("FrontEnd = %T, want nil", enc.FrontEnd)
	}

	dm := cfg.Decoder.DecoderParams(100, 64)
	if dm.NumClasses != 100 || dm.MemorySize != 64 || dm.AttentionType != decoder.DotAttention || dm.CellType != "lstm" {
		t.Errorf("decoder = %+v", dm)
	}
	s := cfg.Search.SearchParams()
	if s.BeamWidth != 8 || s.MinLen != 1 || s.MaxLen != 50 || s.LMWeight != 0.3 {
		t.Errorf("search = %+v", s)
	}
	if cfg.SearchSub.SearchParams().BeamWidth != 4 {
		t.Error("search_sub should keep defaults")
	}
	p := cfg.UNK.Policy()
	if p.Window != 1 || p.TieBreak != unk.Last || p.MaxDistance >= 0 {
		t.Errorf("policy = %+v", p)
	}

	lm, err := cfg.LM.Open(nil, 10, blas.CPU(), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := lm.(*language.RNNLM); !ok {
		t.Errorf("lm = %T, want *language.RNNLM", lm)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	enc, err := cfg.EncoderParams()
	if err != nil {
		t.Fatal(err)
	}
	if enc.InputSize != 120 || !enc.PackSequence || enc.CellType != encoder.LSTM {
		t.Errorf("encoder = %+v", enc)
	}
	f := cfg.FeatureParams()
	if f.NumMelFilters != 40 || !f.UseCMVN || f.Dim() != 120 {
		t.Errorf("features = %+v", f)
	}
}

func TestLoadFromReader_FrontEnds(t *testing.T) {
	splice := "encoder:\n  splice: 5\n  num_stack: 3\n"
	cfg, err := LoadFromReader(strings.NewReader(splice))
	if err != nil {
		t.Fatal(err)
	}
	enc, _ := cfg.EncoderParams()
	if fe, ok := enc.FrontEnd.(*encoder.SpliceFrontEnd); !ok || fe.Splice != 5 || fe.NumStack != 3 {
		t.Errorf("FrontEnd = %#v", enc.FrontEnd)
	}

	conv := `
encoder:
  conv:
    in_channels: 3
    channels: [4, 4]
    kernel_sizes: [[3, 3], [3, 3]]
    strides: [[1, 1], [2, 2]]
    activation: relu
    batch_norm: true
`
	cfg, err = LoadFromReader(strings.NewReader(conv))
	if err != nil {
		t.Fatal(err)
	}
	enc, _ = cfg.EncoderParams()
	fe, ok := enc.FrontEnd.(*encoder.ConvFrontEnd)
	if !ok {
		t.Fatalf("FrontEnd = %T, want *encoder.ConvFrontEnd", enc.FrontEnd)
	}
	if fe.InChannels != 3 || fe.Strides[1] != [2]int{2, 2} || fe.Activation != encoder.ReLU || !fe.BatchNorm {
		t.Errorf("conv = %+v", fe)
	}
}

func TestLoadFromReader_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "unknown field",
			yaml: "encoder:\n  num_unit: 3\n",
			want: []string{"num_unit"},
		},
		{
			name: "conv and splice",
			yaml: "encoder:\n  splice: 3\n  conv:\n    channels: [1]\n",
			want: []string{"encoder.conv cannot be combined"},
		},
		{
			name: "backward lm",
			yaml: "lm:\n  rnn:\n    backward: true\n",
			want: []string{"lm.rnn.backward"},
		},
		{
			name: "several problems",
			yaml: "label_type: kana\nencoder:\n  rnn_type: transformer\nsearch:\n  lm_weight: 0.5\n",
			want: []string{"label_type \"kana\"", "encoder.rnn_type", "lm is required"},
		},
		{
			name: "subsample list length",
			yaml: "encoder:\n  num_layers: 2\n  subsample_list: [true]\n",
			want: []string{"subsample_list has 1 entries"},
		},
		{
			name: "nested without sub decoder",
			yaml: "eval:\n  mode: nested\n",
			want: []string{"needs decoder_sub"},
		},
		{
			name: "oracle without nested",
			yaml: "eval:\n  oracle: true\n",
			want: []string{"eval.oracle"},
		},
		{
			name: "arpa and rnn",
			yaml: "lm:\n  arpa: x.arpa\n  rnn:\n    num_units: 1\n",
			want: []string{"mutually exclusive"},
		},
		{
			name: "bad tie break",
			yaml: "label_type_sub: character\ndecoder_sub: {}\nunk:\n  tie_break: middle\n",
			want: []string{"unk.tie_break"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q does not mention %q", err, w)
				}
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exp.yaml")
	if err := os.WriteFile(path, []byte("seed: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Seed != 3 {
		t.Errorf("Seed = %d, want 3", cfg.Seed)
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file: expected error")
	}
}

func TestLMConfig_OpenARPA(t *testing.T) {
	arpa := "\\data\\\nngram 1=3\n\n\\1-grams:\n-1.0\t</s>\n-99\t<s>\n-0.5\ta\n\n\\end\\\n"
	path := filepath.Join(t.TempDir(), "lm.arpa")
	if err := os.WriteFile(path, []byte(arpa), 0o644); err != nil {
		t.Fatal(err)
	}
	lm := &LMConfig{ARPA: path}
	s, err := lm.Open([]string{"a"}, 1, blas.CPU(), nil)
	if err != nil {
		t.Fatal(err)
	}
	st := s.Start()
	if got := s.Score(st, 0); got >= 0 {
		t.Errorf("Score(a) = %f, want negative", got)
	}

	if _, err := (&LMConfig{ARPA: filepath.Join(t.TempDir(), "none")}).Open(nil, 1, blas.CPU(), nil); err == nil {
		t.Error("missing arpa: expected error")
	}
}
