package seq2seq

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"
	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/asr-seq2seq/config"
	"github.com/ieee0824/asr-seq2seq/dataset"
	"github.com/ieee0824/asr-seq2seq/decoder"
	"github.com/ieee0824/asr-seq2seq/encoder"
	"github.com/ieee0824/asr-seq2seq/eval"
	"github.com/ieee0824/asr-seq2seq/internal/blas"
	"github.com/ieee0824/asr-seq2seq/internal/observe"
	"github.com/ieee0824/asr-seq2seq/language"
	"github.com/ieee0824/asr-seq2seq/metric"
)

const inputSize = 3

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func testSpec(nested bool) Spec {
	return Spec{
		Encoder: encoder.Config{
			InputSize:     inputSize,
			CellType:      encoder.LSTM,
			NumUnits:      4,
			NumLayers:     2,
			NumLayersSub:  1,
			Bidirectional: true,
			PackSequence:  true,
		},
		Decoder:    decoder.ModelConfig{NumClasses: 5, EmbeddingDim: 3, NumUnits: 4, AttentionDim: 4},
		DecoderSub: &decoder.ModelConfig{NumClasses: 6, EmbeddingDim: 3, NumUnits: 5, AttentionDim: 4},
		Nested:     nested,
	}
}

func newTestModel(t *testing.T, spec Spec, opts ...Option) *Model {
	t.Helper()
	opts = append([]Option{WithDevice(blas.CPU()), WithMetrics(testMetrics(t))}, opts...)
	m, err := New(spec, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.Init(rand.New(rand.NewSource(5)))
	return m
}

func randomBatch(seed int64, lens ...int) *encoder.Batch {
	rng := rand.New(rand.NewSource(seed))
	rows := slices.Max(lens)
	b := &encoder.Batch{Lengths: append([]int(nil), lens...)}
	for _, n := range lens {
		x := mat.NewDense(rows, inputSize, nil)
		for i := range n {
			for j := range inputSize {
				x.Set(i, j, rng.NormFloat64())
			}
		}
		b.Inputs = append(b.Inputs, x)
	}
	return b
}

func single() decoder.Mode {
	return decoder.SingleTask{Search: decoder.Config{BeamWidth: 3, MinLen: 1, MaxLen: 4}}
}

func TestModel_DecodeRealigns(t *testing.T) {
	m := newTestModel(t, testSpec(false))
	batch := randomBatch(1, 2, 6, 4)

	r, err := m.Decode(context.Background(), batch, single())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(r.Perm, encoder.Permutation{1, 2, 0}) {
		t.Errorf("perm = %v, want [1 2 0]", r.Perm)
	}
	best := r.Best()
	for i := range batch.Inputs {
		alone := &encoder.Batch{Inputs: batch.Inputs[i : i+1], Lengths: batch.Lengths[i : i+1]}
		ra, err := m.Decode(context.Background(), alone, single())
		if err != nil {
			t.Fatal(err)
		}
		want := ra.Best()[0]
		if !slices.Equal(best[i].Tokens, want.Tokens) || math.Abs(best[i].Score-want.Score) > 1e-9 {
			t.Errorf("utterance %d: batched %v (%f), alone %v (%f)", i, best[i].Tokens, best[i].Score, want.Tokens, want.Score)
		}
	}

	hyps, perm, err := m.DecodeBatch(context.Background(), batch, single())
	if err != nil {
		t.Fatal(err)
	}
	if len(hyps) != 3 || !slices.Equal(perm, r.Perm) {
		t.Errorf("DecodeBatch = %d results, perm %v", len(hyps), perm)
	}
}

func TestModel_NestedTeacherForcing(t *testing.T) {
	m := newTestModel(t, testSpec(true))
	if m.WordDecoder().Config().MemorySize != m.CharDecoder().HiddenSize() {
		t.Fatalf("word decoder memory = %d, want character hidden size %d",
			m.WordDecoder().Config().MemorySize, m.CharDecoder().HiddenSize())
	}
	batch := randomBatch(2, 3, 5)
	labels := [][]int{{0, 1}, {2, 3, 4}} // batch order

	mode := decoder.Nested{Primary: decoder.Config{BeamWidth: 2, MinLen: 1, MaxLen: 3}, TeacherForcing: labels}
	r, err := m.Decode(context.Background(), batch, mode)
	if err != nil {
		t.Fatal(err)
	}
	for i, h := range r.Best() {
		if h.Sub == nil || !slices.Equal(h.Sub.Tokens, labels[i]) {
			t.Errorf("utterance %d: character tokens = %+v, want %v", i, h.Sub, labels[i])
		}
	}
	// the caller's labels are not reordered in place
	if labels[0][0] != 0 || len(labels[1]) != 3 {
		t.Errorf("labels mutated: %v", labels)
	}
}

func TestModel_PrepareTeacherForcing(t *testing.T) {
	m := newTestModel(t, testSpec(true))
	labels := [][]int{{0}, {1, 2}}
	prepared := func(perm encoder.Permutation) [][]int {
		return m.prepare(decoder.Nested{TeacherForcing: labels}, perm).(decoder.Nested).TeacherForcing
	}

	if got := prepared(encoder.Identity(2)); &got[0] != &labels[0] {
		t.Errorf("identity order copied the labels: %v", got)
	}
	got := prepared(encoder.Permutation{1, 0})
	if !slices.Equal(got[0], labels[1]) || !slices.Equal(got[1], labels[0]) {
		t.Errorf("encoded order labels = %v, want %v reversed", got, labels)
	}
}

func TestModel_ArchitectureErrors(t *testing.T) {
	flat := newTestModel(t, testSpec(false))
	nested := newTestModel(t, testSpec(true))
	batch := randomBatch(3, 2)
	search := decoder.Config{BeamWidth: 1, MinLen: 1}

	tests := []struct {
		name  string
		model *Model
		mode  decoder.Mode
	}{
		{"nested on flat", flat, decoder.Nested{Primary: search, Secondary: search}},
		{"words on nested", nested, decoder.SingleTask{Search: search}},
		{"joint on nested", nested, decoder.Joint{Search: search}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.model.Decode(context.Background(), batch, tt.mode)
			if !errors.Is(err, ErrArchitecture) {
				t.Errorf("err = %v, want ErrArchitecture", err)
			}
		})
	}

	// characters alone work on either
	if _, err := nested.Decode(context.Background(), batch, decoder.SingleTask{Task: decoder.SubTask, Search: search}); err != nil {
		t.Errorf("sub task on nested model: %v", err)
	}
}

func TestNew_Errors(t *testing.T) {
	spec := testSpec(false)
	spec.Encoder.NumLayersSub = 0
	_, err := New(spec)
	var ce *encoder.ConfigError
	if !errors.As(err, &ce) || ce.Field != "num_layers_sub" {
		t.Errorf("err = %v, want num_layers_sub config error", err)
	}

	spec = testSpec(true)
	spec.DecoderSub = nil
	spec.Encoder.NumLayersSub = 0
	var de *decoder.ConfigError
	if _, err := New(spec); !errors.As(err, &de) {
		t.Errorf("err = %v, want decoder config error", err)
	}

	spec = testSpec(false)
	spec.Decoder.NumClasses = 0
	if _, err := New(spec); !errors.As(err, &de) {
		t.Errorf("err = %v, want decoder config error", err)
	}
}

// countingLM is a uniform language model that counts Score calls.
type countingLM struct {
	vocab int
	calls int
}

func (c *countingLM) Start() language.State                   { return nil }
func (c *countingLM) Next(language.State, int) language.State { return nil }
func (c *countingLM) Score(language.State, int) float64 {
	c.calls++
	return -1.0 / float64(c.vocab)
}

func TestModel_AttachesLM(t *testing.T) {
	lm := &countingLM{vocab: 6}
	m := newTestModel(t, testSpec(false), WithLM(lm))
	batch := randomBatch(4, 3)

	off := decoder.SingleTask{Search: decoder.Config{BeamWidth: 2, MinLen: 1, MaxLen: 3}}
	if _, err := m.Decode(context.Background(), batch, off); err != nil {
		t.Fatal(err)
	}
	if lm.calls != 0 {
		t.Errorf("lm used with weight 0: %d calls", lm.calls)
	}

	on := off
	on.Search.LMWeight = 0.5
	if _, err := m.Decode(context.Background(), batch, on); err != nil {
		t.Fatal(err)
	}
	if lm.calls == 0 {
		t.Error("lm not used with a positive weight")
	}
}

const experimentYAML = `
seed: 3
label_type: word
label_type_sub: character
vocab: words.txt
vocab_sub: chars.txt
features:
  input_freq: 3
  use_delta: false
  use_double_delta: false
encoder:
  num_units: 4
  num_layers: 2
  num_layers_sub: 1
decoder:
  num_units: 4
  embedding_dim: 3
  attention_dim: 4
decoder_sub:
  num_units: 4
  embedding_dim: 3
  attention_dim: 4
search:
  beam_width: 2
  max_decode_len: 3
search_sub:
  beam_width: 2
  max_decode_len: 6
unk: {}
eval:
  mode: joint
  sub_weight: 0.5
  batch_size: 2
`

func writeExperiment(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"words.txt": "I\nran\ntoday\nOOV\n",
		"chars.txt": "_\nI\nr\na\nn\nt\no\nd\ny\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cfg, err := config.LoadFromReader(strings.NewReader(experimentYAML))
	if err != nil {
		t.Fatal(err)
	}
	return cfg, dir
}

func TestLoad_EndToEnd(t *testing.T) {
	cfg, dir := writeExperiment(t)
	exp, err := Load(cfg, dir, WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatal(err)
	}
	if exp.Words.Len() != 4 || exp.Chars.Len() != 9 || exp.Lexicon.Len() != 3 {
		t.Errorf("words %d chars %d lexicon %d", exp.Words.Len(), exp.Chars.Len(), exp.Lexicon.Len())
	}
	mode, err := exp.Mode()
	if err != nil {
		t.Fatal(err)
	}
	j, ok := mode.(decoder.Joint)
	if !ok || j.SpaceIndex != 0 || j.OOVIndex != 3 || j.SubWeight != 0.5 {
		t.Fatalf("mode = %#v", mode)
	}
	unkOpts := exp.UNK()
	if unkOpts == nil || unkOpts.Resolver.SpaceIndex != 0 {
		t.Fatalf("unk = %+v", unkOpts)
	}

	rng := rand.New(rand.NewSource(9))
	var utts []dataset.Utterance
	for i, text := range []string{"I_ran", "today", "I_ran_today"} {
		x := mat.NewDense(4+i, inputSize, nil)
		for k := range x.RawMatrix().Data {
			x.RawMatrix().Data[k] = rng.NormFloat64()
		}
		utts = append(utts, dataset.Utterance{ID: text, Features: x, Text: text, TextSub: text})
	}
	ds, err := dataset.New(utts, exp.DatasetOptions(true))
	if err != nil {
		t.Fatal(err)
	}

	rep, err := eval.Evaluate(context.Background(), ds, exp.Model, eval.Options{
		BatchSize: cfg.Eval.BatchSize,
		Mode:      mode,
		UNK:       unkOpts,
		Metrics:   testMetrics(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	wer := rep.Tally(metric.Word)
	if wer == nil || wer.Utterances+wer.Skipped != 3 {
		t.Fatalf("tally = %+v", wer)
	}
	if len(rep.Utterances) != 3 {
		t.Errorf("utterances = %d, want 3", len(rep.Utterances))
	}
}

func TestLoad_Errors(t *testing.T) {
	cfg, dir := writeExperiment(t)
	missing := *cfg
	missing.Vocab = "nope.txt"
	if _, err := Load(&missing, dir); err == nil {
		t.Error("missing vocabulary: expected error")
	}
	noVocab := *cfg
	noVocab.Vocab = ""
	if _, err := Load(&noVocab, dir); err == nil {
		t.Error("empty vocab path: expected error")
	}
	badLM := *cfg
	badLM.LM = &config.LMConfig{ARPA: "none.arpa"}
	if _, err := Load(&badLM, dir); err == nil {
		t.Error("missing arpa: expected error")
	}
}
