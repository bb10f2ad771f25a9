package decoder

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/asr-seq2seq/internal/blas"
)

func newTestAttentionDecoder(t *testing.T, typ AttentionType) *AttentionDecoder {
	t.Helper()
	d, err := NewAttentionDecoder(ModelConfig{
		NumClasses:    5,
		EmbeddingDim:  3,
		NumUnits:      4,
		MemorySize:    2,
		AttentionType: typ,
		AttentionDim:  3,
	}, blas.CPU())
	if err != nil {
		t.Fatalf("NewAttentionDecoder: %v", err)
	}
	d.Init(rand.New(rand.NewSource(3)))
	return d
}

func randomMemory(rows, cols int) *mat.Dense {
	rng := rand.New(rand.NewSource(11))
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, rng.NormFloat64())
		}
	}
	return m
}

func TestAttentionDecoder_Step(t *testing.T) {
	for _, typ := range []AttentionType{ContentAttention, DotAttention} {
		t.Run(string(typ), func(t *testing.T) {
			d := newTestAttentionDecoder(t, typ)
			st, err := d.Start(randomMemory(6, 2), 4)
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			out, next := d.Step(st, d.SOS())
			if len(out.LogProbs) != d.VocabSize() {
				t.Fatalf("log-probs length = %d, want %d", len(out.LogProbs), d.VocabSize())
			}
			if s := floats.LogSumExp(out.LogProbs); math.Abs(s) > 1e-9 {
				t.Errorf("log-probs do not normalise: logsumexp = %g", s)
			}
			if len(out.Attention) != 4 {
				t.Fatalf("attention length = %d, want 4", len(out.Attention))
			}
			if s := floats.Sum(out.Attention); math.Abs(s-1) > 1e-9 {
				t.Errorf("attention sums to %f", s)
			}
			if len(out.Hidden) != d.HiddenSize() {
				t.Errorf("hidden width = %d, want %d", len(out.Hidden), d.HiddenSize())
			}

			// Stepping the same state twice gives the same result.
			again, _ := d.Step(st, d.SOS())
			if !floats.Equal(out.LogProbs, again.LogProbs) {
				t.Error("Step mutated its input state")
			}
			follow, _ := d.Step(next, 2)
			if len(follow.LogProbs) != d.VocabSize() {
				t.Error("second step has the wrong vocabulary size")
			}
		})
	}
}

func TestAttentionDecoder_StartErrors(t *testing.T) {
	d := newTestAttentionDecoder(t, ContentAttention)
	if _, err := d.Start(randomMemory(3, 5), 3); err == nil {
		t.Error("expected error for memory width mismatch")
	}
	if _, err := d.Start(randomMemory(3, 2), 4); err == nil {
		t.Error("expected error for length beyond memory")
	}
}

func TestAttentionDecoder_ConfigErrors(t *testing.T) {
	base := ModelConfig{NumClasses: 2, EmbeddingDim: 2, NumUnits: 2, MemorySize: 2, AttentionDim: 2}
	tests := []struct {
		name   string
		mutate func(*ModelConfig)
		field  string
	}{
		{"num_classes", func(c *ModelConfig) { c.NumClasses = 0 }, "num_classes"},
		{"attention_type", func(c *ModelConfig) { c.AttentionType = "location" }, "attention_type"},
		{"cell", func(c *ModelConfig) { c.CellType = "transformer" }, "decoder_type"},
		{"temperature", func(c *ModelConfig) { c.Temperature = -1 }, "sharpening_factor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := NewAttentionDecoder(cfg, blas.CPU())
			var ce *ConfigError
			if !errors.As(err, &ce) || ce.Field != tt.field {
				t.Errorf("error = %v, want ConfigError on %s", err, tt.field)
			}
		})
	}
}

func TestAttention_TemperatureSharpens(t *testing.T) {
	keys := randomMemory(5, 3)
	h := []float64{0.3, -0.7, 1.2, 0.1}
	peak := func(temp float64) float64 {
		a := newAttention(DotAttention, 2, 4, 3, temp)
		a.init(rand.New(rand.NewSource(1)))
		return floats.Max(a.weights(blas.CPU(), keys, h))
	}
	if sharp, flat := peak(0.2), peak(1); sharp <= flat {
		t.Errorf("temperature 0.2 peak %f should exceed temperature 1 peak %f", sharp, flat)
	}
}

func TestAttentionDecoder_BeamSearch(t *testing.T) {
	d := newTestAttentionDecoder(t, ContentAttention)
	dec := newTestDecoder(t, d, nil)
	enc := encoded(4, 6)
	enc.Outputs[0] = randomMemory(6, 2)
	enc.Outputs[1] = randomMemory(6, 2)

	cfg := beam(3)
	cfg.MaxLen = 5
	out, err := dec.Decode(context.Background(), enc, SingleTask{Search: cfg})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for b, n := range []int{4, 6} {
		if len(out[b]) == 0 {
			t.Fatalf("utterance %d: no hypotheses", b)
		}
		for _, h := range out[b] {
			if len(h.Tokens) < 1 || len(h.Tokens) > 5 {
				t.Errorf("length %d outside [1, 5]", len(h.Tokens))
			}
			checkAttentionShape(t, h, n)
			for _, tok := range h.Tokens {
				if tok == d.EOS() || tok >= d.VocabSize() {
					t.Errorf("invalid token %d", tok)
				}
			}
		}
	}
}
