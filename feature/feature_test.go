package feature

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func generateSine(n int, freq float64) []float64 {
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = math.Sin(2 * math.Pi * freq * float64(i) / 16000)
	}
	return samples
}

func TestPreEmphasize(t *testing.T) {
	samples := []float64{1.0, 2.0, 3.0, 4.0}
	out := PreEmphasize(samples, 0.97)
	if out[0] != 1.0 {
		t.Errorf("out[0] = %f, want 1.0", out[0])
	}
	// out[1] = 2.0 - 0.97*1.0 = 1.03
	if math.Abs(out[1]-1.03) > 1e-10 {
		t.Errorf("out[1] = %f, want 1.03", out[1])
	}
	if len(PreEmphasize(nil, 0.97)) != 0 {
		t.Error("empty input should give empty output")
	}
}

func TestFrame(t *testing.T) {
	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = float64(i)
	}
	frames := Frame(samples, 25, 10)
	// numFrames = 1 + (100-25)/10 = 8
	if len(frames) != 8 {
		t.Fatalf("numFrames = %d, want 8", len(frames))
	}
	if len(frames[0]) != 25 {
		t.Fatalf("frameLen = %d, want 25", len(frames[0]))
	}
	if frames[1][0] != 10.0 {
		t.Errorf("frames[1][0] = %f, want 10.0", frames[1][0])
	}
	if Frame(samples[:10], 25, 10) != nil {
		t.Error("short input should give no frames")
	}
}

func TestHammingWindow(t *testing.T) {
	w := HammingWindow(11)
	if math.Abs(w[0]-0.08) > 1e-9 || math.Abs(w[10]-0.08) > 1e-9 {
		t.Errorf("endpoints = %f, %f; want 0.08", w[0], w[10])
	}
	if math.Abs(w[5]-1) > 1e-9 {
		t.Errorf("midpoint = %f, want 1", w[5])
	}
}

func TestPowerSpectrum(t *testing.T) {
	// a cosine at bin 4 of a 32-point transform
	n := 32
	frame := make([]float64, n)
	for i := range frame {
		frame[i] = math.Cos(2 * math.Pi * 4 * float64(i) / float64(n))
	}
	ps := PowerSpectrum(frame, n)
	if len(ps) != n/2+1 {
		t.Fatalf("bins = %d, want %d", len(ps), n/2+1)
	}
	// |X[4]| = n/2, so power = (n/2)^2 / n = n/4
	if math.Abs(ps[4]-float64(n)/4) > 1e-9 {
		t.Errorf("ps[4] = %f, want %f", ps[4], float64(n)/4)
	}
	for i, p := range ps {
		if i != 4 && p > 1e-9 {
			t.Errorf("ps[%d] = %g, want 0", i, p)
		}
	}
}

func TestMelFilterbank(t *testing.T) {
	fb := NewMelFilterbank(26, 512, 16000, 0, 8000)
	if fb.NumFilters() != 26 {
		t.Fatalf("filters = %d, want 26", fb.NumFilters())
	}
	for i, f := range fb.Filters {
		if len(f) != 257 {
			t.Fatalf("filter %d has %d bins, want 257", i, len(f))
		}
		peak := 0.0
		for _, v := range f {
			if v < 0 || v > 1 {
				t.Fatalf("filter %d coefficient %f outside [0, 1]", i, v)
			}
			peak = max(peak, v)
		}
		if peak == 0 {
			t.Errorf("filter %d is empty", i)
		}
	}

	// silence stays finite
	for _, e := range fb.Apply(make([]float64, 257)) {
		if math.IsInf(e, 0) || math.IsNaN(e) {
			t.Fatalf("log energy of silence = %f", e)
		}
	}
}

func TestMelFilterbank_NyquistDefault(t *testing.T) {
	a := NewMelFilterbank(10, 256, 16000, 0, 0)
	b := NewMelFilterbank(10, 256, 16000, 0, 8000)
	for i := range a.Filters {
		for j := range a.Filters[i] {
			if a.Filters[i][j] != b.Filters[i][j] {
				t.Fatalf("filter %d bin %d differs", i, j)
			}
		}
	}
}

func TestDelta(t *testing.T) {
	// a linear ramp has constant slope away from the edges
	T := 10
	x := mat.NewDense(T, 1, nil)
	for i := range T {
		x.Set(i, 0, float64(i))
	}
	d := Delta(x, 2)
	for i := 2; i < T-2; i++ {
		if math.Abs(d.At(i, 0)-1) > 1e-12 {
			t.Errorf("delta[%d] = %f, want 1", i, d.At(i, 0))
		}
	}
	dd := Delta(d, 2)
	if math.Abs(dd.At(T/2, 0)) > 1e-12 {
		t.Errorf("double delta at centre = %f, want 0", dd.At(T/2, 0))
	}
}

func TestAppendDeltas(t *testing.T) {
	x := mat.NewDense(5, 3, nil)
	tests := []struct {
		name          string
		delta, double bool
		cols          int
	}{
		{"none", false, false, 3},
		{"delta", true, false, 6},
		{"double only", false, true, 6},
		{"both", true, true, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, c := AppendDeltas(x, 2, tt.delta, tt.double).Dims()
			if r != 5 || c != tt.cols {
				t.Errorf("dims = %dx%d, want 5x%d", r, c, tt.cols)
			}
		})
	}
}

func TestApplyCMVN(t *testing.T) {
	x := mat.NewDense(4, 2, []float64{
		1, 5,
		2, 5,
		3, 5,
		4, 5,
	})
	ApplyCMVN(x, true)
	col := mat.Col(nil, 0, x)
	mean, std := stat.MeanStdDev(col, nil)
	if math.Abs(mean) > 1e-12 || math.Abs(std-1) > 1e-12 {
		t.Errorf("column 0 mean %f std %f, want 0 and 1", mean, std)
	}
	// constant column is only centred
	for i := range 4 {
		if x.At(i, 1) != 0 {
			t.Errorf("x[%d][1] = %f, want 0", i, x.At(i, 1))
		}
	}
}

func TestExtract_Dimensions(t *testing.T) {
	samples := generateSine(16000, 440) // 1 second
	tests := []struct {
		name string
		cfg  func(*Config)
		dim  int
	}{
		{"default", func(*Config) {}, 120},
		{"static", func(c *Config) { c.UseDelta, c.UseDoubleDelta = false, false }, 40},
		{"delta", func(c *Config) { c.UseDoubleDelta = false }, 80},
		{"80 channels", func(c *Config) { c.NumMelFilters = 80 }, 240},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.cfg(&cfg)
			if cfg.Dim() != tt.dim {
				t.Fatalf("Dim() = %d, want %d", cfg.Dim(), tt.dim)
			}
			feats, err := Extract(samples, cfg)
			if err != nil {
				t.Fatal(err)
			}
			rows, cols := feats.Dims()
			// 1 + (16000-400)/160 = 98 frames
			if rows != 98 || cols != tt.dim {
				t.Errorf("dims = %dx%d, want 98x%d", rows, cols, tt.dim)
			}
			for _, v := range feats.RawMatrix().Data {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					t.Fatal("non-finite feature")
				}
			}
		})
	}
}

func TestExtract_PeakChannel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UseDelta, cfg.UseDoubleDelta, cfg.UseCMVN = false, false, false
	low, err := Extract(generateSine(4000, 300), cfg)
	if err != nil {
		t.Fatal(err)
	}
	high, err := Extract(generateSine(4000, 4000), cfg)
	if err != nil {
		t.Fatal(err)
	}
	argmax := func(m *mat.Dense) int {
		row := m.RawRowView(5)
		best := 0
		for i, v := range row {
			if v > row[best] {
				best = i
			}
		}
		return best
	}
	if argmax(low) >= argmax(high) {
		t.Errorf("peak channel for 300Hz (%d) should be below 4kHz (%d)", argmax(low), argmax(high))
	}
}

func TestExtract_Errors(t *testing.T) {
	if _, err := Extract(nil, DefaultConfig()); err == nil {
		t.Error("empty samples: expected error")
	}
	if _, err := Extract(make([]float64, 100), DefaultConfig()); !errors.Is(err, ErrTooShort) {
		t.Errorf("short audio: err = %v, want ErrTooShort", err)
	}
	bad := DefaultConfig()
	bad.FFTSize = 300
	bad.NumMelFilters = 0
	if _, err := Extract(make([]float64, 1000), bad); err == nil {
		t.Error("bad config: expected error")
	}
}
