package mathutil

import (
	"math"
	"testing"
)

func TestLogAdd(t *testing.T) {
	// log(exp(log(2)) + exp(log(3))) = log(5)
	got := LogAdd(math.Log(2), math.Log(3))
	want := math.Log(5)
	if math.Abs(got-want) > 1e-10 {
		t.Errorf("LogAdd(log(2), log(3)) = %f, want %f", got, want)
	}
}

func TestLogAddWithLogZero(t *testing.T) {
	a := math.Log(5)
	if got := LogAdd(LogZero, a); math.Abs(got-a) > 1e-10 {
		t.Errorf("LogAdd(LogZero, %f) = %f, want %f", a, got, a)
	}
	if got := LogAdd(a, LogZero); math.Abs(got-a) > 1e-10 {
		t.Errorf("LogAdd(%f, LogZero) = %f, want %f", a, got, a)
	}
}

func TestLogSoftmax(t *testing.T) {
	v := []float64{1, 2, 3}
	LogSoftmax(v)
	sum := 0.0
	for _, x := range v {
		sum += math.Exp(x)
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("sum(exp(logsoftmax)) = %f, want 1", sum)
	}
	if !(v[2] > v[1] && v[1] > v[0]) {
		t.Errorf("order not preserved: %v", v)
	}
}

func TestSoftmax_Temperature(t *testing.T) {
	sharp := []float64{1, 2}
	flat := []float64{1, 2}
	Softmax(sharp, 0.5)
	Softmax(flat, 2)
	if sharp[1] <= flat[1] {
		t.Errorf("temperature 0.5 should sharpen: %v vs %v", sharp, flat)
	}
}

func TestArgMax(t *testing.T) {
	tests := []struct {
		name string
		v    []float64
		want int
	}{
		{"empty", nil, -1},
		{"single", []float64{3}, 0},
		{"tie_first", []float64{1, 5, 5, 2}, 1},
		{"negative", []float64{-3, -1, -2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ArgMax(tt.v); got != tt.want {
				t.Errorf("ArgMax(%v) = %d, want %d", tt.v, got, tt.want)
			}
		})
	}
}

func TestTopK(t *testing.T) {
	got := TopK([]float64{0.1, 0.7, 0.7, 0.2}, 3)
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("TopK = %v, want %v", got, want)
		}
	}
	if n := len(TopK([]float64{1, 2}, 5)); n != 2 {
		t.Errorf("TopK with k > len returned %d items", n)
	}
}
