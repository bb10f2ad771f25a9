package mathutil

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestNewDense_ZeroDims(t *testing.T) {
	m := NewDense(0, 3)
	if !m.IsEmpty() {
		t.Fatal("expected empty matrix for zero rows")
	}
	if Rows(m) != 0 || Cols(m) != 0 {
		t.Errorf("dims = %dx%d, want 0x0", Rows(m), Cols(m))
	}
	if Rows(nil) != 0 {
		t.Error("Rows(nil) should be 0")
	}
}

func TestPadRows(t *testing.T) {
	src := mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})
	got := PadRows(src, 2, 4)
	want := mat.NewDense(4, 2, []float64{1, 2, 3, 4, 0, 0, 0, 0})
	if !mat.Equal(got, want) {
		t.Errorf("PadRows =\n%v\nwant\n%v", mat.Formatted(got), mat.Formatted(want))
	}
	got.Set(0, 0, 9)
	if src.At(0, 0) != 1 {
		t.Error("PadRows must copy, not alias")
	}
}

func TestTopRows(t *testing.T) {
	src := mat.NewDense(3, 1, []float64{1, 2, 3})
	got := TopRows(src, 2)
	if Rows(got) != 2 || got.At(1, 0) != 2 {
		t.Errorf("TopRows = %v", mat.Formatted(got))
	}
}

func TestTanh(t *testing.T) {
	m := mat.NewDense(1, 3, []float64{-1, 0, 2})
	Tanh(m)
	for j, x := range []float64{-1, 0, 2} {
		if math.Abs(m.At(0, j)-math.Tanh(x)) > 1e-12 {
			t.Errorf("Tanh[%d] = %f, want %f", j, m.At(0, j), math.Tanh(x))
		}
	}
}

func TestSigmoid(t *testing.T) {
	if got := Sigmoid(0); got != 0.5 {
		t.Errorf("Sigmoid(0) = %f, want 0.5", got)
	}
}
