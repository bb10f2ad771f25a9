package main

import (
	"bytes"
	"encoding/csv"
	"slices"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/asr-seq2seq/lexicon"
)

func TestWriteAttention(t *testing.T) {
	att := mat.NewDense(3, 2, []float64{
		0.5, 0,
		0.5, 0.25,
		0, 0.75,
	})
	var buf bytes.Buffer
	if err := writeAttention(&buf, att, []string{"I", "ran"}); err != nil {
		t.Fatal(err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 4 {
		t.Fatalf("got %d records, want 4", len(records))
	}
	if !slices.Equal(records[0], []string{"frame", "I", "ran"}) {
		t.Errorf("header = %v", records[0])
	}
	if !slices.Equal(records[2], []string{"1", "0.5", "0.25"}) {
		t.Errorf("row 1 = %v", records[2])
	}
}

func TestWriteAttention_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := writeAttention(&buf, &mat.Dense{}, nil); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "frame\n" {
		t.Errorf("output = %q", buf.String())
	}

	if err := writeAttention(&buf, mat.NewDense(2, 2, nil), []string{"I"}); err == nil {
		t.Error("column mismatch: expected error")
	}
}

func TestSymbolsOf(t *testing.T) {
	v, err := lexicon.NewVocabulary([]string{"I", "ran"})
	if err != nil {
		t.Fatal(err)
	}
	got := symbolsOf(v, []int{1, 0, 2})
	if !slices.Equal(got, []string{"ran", "I", "<eos>"}) {
		t.Errorf("symbolsOf = %v", got)
	}
}
