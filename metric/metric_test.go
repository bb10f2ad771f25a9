package metric

import (
	"errors"
	"math"
	"slices"
	"testing"
)

func TestAlign_Errors(t *testing.T) {
	p := func(s ...string) []string { return s }

	tests := []struct {
		name string
		a, b []string
		want int
	}{
		{"identical", p("k", "a"), p("k", "a"), 0},
		{"empty_both", nil, nil, 0},
		{"empty_a", nil, p("a", "i"), 2},
		{"empty_b", p("a"), nil, 1},
		{"substitution", p("k", "a"), p("g", "a"), 1},
		{"insertion", p("k", "a"), p("k", "a", "i"), 1},
		{"deletion", p("k", "a", "i"), p("k", "a"), 1},
		{"completely_different", p("a", "i", "u"), p("k", "s", "t", "n"), 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := Align(tt.a, tt.b)
			if c.Errors() != tt.want {
				t.Errorf("Align errors = %d, want %d", c.Errors(), tt.want)
			}
		})
	}
}

func TestAlign_Ops(t *testing.T) {
	c, ops := Align([]string{"A", "B", "C", "D"}, []string{"A", "X", "C", "E", "F"})
	want := []Op{OpMatch, OpSub, OpMatch, OpIns, OpSub}
	if !slices.Equal(ops, want) {
		t.Errorf("ops = %v, want %v", ops, want)
	}
	if c != (Counts{Sub: 2, Ins: 1, Ref: 4}) {
		t.Errorf("counts = %+v", c)
	}
}

func TestScore_WER(t *testing.T) {
	tests := []struct {
		name          string
		ref, hyp      string
		sub, ins, del int
		rate          float64
	}{
		{"identical", "A_B_C", "A_B_C", 0, 0, 0, 0},
		{"one substitution", "A_B_C", "A_B_X", 1, 0, 0, 1.0 / 3},
		{"one deletion", "A_B_C", "A_B", 0, 0, 1, 1.0 / 3},
		{"one insertion", "A_B_C", "A_B_C_D", 0, 1, 0, 1.0 / 3},
		{"empty hypothesis", "A_B", "", 0, 0, 2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Score(Word, tt.ref, tt.hyp)
			if err != nil {
				t.Fatal(err)
			}
			if c.Sub != tt.sub || c.Ins != tt.ins || c.Del != tt.del {
				t.Errorf("sub/ins/del = %d/%d/%d, want %d/%d/%d", c.Sub, c.Ins, c.Del, tt.sub, tt.ins, tt.del)
			}
			tally := NewTally(Word)
			tally.Add(c)
			rate, ok := tally.Rate()
			if !ok || math.Abs(rate-tt.rate) > 1e-12 {
				t.Errorf("rate = %f, %v; want %f", rate, ok, tt.rate)
			}
		})
	}
}

func TestScore_CERIgnoresSeparators(t *testing.T) {
	c, err := Score(Char, "ab_cd", "abcx")
	if err != nil {
		t.Fatal(err)
	}
	if c.Ref != 4 || c.Sub != 1 || c.Errors() != 1 {
		t.Errorf("counts = %+v, want 4 units and one substitution", c)
	}
}

func TestScore_EmptyReference(t *testing.T) {
	for _, g := range []Granularity{Word, Char, Phone} {
		if _, err := Score(g, "", "a"); !errors.Is(err, ErrEmptyReference) {
			t.Errorf("%s: err = %v, want ErrEmptyReference", g, err)
		}
	}
}

func TestTally_ZeroUnits(t *testing.T) {
	tally := NewTally(Char)
	tally.Skip()
	rate, ok := tally.Rate()
	if ok || rate != 0 {
		t.Errorf("Rate = %f, %v; want 0, false", rate, ok)
	}
	if s := tally.String(); s != "CER: n/a (0 utterances, 1 skipped)" {
		t.Errorf("String = %q", s)
	}
}

func TestTally_Merge(t *testing.T) {
	a, b := NewTally(Word), NewTally(Word)
	a.Add(Counts{Sub: 1, Ref: 3})
	b.Add(Counts{Del: 1, Ins: 1, Ref: 5})
	b.Skip()
	a.Merge(b)
	if a.RefUnits != 8 || a.Utterances != 2 || a.Skipped != 1 {
		t.Errorf("merged = %+v", a)
	}
	if rate, _ := a.Rate(); rate != 3.0/8 {
		t.Errorf("rate = %f, want 0.375", rate)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in     string
		remove []string
		want   string
	}{
		{"A_@_B", RefRemove, "A_B"},
		{"__A__B_", nil, "A_B"},
		{"A>_B@", HypRemove, "A_B"},
		{"A B\tC", nil, "A_B_C"},
		{"@", RefRemove, ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in, tt.remove...); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDiff(t *testing.T) {
	segs := Diff([]string{"I", "OOV", "today"}, []string{"I", "ran", "today"})
	if got := RenderDiff(segs, "_"); got != "I_[-OOV-]_{+ran+}_today" {
		t.Errorf("RenderDiff = %q", got)
	}
	if got := RenderDiff(Diff([]string{"a", "b"}, []string{"a", "b"}), " "); got != "a b" {
		t.Errorf("identical diff = %q", got)
	}
}

func TestSimilarity(t *testing.T) {
	if s := Similarity("I_ran_today", "I_ran_today"); s != 1 {
		t.Errorf("identical similarity = %f", s)
	}
	near := Similarity("I_ran_today", "I_ran_todai")
	far := Similarity("I_ran_today", "xyz")
	if !(near > far) {
		t.Errorf("near %f should exceed far %f", near, far)
	}
}
