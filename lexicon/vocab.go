// Package lexicon maps between label indices and symbols, and spells words
// as character sequences.
package lexicon

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Separators and placeholders shared by the label files.
const (
	Space = "_"   // word separator in transcripts
	OOV   = "OOV" // out-of-vocabulary word placeholder
)

// Vocabulary is an ordered symbol table: the index of a symbol is its line
// number in the vocabulary file.
type Vocabulary struct {
	symbols []string
	index   map[string]int
}

// NewVocabulary builds a vocabulary from symbols in index order.
func NewVocabulary(symbols []string) (*Vocabulary, error) {
	v := &Vocabulary{
		symbols: make([]string, 0, len(symbols)),
		index:   make(map[string]int, len(symbols)),
	}
	for _, s := range symbols {
		if err := v.add(s); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (v *Vocabulary) add(s string) error {
	if s == "" {
		return fmt.Errorf("empty symbol at index %d", len(v.symbols))
	}
	if i, ok := v.index[s]; ok {
		return fmt.Errorf("duplicate symbol %q at indices %d and %d", s, i, len(v.symbols))
	}
	v.index[s] = len(v.symbols)
	v.symbols = append(v.symbols, s)
	return nil
}

// LoadVocabulary reads one symbol per line. Only the first tab-separated
// field of a line is used. Blank lines are skipped.
func LoadVocabulary(r io.Reader) (*Vocabulary, error) {
	v := &Vocabulary{index: make(map[string]int)}
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line == "" {
			continue
		}
		sym, _, _ := strings.Cut(line, "\t")
		if err := v.add(sym); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return v, nil
}

// LoadVocabularyFile is a convenience wrapper that opens a file path.
func LoadVocabularyFile(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	v, err := LoadVocabulary(f)
	if err != nil {
		return nil, fmt.Errorf("vocabulary %s: %w", path, err)
	}
	return v, nil
}

// Len returns the number of symbols.
func (v *Vocabulary) Len() int { return len(v.symbols) }

// Symbol returns the symbol at index i.
func (v *Vocabulary) Symbol(i int) (string, bool) {
	if i < 0 || i >= len(v.symbols) {
		return "", false
	}
	return v.symbols[i], true
}

// Index returns the index of symbol s.
func (v *Vocabulary) Index(s string) (int, bool) {
	i, ok := v.index[s]
	return i, ok
}

// Symbols returns a copy of the symbols in index order.
func (v *Vocabulary) Symbols() []string {
	return append([]string(nil), v.symbols...)
}

// Decode joins the symbols of ids with sep. Indices outside the vocabulary
// (end-of-sequence, padding) are dropped.
func (v *Vocabulary) Decode(ids []int, sep string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if s, ok := v.Symbol(id); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, sep)
}

// EncodeWords splits a Space-separated transcript into word indices. Unknown
// words map to OOV when the vocabulary has it and are dropped otherwise.
func (v *Vocabulary) EncodeWords(text string) []int {
	return v.encode(strings.Split(text, Space))
}

// EncodeChars maps every character of text, separators included, to its
// index with the same unknown-symbol rule as EncodeWords.
func (v *Vocabulary) EncodeChars(text string) []int {
	runes := []rune(text)
	syms := make([]string, len(runes))
	for i, r := range runes {
		syms[i] = string(r)
	}
	return v.encode(syms)
}

func (v *Vocabulary) encode(syms []string) []int {
	oov, hasOOV := v.index[OOV]
	ids := make([]int, 0, len(syms))
	for _, s := range syms {
		if s == "" {
			continue
		}
		if i, ok := v.index[s]; ok {
			ids = append(ids, i)
		} else if hasOOV {
			ids = append(ids, oov)
		}
	}
	return ids
}
