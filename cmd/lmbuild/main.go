package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ieee0824/asr-seq2seq/language"
	"github.com/ieee0824/asr-seq2seq/lexicon"
	"github.com/ieee0824/asr-seq2seq/metric"
)

func main() {
	order := flag.Int("order", 2, "N-gram order (2=bigram, 3=trigram)")
	unit := flag.String("unit", "word", "token unit: word or char")
	vocabPath := flag.String("vocab", "", "map tokens missing from this vocabulary to OOV")
	output := flag.String("output", "", "output file (default: stdout)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: lmbuild [options] [input-files...]")
		fmt.Fprintln(os.Stderr, "  Builds an ARPA N-gram language model from transcripts.")
		fmt.Fprintln(os.Stderr, "  Input: one transcript per line, words separated by spaces or '_'.")
		fmt.Fprintln(os.Stderr, "  With -unit char, each character is a token and '_' marks word boundaries.")
		fmt.Fprintln(os.Stderr, "  If no input files given, reads from stdin.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	tok := tokenizer{chars: *unit == "char"}
	if *unit != "word" && *unit != "char" {
		fmt.Fprintf(os.Stderr, "unknown unit %q\n", *unit)
		os.Exit(1)
	}
	if *vocabPath != "" {
		v, err := lexicon.LoadVocabularyFile(*vocabPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load vocab: %v\n", err)
			os.Exit(1)
		}
		tok.vocab = v
	}

	b := language.NewBuilder(*order)

	var sentCount, oovCount int
	add := func(r io.Reader) error {
		s, o, err := readLines(b, r, tok)
		sentCount += s
		oovCount += o
		return err
	}
	if flag.NArg() == 0 {
		if err := add(os.Stdin); err != nil {
			fmt.Fprintf(os.Stderr, "read stdin: %v\n", err)
			os.Exit(1)
		}
	} else {
		for _, path := range flag.Args() {
			f, err := os.Open(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "open %s: %v\n", path, err)
				continue
			}
			if err := add(f); err != nil {
				fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
			}
			f.Close()
		}
	}

	var w *os.File
	if *output != "" {
		var err error
		w, err = os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create %s: %v\n", *output, err)
			os.Exit(1)
		}
		defer w.Close()
	} else {
		w = os.Stdout
	}

	if err := b.WriteARPA(w); err != nil {
		fmt.Fprintf(os.Stderr, "write ARPA: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Built %d-gram %s model from %d sentences (%d OOV tokens)\n", *order, *unit, sentCount, oovCount)
}

type tokenizer struct {
	chars bool
	vocab *lexicon.Vocabulary // optional
}

// tokens splits a transcript into model tokens and reports how many were
// replaced by the OOV placeholder.
func (t tokenizer) tokens(line string) ([]string, int) {
	norm := metric.Normalize(line)
	if norm == "" {
		return nil, 0
	}
	var toks []string
	if t.chars {
		for _, r := range norm {
			toks = append(toks, string(r))
		}
	} else {
		toks = strings.Split(norm, metric.Separator)
	}
	if t.vocab == nil {
		return toks, 0
	}
	oov := 0
	for i, s := range toks {
		if _, ok := t.vocab.Index(s); !ok {
			toks[i] = lexicon.OOV
			oov++
		}
	}
	return toks, oov
}

func readLines(b *language.Builder, r io.Reader, tok tokenizer) (sentences, oov int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		words, n := tok.tokens(scanner.Text())
		if len(words) == 0 {
			continue
		}
		b.AddSentence(words)
		sentences++
		oov += n
	}
	return sentences, oov, scanner.Err()
}
