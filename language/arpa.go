package language

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// LoadARPA reads a language model in ARPA format.
// Log probabilities in ARPA files are base-10; they are converted to natural log.
// The n-gram counts declared in the \data\ header must match the entries read.
func LoadARPA(r io.Reader) (*NGramModel, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		model    *NGramModel
		declared = map[int]int{}
		order    int // current section, 0 while in the header
		inData   bool
		lineNo   int
	)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == `\data\`:
			inData = true
			continue
		case line == `\end\`:
			if model == nil {
				return nil, fmt.Errorf("arpa: \\end\\ before any n-gram section")
			}
			for k, n := range declared {
				if got := model.Count(k); got != n {
					return nil, fmt.Errorf("arpa: header declares %d %d-grams, read %d", n, k, got)
				}
			}
			return model, nil
		case strings.HasPrefix(line, `\`) && strings.HasSuffix(line, "-grams:"):
			k, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(line, `\`), "-grams:"))
			if err != nil || k < 1 {
				return nil, fmt.Errorf("arpa: line %d: bad section header %q", lineNo, line)
			}
			if model == nil {
				model = NewNGramModel(maxKey(declared))
			}
			model.grow(k)
			order = k
			continue
		}

		if order == 0 {
			if !inData {
				continue
			}
			if rest, ok := strings.CutPrefix(line, "ngram "); ok {
				ks, ns, found := strings.Cut(rest, "=")
				k, err1 := strconv.Atoi(strings.TrimSpace(ks))
				n, err2 := strconv.Atoi(strings.TrimSpace(ns))
				if !found || err1 != nil || err2 != nil {
					return nil, fmt.Errorf("arpa: line %d: bad count %q", lineNo, line)
				}
				declared[k] = n
			}
			continue
		}
		if err := parseNGramLine(model, order, line); err != nil {
			return nil, fmt.Errorf("arpa: line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("arpa: %w", err)
	}
	return nil, fmt.Errorf("arpa: missing \\end\\ marker")
}

func maxKey(m map[int]int) int {
	k := 0
	for o := range m {
		k = max(k, o)
	}
	return k
}

func parseNGramLine(model *NGramModel, order int, line string) error {
	fields := strings.Fields(line)
	if len(fields) < order+1 {
		return fmt.Errorf("too few fields for %d-gram: %q", order, line)
	}

	logProb, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return fmt.Errorf("parse log prob: %w", err)
	}

	var logBackoff float64
	if len(fields) > order+1 {
		bo, err := strconv.ParseFloat(fields[order+1], 64)
		if err != nil {
			return fmt.Errorf("parse backoff: %w", err)
		}
		logBackoff = bo * math.Ln10
	}

	model.set(fields[1:order+1], ngramEntry{LogProb: logProb * math.Ln10, LogBackoff: logBackoff})
	return nil
}
