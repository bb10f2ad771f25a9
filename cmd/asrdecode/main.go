package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	seq2seq "github.com/ieee0824/asr-seq2seq"
	"github.com/ieee0824/asr-seq2seq/audio"
	"github.com/ieee0824/asr-seq2seq/config"
	"github.com/ieee0824/asr-seq2seq/decoder"
	"github.com/ieee0824/asr-seq2seq/encoder"
	"github.com/ieee0824/asr-seq2seq/eval"
	"github.com/ieee0824/asr-seq2seq/feature"
	"github.com/ieee0824/asr-seq2seq/internal/observe"
	"github.com/ieee0824/asr-seq2seq/lexicon"
	"github.com/ieee0824/asr-seq2seq/unk"
)

func main() {
	configPath := flag.String("config", "", "path to experiment config (YAML)")
	attDir := flag.String("attention-dir", "", "write attention weights of the best hypothesis as CSV into this directory")
	nbest := flag.Int("nbest", 1, "number of hypotheses to print per file")
	verbose := flag.Bool("v", false, "verbose output")

	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: asrdecode -config CONFIG [options] WAV...")
		fmt.Fprintln(os.Stderr, "  Transcribes WAV files with the configured model.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *configPath == "" || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	log := observe.NewLogger(os.Stderr, *verbose)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	exp, err := seq2seq.Load(cfg, filepath.Dir(*configPath), seq2seq.WithLogger(log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	mode, err := exp.Mode()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *attDir != "" {
		if err := os.MkdirAll(*attDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	r := &recognizer{exp: exp, mode: mode, feat: cfg.FeatureParams(), unk: exp.UNK(), log: log}
	failed := false
	for _, path := range flag.Args() {
		if err := r.decodeFile(ctx, path, os.Stdout, *nbest, *attDir); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

type recognizer struct {
	exp  *seq2seq.Experiment
	mode decoder.Mode
	feat feature.Config
	unk  *eval.UNKOptions
	log  *slog.Logger
}

func (r *recognizer) decodeFile(ctx context.Context, path string, w io.Writer, nbest int, attDir string) error {
	samples, h, err := audio.ReadWAVFile(path)
	if err != nil {
		return err
	}
	if int(h.SampleRate) != r.feat.SampleRate {
		return fmt.Errorf("sample rate %d, want %d", h.SampleRate, r.feat.SampleRate)
	}
	feats, err := feature.Extract(samples, r.feat)
	if err != nil {
		return err
	}
	frames, _ := feats.Dims()
	batch := &encoder.Batch{Inputs: []*mat.Dense{feats}, Lengths: []int{frames}}

	res, err := r.exp.Model.Decode(ctx, batch, r.mode)
	if err != nil {
		return err
	}
	hyps := res.Hypotheses[0]
	if len(hyps) == 0 {
		fmt.Fprintf(w, "%s\t\n", path)
		return nil
	}

	for i, hyp := range hyps[:min(nbest, len(hyps))] {
		text := r.transcript(hyp.Tokens)
		if i == 0 {
			text, err = r.resolve(ctx, batch, text, &hyp)
			if err != nil {
				return err
			}
		}
		fmt.Fprintf(w, "%s\t%d\t%.4f\t%s\n", path, i+1, hyp.Score, text)
	}
	r.log.Debug("decoded", "file", path, "frames", frames, "hypotheses", len(hyps))

	if attDir == "" {
		return nil
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	best := hyps[0]
	if err := writeAttentionFile(filepath.Join(attDir, base+".csv"), best.Attention, r.symbols(best.Tokens)); err != nil {
		return err
	}
	if best.Sub != nil {
		chars := symbolsOf(r.exp.Chars, best.Sub.Tokens)
		return writeAttentionFile(filepath.Join(attDir, base+".sub.csv"), best.Sub.Attention, chars)
	}
	return nil
}

// subTask reports whether the mode emits character tokens.
func (r *recognizer) subTask() bool {
	st, ok := r.mode.(decoder.SingleTask)
	return ok && st.Task == decoder.SubTask
}

func (r *recognizer) transcript(tokens []int) string {
	if r.subTask() {
		return r.exp.Chars.Decode(tokens, "")
	}
	sep := lexicon.Space
	if l := eval.LabelType(r.exp.Config.LabelType); l == eval.Character || l == eval.CharacterWB {
		sep = ""
	}
	return r.exp.Words.Decode(tokens, sep)
}

func (r *recognizer) symbols(tokens []int) []string {
	if r.subTask() {
		return symbolsOf(r.exp.Chars, tokens)
	}
	return symbolsOf(r.exp.Words, tokens)
}

// resolve replaces OOV placeholders of the best word hypothesis from a
// character hypothesis, decoding characters when the mode did not.
func (r *recognizer) resolve(ctx context.Context, batch *encoder.Batch, text string, best *decoder.Hypothesis) (string, error) {
	if r.unk == nil || r.subTask() || r.unk.Resolver.Count(text) == 0 {
		return text, nil
	}
	chars := best.Sub
	if chars == nil {
		res, err := r.exp.Model.Decode(ctx, batch, decoder.SingleTask{Task: decoder.SubTask, Search: r.unk.Sub})
		if err != nil {
			return "", err
		}
		if len(res.Hypotheses[0]) == 0 {
			return text, nil
		}
		chars = &res.Hypotheses[0][0]
	}
	resolved, st := r.unk.Resolver.Resolve(text, chars.Tokens, best.Attention, chars.Attention)
	r.log.Debug("unk resolution", "placeholders", st.Placeholders, "resolved", st.Resolved)
	return unk.StripMarkers(resolved, r.unk.Resolver.Marker), nil
}

func symbolsOf(v *lexicon.Vocabulary, tokens []int) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		s, ok := v.Symbol(t)
		if !ok {
			s = "<eos>"
		}
		out[i] = s
	}
	return out
}

func writeAttentionFile(path string, att *mat.Dense, labels []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeAttention(f, att, labels); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// writeAttention writes one row per memory frame: the frame index followed by
// the weight given to it by each emitted token. The header row names the
// tokens.
func writeAttention(w io.Writer, att *mat.Dense, labels []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"frame"}, labels...)); err != nil {
		return err
	}
	if att == nil || att.IsEmpty() {
		cw.Flush()
		return cw.Error()
	}
	rows, cols := att.Dims()
	if cols != len(labels) {
		return fmt.Errorf("attention has %d columns for %d tokens", cols, len(labels))
	}
	record := make([]string, cols+1)
	for i := range rows {
		record[0] = strconv.Itoa(i)
		for j := range cols {
			record[j+1] = strconv.FormatFloat(att.At(i, j), 'g', 6, 64)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
